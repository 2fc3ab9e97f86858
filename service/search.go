package service

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/zlnvch/webnotes/models"
)

const searchLimit = 10

// SearchNotes matches public notes and, for a signed-in requester, their own
// notes. Public matches come first; a note found by both searches is listed once.
func (s *Service) SearchNotes(ctx context.Context, requesterId string, query string) ([]models.NoteWithAuthor, error) {
	terms := searchTerms(query)
	if len(terms) == 0 {
		return []models.NoteWithAuthor{}, nil
	}

	var publicNotes, ownNotes []models.Note

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		publicNotes, err = s.Store.SearchNotes(gctx, models.SearchQuery{
			Terms: terms,
			Scope: models.ScopePublic,
			Limit: searchLimit,
		})
		return err
	})
	if requesterId != "" {
		g.Go(func() error {
			var err error
			ownNotes, err = s.Store.SearchNotes(gctx, models.SearchQuery{
				Terms:    terms,
				Scope:    models.ScopeAuthor,
				AuthorId: requesterId,
				Limit:    searchLimit,
			})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := mergeSearchResults(publicNotes, ownNotes, searchLimit)

	names := s.newAuthorNames()
	result := make([]models.NoteWithAuthor, 0, len(merged))
	for _, note := range merged {
		name := selfName
		if note.AuthorId != requesterId {
			var err error
			name, err = names.name(ctx, note.AuthorId, anonymousName)
			if err != nil {
				return nil, err
			}
		}
		result = append(result, models.NoteWithAuthor{Note: note, AuthorName: name})
	}
	return result, nil
}

// mergeSearchResults concatenates the scopes in order, keeps the first
// occurrence of every note and truncates to limit.
func mergeSearchResults(first []models.Note, second []models.Note, limit int) []models.Note {
	seen := make(map[string]struct{}, len(first)+len(second))
	merged := make([]models.Note, 0, min(len(first)+len(second), limit))
	for _, scope := range [][]models.Note{first, second} {
		for _, note := range scope {
			if len(merged) == limit {
				return merged
			}
			if _, ok := seen[note.Id]; ok {
				continue
			}
			seen[note.Id] = struct{}{}
			merged = append(merged, note)
		}
	}
	return merged
}
