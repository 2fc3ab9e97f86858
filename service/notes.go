package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"golang.org/x/sync/errgroup"

	"github.com/zlnvch/webnotes/cache"
	"github.com/zlnvch/webnotes/models"
	"github.com/zlnvch/webnotes/store"
)

const (
	DefaultPublicLimit = 20
	MaxPublicLimit     = 100

	sharedFetchConcurrency = 8
)

type CreateNoteParams struct {
	Title    string
	Content  *string
	IsPublic *bool
}

// UpdateNoteParams holds the fields to change. Nil fields are left as they are.
type UpdateNoteParams struct {
	Title    *string
	Content  *string
	IsPublic *bool
}

func (s *Service) ListOwnedNotes(ctx context.Context, requesterId string) ([]models.Note, error) {
	if requesterId == "" {
		return []models.Note{}, nil
	}

	notes, err := s.Store.ListNotesByAuthor(ctx, requesterId, 0)
	if err != nil {
		return nil, err
	}
	if notes == nil {
		notes = []models.Note{}
	}
	return notes, nil
}

func (s *Service) ListSharedNotes(ctx context.Context, requesterId string) ([]models.NoteWithShare, error) {
	if requesterId == "" {
		return []models.NoteWithShare{}, nil
	}

	shares, err := s.Store.ListSharesForUser(ctx, requesterId)
	if err != nil {
		return nil, err
	}

	notes := make([]*models.Note, len(shares))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sharedFetchConcurrency)
	for i, share := range shares {
		g.Go(func() error {
			note, err := s.Store.GetNote(gctx, share.NoteId)
			if errors.Is(err, store.ErrItemNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			notes[i] = &note
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	names := s.newAuthorNames()
	result := make([]models.NoteWithShare, 0, len(shares))
	for i, share := range shares {
		if notes[i] == nil {
			continue
		}
		name, err := names.name(ctx, notes[i].AuthorId, unknownName)
		if err != nil {
			return nil, err
		}
		result = append(result, models.NoteWithShare{
			Note:       *notes[i],
			AuthorName: name,
			Permission: share.Permission,
		})
	}
	return result, nil
}

// ListPublicNotes returns the newest public notes. A non-positive limit means
// DefaultPublicLimit.
func (s *Service) ListPublicNotes(ctx context.Context, limit int) ([]models.NoteWithAuthor, error) {
	if limit <= 0 {
		limit = DefaultPublicLimit
	}
	limit = min(limit, MaxPublicLimit)

	notes, err := s.Store.ListPublicNotes(ctx, limit)
	if err != nil {
		return nil, err
	}

	names := s.newAuthorNames()
	result := make([]models.NoteWithAuthor, 0, len(notes))
	for _, note := range notes {
		name, err := names.name(ctx, note.AuthorId, anonymousName)
		if err != nil {
			return nil, err
		}
		result = append(result, models.NoteWithAuthor{Note: note, AuthorName: name})
	}
	return result, nil
}

// GetNote returns nil without an error when the note is missing or not visible
// to the requester.
func (s *Service) GetNote(ctx context.Context, requesterId string, noteId string) (*models.NoteWithAccess, error) {
	note, err := s.visibleNote(ctx, requesterId, noteId)
	if err != nil || note == nil {
		return nil, err
	}

	if s.ViewCounter != nil {
		s.ViewCounter.Record(note.Id)
	}
	return note, nil
}

// NoteVisible reports whether GetNote would return the note, without counting
// a view.
func (s *Service) NoteVisible(ctx context.Context, requesterId string, noteId string) (bool, error) {
	note, err := s.visibleNote(ctx, requesterId, noteId)
	return note != nil, err
}

func (s *Service) visibleNote(ctx context.Context, requesterId string, noteId string) (*models.NoteWithAccess, error) {
	note, err := s.Store.GetNote(ctx, noteId)
	if errors.Is(err, store.ErrItemNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	access, err := s.resolveAccess(ctx, requesterId, note)
	if err != nil {
		return nil, err
	}
	if !access.Visible {
		return nil, nil
	}

	return &models.NoteWithAccess{
		Note:       note,
		AuthorName: access.AuthorName,
		CanEdit:    access.CanEdit,
	}, nil
}

func (s *Service) CreateNote(ctx context.Context, requesterId string, params CreateNoteParams) (string, error) {
	if requesterId == "" {
		return "", fmt.Errorf("%w: sign in to create notes", ErrAuthentication)
	}

	content := ""
	if params.Content != nil {
		content = *params.Content
	}
	isPublic := true
	if params.IsPublic != nil {
		isPublic = *params.IsPublic
	}

	if err := ValidateTitle(params.Title); err != nil {
		return "", err
	}
	if err := ValidateContent(content); err != nil {
		return "", err
	}

	noteId, err := uuid.NewV7()
	if err != nil {
		return "", err
	}

	now := s.nowMillis()
	note := models.Note{
		Id:           noteId.String(),
		Title:        params.Title,
		Content:      content,
		IsPublic:     isPublic,
		AuthorId:     requesterId,
		LastEditedAt: now,
		Created:      now,
	}
	if err := s.Store.CreateNote(ctx, note); err != nil {
		return "", err
	}

	return note.Id, nil
}

func (s *Service) UpdateNote(ctx context.Context, requesterId string, noteId string, params UpdateNoteParams) error {
	if requesterId == "" {
		return fmt.Errorf("%w: sign in to edit notes", ErrAuthentication)
	}

	if params.Title != nil {
		if err := ValidateTitle(*params.Title); err != nil {
			return err
		}
	}
	if params.Content != nil {
		if err := ValidateContent(*params.Content); err != nil {
			return err
		}
	}

	note, err := s.Store.GetNote(ctx, noteId)
	if errors.Is(err, store.ErrItemNotFound) {
		return fmt.Errorf("%w: note %s", ErrNotFound, noteId)
	}
	if err != nil {
		return err
	}

	access, err := s.resolveAccess(ctx, requesterId, note)
	if err != nil {
		return err
	}
	if !access.CanEdit {
		return fmt.Errorf("%w: no edit permission on note %s", ErrAuthorization, noteId)
	}

	asOwner := requesterId == note.AuthorId
	update := models.NoteUpdate{
		NoteId:   noteId,
		EditorId: requesterId,
		AsOwner:  asOwner,
		Title:    params.Title,
		Content:  params.Content,
		EditedAt: s.nowMillis(),
	}
	// Visibility belongs to the owner; other editors' values are dropped
	if asOwner {
		update.IsPublic = params.IsPublic
	}

	err = s.Store.UpdateNote(ctx, update)
	switch {
	case errors.Is(err, store.ErrItemNotFound):
		return fmt.Errorf("%w: note %s", ErrNotFound, noteId)
	case errors.Is(err, store.ErrConditionFailed):
		// The share was revoked or downgraded, or the note made public, since it was read
		return fmt.Errorf("%w: no edit permission on note %s", ErrAuthorization, noteId)
	case err != nil:
		return err
	}

	s.publishAsync(cache.NoteChannel(noteId), models.Event{Type: models.EventNoteUpdated, NoteId: noteId})
	return nil
}

func (s *Service) DeleteNote(ctx context.Context, requesterId string, noteId string) error {
	if requesterId == "" {
		return fmt.Errorf("%w: sign in to delete notes", ErrAuthentication)
	}

	note, err := s.Store.GetNote(ctx, noteId)
	if errors.Is(err, store.ErrItemNotFound) {
		return fmt.Errorf("%w: note %s", ErrNotFound, noteId)
	}
	if err != nil {
		return err
	}
	if note.AuthorId != requesterId {
		return fmt.Errorf("%w: only the author can delete note %s", ErrAuthorization, noteId)
	}

	err = s.Store.DeleteNote(ctx, noteId, requesterId)
	switch {
	case errors.Is(err, store.ErrItemNotFound):
		return fmt.Errorf("%w: note %s", ErrNotFound, noteId)
	case errors.Is(err, store.ErrConditionFailed):
		return fmt.Errorf("%w: only the author can delete note %s", ErrAuthorization, noteId)
	case err != nil:
		return err
	}

	s.publishAsync(cache.NoteChannel(noteId), models.Event{Type: models.EventNoteDeleted, NoteId: noteId})
	return nil
}
