package service

import (
	"context"
	"errors"
	"strings"

	"github.com/zlnvch/webnotes/cache"
	"github.com/zlnvch/webnotes/logger/slogx"
	"github.com/zlnvch/webnotes/models"
	"github.com/zlnvch/webnotes/store"
)

const (
	selfName      = "You"
	anonymousName = "Anonymous"
	unknownName   = "Unknown"
)

type Access struct {
	Visible    bool
	CanEdit    bool
	AuthorName string
}

// ResolveAccess decides what requesterId may do with note. share is the
// requester's share on the note and owner the author's record; either is nil
// when absent. The first matching rule wins:
//
//  1. public notes are visible to everyone, editable by the author only
//  2. anonymous callers see nothing else
//  3. the author sees and edits their own notes
//  4. a share grants visibility, and editing with write permission
//  5. everything else is invisible
func ResolveAccess(requesterId string, note models.Note, share *models.Share, owner *models.User) Access {
	switch {
	case note.IsPublic:
		return Access{
			Visible:    true,
			CanEdit:    requesterId != "" && requesterId == note.AuthorId,
			AuthorName: DisplayName(owner, anonymousName),
		}
	case requesterId == "":
		return Access{}
	case requesterId == note.AuthorId:
		return Access{Visible: true, CanEdit: true, AuthorName: selfName}
	case share != nil && share.NoteId == note.Id && share.SharedWithId == requesterId:
		return Access{
			Visible:    true,
			CanEdit:    share.Permission == models.PermissionWrite,
			AuthorName: DisplayName(owner, unknownName),
		}
	}
	return Access{}
}

// DisplayName picks the username, then the email, then fallback.
func DisplayName(user *models.User, fallback string) string {
	if user == nil {
		return fallback
	}
	if name := strings.TrimSpace(user.Username); name != "" {
		return name
	}
	if email := strings.TrimSpace(user.Email); email != "" {
		return email
	}
	return fallback
}

// resolveAccess loads only the records the deciding rule needs.
func (s *Service) resolveAccess(ctx context.Context, requesterId string, note models.Note) (Access, error) {
	switch {
	case note.IsPublic:
		owner, err := s.lookupUser(ctx, note.AuthorId)
		if err != nil {
			return Access{}, err
		}
		return ResolveAccess(requesterId, note, nil, owner), nil
	case requesterId == "", requesterId == note.AuthorId:
		return ResolveAccess(requesterId, note, nil, nil), nil
	}

	share, err := s.Store.GetShare(ctx, note.Id, requesterId)
	if errors.Is(err, store.ErrItemNotFound) {
		return Access{}, nil
	}
	if err != nil {
		return Access{}, err
	}

	owner, err := s.lookupUser(ctx, note.AuthorId)
	if err != nil {
		return Access{}, err
	}
	return ResolveAccess(requesterId, note, &share, owner), nil
}

// lookupUser returns nil, nil when the user does not exist.
func (s *Service) lookupUser(ctx context.Context, userId string) (*models.User, error) {
	user, err := s.Cache.GetUser(ctx, userId)
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		slogx.Warn(ctx, "user cache read failed", slogx.UserId(userId), slogx.Err(err))
	}

	user, err = s.Store.GetUserById(ctx, userId)
	if errors.Is(err, store.ErrItemNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := s.Cache.SetUser(ctx, user); err != nil {
		slogx.Warn(ctx, "user cache write failed", slogx.UserId(userId), slogx.Err(err))
	}
	return &user, nil
}

// authorNames memoizes owner lookups within one listing
type authorNames struct {
	s     *Service
	users map[string]*models.User
}

func (s *Service) newAuthorNames() *authorNames {
	return &authorNames{s: s, users: make(map[string]*models.User)}
}

func (a *authorNames) name(ctx context.Context, authorId string, fallback string) (string, error) {
	user, ok := a.users[authorId]
	if !ok {
		var err error
		user, err = a.s.lookupUser(ctx, authorId)
		if err != nil {
			return "", err
		}
		a.users[authorId] = user
	}
	return DisplayName(user, fallback), nil
}
