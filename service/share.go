package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zlnvch/webnotes/cache"
	"github.com/zlnvch/webnotes/models"
	"github.com/zlnvch/webnotes/store"
)

// ShareNote grants the user registered under email access to a note. Sharing
// again with the same user replaces the permission.
func (s *Service) ShareNote(ctx context.Context, requesterId string, noteId string, email string, permission models.Permission) error {
	if requesterId == "" {
		return fmt.Errorf("%w: sign in to share notes", ErrAuthentication)
	}

	note, err := s.Store.GetNote(ctx, noteId)
	if errors.Is(err, store.ErrItemNotFound) {
		return fmt.Errorf("%w: note %s", ErrNotFound, noteId)
	}
	if err != nil {
		return err
	}
	if note.AuthorId != requesterId {
		return fmt.Errorf("%w: only the author can share note %s", ErrAuthorization, noteId)
	}

	email = strings.TrimSpace(email)
	if err := ValidateEmail(email); err != nil {
		return err
	}
	if err := ValidatePermission(permission); err != nil {
		return err
	}

	target, err := s.Store.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrItemNotFound) {
		return fmt.Errorf("%w: no user with email %s", ErrNotFound, email)
	}
	if err != nil {
		return err
	}
	if target.Id == requesterId {
		return fmt.Errorf("%w: cannot share a note with yourself", ErrValidation)
	}

	err = s.Store.UpsertShare(ctx, models.Share{
		NoteId:       noteId,
		SharedWithId: target.Id,
		Permission:   permission,
		SharedBy:     requesterId,
		Created:      s.nowMillis(),
	})
	switch {
	case errors.Is(err, store.ErrItemNotFound):
		return fmt.Errorf("%w: note %s", ErrNotFound, noteId)
	case errors.Is(err, store.ErrConditionFailed):
		return fmt.Errorf("%w: only the author can share note %s", ErrAuthorization, noteId)
	case err != nil:
		return err
	}

	s.publishAsync(cache.NoteSharedChannel, models.Event{
		Type:       models.EventNoteShared,
		NoteId:     noteId,
		UserId:     target.Id,
		Permission: permission,
	})
	return nil
}
