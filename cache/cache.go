package cache

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/zlnvch/webnotes/models"
)

type NotesCache interface {
	Publish(ctx context.Context, channel string, message []byte) error
	Subscribe(ctx context.Context, channel string, handler func(message []byte)) error

	// GetUser returns ErrCacheMiss when the profile is not cached
	GetUser(ctx context.Context, userId string) (models.User, error)
	SetUser(ctx context.Context, user models.User) error
	InvalidateUser(ctx context.Context, userId string) error
}

var ErrCacheMiss = errors.New("cache miss")

// Channel names shared by publishers and subscribers
const (
	UserDeletedChannel = "user-deleted"
	NoteSharedChannel  = "note-shared"
)

func NoteChannel(noteId string) string {
	return "note:" + noteId
}

func PublishEvent(ctx context.Context, c NotesCache, channel string, event models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return c.Publish(ctx, channel, data)
}
