package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zlnvch/webnotes/cache"
	"github.com/zlnvch/webnotes/logger/slogx"
	"github.com/zlnvch/webnotes/models"
	"github.com/zlnvch/webnotes/mq"
	"github.com/zlnvch/webnotes/store"
)

// MQConsumer purges the notes and shares of deleted accounts.
type MQConsumer struct {
	purgeQueue mq.MessageQueue
	notesStore store.NotesStore
	notesCache cache.NotesCache
}

func NewMQConsumer(purgeQueue mq.MessageQueue, notesStore store.NotesStore, notesCache cache.NotesCache) *MQConsumer {
	return &MQConsumer{
		purgeQueue: purgeQueue,
		notesStore: notesStore,
		notesCache: notesCache,
	}
}

// Allow up to 5 minutes for the throttled deletion of all the user's notes
const visibilityTimeout = 300

func (mqConsumer *MQConsumer) Run(shutdownCtx context.Context) {
	for {
		msg, err := mqConsumer.purgeQueue.Receive(shutdownCtx, visibilityTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			slogx.Error(shutdownCtx, "purge queue receive failed", slogx.Err(err))
			continue
		}

		if msg == nil {
			continue
		}

		mqConsumer.handle(msg)
	}
}

func (mqConsumer *MQConsumer) handle(msg *mq.Message) {
	// timeout should be a little less than queue visibility timeout
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(visibilityTimeout-1)*time.Second)
	defer cancel()

	purge, err := mq.DecodePurgeUser(msg.Body)
	if err != nil {
		// Unparseable messages would be redelivered forever
		slogx.Warn(ctx, "dropping malformed purge message", slogx.Err(err))
		if err := mqConsumer.purgeQueue.Delete(ctx, msg); err != nil {
			slogx.Error(ctx, "purge queue delete failed", slogx.Err(err))
		}
		return
	}

	if err := mqConsumer.PurgeUser(ctx, purge.UserId); err != nil {
		// Left on the queue; redelivered after the visibility timeout
		slogx.Error(ctx, "purge user failed", slogx.UserId(purge.UserId), slogx.Err(err))
		return
	}

	if err := mqConsumer.purgeQueue.Delete(ctx, msg); err != nil {
		slogx.Error(ctx, "purge queue delete failed", slogx.Err(err))
	}
}

// PurgeUser deletes every note authored by userId, with its shares, and every
// share granted to userId.
func (mqConsumer *MQConsumer) PurgeUser(ctx context.Context, userId string) error {
	notes, err := mqConsumer.notesStore.ListNotesByAuthor(ctx, userId, 0)
	if err != nil {
		return fmt.Errorf("list notes: %w", err)
	}

	var errs []error
	deleted := 0
	for _, note := range notes {
		err := mqConsumer.notesStore.DeleteNote(ctx, note.Id, userId)
		if errors.Is(err, store.ErrItemNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("delete note %s: %w", note.Id, err))
			continue
		}
		deleted++

		event := models.Event{Type: models.EventNoteDeleted, NoteId: note.Id}
		if err := cache.PublishEvent(ctx, mqConsumer.notesCache, cache.NoteChannel(note.Id), event); err != nil {
			slogx.Warn(ctx, "publish note deleted failed", slogx.NoteId(note.Id), slogx.Err(err))
		}
	}

	if err := mqConsumer.notesStore.DeleteSharesForUser(ctx, userId); err != nil {
		errs = append(errs, fmt.Errorf("delete shares: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slogx.Info(ctx, "purged user", slogx.UserId(userId), slog.Int("notes", deleted))
	return nil
}
