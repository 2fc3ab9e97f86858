package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zlnvch/webnotes/logger/slogx"
	"github.com/zlnvch/webnotes/store"
)

const (
	viewChannelSize = 1024
	maxPendingNotes = 100
)

// ViewCounter aggregates note views in memory and writes them to the store as
// one increment per note.
type ViewCounter struct {
	ViewCh             chan string
	notesStore         store.NotesStore
	tickerMilliseconds int
	wg                 sync.WaitGroup
}

func NewViewCounter(notesStore store.NotesStore, tickerMilliseconds int) *ViewCounter {
	return &ViewCounter{
		ViewCh:             make(chan string, viewChannelSize),
		notesStore:         notesStore,
		tickerMilliseconds: tickerMilliseconds,
	}
}

// Record counts one view of noteId. Views are dropped when the buffer is full.
func (c *ViewCounter) Record(noteId string) {
	select {
	case c.ViewCh <- noteId:
	default:
	}
}

func (c *ViewCounter) Run(shutdownCtx context.Context) {
	ticker := time.NewTicker(time.Duration(c.tickerMilliseconds) * time.Millisecond)
	defer ticker.Stop()

	pending := make(map[string]int)

	flush := func() {
		for noteId, count := range pending {
			c.wg.Add(1)
			go func(noteId string, count int) {
				defer c.wg.Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				err := c.notesStore.IncrementNoteViewCount(ctx, noteId, count)
				// A note deleted since it was viewed has nothing to count
				if err != nil && !errors.Is(err, store.ErrItemNotFound) {
					slogx.Error(ctx, "failed to update view count", slogx.NoteId(noteId), slogx.Err(err))
				}
			}(noteId, count)
		}
		pending = make(map[string]int)
	}

	for {
		select {
		case noteId := <-c.ViewCh:
			pending[noteId]++
			if len(pending) >= maxPendingNotes {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-shutdownCtx.Done():
			c.drain(pending)
			flush()
			c.wg.Wait()
			return
		}
	}
}

func (c *ViewCounter) drain(pending map[string]int) {
	for {
		select {
		case noteId := <-c.ViewCh:
			pending[noteId]++
		default:
			return
		}
	}
}
