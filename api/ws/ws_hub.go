package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/zlnvch/webnotes/cache"
	"github.com/zlnvch/webnotes/logger/slogx"
	"github.com/zlnvch/webnotes/models"
)

type subscription struct {
	client *Client
	noteId string
}

type reply struct {
	client  *Client
	message []byte
}

type noteMessage struct {
	noteId  string
	message []byte
}

// VisibilityCheck reports whether userId may still see noteId
type VisibilityCheck func(ctx context.Context, userId string, noteId string) (bool, error)

// Hub owns every client and note subscription. All of its maps are touched by
// the Run goroutine only.
type Hub struct {
	notesCache             cache.NotesCache
	noteVisible            VisibilityCheck
	OpenCh                 chan *Client
	CloseCh                chan *Client
	WatchCh                chan subscription
	UnwatchCh              chan subscription
	ReplyCh                chan reply
	UserDeletedCh          chan string
	NoteSharedCh           chan models.Event
	noteMessageCh          chan noteMessage
	userToClients          map[string]map[*Client]struct{}
	noteToClients          map[string]map[*Client]struct{}
	noteToSubscriberCancel map[string]context.CancelFunc
	done                   chan struct{}
}

func NewHub(notesCache cache.NotesCache, noteVisible VisibilityCheck) *Hub {
	return &Hub{
		notesCache:             notesCache,
		noteVisible:            noteVisible,
		OpenCh:                 make(chan *Client, 256),
		CloseCh:                make(chan *Client, 256),
		WatchCh:                make(chan subscription, 1024),
		UnwatchCh:              make(chan subscription, 1024),
		ReplyCh:                make(chan reply, 1024),
		UserDeletedCh:          make(chan string, 64),
		NoteSharedCh:           make(chan models.Event, 64),
		noteMessageCh:          make(chan noteMessage, 1024),
		userToClients:          make(map[string]map[*Client]struct{}),
		noteToClients:          make(map[string]map[*Client]struct{}),
		noteToSubscriberCancel: make(map[string]context.CancelFunc),
		done:                   make(chan struct{}),
	}
}

const (
	maxConnectionsPerUser   = 3
	maxWatchesPerConnection = 50
)

func (h *Hub) Run(shutdownCtx context.Context) {
	defer func() {
		for _, cancel := range h.noteToSubscriberCancel {
			cancel()
		}
		close(h.done)
	}()

	for {
		select {
		case client := <-h.OpenCh:
			if _, ok := h.userToClients[client.user.Id]; !ok {
				h.userToClients[client.user.Id] = make(map[*Client]struct{})
			}

			if len(h.userToClients[client.user.Id]) >= maxConnectionsPerUser {
				slogx.Warn(shutdownCtx, "user reached max websocket connections", slogx.UserId(client.user.Id))
				h.disconnect(client)
				continue
			}

			h.userToClients[client.user.Id][client] = struct{}{}

		case client := <-h.CloseCh:
			h.disconnect(client)

		case sub := <-h.WatchCh:
			h.watch(shutdownCtx, sub)

		case unsub := <-h.UnwatchCh:
			h.unwatch(unsub.client, unsub.noteId)

		case r := <-h.ReplyCh:
			h.deliver(r.client, r.message)

		case msg := <-h.noteMessageCh:
			h.fanOut(shutdownCtx, msg)

		case userId := <-h.UserDeletedCh:
			for client := range h.userToClients[userId] {
				h.disconnect(client)
			}

		case event := <-h.NoteSharedCh:
			message, err := json.Marshal(event)
			if err != nil {
				continue
			}
			for client := range h.userToClients[event.UserId] {
				h.deliver(client, message)
			}

		case <-shutdownCtx.Done():
			return
		}
	}
}

func (h *Hub) watch(ctx context.Context, sub subscription) {
	if sub.client.closed {
		return
	}
	if _, ok := sub.client.watchedNotes[sub.noteId]; ok {
		return
	}
	if len(sub.client.watchedNotes) >= maxWatchesPerConnection {
		slogx.Warn(ctx, "connection reached max watches", slogx.UserId(sub.client.user.Id))
		return
	}

	if h.noteToClients[sub.noteId] == nil {
		subCtx, cancel := context.WithCancel(ctx)
		noteId := sub.noteId
		channel := cache.NoteChannel(noteId)

		err := h.notesCache.Subscribe(subCtx, channel, func(message []byte) {
			select {
			case h.noteMessageCh <- noteMessage{noteId: noteId, message: message}:
			case <-subCtx.Done():
			}
		})
		if err != nil {
			cancel()
			slogx.Error(ctx, "failed to subscribe to note channel", slogx.Channel(channel), slogx.Err(err))
			return
		}

		h.noteToClients[noteId] = make(map[*Client]struct{})
		h.noteToSubscriberCancel[noteId] = cancel
	}

	h.noteToClients[sub.noteId][sub.client] = struct{}{}
	sub.client.watchedNotes[sub.noteId] = struct{}{}
}

func (h *Hub) unwatch(client *Client, noteId string) {
	delete(h.noteToClients[noteId], client)
	delete(client.watchedNotes, noteId)
	if len(h.noteToClients[noteId]) == 0 {
		if cancel, ok := h.noteToSubscriberCancel[noteId]; ok {
			cancel()
			delete(h.noteToSubscriberCancel, noteId)
		}
		delete(h.noteToClients, noteId)
	}
}

// fanOut forwards a note event to its watchers. A deletion reaches every
// watcher and ends the watches; any other event goes only to watchers that
// can still see the note.
func (h *Hub) fanOut(ctx context.Context, msg noteMessage) {
	var event models.Event
	if err := json.Unmarshal(msg.message, &event); err != nil {
		slogx.Warn(ctx, "malformed note event", slogx.NoteId(msg.noteId), slogx.Err(err))
		return
	}

	if event.Type == models.EventNoteDeleted {
		for client := range h.noteToClients[msg.noteId] {
			h.deliver(client, msg.message)
			h.unwatch(client, msg.noteId)
		}
		return
	}

	watchers := make([]*Client, 0, len(h.noteToClients[msg.noteId]))
	for client := range h.noteToClients[msg.noteId] {
		watchers = append(watchers, client)
	}
	if len(watchers) > 0 {
		go h.deliverIfVisible(ctx, msg, watchers)
	}
}

// deliverIfVisible runs off the hub goroutine. Watchers that lost access are
// unwatched instead of notified.
func (h *Hub) deliverIfVisible(ctx context.Context, msg noteMessage, watchers []*Client) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	visible := make(map[string]bool)
	for _, client := range watchers {
		userId := client.user.Id
		ok, checked := visible[userId]
		if !checked {
			var err error
			ok, err = h.noteVisible(ctx, userId, msg.noteId)
			if err != nil {
				// Keep the watch; the next event checks again
				slogx.Warn(ctx, "watcher visibility check failed", slogx.NoteId(msg.noteId), slogx.UserId(userId), slogx.Err(err))
				continue
			}
			visible[userId] = ok
		}

		if ok {
			enqueue(h, h.ReplyCh, reply{client: client, message: msg.message})
		} else {
			enqueue(h, h.UnwatchCh, subscription{client: client, noteId: msg.noteId})
		}
	}
}

// deliver queues message for client, dropping clients that stopped reading
func (h *Hub) deliver(client *Client, message []byte) {
	if client.closed {
		return
	}
	select {
	case client.Send <- message:
	default:
		h.disconnect(client)
	}
}

// disconnect is idempotent; Send is closed exactly once
func (h *Hub) disconnect(client *Client) {
	for noteId := range client.watchedNotes {
		h.unwatch(client, noteId)
	}
	delete(h.userToClients[client.user.Id], client)
	if len(h.userToClients[client.user.Id]) == 0 {
		delete(h.userToClients, client.user.Id)
	}
	if !client.closed {
		client.closed = true
		close(client.Send)
	}
}

// enqueue hands v to the Run goroutine unless the hub has stopped
func enqueue[T any](h *Hub, ch chan T, v T) {
	select {
	case ch <- v:
	case <-h.done:
	}
}

func (h *Hub) InitSubscriptions(shutdownCtx context.Context) error {
	err := h.notesCache.Subscribe(shutdownCtx, cache.UserDeletedChannel, func(message []byte) {
		var event models.Event
		if err := json.Unmarshal(message, &event); err == nil && event.UserId != "" {
			enqueue(h, h.UserDeletedCh, event.UserId)
		}
	})
	if err != nil {
		slogx.Error(shutdownCtx, "ws hub failed to subscribe", slogx.Channel(cache.UserDeletedChannel), slogx.Err(err))
		return err
	}

	err = h.notesCache.Subscribe(shutdownCtx, cache.NoteSharedChannel, func(message []byte) {
		var event models.Event
		if err := json.Unmarshal(message, &event); err == nil && event.UserId != "" {
			enqueue(h, h.NoteSharedCh, event)
		} else {
			slogx.Warn(shutdownCtx, "malformed note shared event", slogx.Err(err))
		}
	})
	if err != nil {
		slogx.Error(shutdownCtx, "ws hub failed to subscribe", slogx.Channel(cache.NoteSharedChannel), slogx.Err(err))
		return err
	}

	return nil
}
