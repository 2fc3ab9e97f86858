package api

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/zlnvch/webnotes/api/rest"
	"github.com/zlnvch/webnotes/api/ws"
	"github.com/zlnvch/webnotes/cache"
	"github.com/zlnvch/webnotes/logger/slogx"
	"github.com/zlnvch/webnotes/mq"
	"github.com/zlnvch/webnotes/service"
	"github.com/zlnvch/webnotes/store"
	"github.com/zlnvch/webnotes/worker"
)

// View counts are flushed to the store once a minute
const viewFlushMilliseconds = 60000

type NotesAPI struct {
	restHandler *rest.Handler
	wsHandler   *ws.Handler
	wsHub       *ws.Hub
	viewCounter *worker.ViewCounter
	mqConsumer  *worker.MQConsumer
	shutdownCtx context.Context
}

func NewNotesAPI(
	notesStore store.NotesStore,
	purgeQueue mq.MessageQueue,
	notesCache cache.NotesCache,
	oauthConfigs map[string]*oauth2.Config,
	jwtSecret []byte,
	shutdownCtx context.Context,
) (*NotesAPI, error) {
	viewCounter := worker.NewViewCounter(notesStore, viewFlushMilliseconds)
	mqConsumer := worker.NewMQConsumer(purgeQueue, notesStore, notesCache)

	svc, err := service.NewService(
		notesStore,
		notesCache,
		purgeQueue,
		viewCounter,
		oauthConfigs,
		jwtSecret,
	)
	if err != nil {
		slogx.Error(shutdownCtx, "failed to create service", slogx.Err(err))
		return nil, err
	}

	wsHub := ws.NewHub(notesCache, svc.NoteVisible)
	if err := wsHub.InitSubscriptions(shutdownCtx); err != nil {
		slogx.Error(shutdownCtx, "failed to start ws hub subscriptions", slogx.Err(err))
		return nil, err
	}

	return &NotesAPI{
		restHandler: rest.NewHandler(svc),
		wsHandler:   ws.NewHandler(svc, wsHub),
		wsHub:       wsHub,
		viewCounter: viewCounter,
		mqConsumer:  mqConsumer,
		shutdownCtx: shutdownCtx,
	}, nil
}

// RunWorkers runs the websocket hub and the background workers until ctx is
// done. Pending view counts are flushed before it returns.
func (notesAPI *NotesAPI) RunWorkers(ctx context.Context) error {
	g := new(errgroup.Group)
	g.Go(func() error { notesAPI.wsHub.Run(ctx); return nil })
	g.Go(func() error { notesAPI.viewCounter.Run(ctx); return nil })
	g.Go(func() error { notesAPI.mqConsumer.Run(ctx); return nil })
	return g.Wait()
}

func (notesAPI *NotesAPI) RegisterRoutes(mux *http.ServeMux, requiredOrigin string) {
	// Health check endpoint (no auth required)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	notesAPI.restHandler.RegisterRoutes(mux)

	wsUpgrader := notesAPI.wsHandler.NewWsUpgrader(requiredOrigin)
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		notesAPI.wsHandler.ServeWS(wsUpgrader, w, r, notesAPI.shutdownCtx)
	})
}
