package service

import (
	"context"
	"time"

	"golang.org/x/oauth2"

	"github.com/zlnvch/webnotes/cache"
	"github.com/zlnvch/webnotes/logger/slogx"
	"github.com/zlnvch/webnotes/models"
	"github.com/zlnvch/webnotes/mq"
	"github.com/zlnvch/webnotes/store"
	"github.com/zlnvch/webnotes/worker"
)

// Service implements the note operations. Every operation takes the requester's
// user id explicitly; an empty id is an anonymous caller.
type Service struct {
	Store        store.NotesStore
	Cache        cache.NotesCache
	MQ           mq.MessageQueue
	ViewCounter  *worker.ViewCounter
	OAuthConfigs map[string]*oauth2.Config
	JWTSecret    []byte
	Now          func() time.Time
}

func NewService(
	store store.NotesStore,
	cache cache.NotesCache,
	mq mq.MessageQueue,
	viewCounter *worker.ViewCounter,
	oauthConfigs map[string]*oauth2.Config,
	jwtSecret []byte,
) (*Service, error) {
	oauthConfigs, err := addOauthEndpointsAndScopes(oauthConfigs)
	if err != nil {
		return nil, err
	}

	return &Service{
		Store:        store,
		Cache:        cache,
		MQ:           mq,
		ViewCounter:  viewCounter,
		OAuthConfigs: oauthConfigs,
		JWTSecret:    jwtSecret,
		Now:          time.Now,
	}, nil
}

func (s *Service) nowMillis() int64 {
	return s.Now().UnixMilli()
}

// publishAsync sends a change notification without holding up the caller
func (s *Service) publishAsync(channel string, event models.Event) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := cache.PublishEvent(ctx, s.Cache, channel, event); err != nil {
			slogx.Warn(ctx, "publish event failed", slogx.Channel(channel), slogx.Err(err))
		}
	}()
}
