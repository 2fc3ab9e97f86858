package service_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/zlnvch/webnotes/cache"
	cachemocks "github.com/zlnvch/webnotes/cache/mocks"
	"github.com/zlnvch/webnotes/models"
	mqmocks "github.com/zlnvch/webnotes/mq/mocks"
	"github.com/zlnvch/webnotes/service"
	storemocks "github.com/zlnvch/webnotes/store/mocks"
	"github.com/zlnvch/webnotes/worker"
)

var fixedNow = time.UnixMilli(1_700_000_000_000)

// Helper to setup the service with mocks
func setupService(t *testing.T) (*service.Service, *storemocks.MockStore, *cachemocks.MockCache, *mqmocks.MockMQ, *worker.ViewCounter) {
	mockStore := new(storemocks.MockStore)
	mockCache := new(cachemocks.MockCache)
	mockMQ := new(mqmocks.MockMQ)

	// The counter is not running; tests read recorded views from its channel
	viewCounter := worker.NewViewCounter(mockStore, 1000)

	svc, err := service.NewService(
		mockStore,
		mockCache,
		mockMQ,
		viewCounter,
		nil,
		[]byte("secret"),
	)
	require.NoError(t, err)
	svc.Now = func() time.Time { return fixedNow }

	return svc, mockStore, mockCache, mockMQ, viewCounter
}

// allowCacheMiss makes every cached profile lookup miss and every write succeed
func allowCacheMiss(mockCache *cachemocks.MockCache) {
	mockCache.On("GetUser", mock.Anything, mock.Anything).Return(models.User{}, cache.ErrCacheMiss).Maybe()
	mockCache.On("SetUser", mock.Anything, mock.Anything).Return(nil).Maybe()
}

// expectEvents captures events published on channel
func expectEvents(mockCache *cachemocks.MockCache, channel string) chan models.Event {
	events := make(chan models.Event, 8)
	mockCache.On("Publish", mock.Anything, channel, mock.Anything).Run(func(args mock.Arguments) {
		var event models.Event
		if err := json.Unmarshal(args.Get(2).([]byte), &event); err == nil {
			events <- event
		}
	}).Return(nil).Maybe()
	return events
}

func waitEvent(t *testing.T, events chan models.Event) models.Event {
	t.Helper()
	select {
	case event := <-events:
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published event")
		return models.Event{}
	}
}

// Helper that creates a channel and wraps a mock call to signal when it's called
func wrapMockWithSignal(call *mock.Call) chan struct{} {
	done := make(chan struct{})
	call.Run(func(args mock.Arguments) {
		close(done)
	})
	return done
}

func ptr[T any](v T) *T {
	return &v
}
