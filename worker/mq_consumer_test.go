package worker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	cachemocks "github.com/zlnvch/webnotes/cache/mocks"
	"github.com/zlnvch/webnotes/models"
	"github.com/zlnvch/webnotes/mq"
	mqmocks "github.com/zlnvch/webnotes/mq/mocks"
	"github.com/zlnvch/webnotes/store"
	storemocks "github.com/zlnvch/webnotes/store/mocks"
	"github.com/zlnvch/webnotes/worker"
)

func TestPurgeUser_DeletesNotesAndShares(t *testing.T) {
	mockStore := new(storemocks.MockStore)
	mockCache := new(cachemocks.MockCache)
	ctx := context.Background()

	mockStore.On("ListNotesByAuthor", ctx, "u1", 0).Return([]models.Note{
		{Id: "n1", AuthorId: "u1"},
		{Id: "n2", AuthorId: "u1"},
	}, nil)
	mockStore.On("DeleteNote", ctx, "n1", "u1").Return(nil)
	mockStore.On("DeleteNote", ctx, "n2", "u1").Return(store.ErrItemNotFound)
	mockStore.On("DeleteSharesForUser", ctx, "u1").Return(nil)
	mockCache.On("Publish", ctx, "note:n1", mock.Anything).Return(nil).Once()

	consumer := worker.NewMQConsumer(new(mqmocks.MockMQ), mockStore, mockCache)
	err := consumer.PurgeUser(ctx, "u1")

	assert.NoError(t, err)
	mockStore.AssertExpectations(t)
	mockCache.AssertExpectations(t)
	mockCache.AssertNotCalled(t, "Publish", ctx, "note:n2", mock.Anything)
}

func TestPurgeUser_ReportsFailures(t *testing.T) {
	mockStore := new(storemocks.MockStore)
	mockCache := new(cachemocks.MockCache)
	ctx := context.Background()

	mockStore.On("ListNotesByAuthor", ctx, "u1", 0).Return([]models.Note{{Id: "n1", AuthorId: "u1"}}, nil)
	mockStore.On("DeleteNote", ctx, "n1", "u1").Return(errors.New("throttled"))
	mockStore.On("DeleteSharesForUser", ctx, "u1").Return(nil)

	consumer := worker.NewMQConsumer(new(mqmocks.MockMQ), mockStore, mockCache)
	err := consumer.PurgeUser(ctx, "u1")

	assert.ErrorContains(t, err, "n1")
	mockStore.AssertCalled(t, "DeleteSharesForUser", ctx, "u1")
}

func TestMQConsumer_RunDeletesHandledMessage(t *testing.T) {
	mockStore := new(storemocks.MockStore)
	mockCache := new(cachemocks.MockCache)
	mockMQ := new(mqmocks.MockMQ)

	body, err := mq.EncodePurgeUser(mq.PurgeUserMessage{UserId: "u1"})
	assert.NoError(t, err)
	msg := &mq.Message{Id: "receipt", Body: body}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mockMQ.On("Receive", mock.Anything, int32(300)).Return(msg, nil).Once()
	mockMQ.On("Receive", mock.Anything, int32(300)).Return(nil, context.Canceled)
	mockStore.On("ListNotesByAuthor", mock.Anything, "u1", 0).Return([]models.Note{}, nil)
	mockStore.On("DeleteSharesForUser", mock.Anything, "u1").Return(nil)
	mockMQ.On("Delete", mock.Anything, msg).Return(nil).Once()

	done := make(chan struct{})
	go func() {
		worker.NewMQConsumer(mockMQ, mockStore, mockCache).Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
	mockMQ.AssertExpectations(t)
}

func TestMQConsumer_DropsMalformedMessage(t *testing.T) {
	mockMQ := new(mqmocks.MockMQ)
	msg := &mq.Message{Id: "receipt", Body: "{not json"}

	mockMQ.On("Receive", mock.Anything, int32(300)).Return(msg, nil).Once()
	mockMQ.On("Receive", mock.Anything, int32(300)).Return(nil, context.Canceled)
	mockMQ.On("Delete", mock.Anything, msg).Return(nil).Once()

	worker.NewMQConsumer(mockMQ, new(storemocks.MockStore), new(cachemocks.MockCache)).Run(context.Background())

	mockMQ.AssertExpectations(t)
}
