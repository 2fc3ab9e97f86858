package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/zlnvch/webnotes/models"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	args := m.Called(ctx, user)
	return args.Get(0).(models.User), args.Error(1)
}

func (m *MockStore) GetUser(ctx context.Context, provider string, providerId string) (models.User, error) {
	args := m.Called(ctx, provider, providerId)
	return args.Get(0).(models.User), args.Error(1)
}

func (m *MockStore) GetUserById(ctx context.Context, userId string) (models.User, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).(models.User), args.Error(1)
}

func (m *MockStore) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(models.User), args.Error(1)
}

func (m *MockStore) DeleteUser(ctx context.Context, user models.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockStore) CreateNote(ctx context.Context, note models.Note) error {
	args := m.Called(ctx, note)
	return args.Error(0)
}

func (m *MockStore) GetNote(ctx context.Context, noteId string) (models.Note, error) {
	args := m.Called(ctx, noteId)
	return args.Get(0).(models.Note), args.Error(1)
}

func (m *MockStore) UpdateNote(ctx context.Context, update models.NoteUpdate) error {
	args := m.Called(ctx, update)
	return args.Error(0)
}

func (m *MockStore) DeleteNote(ctx context.Context, noteId string, authorId string) error {
	args := m.Called(ctx, noteId, authorId)
	return args.Error(0)
}

func (m *MockStore) ListNotesByAuthor(ctx context.Context, authorId string, limit int) ([]models.Note, error) {
	args := m.Called(ctx, authorId, limit)
	return args.Get(0).([]models.Note), args.Error(1)
}

func (m *MockStore) ListPublicNotes(ctx context.Context, limit int) ([]models.Note, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]models.Note), args.Error(1)
}

func (m *MockStore) SearchNotes(ctx context.Context, query models.SearchQuery) ([]models.Note, error) {
	args := m.Called(ctx, query)
	return args.Get(0).([]models.Note), args.Error(1)
}

func (m *MockStore) IncrementNoteViewCount(ctx context.Context, noteId string, count int) error {
	args := m.Called(ctx, noteId, count)
	return args.Error(0)
}

func (m *MockStore) GetShare(ctx context.Context, noteId string, userId string) (models.Share, error) {
	args := m.Called(ctx, noteId, userId)
	return args.Get(0).(models.Share), args.Error(1)
}

func (m *MockStore) ListSharesForUser(ctx context.Context, userId string) ([]models.Share, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).([]models.Share), args.Error(1)
}

func (m *MockStore) UpsertShare(ctx context.Context, share models.Share) error {
	args := m.Called(ctx, share)
	return args.Error(0)
}

func (m *MockStore) DeleteSharesForUser(ctx context.Context, userId string) error {
	args := m.Called(ctx, userId)
	return args.Error(0)
}
