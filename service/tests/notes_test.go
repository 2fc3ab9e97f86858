package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/zlnvch/webnotes/cache"
	"github.com/zlnvch/webnotes/models"
	"github.com/zlnvch/webnotes/service"
	"github.com/zlnvch/webnotes/store"
)

func TestListOwnedNotes_Anonymous(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)

	notes, err := svc.ListOwnedNotes(context.Background(), "")
	assert.NoError(t, err)
	assert.Empty(t, notes)
	assert.NotNil(t, notes)
	mockStore.AssertNotCalled(t, "ListNotesByAuthor", mock.Anything, mock.Anything, mock.Anything)
}

func TestListOwnedNotes_Success(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()

	stored := []models.Note{
		{Id: "n2", AuthorId: "owner", Created: 2},
		{Id: "n1", AuthorId: "owner", Created: 1},
	}
	mockStore.On("ListNotesByAuthor", ctx, "owner", 0).Return(stored, nil)

	notes, err := svc.ListOwnedNotes(ctx, "owner")
	assert.NoError(t, err)
	assert.Equal(t, stored, notes)
}

func TestListSharedNotes_Anonymous(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)

	notes, err := svc.ListSharedNotes(context.Background(), "")
	assert.NoError(t, err)
	assert.Empty(t, notes)
	mockStore.AssertNotCalled(t, "ListSharesForUser", mock.Anything, mock.Anything)
}

func TestListSharedNotes_SkipsDeletedNotes(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	allowCacheMiss(mockCache)
	ctx := context.Background()

	shares := []models.Share{
		{NoteId: "n1", SharedWithId: "bob", Permission: models.PermissionRead},
		{NoteId: "gone", SharedWithId: "bob", Permission: models.PermissionWrite},
		{NoteId: "n2", SharedWithId: "bob", Permission: models.PermissionWrite},
	}
	mockStore.On("ListSharesForUser", ctx, "bob").Return(shares, nil)
	mockStore.On("GetNote", mock.Anything, "n1").Return(models.Note{Id: "n1", AuthorId: "alice"}, nil)
	mockStore.On("GetNote", mock.Anything, "gone").Return(models.Note{}, store.ErrItemNotFound)
	mockStore.On("GetNote", mock.Anything, "n2").Return(models.Note{Id: "n2", AuthorId: "deleted-user"}, nil)
	mockStore.On("GetUserById", ctx, "alice").Return(models.User{Id: "alice", Username: "alice"}, nil).Once()
	mockStore.On("GetUserById", ctx, "deleted-user").Return(models.User{}, store.ErrItemNotFound)

	notes, err := svc.ListSharedNotes(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, notes, 2)

	assert.Equal(t, "n1", notes[0].Id)
	assert.Equal(t, "alice", notes[0].AuthorName)
	assert.Equal(t, models.PermissionRead, notes[0].Permission)

	assert.Equal(t, "n2", notes[1].Id)
	assert.Equal(t, "Unknown", notes[1].AuthorName)
	assert.Equal(t, models.PermissionWrite, notes[1].Permission)
}

func TestListSharedNotes_StoreError(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()

	mockStore.On("ListSharesForUser", ctx, "bob").Return([]models.Share{{NoteId: "n1"}}, nil)
	mockStore.On("GetNote", mock.Anything, "n1").Return(models.Note{}, errors.New("throttled"))

	_, err := svc.ListSharedNotes(ctx, "bob")
	assert.Error(t, err)
}

func TestListPublicNotes_DefaultLimitAndNames(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	ctx := context.Background()

	mockCache.On("GetUser", ctx, "alice").Return(models.User{Id: "alice", Username: "Alice"}, nil)
	mockCache.On("GetUser", ctx, "bob").Return(models.User{}, cache.ErrCacheMiss)
	mockCache.On("GetUser", ctx, "ghost").Return(models.User{}, cache.ErrCacheMiss)
	mockCache.On("SetUser", ctx, mock.Anything).Return(nil)
	mockStore.On("GetUserById", ctx, "bob").Return(models.User{Id: "bob", Email: "bob@example.com"}, nil)
	mockStore.On("GetUserById", ctx, "ghost").Return(models.User{}, store.ErrItemNotFound)

	mockStore.On("ListPublicNotes", ctx, service.DefaultPublicLimit).Return([]models.Note{
		{Id: "n3", AuthorId: "alice", IsPublic: true},
		{Id: "n2", AuthorId: "bob", IsPublic: true},
		{Id: "n1", AuthorId: "ghost", IsPublic: true},
	}, nil)

	notes, err := svc.ListPublicNotes(ctx, 0)
	require.NoError(t, err)
	require.Len(t, notes, 3)
	assert.Equal(t, "Alice", notes[0].AuthorName)
	assert.Equal(t, "bob@example.com", notes[1].AuthorName)
	assert.Equal(t, "Anonymous", notes[2].AuthorName)

	mockStore.AssertNotCalled(t, "GetUserById", ctx, "alice")
}

func TestListPublicNotes_CapsLimit(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()

	mockStore.On("ListPublicNotes", ctx, service.MaxPublicLimit).Return([]models.Note{}, nil)

	notes, err := svc.ListPublicNotes(ctx, 5000)
	assert.NoError(t, err)
	assert.Empty(t, notes)
	mockStore.AssertExpectations(t)
}

func TestGetNote_PublicAnonymous(t *testing.T) {
	svc, mockStore, mockCache, _, viewCounter := setupService(t)
	allowCacheMiss(mockCache)
	ctx := context.Background()

	note := models.Note{Id: "n1", Title: "T", AuthorId: "alice", IsPublic: true}
	mockStore.On("GetNote", ctx, "n1").Return(note, nil)
	mockStore.On("GetUserById", ctx, "alice").Return(models.User{Id: "alice", Username: "alice"}, nil)

	got, err := svc.GetNote(ctx, "", "n1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, note, got.Note)
	assert.Equal(t, "alice", got.AuthorName)
	assert.False(t, got.CanEdit)

	select {
	case noteId := <-viewCounter.ViewCh:
		assert.Equal(t, "n1", noteId)
	default:
		t.Fatal("expected a recorded view")
	}
}

func TestGetNote_PublicOwnerCanEdit(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	allowCacheMiss(mockCache)
	ctx := context.Background()

	mockStore.On("GetNote", ctx, "n1").Return(models.Note{Id: "n1", AuthorId: "alice", IsPublic: true}, nil)
	mockStore.On("GetUserById", ctx, "alice").Return(models.User{Id: "alice", Username: "alice"}, nil)

	got, err := svc.GetNote(ctx, "alice", "n1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.CanEdit)
	assert.Equal(t, "alice", got.AuthorName)
}

func TestGetNote_PrivateOwner(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()

	mockStore.On("GetNote", ctx, "n1").Return(models.Note{Id: "n1", AuthorId: "alice"}, nil)

	got, err := svc.GetNote(ctx, "alice", "n1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.CanEdit)
	assert.Equal(t, "You", got.AuthorName)
	mockStore.AssertNotCalled(t, "GetShare", mock.Anything, mock.Anything, mock.Anything)
}

func TestGetNote_PrivateHiddenFromAnonymous(t *testing.T) {
	svc, mockStore, _, _, viewCounter := setupService(t)
	ctx := context.Background()

	mockStore.On("GetNote", ctx, "n1").Return(models.Note{Id: "n1", AuthorId: "alice"}, nil)

	got, err := svc.GetNote(ctx, "", "n1")
	assert.NoError(t, err)
	assert.Nil(t, got)
	assert.Empty(t, viewCounter.ViewCh)
}

func TestNoteVisible_DoesNotCountView(t *testing.T) {
	svc, mockStore, mockCache, _, viewCounter := setupService(t)
	ctx := context.Background()

	mockStore.On("GetNote", ctx, "n1").Return(models.Note{Id: "n1", AuthorId: "alice"}, nil)
	mockStore.On("GetShare", ctx, "n1", "bob").Return(models.Share{NoteId: "n1", SharedWithId: "bob", Permission: models.PermissionRead}, nil)
	mockStore.On("GetShare", ctx, "n1", "carol").Return(models.Share{}, store.ErrItemNotFound)
	mockStore.On("GetUserById", ctx, "alice").Return(models.User{}, store.ErrItemNotFound)
	mockCache.On("GetUser", ctx, "alice").Return(models.User{}, cache.ErrCacheMiss)

	visible, err := svc.NoteVisible(ctx, "bob", "n1")
	assert.NoError(t, err)
	assert.True(t, visible)

	visible, err = svc.NoteVisible(ctx, "carol", "n1")
	assert.NoError(t, err)
	assert.False(t, visible)

	assert.Empty(t, viewCounter.ViewCh)
}

func TestGetNote_PrivateWithoutShareLooksMissing(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()

	mockStore.On("GetNote", ctx, "private").Return(models.Note{Id: "private", AuthorId: "alice"}, nil)
	mockStore.On("GetShare", ctx, "private", "carol").Return(models.Share{}, store.ErrItemNotFound)
	mockStore.On("GetNote", ctx, "missing").Return(models.Note{}, store.ErrItemNotFound)

	private, err := svc.GetNote(ctx, "carol", "private")
	assert.NoError(t, err)
	missing, err := svc.GetNote(ctx, "carol", "missing")
	assert.NoError(t, err)

	assert.Nil(t, private)
	assert.Equal(t, missing, private)
}

func TestGetNote_ReadShare(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	allowCacheMiss(mockCache)
	ctx := context.Background()

	mockStore.On("GetNote", ctx, "n1").Return(models.Note{Id: "n1", AuthorId: "alice"}, nil)
	mockStore.On("GetShare", ctx, "n1", "bob").Return(models.Share{NoteId: "n1", SharedWithId: "bob", Permission: models.PermissionRead}, nil)
	mockStore.On("GetUserById", ctx, "alice").Return(models.User{Id: "alice", Email: "alice@example.com"}, nil)

	got, err := svc.GetNote(ctx, "bob", "n1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.CanEdit)
	assert.Equal(t, "alice@example.com", got.AuthorName)
}

func TestGetNote_WriteShareOwnerMissing(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	allowCacheMiss(mockCache)
	ctx := context.Background()

	mockStore.On("GetNote", ctx, "n1").Return(models.Note{Id: "n1", AuthorId: "alice"}, nil)
	mockStore.On("GetShare", ctx, "n1", "bob").Return(models.Share{NoteId: "n1", SharedWithId: "bob", Permission: models.PermissionWrite}, nil)
	mockStore.On("GetUserById", ctx, "alice").Return(models.User{}, store.ErrItemNotFound)

	got, err := svc.GetNote(ctx, "bob", "n1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.CanEdit)
	assert.Equal(t, "Unknown", got.AuthorName)
}

func TestGetNote_StoreError(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()

	mockStore.On("GetNote", ctx, "n1").Return(models.Note{}, errors.New("network"))

	got, err := svc.GetNote(ctx, "bob", "n1")
	assert.Error(t, err)
	assert.Nil(t, got)
}

func TestCreateNote_Defaults(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()

	var created models.Note
	mockStore.On("CreateNote", ctx, mock.AnythingOfType("models.Note")).Run(func(args mock.Arguments) {
		created = args.Get(1).(models.Note)
	}).Return(nil)

	noteId, err := svc.CreateNote(ctx, "alice", service.CreateNoteParams{Title: "Groceries"})
	require.NoError(t, err)

	id, err := uuid.FromString(noteId)
	require.NoError(t, err)
	assert.Equal(t, byte(uuid.V7), id.Version())

	assert.Equal(t, noteId, created.Id)
	assert.Equal(t, "Groceries", created.Title)
	assert.Equal(t, "", created.Content)
	assert.True(t, created.IsPublic)
	assert.Equal(t, "alice", created.AuthorId)
	assert.Equal(t, fixedNow.UnixMilli(), created.Created)
	assert.Equal(t, fixedNow.UnixMilli(), created.LastEditedAt)
	assert.Empty(t, created.LastEditedBy)
}

func TestCreateNote_ExplicitFields(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()

	mockStore.On("CreateNote", ctx, mock.MatchedBy(func(n models.Note) bool {
		return n.Content == "milk" && !n.IsPublic
	})).Return(nil)

	_, err := svc.CreateNote(ctx, "alice", service.CreateNoteParams{
		Title:    "Groceries",
		Content:  ptr("milk"),
		IsPublic: ptr(false),
	})
	assert.NoError(t, err)
	mockStore.AssertExpectations(t)
}

func TestCreateNote_Anonymous(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)

	_, err := svc.CreateNote(context.Background(), "", service.CreateNoteParams{Title: "T"})
	assert.ErrorIs(t, err, service.ErrAuthentication)
	mockStore.AssertNotCalled(t, "CreateNote", mock.Anything, mock.Anything)
}

func TestCreateNote_BlankTitle(t *testing.T) {
	svc, _, _, _, _ := setupService(t)

	_, err := svc.CreateNote(context.Background(), "alice", service.CreateNoteParams{Title: "   "})
	assert.ErrorIs(t, err, service.ErrValidation)
}

func TestUpdateNote_Owner(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	events := expectEvents(mockCache, cache.NoteChannel("n1"))
	ctx := context.Background()

	mockStore.On("GetNote", ctx, "n1").Return(models.Note{Id: "n1", AuthorId: "alice"}, nil)
	mockStore.On("UpdateNote", ctx, models.NoteUpdate{
		NoteId:   "n1",
		EditorId: "alice",
		AsOwner:  true,
		Content:  ptr("new body"),
		IsPublic: ptr(true),
		EditedAt: fixedNow.UnixMilli(),
	}).Return(nil)

	err := svc.UpdateNote(ctx, "alice", "n1", service.UpdateNoteParams{
		Content:  ptr("new body"),
		IsPublic: ptr(true),
	})
	require.NoError(t, err)
	mockStore.AssertExpectations(t)

	event := waitEvent(t, events)
	assert.Equal(t, models.EventNoteUpdated, event.Type)
	assert.Equal(t, "n1", event.NoteId)
}

func TestUpdateNote_WriteShareIgnoresVisibility(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	allowCacheMiss(mockCache)
	expectEvents(mockCache, cache.NoteChannel("n1"))
	ctx := context.Background()

	mockStore.On("GetNote", ctx, "n1").Return(models.Note{Id: "n1", AuthorId: "alice"}, nil)
	mockStore.On("GetShare", ctx, "n1", "bob").Return(models.Share{NoteId: "n1", SharedWithId: "bob", Permission: models.PermissionWrite}, nil)
	mockStore.On("GetUserById", ctx, "alice").Return(models.User{Id: "alice"}, nil)
	mockStore.On("UpdateNote", ctx, models.NoteUpdate{
		NoteId:   "n1",
		EditorId: "bob",
		AsOwner:  false,
		Title:    ptr("x"),
		EditedAt: fixedNow.UnixMilli(),
	}).Return(nil)

	err := svc.UpdateNote(ctx, "bob", "n1", service.UpdateNoteParams{
		Title:    ptr("x"),
		IsPublic: ptr(true),
	})
	assert.NoError(t, err)
	mockStore.AssertExpectations(t)
}

func TestUpdateNote_ReadShareForbidden(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	allowCacheMiss(mockCache)
	ctx := context.Background()

	mockStore.On("GetNote", ctx, "n1").Return(models.Note{Id: "n1", AuthorId: "alice"}, nil)
	mockStore.On("GetShare", ctx, "n1", "bob").Return(models.Share{NoteId: "n1", SharedWithId: "bob", Permission: models.PermissionRead}, nil)
	mockStore.On("GetUserById", ctx, "alice").Return(models.User{Id: "alice"}, nil)

	err := svc.UpdateNote(ctx, "bob", "n1", service.UpdateNoteParams{Title: ptr("x")})
	assert.ErrorIs(t, err, service.ErrAuthorization)
	mockStore.AssertNotCalled(t, "UpdateNote", mock.Anything, mock.Anything)
}

func TestUpdateNote_PublicNoteStrangerForbidden(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	allowCacheMiss(mockCache)
	ctx := context.Background()

	mockStore.On("GetNote", ctx, "n1").Return(models.Note{Id: "n1", AuthorId: "alice", IsPublic: true}, nil)
	mockStore.On("GetUserById", ctx, "alice").Return(models.User{Id: "alice"}, nil)

	err := svc.UpdateNote(ctx, "carol", "n1", service.UpdateNoteParams{Title: ptr("x")})
	assert.ErrorIs(t, err, service.ErrAuthorization)
}

func TestUpdateNote_NotFound(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()

	mockStore.On("GetNote", ctx, "n1").Return(models.Note{}, store.ErrItemNotFound)

	err := svc.UpdateNote(ctx, "alice", "n1", service.UpdateNoteParams{Title: ptr("x")})
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestUpdateNote_Anonymous(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)

	err := svc.UpdateNote(context.Background(), "", "n1", service.UpdateNoteParams{Title: ptr("x")})
	assert.ErrorIs(t, err, service.ErrAuthentication)
	mockStore.AssertNotCalled(t, "GetNote", mock.Anything, mock.Anything)
}

func TestUpdateNote_BlankTitle(t *testing.T) {
	svc, _, _, _, _ := setupService(t)

	err := svc.UpdateNote(context.Background(), "alice", "n1", service.UpdateNoteParams{Title: ptr("")})
	assert.ErrorIs(t, err, service.ErrValidation)
}

func TestUpdateNote_ShareRevokedDuringWrite(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	allowCacheMiss(mockCache)
	ctx := context.Background()

	mockStore.On("GetNote", ctx, "n1").Return(models.Note{Id: "n1", AuthorId: "alice"}, nil)
	mockStore.On("GetShare", ctx, "n1", "bob").Return(models.Share{NoteId: "n1", SharedWithId: "bob", Permission: models.PermissionWrite}, nil)
	mockStore.On("GetUserById", ctx, "alice").Return(models.User{Id: "alice"}, nil)
	mockStore.On("UpdateNote", ctx, mock.Anything).Return(store.ErrConditionFailed)

	err := svc.UpdateNote(ctx, "bob", "n1", service.UpdateNoteParams{Content: ptr("x")})
	assert.ErrorIs(t, err, service.ErrAuthorization)
}

func TestUpdateNote_NoteMadePublicDuringWrite(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	allowCacheMiss(mockCache)
	ctx := context.Background()

	// Private when read; the owner publishes it before the editor's write lands
	mockStore.On("GetNote", ctx, "n1").Return(models.Note{Id: "n1", AuthorId: "alice"}, nil)
	mockStore.On("GetShare", ctx, "n1", "bob").Return(models.Share{NoteId: "n1", SharedWithId: "bob", Permission: models.PermissionWrite}, nil)
	mockStore.On("GetUserById", ctx, "alice").Return(models.User{Id: "alice"}, nil)
	mockStore.On("UpdateNote", ctx, mock.MatchedBy(func(u models.NoteUpdate) bool {
		return u.EditorId == "bob" && !u.AsOwner
	})).Return(store.ErrConditionFailed)

	err := svc.UpdateNote(ctx, "bob", "n1", service.UpdateNoteParams{Title: ptr("edited")})
	assert.ErrorIs(t, err, service.ErrAuthorization)
	mockCache.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestDeleteNote_Owner(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	events := expectEvents(mockCache, cache.NoteChannel("n1"))
	ctx := context.Background()

	mockStore.On("GetNote", ctx, "n1").Return(models.Note{Id: "n1", AuthorId: "alice"}, nil)
	mockStore.On("DeleteNote", ctx, "n1", "alice").Return(nil)

	err := svc.DeleteNote(ctx, "alice", "n1")
	require.NoError(t, err)

	event := waitEvent(t, events)
	assert.Equal(t, models.EventNoteDeleted, event.Type)
}

func TestDeleteNote_WriteShareHolderForbidden(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()

	mockStore.On("GetNote", ctx, "n1").Return(models.Note{Id: "n1", AuthorId: "alice"}, nil)

	err := svc.DeleteNote(ctx, "bob", "n1")
	assert.ErrorIs(t, err, service.ErrAuthorization)
	mockStore.AssertNotCalled(t, "DeleteNote", mock.Anything, mock.Anything, mock.Anything)
}

func TestDeleteNote_NotFound(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()

	mockStore.On("GetNote", ctx, "n1").Return(models.Note{}, store.ErrItemNotFound)

	err := svc.DeleteNote(ctx, "alice", "n1")
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestDeleteNote_DeletedConcurrently(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()

	mockStore.On("GetNote", ctx, "n1").Return(models.Note{Id: "n1", AuthorId: "alice"}, nil)
	mockStore.On("DeleteNote", ctx, "n1", "alice").Return(store.ErrItemNotFound)

	err := svc.DeleteNote(ctx, "alice", "n1")
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestDeleteNote_Anonymous(t *testing.T) {
	svc, _, _, _, _ := setupService(t)

	err := svc.DeleteNote(context.Background(), "", "n1")
	assert.ErrorIs(t, err, service.ErrAuthentication)
}
