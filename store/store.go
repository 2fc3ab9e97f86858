package store

import (
	"context"
	"errors"

	"github.com/zlnvch/webnotes/models"
)

type NotesStore interface {
	CreateUser(ctx context.Context, user models.User) (models.User, error)
	GetUser(ctx context.Context, provider string, providerId string) (models.User, error)
	GetUserById(ctx context.Context, userId string) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	DeleteUser(ctx context.Context, user models.User) error

	CreateNote(ctx context.Context, note models.Note) error
	GetNote(ctx context.Context, noteId string) (models.Note, error)
	UpdateNote(ctx context.Context, update models.NoteUpdate) error
	// DeleteNote removes the note and every share referencing it in one
	// transaction. It fails with ErrConditionFailed if authorId is not the author.
	DeleteNote(ctx context.Context, noteId string, authorId string) error
	ListNotesByAuthor(ctx context.Context, authorId string, limit int) ([]models.Note, error)
	ListPublicNotes(ctx context.Context, limit int) ([]models.Note, error)
	SearchNotes(ctx context.Context, query models.SearchQuery) ([]models.Note, error)
	IncrementNoteViewCount(ctx context.Context, noteId string, count int) error

	GetShare(ctx context.Context, noteId string, userId string) (models.Share, error)
	ListSharesForUser(ctx context.Context, userId string) ([]models.Share, error)
	// UpsertShare writes the share only while share.SharedBy is the note's author.
	UpsertShare(ctx context.Context, share models.Share) error
	DeleteSharesForUser(ctx context.Context, userId string) error
}

var (
	ErrItemNotFound    = errors.New("item does not exist")
	ErrConditionFailed = errors.New("condition not met")
)
