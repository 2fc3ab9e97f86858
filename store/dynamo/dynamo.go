package dynamo

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/gofrs/uuid/v5"

	"github.com/zlnvch/webnotes/logger/slogx"
	"github.com/zlnvch/webnotes/models"
	"github.com/zlnvch/webnotes/store"
)

const (
	indexAuthor     = "GSI_Author"
	indexPublic     = "GSI_Public"
	indexSharedWith = "GSI_SharedWith"
)

var (
	errShareSetChanged = errors.New("share set changed during delete")
)

type DynamoNotesStore struct {
	client    *dynamodb.Client
	tableName string
}

func NewDynamoNotesStore(ctx context.Context, devMode bool, dynamodbEndpoint string, tableName string) (*DynamoNotesStore, error) {
	client, err := newDynamoDBClient(ctx, devMode, dynamodbEndpoint)
	if err != nil {
		return nil, err
	}

	var tables []string
	err = retry.Do(
		func() error {
			tables, err = getTables(client, ctx)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(5),
		retry.Delay(500*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			slogx.Warn(ctx, "dynamodb not reachable, retrying", slogx.Err(err))
		}),
	)
	if err != nil {
		return nil, err
	}

	if !slices.Contains(tables, tableName) {
		return nil, fmt.Errorf("given table name '%s' not found in dynamodb", tableName)
	}

	return &DynamoNotesStore{client: client, tableName: tableName}, nil
}

// CreateUser provisions the profile and its lookup pointers atomically. If the
// login already exists the stored user is returned instead.
// ErrConditionFailed means the email belongs to another account.
func (dynamoStore *DynamoNotesStore) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	existing, err := dynamoStore.getUserByPointer(ctx, loginPK(user.Provider, user.ProviderId), loginSK, false)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrItemNotFound) {
		return models.User{}, err
	}

	userId, err := uuid.NewV4()
	if err != nil {
		return models.User{}, err
	}
	user.Id = userId.String()
	user.Created = time.Now().UnixMilli()

	const notExists = "attribute_not_exists(PK)"

	profile, err := transactPut(dynamoStore.tableName, userToDynamo(user), notExists)
	if err != nil {
		return models.User{}, err
	}
	login, err := transactPut(dynamoStore.tableName, loginPointer(user), notExists)
	if err != nil {
		return models.User{}, err
	}
	items := []types.TransactWriteItem{profile, login}

	if user.Email != "" {
		email, err := transactPut(dynamoStore.tableName, emailPointer(user), notExists)
		if err != nil {
			return models.User{}, err
		}
		items = append(items, email)
	}

	err = transactWrite(dynamoStore, ctx, items)
	if errors.Is(err, store.ErrConditionFailed) {
		// Either a concurrent login created the account or the email is taken
		existing, getErr := dynamoStore.getUserByPointer(ctx, loginPK(user.Provider, user.ProviderId), loginSK, true)
		if getErr == nil {
			return existing, nil
		}
		if errors.Is(getErr, store.ErrItemNotFound) {
			return models.User{}, store.ErrConditionFailed
		}
		return models.User{}, getErr
	}
	if err != nil {
		return models.User{}, err
	}

	return user, nil
}

func (dynamoStore *DynamoNotesStore) GetUser(ctx context.Context, provider string, providerId string) (models.User, error) {
	return dynamoStore.getUserByPointer(ctx, loginPK(provider, providerId), loginSK, false)
}

func (dynamoStore *DynamoNotesStore) GetUserById(ctx context.Context, userId string) (models.User, error) {
	du, err := getItem[dynamoUser](dynamoStore, ctx, userPK(userId), profileSK, false)
	if err != nil {
		return models.User{}, err
	}

	return userFromDynamo(du), nil
}

func (dynamoStore *DynamoNotesStore) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	return dynamoStore.getUserByPointer(ctx, emailPK(email), emailSK, false)
}

func (dynamoStore *DynamoNotesStore) getUserByPointer(ctx context.Context, pk string, sk string, consistentRead bool) (models.User, error) {
	pointer, err := getItem[dynamoUserPointer](dynamoStore, ctx, pk, sk, consistentRead)
	if err != nil {
		return models.User{}, err
	}

	du, err := getItem[dynamoUser](dynamoStore, ctx, userPK(pointer.UserId), profileSK, consistentRead)
	if err != nil {
		return models.User{}, err
	}

	return userFromDynamo(du), nil
}

func (dynamoStore *DynamoNotesStore) DeleteUser(ctx context.Context, user models.User) error {
	items := []types.TransactWriteItem{
		transactDelete(dynamoStore.tableName, userPK(user.Id), profileSK),
		transactDelete(dynamoStore.tableName, loginPK(user.Provider, user.ProviderId), loginSK),
	}
	if user.Email != "" {
		items = append(items, transactDelete(dynamoStore.tableName, emailPK(user.Email), emailSK))
	}

	return transactWrite(dynamoStore, ctx, items)
}

func (dynamoStore *DynamoNotesStore) CreateNote(ctx context.Context, note models.Note) error {
	return putItem(dynamoStore, ctx, noteToDynamo(note))
}

func (dynamoStore *DynamoNotesStore) GetNote(ctx context.Context, noteId string) (models.Note, error) {
	dn, err := getItem[dynamoNote](dynamoStore, ctx, notePK(noteId), noteSK, true)
	if err != nil {
		return models.Note{}, err
	}

	return noteFromDynamo(dn), nil
}

// UpdateNote applies the non-nil fields of update. The editor's right to write
// is asserted inside the same request: AuthorId for owners, the share's
// permission for everyone else, who may only edit private notes. IsPublic is
// ignored unless AsOwner is set.
func (dynamoStore *DynamoNotesStore) UpdateNote(ctx context.Context, update models.NoteUpdate) error {
	b := noteUpdateBuilder(update)

	var err error
	if update.AsOwner {
		err = dynamoStore.updateNoteAsOwner(ctx, update, b)
	} else {
		err = transactWrite(dynamoStore, ctx, editorUpdateItems(dynamoStore.tableName, update, b))
	}
	if errors.Is(err, store.ErrConditionFailed) {
		return dynamoStore.noteConditionFailure(ctx, update.NoteId)
	}

	return err
}

func (dynamoStore *DynamoNotesStore) updateNoteAsOwner(ctx context.Context, update models.NoteUpdate, b *updateBuilder) error {
	_, err := dynamoStore.client.UpdateItem(ctx, ownerUpdateInput(dynamoStore.tableName, update, b))
	if err != nil {
		var cce *types.ConditionalCheckFailedException
		if errors.As(err, &cce) {
			return store.ErrConditionFailed
		}
		return fmt.Errorf("failed to update note: %w", err)
	}

	return nil
}

// noteConditionFailure tells a missing note apart from a failed permission guard
func (dynamoStore *DynamoNotesStore) noteConditionFailure(ctx context.Context, noteId string) error {
	_, err := getItem[dynamoNote](dynamoStore, ctx, notePK(noteId), noteSK, true)
	if err != nil {
		return err
	}

	return store.ErrConditionFailed
}

func (dynamoStore *DynamoNotesStore) DeleteNote(ctx context.Context, noteId string, authorId string) error {
	return retry.Do(
		func() error {
			return dynamoStore.deleteNoteWithShares(ctx, noteId, authorId)
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(20*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, errShareSetChanged) || errors.Is(err, errTransactionConflict)
		}),
	)
}

// deleteNoteWithShares deletes the note and the shares read alongside it in one
// transaction. The ShareVersion guard fails the transaction if a share was
// added after the read.
func (dynamoStore *DynamoNotesStore) deleteNoteWithShares(ctx context.Context, noteId string, authorId string) error {
	items, err := queryPartition(dynamoStore, ctx, notePK(noteId))
	if err != nil {
		return err
	}

	note, shareKeys, err := splitNotePartition(items)
	if err != nil {
		return err
	}
	if note == nil {
		return store.ErrItemNotFound
	}
	if note.AuthorId != authorId {
		return store.ErrConditionFailed
	}
	if overflow := overflowShareKeys(shareKeys); len(overflow) > 0 {
		// Shares beyond one transaction go first; the retry deletes the rest
		// together with the note. If every retry fails the note survives with
		// the overflow shares already revoked.
		if err := dynamoStore.deleteShares(ctx, note.PK, overflow); err != nil {
			return err
		}
		return errShareSetChanged
	}

	err = transactWrite(dynamoStore, ctx, deleteNoteItems(dynamoStore.tableName, *note, authorId, shareKeys))
	if !errors.Is(err, store.ErrConditionFailed) {
		return err
	}

	current, getErr := getItem[dynamoNote](dynamoStore, ctx, notePK(noteId), noteSK, true)
	if getErr != nil {
		return getErr
	}
	if current.AuthorId != authorId {
		return store.ErrConditionFailed
	}

	return errShareSetChanged
}

func (dynamoStore *DynamoNotesStore) deleteShares(ctx context.Context, pk string, shareKeys []string) error {
	const batchSize = 25
	for start := 0; start < len(shareKeys); start += batchSize {
		end := min(start+batchSize, len(shareKeys))
		requests := make([]types.WriteRequest, 0, end-start)
		for _, sk := range shareKeys[start:end] {
			requests = append(requests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: itemKey(pk, sk)},
			})
		}
		if err := writeBatchRequests(dynamoStore, ctx, requests); err != nil {
			return err
		}
	}
	return nil
}

func (dynamoStore *DynamoNotesStore) ListNotesByAuthor(ctx context.Context, authorId string, limit int) ([]models.Note, error) {
	dns, err := queryIndex[dynamoNote](dynamoStore, ctx, indexQuery{
		indexName: indexAuthor,
		keyField:  "AuthorId",
		keyValue:  authorId,
		limit:     limit,
	})
	if err != nil {
		return nil, err
	}

	return notesFromDynamo(dns), nil
}

func (dynamoStore *DynamoNotesStore) ListPublicNotes(ctx context.Context, limit int) ([]models.Note, error) {
	dns, err := queryIndex[dynamoNote](dynamoStore, ctx, indexQuery{
		indexName: indexPublic,
		keyField:  "Visibility",
		keyValue:  visibilityPublic,
		limit:     limit,
	})
	if err != nil {
		return nil, err
	}

	return notesFromDynamo(dns), nil
}

// SearchNotes returns notes of one scope whose content contains every term.
// Terms are expected lowercase.
func (dynamoStore *DynamoNotesStore) SearchNotes(ctx context.Context, query models.SearchQuery) ([]models.Note, error) {
	q := indexQuery{
		filterField: "SearchText",
		filterTerms: query.Terms,
		limit:       query.Limit,
	}

	switch query.Scope {
	case models.ScopePublic:
		q.indexName, q.keyField, q.keyValue = indexPublic, "Visibility", visibilityPublic
	case models.ScopeAuthor:
		if query.AuthorId == "" {
			return nil, fmt.Errorf("author scope requires an author id")
		}
		q.indexName, q.keyField, q.keyValue = indexAuthor, "AuthorId", query.AuthorId
	default:
		return nil, fmt.Errorf("unknown search scope %d", query.Scope)
	}

	dns, err := queryIndex[dynamoNote](dynamoStore, ctx, q)
	if err != nil {
		return nil, err
	}

	return notesFromDynamo(dns), nil
}

func (dynamoStore *DynamoNotesStore) IncrementNoteViewCount(ctx context.Context, noteId string, count int) error {
	return incrementCounter(dynamoStore, ctx, notePK(noteId), noteSK, "ViewCount", count)
}

func (dynamoStore *DynamoNotesStore) GetShare(ctx context.Context, noteId string, userId string) (models.Share, error) {
	ds, err := getItem[dynamoShare](dynamoStore, ctx, notePK(noteId), shareSK(userId), true)
	if err != nil {
		return models.Share{}, err
	}

	return shareFromDynamo(ds), nil
}

func (dynamoStore *DynamoNotesStore) ListSharesForUser(ctx context.Context, userId string) ([]models.Share, error) {
	dss, err := queryIndex[dynamoShare](dynamoStore, ctx, indexQuery{
		indexName: indexSharedWith,
		keyField:  "SharedWithId",
		keyValue:  userId,
	})
	if err != nil {
		return nil, err
	}

	shares := make([]models.Share, 0, len(dss))
	for _, ds := range dss {
		shares = append(shares, shareFromDynamo(ds))
	}
	return shares, nil
}

// UpsertShare creates or re-permissions a share. The owner check and the
// ShareVersion bump on the note commit together with the share write.
func (dynamoStore *DynamoNotesStore) UpsertShare(ctx context.Context, share models.Share) error {
	err := transactWrite(dynamoStore, ctx, upsertShareItems(dynamoStore.tableName, share))
	if errors.Is(err, store.ErrConditionFailed) {
		return dynamoStore.noteConditionFailure(ctx, share.NoteId)
	}

	return err
}

func (dynamoStore *DynamoNotesStore) DeleteSharesForUser(ctx context.Context, userId string) error {
	return batchDeleteByGSIThrottled(dynamoStore, ctx, indexSharedWith, "SharedWithId", userId, 100*time.Millisecond)
}
