package dynamo

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/zlnvch/webnotes/models"
)

// noteUpdateBuilder sets the fields of update that are not nil
func noteUpdateBuilder(update models.NoteUpdate) *updateBuilder {
	b := newUpdateBuilder()
	b.set("LastEditedBy", stringValue(update.EditorId))
	b.set("LastEditedAt", numberValue(update.EditedAt))
	if update.Title != nil {
		b.set("Title", stringValue(*update.Title))
	}
	if update.Content != nil {
		b.set("Content", stringValue(*update.Content))
		b.set("SearchText", stringValue(searchText(*update.Content)))
	}
	if update.AsOwner && update.IsPublic != nil {
		b.set("IsPublic", boolValue(*update.IsPublic))
		if *update.IsPublic {
			b.set("Visibility", stringValue(visibilityPublic))
		} else {
			b.remove("Visibility")
		}
	}
	return b
}

// ownerUpdateInput applies b only while update.EditorId is the note's author
func ownerUpdateInput(tableName string, update models.NoteUpdate, b *updateBuilder) *dynamodb.UpdateItemInput {
	b.names["#AuthorId"] = "AuthorId"
	b.value(":editor", stringValue(update.EditorId))

	return &dynamodb.UpdateItemInput{
		TableName:                 aws.String(tableName),
		Key:                       itemKey(notePK(update.NoteId), noteSK),
		UpdateExpression:          aws.String(b.expression()),
		ConditionExpression:       aws.String("attribute_exists(PK) AND #AuthorId = :editor"),
		ExpressionAttributeNames:  b.names,
		ExpressionAttributeValues: b.values,
	}
}

// editorUpdateItems applies b only while the editor's share grants write and
// the note is private. Public notes are editable by their author alone.
func editorUpdateItems(tableName string, update models.NoteUpdate, b *updateBuilder) []types.TransactWriteItem {
	b.names["#Visibility"] = "Visibility"

	return []types.TransactWriteItem{
		{
			ConditionCheck: &types.ConditionCheck{
				TableName:           aws.String(tableName),
				Key:                 itemKey(notePK(update.NoteId), shareSK(update.EditorId)),
				ConditionExpression: aws.String("#Permission = :write"),
				ExpressionAttributeNames: map[string]string{
					"#Permission": "Permission",
				},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":write": stringValue(string(models.PermissionWrite)),
				},
			},
		},
		{
			Update: &types.Update{
				TableName:                 aws.String(tableName),
				Key:                       itemKey(notePK(update.NoteId), noteSK),
				UpdateExpression:          aws.String(b.expression()),
				ConditionExpression:       aws.String("attribute_exists(PK) AND attribute_not_exists(#Visibility)"),
				ExpressionAttributeNames:  b.names,
				ExpressionAttributeValues: b.values,
			},
		},
	}
}

// upsertShareItems writes the share for (NoteId, SharedWithId) in place and
// bumps the note's ShareVersion, guarded on the note's author.
func upsertShareItems(tableName string, share models.Share) []types.TransactWriteItem {
	nb := newUpdateBuilder()
	nb.sets = append(nb.sets, "#ShareVersion = if_not_exists(#ShareVersion, :zero) + :one")
	nb.names["#ShareVersion"] = "ShareVersion"
	nb.names["#AuthorId"] = "AuthorId"
	nb.value(":zero", numberValue(0))
	nb.value(":one", numberValue(1))
	nb.value(":owner", stringValue(share.SharedBy))

	sb := newUpdateBuilder()
	sb.set("NoteId", stringValue(share.NoteId))
	sb.set("SharedWithId", stringValue(share.SharedWithId))
	sb.set("Permission", stringValue(string(share.Permission)))
	sb.setIfNotExists("SharedBy", stringValue(share.SharedBy))
	sb.setIfNotExists("Created", numberValue(share.Created))

	return []types.TransactWriteItem{
		{
			Update: &types.Update{
				TableName:                 aws.String(tableName),
				Key:                       itemKey(notePK(share.NoteId), noteSK),
				UpdateExpression:          aws.String(nb.expression()),
				ConditionExpression:       aws.String("attribute_exists(PK) AND #AuthorId = :owner"),
				ExpressionAttributeNames:  nb.names,
				ExpressionAttributeValues: nb.values,
			},
		},
		{
			Update: &types.Update{
				TableName:                 aws.String(tableName),
				Key:                       itemKey(notePK(share.NoteId), shareSK(share.SharedWithId)),
				UpdateExpression:          aws.String(sb.expression()),
				ExpressionAttributeNames:  sb.names,
				ExpressionAttributeValues: sb.values,
			},
		},
	}
}

// splitNotePartition separates the note item of a NOTE# partition from the
// sort keys of its shares. note is nil when the partition has no note item.
func splitNotePartition(items []map[string]types.AttributeValue) (*dynamoNote, []string, error) {
	var note *dynamoNote
	var shareKeys []string
	for _, item := range items {
		sk, ok := item["SK"].(*types.AttributeValueMemberS)
		if !ok {
			continue
		}
		switch {
		case sk.Value == noteSK:
			var dn dynamoNote
			if err := attributevalue.UnmarshalMap(item, &dn); err != nil {
				return nil, nil, fmt.Errorf("failed to unmarshal note: %w", err)
			}
			note = &dn
		case strings.HasPrefix(sk.Value, sharePrefix):
			shareKeys = append(shareKeys, sk.Value)
		}
	}
	return note, shareKeys, nil
}

// overflowShareKeys returns the shares that do not fit in one transaction next
// to the note delete
func overflowShareKeys(shareKeys []string) []string {
	overflow := len(shareKeys) + 1 - maxTransactItems
	if overflow <= 0 {
		return nil
	}
	return shareKeys[:overflow]
}

// deleteNoteItems deletes every listed share and the note. The note delete is
// guarded on the author and on the ShareVersion read with the shares, so a
// share added in between cancels the whole transaction.
func deleteNoteItems(tableName string, note dynamoNote, authorId string, shareKeys []string) []types.TransactWriteItem {
	deleteNote := transactDelete(tableName, note.PK, noteSK)
	deleteNote.Delete.ConditionExpression = aws.String("#AuthorId = :author AND #ShareVersion = :v")
	deleteNote.Delete.ExpressionAttributeNames = map[string]string{
		"#AuthorId":     "AuthorId",
		"#ShareVersion": "ShareVersion",
	}
	deleteNote.Delete.ExpressionAttributeValues = map[string]types.AttributeValue{
		":author": stringValue(authorId),
		":v":      numberValue(note.ShareVersion),
	}

	writes := make([]types.TransactWriteItem, 0, len(shareKeys)+1)
	for _, sk := range shareKeys {
		writes = append(writes, transactDelete(tableName, note.PK, sk))
	}
	return append(writes, deleteNote)
}
