package dynamo

import (
	"strings"

	"github.com/zlnvch/webnotes/models"
)

const (
	profileSK = "PROFILE"
	loginSK   = "LOGIN"
	emailSK   = "EMAIL"
	noteSK    = "NOTE"

	sharePrefix = "SHARE#"

	// Value of the sparse GSI_Public partition key. Private notes omit the attribute.
	visibilityPublic = "PUBLIC"
)

func userPK(userId string) string {
	return "USER#" + userId
}

func loginPK(provider string, providerId string) string {
	return "LOGIN#" + provider + "#" + providerId
}

func emailPK(email string) string {
	return "EMAIL#" + normalizeEmail(email)
}

func notePK(noteId string) string {
	return "NOTE#" + noteId
}

func shareSK(userId string) string {
	return sharePrefix + userId
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// searchText is the value the text filter runs against
func searchText(content string) string {
	return strings.ToLower(content)
}

type dynamoUser struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	Id         string `dynamodbav:"Id"`
	Username   string `dynamodbav:"Username"`
	Email      string `dynamodbav:"Email"`
	Provider   string `dynamodbav:"Provider"`
	ProviderId string `dynamodbav:"ProviderId"`
	Created    int64  `dynamodbav:"Created"`
}

func userToDynamo(u models.User) dynamoUser {
	return dynamoUser{
		PK:         userPK(u.Id),
		SK:         profileSK,
		Id:         u.Id,
		Username:   u.Username,
		Email:      u.Email,
		Provider:   u.Provider,
		ProviderId: u.ProviderId,
		Created:    u.Created,
	}
}

func userFromDynamo(du dynamoUser) models.User {
	return models.User{
		Id:         du.Id,
		Username:   du.Username,
		Email:      du.Email,
		Provider:   du.Provider,
		ProviderId: du.ProviderId,
		Created:    du.Created,
	}
}

// dynamoUserPointer maps a unique lookup key (login or email) to a user id
type dynamoUserPointer struct {
	PK     string `dynamodbav:"PK"`
	SK     string `dynamodbav:"SK"`
	UserId string `dynamodbav:"UserId"`
}

func loginPointer(u models.User) dynamoUserPointer {
	return dynamoUserPointer{PK: loginPK(u.Provider, u.ProviderId), SK: loginSK, UserId: u.Id}
}

func emailPointer(u models.User) dynamoUserPointer {
	return dynamoUserPointer{PK: emailPK(u.Email), SK: emailSK, UserId: u.Id}
}

type dynamoNote struct {
	PK           string `dynamodbav:"PK"`
	SK           string `dynamodbav:"SK"`
	Id           string `dynamodbav:"Id"`
	Title        string `dynamodbav:"Title"`
	Content      string `dynamodbav:"Content"`
	SearchText   string `dynamodbav:"SearchText"`
	IsPublic     bool   `dynamodbav:"IsPublic"`
	Visibility   string `dynamodbav:"Visibility,omitempty"`
	AuthorId     string `dynamodbav:"AuthorId"`
	LastEditedBy string `dynamodbav:"LastEditedBy,omitempty"`
	LastEditedAt int64  `dynamodbav:"LastEditedAt"`
	Created      int64  `dynamodbav:"Created"`
	ViewCount    int    `dynamodbav:"ViewCount"`
	ShareVersion int64  `dynamodbav:"ShareVersion"`
}

func noteToDynamo(n models.Note) dynamoNote {
	dn := dynamoNote{
		PK:           notePK(n.Id),
		SK:           noteSK,
		Id:           n.Id,
		Title:        n.Title,
		Content:      n.Content,
		SearchText:   searchText(n.Content),
		IsPublic:     n.IsPublic,
		AuthorId:     n.AuthorId,
		LastEditedBy: n.LastEditedBy,
		LastEditedAt: n.LastEditedAt,
		Created:      n.Created,
		ViewCount:    n.ViewCount,
	}
	if n.IsPublic {
		dn.Visibility = visibilityPublic
	}
	return dn
}

func noteFromDynamo(dn dynamoNote) models.Note {
	return models.Note{
		Id:           dn.Id,
		Title:        dn.Title,
		Content:      dn.Content,
		IsPublic:     dn.IsPublic,
		AuthorId:     dn.AuthorId,
		LastEditedBy: dn.LastEditedBy,
		LastEditedAt: dn.LastEditedAt,
		Created:      dn.Created,
		ViewCount:    dn.ViewCount,
	}
}

func notesFromDynamo(dns []dynamoNote) []models.Note {
	notes := make([]models.Note, 0, len(dns))
	for _, dn := range dns {
		notes = append(notes, noteFromDynamo(dn))
	}
	return notes
}

type dynamoShare struct {
	PK           string `dynamodbav:"PK"`
	SK           string `dynamodbav:"SK"`
	NoteId       string `dynamodbav:"NoteId"`
	SharedWithId string `dynamodbav:"SharedWithId"`
	Permission   string `dynamodbav:"Permission"`
	SharedBy     string `dynamodbav:"SharedBy"`
	Created      int64  `dynamodbav:"Created"`
}

func shareFromDynamo(ds dynamoShare) models.Share {
	return models.Share{
		NoteId:       ds.NoteId,
		SharedWithId: ds.SharedWithId,
		Permission:   models.Permission(ds.Permission),
		SharedBy:     ds.SharedBy,
		Created:      ds.Created,
	}
}
