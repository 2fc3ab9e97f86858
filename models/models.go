package models

type User struct {
	Id         string `json:"id"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	Provider   string `json:"provider"`
	ProviderId string `json:"-"`
	Created    int64  `json:"created"`
}

type Note struct {
	Id           string `json:"id"`
	Title        string `json:"title"`
	Content      string `json:"content"`
	IsPublic     bool   `json:"isPublic"`
	AuthorId     string `json:"authorId"`
	LastEditedBy string `json:"lastEditedBy,omitempty"`
	LastEditedAt int64  `json:"lastEditedAt"`
	Created      int64  `json:"created"`
	ViewCount    int    `json:"viewCount"`
}

type Permission string

const (
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"
)

func (p Permission) Valid() bool {
	return p == PermissionRead || p == PermissionWrite
}

type Share struct {
	NoteId       string     `json:"noteId"`
	SharedWithId string     `json:"sharedWithId"`
	Permission   Permission `json:"permission"`
	SharedBy     string     `json:"sharedBy"`
	Created      int64      `json:"created"`
}

// NoteWithAccess is the result of a single-note read.
type NoteWithAccess struct {
	Note
	AuthorName string `json:"authorName"`
	CanEdit    bool   `json:"canEdit"`
}

// NoteWithShare is a note reached through a share grant.
type NoteWithShare struct {
	Note
	AuthorName string     `json:"authorName"`
	Permission Permission `json:"permission"`
}

// NoteWithAuthor is a note from the public feed or a search.
type NoteWithAuthor struct {
	Note
	AuthorName string `json:"authorName"`
}

// NoteUpdate is a partial update. Nil fields are left unchanged.
// AsOwner selects the guard the store applies inside the write: the note's
// AuthorId must equal EditorId, or else EditorId must hold a write share.
type NoteUpdate struct {
	NoteId   string
	EditorId string
	AsOwner  bool
	Title    *string
	Content  *string
	IsPublic *bool
	EditedAt int64
}

type SearchScope int

const (
	ScopePublic SearchScope = iota
	ScopeAuthor
)

type SearchQuery struct {
	Terms    []string
	Scope    SearchScope
	AuthorId string
	Limit    int
}
