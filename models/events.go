package models

type EventType string

const (
	EventNoteUpdated EventType = "note_updated"
	EventNoteDeleted EventType = "note_deleted"
	EventNoteShared  EventType = "note_shared"
	EventUserDeleted EventType = "user_deleted"
)

// Event is a change notification. Observers refetch through the read
// operations; events never carry note content.
type Event struct {
	Type       EventType  `json:"type"`
	NoteId     string     `json:"noteId,omitempty"`
	UserId     string     `json:"userId,omitempty"`
	Permission Permission `json:"permission,omitempty"`
}
