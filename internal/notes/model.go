package notes

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/agora-labs/agora/internal/apperror"
)

// DefaultAuthor is stored when a note is created without an author.
const DefaultAuthor = "Anonymous"

// DefaultTopLimit bounds the top-voted listing.
const DefaultTopLimit = 10

// NoteID identifies a persisted note.
type NoteID uint64

// ParseNoteID validates a path parameter and returns a NoteID.
// Identifiers are bounded to the signed 64-bit range the database drivers bind.
func ParseNoteID(rawInput string) (NoteID, error) {
	value, err := strconv.ParseUint(strings.TrimSpace(rawInput), 10, 63)
	if err != nil || value == 0 {
		return 0, fmt.Errorf("%w: invalid note id %q", apperror.ErrValidation, rawInput)
	}
	return NoteID(value), nil
}

// Uint64 exposes the raw identifier.
func (id NoteID) Uint64() uint64 {
	return uint64(id)
}

// Note models a persisted note.
type Note struct {
	ID        uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	Topic     string    `gorm:"column:topic;size:100;not null;index:idx_notes_topic"`
	Content   string    `gorm:"column:content;type:text;not null"`
	Author    string    `gorm:"column:author;size:50;not null;index:idx_notes_author"`
	CreatedAt time.Time `gorm:"column:created_at;not null;index:idx_notes_created"`
	Votes     int64     `gorm:"column:votes;not null;default:0"`
	Pinned    bool      `gorm:"column:pinned;not null;default:false"`
}

// TableName provides the explicit table binding for GORM.
func (Note) TableName() string {
	return "notes"
}

// CreateRequest carries a validated creation payload. A nil Author stores DefaultAuthor.
type CreateRequest struct {
	Topic   string
	Content string
	Author  *string
}

// UpdateRequest is a sparse update. Nil fields are left untouched.
type UpdateRequest struct {
	Topic   *string
	Content *string
	Author  *string
}

// ListFilter narrows note listings. Empty fields do not filter.
// Topic and Author match exactly; Search matches a case-insensitive substring of the content.
type ListFilter struct {
	Topic  string
	Author string
	Search string
}

// EventType names a note lifecycle transition.
type EventType string

const (
	EventCreated EventType = "created"
	EventUpdated EventType = "updated"
	EventVoted   EventType = "voted"
	EventPinned  EventType = "pinned"
	EventDeleted EventType = "deleted"
)

// Event describes a committed note mutation.
type Event struct {
	Type      EventType
	NoteID    uint64
	Note      *Note
	Timestamp time.Time
}

// EventPublisher receives committed note events.
type EventPublisher interface {
	PublishNoteEvent(event Event)
}
