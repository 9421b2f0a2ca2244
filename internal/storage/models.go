package storage

import (
	"time"

	"github.com/google/uuid"
)

// TagStatus is the lifecycle state of a physical RFID tag. Transitions only
// move forward: generated → written → locked, with failed reachable from
// generated/written and retired only from written/locked.
type TagStatus string

const (
	TagStatusGenerated TagStatus = "generated"
	TagStatusWritten   TagStatus = "written"
	TagStatusLocked    TagStatus = "locked"
	TagStatusFailed    TagStatus = "failed"
	TagStatusRetired   TagStatus = "retired"
)

// CanTransition reports whether moving from s to next is a legal forward
// transition. UI layers only ever read the status; this is the single
// source of truth for writes.
func (s TagStatus) CanTransition(next TagStatus) bool {
	switch next {
	case TagStatusWritten:
		return s == TagStatusGenerated
	case TagStatusLocked:
		return s == TagStatusWritten
	case TagStatusFailed:
		return s == TagStatusGenerated || s == TagStatusWritten
	case TagStatusRetired:
		return s == TagStatusWritten || s == TagStatusLocked
	default:
		return false
	}
}

// TagRecord is one persisted physical tag. The EPC is immutable once
// assigned and unique across all records ever created.
type TagRecord struct {
	ID        uuid.UUID  `json:"id"`
	Epc       string     `json:"epc"`
	Tid       *string    `json:"tid,omitempty"`
	Status    TagStatus  `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	WrittenAt *time.Time `json:"written_at,omitempty"`
	LockedAt  *time.Time `json:"locked_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// ReaderProfileRecord mirrors a validated reader profile stored for the
// admin surface.
type ReaderProfileRecord struct {
	ID          uuid.UUID `json:"id"`
	ProfileName string    `json:"profile_name"`
	Vendor      string    `json:"vendor"`
	Model       string    `json:"model"`
	Definition  []byte    `json:"definition"` // JSONB
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
