package provision

import (
	"context"

	"github.com/google/uuid"
	"github.com/soundvault/rfidcore/internal/protocol"
	"github.com/soundvault/rfidcore/internal/storage"
)

// ReaderDriver is the module command surface the provisioning pipeline
// needs. *driver.Driver implements it; tests substitute fakes.
type ReaderDriver interface {
	SinglePoll(ctx context.Context) (*protocol.TagRead, error)
	WriteEPC(ctx context.Context, epc string, password [4]byte) error
	Lock(ctx context.Context, lock [3]byte, password [4]byte) error
	StartMultiPoll(ctx context.Context, rounds uint16) (<-chan protocol.TagRead, error)
	StopMultiPoll(ctx context.Context) error
}

// TagRepository persists tag lifecycle state. *storage.PostgresClient
// implements it.
type TagRepository interface {
	InsertTag(ctx context.Context, epc string) (*storage.TagRecord, error)
	UpdateTagStatus(ctx context.Context, id uuid.UUID, status storage.TagStatus) (*storage.TagRecord, error)
	FindTagByEpc(ctx context.Context, epc string) (*storage.TagRecord, error)
	ListAllEpcs(ctx context.Context) (map[string]struct{}, error)
}

// EventSink receives live session events for the operator UI. The websocket
// hub implements it; a nil sink is allowed.
type EventSink interface {
	Publish(eventType string, data any)
}
