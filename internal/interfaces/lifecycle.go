package interfaces

import (
	"context"

	"github.com/soundvault/rfidcore/internal/config"
	"github.com/soundvault/rfidcore/internal/driver"
	"github.com/soundvault/rfidcore/internal/profiles"
	"github.com/soundvault/rfidcore/internal/provision"
	"github.com/soundvault/rfidcore/internal/storage"
)

// SystemStatus represents the current system state
type SystemStatus struct {
	State           string `json:"state"`
	ReaderConnected bool   `json:"reader_connected"`
	FirmwareVersion string `json:"firmware_version,omitempty"`
	ActiveSession   string `json:"active_session,omitempty"`
	TagsWritten     int    `json:"tags_written"`
}

type LifecycleManager interface {
	Config() *config.Config
	Storage() *storage.PostgresClient
	Reader() *driver.Driver
	ProfileLoader() *profiles.ProfileLoader
	BulkWriter() *provision.BulkOrchestrator
	Scanner() *provision.ScanReconciler
	GetCurrentStatus() SystemStatus
	Shutdown(ctx context.Context) error
}
