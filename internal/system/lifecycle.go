package system

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/soundvault/rfidcore/internal/api/rest"
	"github.com/soundvault/rfidcore/internal/api/websocket"
	"github.com/soundvault/rfidcore/internal/config"
	"github.com/soundvault/rfidcore/internal/driver"
	"github.com/soundvault/rfidcore/internal/epc"
	"github.com/soundvault/rfidcore/internal/interfaces"
	"github.com/soundvault/rfidcore/internal/profiles"
	"github.com/soundvault/rfidcore/internal/provision"
	"github.com/soundvault/rfidcore/internal/storage"
	"github.com/soundvault/rfidcore/internal/transport"
	"go.uber.org/zap"
)

// LifecycleManager owns the component graph: serial transport, reader
// driver, provisioning sessions, websocket hub and the REST surface. Start
// wires them bottom-up; Shutdown tears them down in reverse.
type LifecycleManager struct {
	config        *config.Config
	storage       *storage.PostgresClient
	profileLoader *profiles.ProfileLoader
	logger        *zap.Logger

	serial     *transport.SerialTransport
	reader     *driver.Driver
	guard      *provision.TransportGuard
	writer     *provision.TagWriter
	bulkWriter *provision.BulkOrchestrator
	scanner    *provision.ScanReconciler

	hub        *websocket.Hub
	restServer *rest.Server

	stateMu         sync.RWMutex
	currentState    SystemState
	firmwareVersion string

	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

func NewLifecycleManager(
	storage *storage.PostgresClient,
	cfg *config.Config,
	logger *zap.Logger,
) (*LifecycleManager, error) {
	profileLoader, err := profiles.NewProfileLoader(cfg.Profiles.SearchPaths)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile loader: %w", err)
	}

	return &LifecycleManager{
		config:        cfg,
		storage:       storage,
		profileLoader: profileLoader,
		logger:        logger,
		hub:           websocket.NewHub(logger),
		guard:         provision.NewTransportGuard(),
		currentState:  StateInitializing,
		shutdownChan:  make(chan struct{}),
	}, nil
}

// Start brings the whole system up. The reader module must be reachable;
// serving a provisioning API without hardware behind it would only defer
// the failure to the first session start.
func (lm *LifecycleManager) Start() error {
	lm.logger.Info("Starting rfidcore")
	lm.setState(StateInitializing)

	go lm.hub.Run()

	if err := lm.connectReader(); err != nil {
		lm.setState(StateError)
		return fmt.Errorf("failed to connect reader: %w", err)
	}

	if err := lm.buildSessions(); err != nil {
		lm.setState(StateError)
		return err
	}

	if err := lm.startRESTServer(); err != nil {
		lm.setState(StateError)
		return fmt.Errorf("failed to start REST API: %w", err)
	}

	lm.setState(StateRunning)
	lm.logger.Info("System started successfully",
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.String("reader_port", lm.config.Reader.Port),
		zap.String("firmware", lm.firmwareVersion))

	return nil
}

// connectReader opens the serial link, verifies the module answers and
// applies the configured transmit power.
func (lm *LifecycleManager) connectReader() error {
	serial, err := transport.Open(transport.Options{
		Port:        lm.config.Reader.Port,
		BaudRate:    lm.config.Reader.BaudRate,
		SettleDelay: lm.config.Reader.SettleDelay,
	}, lm.logger)
	if err != nil {
		return err
	}
	lm.serial = serial
	lm.reader = driver.New(serial, lm.config.Reader.CommandTimeout, lm.logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	version, err := lm.reader.FirmwareVersion(ctx)
	if err != nil {
		lm.reader.Close()
		lm.serial.Close()
		return fmt.Errorf("module not responding: %w", err)
	}
	lm.firmwareVersion = version

	power := lm.config.Reader.RFPower
	if lm.config.Reader.Profile != "" {
		profile, err := lm.profileLoader.Load(lm.config.Reader.Profile)
		if err != nil {
			lm.logger.Warn("Configured reader profile not loadable",
				zap.String("profile", lm.config.Reader.Profile),
				zap.Error(err))
		} else if power < profile.Power.MinDbm || power > profile.Power.MaxDbm {
			lm.logger.Warn("Configured RF power outside profile limits, using profile default",
				zap.Int("configured_dbm", power),
				zap.Int("default_dbm", profile.Power.DefaultDbm))
			power = profile.Power.DefaultDbm
		}
	}
	if err := lm.reader.SetRFPower(ctx, power); err != nil {
		lm.logger.Warn("Failed to set RF power, module keeps its current setting",
			zap.Int("dbm", power), zap.Error(err))
	}

	lm.logger.Info("Reader connected",
		zap.String("port", lm.config.Reader.Port),
		zap.String("firmware", version),
		zap.Int("rf_power_dbm", power))
	return nil
}

func (lm *LifecycleManager) buildSessions() error {
	// Validated again on the off chance the config was mutated after Load;
	// writing tags with a silently zeroed password would brick their locks.
	password, err := lm.config.Provision.AccessPasswordBytes()
	if err != nil {
		return fmt.Errorf("invalid access password: %w", err)
	}

	lm.writer = provision.NewTagWriter(
		lm.reader, lm.storage, epc.NewGenerator(),
		lm.config.Provision, password, lm.logger)

	lm.bulkWriter = provision.NewBulkOrchestrator(
		lm.reader, lm.storage, lm.writer, lm.guard, lm.hub,
		lm.config.Provision, lm.logger)

	lm.scanner = provision.NewScanReconciler(
		lm.reader, lm.storage, lm.guard, lm.hub,
		lm.config.Provision, lm.logger)
	return nil
}

func (lm *LifecycleManager) startRESTServer() error {
	lm.restServer = rest.NewServer(lm.config, lm, lm.logger, lm.hub)
	return lm.restServer.Start()
}

// Shutdown gracefully stops the system. Running sessions are stopped first
// so an in-flight tag write reaches a terminal state before the serial port
// goes away.
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")
		lm.setState(StateStopping)

		shutdownErr = lm.gracefulShutdown(ctx)

		lm.setState(StateStopped)
		close(lm.shutdownChan)
	})

	return shutdownErr
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	if lm.bulkWriter != nil {
		if err := lm.bulkWriter.Stop(ctx); err != nil {
			lm.logger.Debug("Bulk write session not running at shutdown", zap.Error(err))
		}
	}
	if lm.scanner != nil {
		if err := lm.scanner.Stop(ctx); err != nil {
			lm.logger.Debug("Scan session not running at shutdown", zap.Error(err))
		}
	}

	if lm.restServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
			lm.logger.Error("REST shutdown failed", zap.Error(err))
		}
	}

	if lm.reader != nil {
		lm.reader.Close()
	}
	if lm.serial != nil {
		if err := lm.serial.Close(); err != nil {
			lm.logger.Error("Serial close failed", zap.Error(err))
		}
	}

	select {
	case <-ctx.Done():
		lm.logger.Warn("Shutdown deadline exceeded")
		return fmt.Errorf("shutdown timeout exceeded")
	default:
	}

	lm.logger.Info("Graceful shutdown completed")
	return nil
}

// WaitForShutdown blocks until Shutdown has completed.
func (lm *LifecycleManager) WaitForShutdown() {
	<-lm.shutdownChan
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()

	if err := ValidateTransition(lm.currentState, state); err != nil {
		lm.logger.Warn("Forcing state transition", zap.Error(err))
	}
	lm.currentState = state
}

// GetCurrentStatus implements interfaces.LifecycleManager.
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	lm.stateMu.RLock()
	state := lm.currentState
	firmware := lm.firmwareVersion
	lm.stateMu.RUnlock()

	status := interfaces.SystemStatus{
		State:           state.String(),
		ReaderConnected: lm.reader != nil && state == StateRunning,
		FirmwareVersion: firmware,
	}

	if lm.guard != nil {
		status.ActiveSession = lm.guard.Holder()
	}
	if lm.bulkWriter != nil {
		status.TagsWritten = lm.bulkWriter.Status().Count
	}
	return status
}

// Interface accessors.

func (lm *LifecycleManager) Config() *config.Config { return lm.config }

func (lm *LifecycleManager) Storage() *storage.PostgresClient { return lm.storage }

func (lm *LifecycleManager) Reader() *driver.Driver { return lm.reader }

func (lm *LifecycleManager) ProfileLoader() *profiles.ProfileLoader { return lm.profileLoader }

func (lm *LifecycleManager) BulkWriter() *provision.BulkOrchestrator { return lm.bulkWriter }

func (lm *LifecycleManager) Scanner() *provision.ScanReconciler { return lm.scanner }
