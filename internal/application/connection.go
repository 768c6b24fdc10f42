package application

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"xiaoi/internal/domain"
)

type ConnectionState int

const (
	StateUninitialized ConnectionState = iota
	StateInitializing
	StateReady
	StateReinitializing
)

func (s ConnectionState) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateReinitializing:
		return "reinitializing"
	default:
		return "uninitialized"
	}
}

// ConnectionManager owns the vendor session and the config snapshots it was
// bound with. Init and EnsureReadyForDID must only be called from inside the
// OperationQueue; the setters may be called at any time.
type ConnectionManager struct {
	vendor   VendorClient
	cacheDir string
	logger   *slog.Logger

	mu       sync.RWMutex
	state    ConnectionState
	boundDID string
	base     domain.SpeakerConfig
	active   domain.SpeakerConfig
}

func NewConnectionManager(vendor VendorClient, cacheDir string, logger *slog.Logger) *ConnectionManager {
	return &ConnectionManager{
		vendor:   vendor,
		cacheDir: cacheDir,
		logger:   logger,
	}
}

// Init merges cfg into the base config and binds the vendor session to the
// resulting device. When already bound to that device only the runtime flags
// are refreshed.
func (m *ConnectionManager) Init(ctx context.Context, cfg domain.SpeakerConfig) error {
	m.mu.Lock()
	merged := m.base.Merge(cfg)
	m.base = merged
	if m.state == StateReady && m.boundDID == merged.DID {
		m.active = m.active.WithTTSMode(merged.TTSMode).WithVerboseLog(merged.VerboseLog)
		m.mu.Unlock()
		m.logger.Debug("speaker already bound, runtime flags refreshed", "did", merged.DID)
		return nil
	}
	m.mu.Unlock()

	return m.bind(ctx, merged, StateInitializing)
}

// EnsureReadyForDID binds the session to target when it is not already.
// An empty target means the configured device.
func (m *ConnectionManager) EnsureReadyForDID(ctx context.Context, target string) error {
	m.mu.RLock()
	state := m.state
	bound := m.boundDID
	base := m.base
	m.mu.RUnlock()

	if target == "" {
		if state == StateReady {
			return nil
		}
		target = base.DID
	}

	if state == StateReady && bound == target {
		return nil
	}

	next := StateInitializing
	if state == StateReady {
		next = StateReinitializing
		m.logger.Info("switching speaker", "from", bound, "to", target)
	}
	return m.bind(ctx, base.WithDID(target), next)
}

func (m *ConnectionManager) bind(ctx context.Context, cfg domain.SpeakerConfig, transitional ConnectionState) error {
	if !cfg.HasCredentials() {
		m.setState(StateUninitialized, "")
		return &domain.ConfigError{Field: "speaker", Err: domain.ErrMissingCredentials}
	}

	m.setState(transitional, "")

	err := WithWorkingDir(m.cacheDir, func() error {
		return m.vendor.Init(ctx, cfg)
	})
	if err != nil {
		m.setState(StateUninitialized, "")
		return &domain.VendorInitError{DID: cfg.DID, Err: err}
	}

	m.mu.Lock()
	m.state = StateReady
	m.boundDID = cfg.DID
	m.active = cfg
	m.mu.Unlock()

	m.logger.Info("speaker session ready", "did", cfg.DID, "model", m.vendor.BoundModel())
	return nil
}

func (m *ConnectionManager) setState(state ConnectionState, did string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
	m.boundDID = did
}

func (m *ConnectionManager) State() ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *ConnectionManager) BoundDID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.boundDID
}

// ActiveConfig returns the config the session runs with; before the first
// successful init this is the base config.
func (m *ConnectionManager) ActiveConfig() domain.SpeakerConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != StateReady {
		return m.base.Clone()
	}
	return m.active.Clone()
}

func (m *ConnectionManager) BaseConfig() domain.SpeakerConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.base.Clone()
}

// Update applies fn to both config snapshots.
func (m *ConnectionManager) Update(fn func(domain.SpeakerConfig) domain.SpeakerConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.base = fn(m.base)
	m.active = fn(m.active)
}

var chdirMu sync.Mutex

// WithWorkingDir runs fn with the process working directory set to dir and
// restores the previous directory on every exit path. An empty dir runs fn
// in place.
func WithWorkingDir(dir string, fn func() error) (err error) {
	if dir == "" {
		return fn()
	}

	chdirMu.Lock()
	defer chdirMu.Unlock()

	prev, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("reading working directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}
	if err := os.Chdir(dir); err != nil {
		return fmt.Errorf("entering cache directory: %w", err)
	}
	defer func() {
		if cdErr := os.Chdir(prev); cdErr != nil && err == nil {
			err = fmt.Errorf("restoring working directory: %w", cdErr)
		}
	}()

	return fn()
}
