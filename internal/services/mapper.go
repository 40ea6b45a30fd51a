package services

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/taskmind/taskmind/internal/logger"
	"github.com/taskmind/taskmind/internal/models"
)

// mapScanInterval paces the periodic reconciliation sweep.
const mapScanInterval = 2 * time.Second

// Mapper is the background reconciliation task that binds logical session
// ids found on disk to live PTY sessions created by other flows (for
// example an agent process started independently of the websocket
// caller). Best-effort eventual consistency: it only ever adds alias
// entries through the registry API, and it never overwrites a binding an
// explicit caller made.
type Mapper struct {
	registry    *Registry
	sessionsDir string
	interval    time.Duration

	nudge chan struct{}
	known map[string]struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMapper builds a mapper scanning sessionsDir against registry.
func NewMapper(registry *Registry, sessionsDir string) *Mapper {
	return &Mapper{
		registry:    registry,
		sessionsDir: sessionsDir,
		interval:    mapScanInterval,
		nudge:       make(chan struct{}, 1),
		known:       make(map[string]struct{}),
	}
}

// Start launches the background task. Calling Start on a running mapper
// is a no-op.
func (m *Mapper) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(ctx)

	// The watcher only shortens reconciliation latency; if it cannot
	// start the ticker still provides liveness.
	if err := watchSessionsDir(ctx, m.sessionsDir, m.Nudge); err != nil {
		logger.Debugf("sessions dir watcher unavailable: %v", err)
	}

	logger.Infof("🔁 Session mapper started (dir: %s)", m.sessionsDir)
}

// Stop cancels the background task and waits for it to exit. In-flight
// reconciliation work is abandoned, not rolled back; it is side-effect
// free apart from alias writes.
func (m *Mapper) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	logger.Infof("🔁 Session mapper stopped")
}

// Nudge requests an immediate reconciliation sweep. Non-blocking; extra
// nudges while one is pending coalesce.
func (m *Mapper) Nudge() {
	select {
	case m.nudge <- struct{}{}:
	default:
	}
}

func (m *Mapper) run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-m.nudge:
		}
		m.reconcile()
	}
}

// reconcile scans the persisted logical sessions and opportunistically
// binds newly observed ids to the most recently created, still-unaliased
// live session.
func (m *Mapper) reconcile() {
	entries, err := os.ReadDir(m.sessionsDir)
	if err != nil {
		// Directory may not exist yet; retried next tick.
		return
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		logicalID := entry.Name()
		if _, seen := m.known[logicalID]; seen {
			continue
		}
		if _, ok := m.registry.Get(logicalID); ok {
			// Already resolves, either directly or through an alias.
			m.known[logicalID] = struct{}{}
			continue
		}

		metadata, err := m.readMetadata(logicalID)
		if err != nil || metadata == nil {
			// Metadata not written yet; look again next sweep.
			continue
		}
		if !metadata.IsWebSourced() {
			m.known[logicalID] = struct{}{}
			continue
		}

		candidate := m.newestUnaliased()
		if candidate == nil {
			continue
		}
		if m.registry.RegisterAliasIfAbsent(logicalID, candidate.ID) {
			logger.Infof("🔗 Mapped session %s -> PTY %s", shortID(logicalID), shortID(candidate.ID))
		}
		m.known[logicalID] = struct{}{}
	}
}

func (m *Mapper) readMetadata(logicalID string) (*models.SessionMetadata, error) {
	path := filepath.Join(m.sessionsDir, logicalID, "metadata.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var metadata models.SessionMetadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		logger.Warnf("⚠️ Invalid metadata for session %s: %v", shortID(logicalID), err)
		return nil, err
	}
	return &metadata, nil
}

func (m *Mapper) newestUnaliased() *Session {
	var newest *Session
	for _, session := range m.registry.List() {
		if !session.Running() || m.registry.IsAliased(session.ID) {
			continue
		}
		if newest == nil || session.CreatedAt.After(newest.CreatedAt) {
			newest = session
		}
	}
	return newest
}
