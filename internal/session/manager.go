package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Rrens/ai-session-manager/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Sealer encrypts the per-session credential before it leaves the process
type Sealer interface {
	EncryptString(plaintext string) (string, error)
	DecryptString(ciphertext string) (string, error)
}

// Manager owns the live sessions. Each slot (one browser tab) has at most
// one active session.
type Manager struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Store
	slots    map[string]uuid.UUID
	writers  map[uuid.UUID]*snapshotWriter

	snapshots domain.SnapshotStore
	sealer    Sealer
	timeout   time.Duration
}

// NewManager creates a manager. snapshots and sealer may be nil, in which
// case sessions live in memory only and credentials are never written out.
func NewManager(snapshots domain.SnapshotStore, sealer Sealer, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Manager{
		sessions:  make(map[uuid.UUID]*Store),
		slots:     make(map[string]uuid.UUID),
		writers:   make(map[uuid.UUID]*snapshotWriter),
		snapshots: snapshots,
		sealer:    sealer,
		timeout:   timeout,
	}
}

// Create starts a new session in slot, replacing whatever was active there
func (m *Manager) Create(slot string, cfg domain.SessionConfig, userID *uuid.UUID) *Store {
	store := NewStore(cfg, userID)
	m.attach(slot, store)

	log.Info().
		Str("session_id", store.ID().String()).
		Str("slot", slot).
		Str("model", cfg.Model).
		Bool("credential_present", cfg.Credential != "").
		Msg("Session created")

	store.touch()
	return store
}

// Get returns a live session by id
func (m *Manager) Get(id uuid.UUID) (*Store, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	store, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	return store, nil
}

// Active returns the session of slot, rehydrating it from its snapshot
// when it is not in memory
func (m *Manager) Active(ctx context.Context, slot string) (*Store, error) {
	m.mu.RLock()
	id, ok := m.slots[slot]
	store := m.sessions[id]
	m.mu.RUnlock()

	if ok && store != nil {
		return store, nil
	}
	return m.Restore(ctx, slot)
}

// Restore rehydrates the snapshot of slot
func (m *Manager) Restore(ctx context.Context, slot string) (*Store, error) {
	if m.snapshots == nil {
		return nil, domain.ErrNoActiveSession
	}

	snap, err := m.snapshots.Load(ctx, slot)
	if err != nil {
		return nil, fmt.Errorf("failed to restore session: %w", err)
	}
	if snap == nil || snap.Session.Finalized() {
		return nil, domain.ErrNoActiveSession
	}

	var credential string
	if snap.SealedCredential != "" && m.sealer != nil {
		credential, err = m.sealer.DecryptString(snap.SealedCredential)
		if err != nil {
			log.Warn().Err(err).Str("slot", slot).Msg("Discarding unreadable session credential")
			credential = ""
		}
	}

	m.mu.Lock()
	if id, ok := m.slots[slot]; ok {
		if existing := m.sessions[id]; existing != nil {
			m.mu.Unlock()
			return existing, nil
		}
	}
	m.mu.Unlock()

	store := Restore(snap.Session, credential)
	m.attach(slot, store)

	log.Info().Str("session_id", store.ID().String()).Str("slot", slot).Msg("Session restored")
	return store, nil
}

// Clear ends the active session of slot and removes its snapshot
func (m *Manager) Clear(ctx context.Context, slot string) error {
	var w *snapshotWriter
	m.mu.Lock()
	if id, ok := m.slots[slot]; ok {
		w = m.detach(id)
		delete(m.slots, slot)
	}
	m.mu.Unlock()

	if w != nil {
		w.wait()
	}

	if m.snapshots == nil {
		return nil
	}
	if err := m.snapshots.Delete(ctx, slot); err != nil {
		return fmt.Errorf("failed to clear snapshot: %w", err)
	}
	return nil
}

// ActiveID returns the id of the in-memory session of slot
func (m *Manager) ActiveID(slot string) (uuid.UUID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.slots[slot]
	return id, ok
}

// Len returns the number of live sessions
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// detach drops a session and stops its snapshot writes; caller holds mu
func (m *Manager) detach(id uuid.UUID) *snapshotWriter {
	delete(m.sessions, id)
	w, ok := m.writers[id]
	if !ok {
		return nil
	}
	w.close()
	delete(m.writers, id)
	return w
}

func (m *Manager) attach(slot string, store *Store) {
	id := store.ID()

	var w *snapshotWriter
	if m.snapshots != nil {
		w = m.newWriter(slot, store)
		store.OnChange(w.enqueue)
	}

	var replaced *snapshotWriter
	m.mu.Lock()
	if old, ok := m.slots[slot]; ok {
		replaced = m.detach(old)
	}
	m.sessions[id] = store
	m.slots[slot] = id
	if w != nil {
		m.writers[id] = w
	}
	m.mu.Unlock()

	if replaced != nil {
		replaced.wait()
	}
}

func (m *Manager) newWriter(slot string, store *Store) *snapshotWriter {
	w := &snapshotWriter{
		slot:      slot,
		snapshots: m.snapshots,
		timeout:   m.timeout,
	}
	if cred := store.Credential(); cred != "" && m.sealer != nil {
		sealed, err := m.sealer.EncryptString(cred)
		if err != nil {
			log.Warn().Err(err).Str("slot", slot).Msg("Credential will not survive a restart")
		}
		w.sealed = sealed
	}
	return w
}

// snapshotWriter persists the latest snapshot of one slot in the background.
// Writes for a slot never overlap and only the newest pending state is written.
type snapshotWriter struct {
	slot      string
	sealed    string
	snapshots domain.SnapshotStore
	timeout   time.Duration

	wg      sync.WaitGroup
	mu      sync.Mutex
	pending *domain.Session
	running bool
	closed  bool
}

func (w *snapshotWriter) enqueue(s domain.Session) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	w.pending = &s
	if w.running {
		return
	}
	w.running = true
	w.wg.Add(1)
	go w.flush()
}

func (w *snapshotWriter) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	w.pending = nil
}

// wait blocks until any in-flight write has finished
func (w *snapshotWriter) wait() {
	w.wg.Wait()
}

func (w *snapshotWriter) flush() {
	defer w.wg.Done()
	for {
		w.mu.Lock()
		next := w.pending
		w.pending = nil
		if next == nil || w.closed {
			w.running = false
			w.mu.Unlock()
			return
		}
		w.mu.Unlock()

		snap := &domain.SessionSnapshot{Session: *next, SavedAt: time.Now().UTC()}
		if !next.Finalized() {
			snap.SealedCredential = w.sealed
		}

		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		if err := w.snapshots.Save(ctx, w.slot, snap); err != nil {
			log.Warn().Err(err).Str("slot", w.slot).Msg("Failed to save session snapshot")
		}
		cancel()
	}
}
