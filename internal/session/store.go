package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/Rrens/ai-session-manager/internal/domain"
	"github.com/google/uuid"
)

// ChangeFunc observes the session after every successful mutation. It
// receives a deep copy and must not block.
type ChangeFunc func(domain.Session)

// Store is the canonical transcript of one session. Every mutation runs
// under a single lock, so no two mutations interleave.
type Store struct {
	mu         sync.Mutex
	session    domain.Session
	credential string
	generating bool
	observers  []ChangeFunc
	now        func() time.Time
}

// NewStore creates a store for a freshly configured session
func NewStore(cfg domain.SessionConfig, userID *uuid.UUID) *Store {
	now := time.Now
	return &Store{
		session: domain.Session{
			ID:                     uuid.New(),
			UserID:                 userID,
			CreatedAt:              now().UTC(),
			Phase:                  cfg.Phase,
			Task:                   cfg.Task,
			Scope:                  cfg.Scope,
			Language:               cfg.Language,
			Model:                  cfg.Model,
			Ratings:                domain.Ratings{PreSession: cfg.PreSession},
			Parameters:             domain.DefaultParameters(),
			Messages:               []domain.ChatMessage{},
			UserProvidedCredential: cfg.Credential != "",
		},
		credential: cfg.Credential,
		now:        now,
	}
}

// Restore rebuilds a store from a snapshot
func Restore(s domain.Session, credential string) *Store {
	st := &Store{
		session:    s.Clone(),
		credential: credential,
		now:        time.Now,
	}
	for _, m := range s.Messages {
		if m.Role == domain.RoleAssistant {
			st.generating = true
			break
		}
	}
	return st
}

// OnChange registers an observer
func (s *Store) OnChange(fn ChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// ID returns the session id
func (s *Store) ID() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.ID
}

// Model returns the model bound to the session
func (s *Store) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Model
}

// Parameters returns the current generation parameters
func (s *Store) Parameters() domain.ModelParameters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Parameters
}

// Credential returns the caller-supplied credential, if any
func (s *Store) Credential() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credential
}

// Snapshot returns a deep copy of the session
func (s *Store) Snapshot() domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Clone()
}

// Messages returns a copy of the transcript in order
func (s *Store) Messages() []domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ChatMessage, len(s.session.Messages))
	copy(out, s.session.Messages)
	return out
}

// Append adds a message and returns its id. An id that already exists turns
// the call into an update of that message. A message repeating the role and
// content of the last message is dropped and the last id is returned.
func (s *Store) Append(role domain.Role, content, id string) (string, error) {
	if !role.Valid() {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidRole, role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session.Finalized() {
		return "", domain.ErrSessionFinalized
	}

	if id != "" {
		if i := s.indexOf(id); i >= 0 {
			if s.updateAt(i, content) {
				s.changed()
			}
			return id, nil
		}
	}

	if n := len(s.session.Messages); n > 0 {
		last := s.session.Messages[n-1]
		if last.Role == role && last.Content == content {
			return last.ID, nil
		}
	}

	if id == "" {
		id = uuid.NewString()
	}
	s.session.Messages = append(s.session.Messages, domain.ChatMessage{
		ID:        id,
		Role:      role,
		Content:   content,
		Timestamp: s.now().UTC(),
	})
	s.changed()
	return id, nil
}

// Update replaces the content of message id. Unknown ids are ignored.
func (s *Store) Update(id, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session.Finalized() {
		return domain.ErrSessionFinalized
	}
	if i := s.indexOf(id); i >= 0 && s.updateAt(i, content) {
		s.changed()
	}
	return nil
}

// Remove deletes message id if present
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session.Finalized() {
		return domain.ErrSessionFinalized
	}
	i := s.indexOf(id)
	if i < 0 {
		return nil
	}
	s.session.Messages = append(s.session.Messages[:i], s.session.Messages[i+1:]...)
	s.changed()
	return nil
}

// SetParameters replaces the parameter set used by subsequent requests
func (s *Store) SetParameters(p domain.ModelParameters) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session.Finalized() {
		return domain.ErrSessionFinalized
	}
	s.session.Parameters = p
	s.changed()
	return nil
}

// SetModel changes the model. Only allowed before the first generation.
func (s *Store) SetModel(model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session.Finalized() {
		return domain.ErrSessionFinalized
	}
	if s.generating {
		return domain.ErrModelLocked
	}
	s.session.Model = model
	s.changed()
	return nil
}

// BeginGeneration locks the model for the rest of the session
func (s *Store) BeginGeneration() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generating = true
}

// Fork truncates the transcript after uptoID and rewrites that message
func (s *Store) Fork(uptoID, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session.Finalized() {
		return domain.ErrSessionFinalized
	}
	i := s.indexOf(uptoID)
	if i < 0 {
		return fmt.Errorf("%w: %s", domain.ErrMessageNotFound, uptoID)
	}

	s.session.Messages = s.session.Messages[:i+1]
	s.updateAt(i, content)
	s.changed()
	return nil
}

// RecordError counts a turn that ended in an error
func (s *Store) RecordError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session.Finalized() {
		return
	}
	s.session.ErrorCount++
	s.changed()
}

// Finalize attaches the evaluation ratings and computes the session totals.
// The store is read-only afterwards and the credential is dropped.
func (s *Store) Finalize(post domain.PostSessionRatings) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session.Finalized() {
		return domain.Session{}, domain.ErrSessionFinalized
	}

	completed := s.now().UTC()
	s.session.Ratings.PostSession = post
	s.session.CompletionTime = &completed
	s.session.TimeSpent = int64(completed.Sub(s.session.CreatedAt).Seconds())

	s.session.AIResponseCount = 0
	for _, m := range s.session.Messages {
		if m.Role == domain.RoleAssistant && m.Content != "" {
			s.session.AIResponseCount++
		}
	}

	s.credential = ""
	s.changed()
	return s.session.Clone(), nil
}

func (s *Store) indexOf(id string) int {
	for i, m := range s.session.Messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}

// updateAt reports whether the content changed
func (s *Store) updateAt(i int, content string) bool {
	m := &s.session.Messages[i]
	if m.Content == content {
		return false
	}
	if m.Content != "" {
		m.Edited = true
		if m.Role == domain.RoleUser {
			s.session.UserEditCount++
		}
	}
	m.Content = content
	return true
}

func (s *Store) touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changed()
}

// changed notifies observers; caller holds mu
func (s *Store) changed() {
	if len(s.observers) == 0 {
		return
	}
	snap := s.session.Clone()
	for _, fn := range s.observers {
		fn(snap)
	}
}
