package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Rrens/ai-session-manager/internal/chat"
	"github.com/Rrens/ai-session-manager/internal/domain"
	"github.com/Rrens/ai-session-manager/internal/llm"
	"github.com/Rrens/ai-session-manager/internal/session"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrRateLimited is returned when a session submits turns too quickly
var ErrRateLimited = errors.New("too many requests")

// Limiter throttles turn submissions per session
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, int, time.Time, error)
}

// ModelView is one catalog entry as offered by the configuration step
type ModelView struct {
	llm.ModelInfo
	RequiresUserCredential bool `json:"requires_user_credential"`
}

// SessionService drives the configure, chat and evaluate lifecycle of sessions
type SessionService struct {
	manager    *session.Manager
	dispatcher *llm.Dispatcher
	archive    domain.SessionArchive
	limiter    Limiter

	mu            sync.Mutex
	conversations map[uuid.UUID]*chat.Conversation
}

// NewSessionService creates a new session service. limiter may be nil.
func NewSessionService(
	manager *session.Manager,
	dispatcher *llm.Dispatcher,
	archive domain.SessionArchive,
	limiter Limiter,
) *SessionService {
	return &SessionService{
		manager:       manager,
		dispatcher:    dispatcher,
		archive:       archive,
		limiter:       limiter,
		conversations: make(map[uuid.UUID]*chat.Conversation),
	}
}

// Models lists the model catalog
func (s *SessionService) Models() []ModelView {
	models := s.dispatcher.Registry().Models()
	out := make([]ModelView, len(models))
	for i, m := range models {
		out[i] = ModelView{ModelInfo: m, RequiresUserCredential: s.dispatcher.RequiresUserCredential(m.ID)}
	}
	return out
}

// Configure starts a new session in slot. The model must resolve and a
// credential must be supplied when no developer key covers the model.
func (s *SessionService) Configure(ctx context.Context, slot string, cfg domain.SessionConfig, userID *uuid.UUID) (*chat.Conversation, error) {
	if _, ok := s.dispatcher.Registry().Resolve(cfg.Model); !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownModel, cfg.Model)
	}
	if cfg.Credential == "" && s.dispatcher.RequiresUserCredential(cfg.Model) {
		return nil, fmt.Errorf("%w: %s", domain.ErrCredentialRequired, cfg.Model)
	}

	if id, ok := s.manager.ActiveID(slot); ok {
		s.drop(id)
	}

	store := s.manager.Create(slot, cfg, userID)
	return s.conversation(store), nil
}

// Active returns the conversation of slot, restoring it from its snapshot
// when needed
func (s *SessionService) Active(ctx context.Context, slot string) (*chat.Conversation, error) {
	store, err := s.manager.Active(ctx, slot)
	if err != nil {
		return nil, err
	}
	return s.conversation(store), nil
}

// Open returns the conversation of session id. The slot snapshot is
// consulted when the session is not in memory.
func (s *SessionService) Open(ctx context.Context, slot string, id uuid.UUID) (*chat.Conversation, error) {
	if store, err := s.manager.Get(id); err == nil {
		return s.conversation(store), nil
	}

	store, err := s.manager.Active(ctx, slot)
	if err != nil {
		if errors.Is(err, domain.ErrNoActiveSession) {
			return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
		}
		return nil, err
	}
	if store.ID() != id {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	return s.conversation(store), nil
}

// SetModel switches the model of a session that has not generated yet
func (s *SessionService) SetModel(conv *chat.Conversation, model string) error {
	if _, ok := s.dispatcher.Registry().Resolve(model); !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownModel, model)
	}
	if conv.Store().Credential() == "" && s.dispatcher.RequiresUserCredential(model) {
		return fmt.Errorf("%w: %s", domain.ErrCredentialRequired, model)
	}
	return conv.Store().SetModel(model)
}

// Submit starts a turn with a new user message. The turn outlives ctx
// cancellation and only stops through Cancel.
func (s *SessionService) Submit(ctx context.Context, conv *chat.Conversation, content, messageID string) (string, error) {
	if err := s.allow(ctx, conv.Store().ID()); err != nil {
		return "", err
	}
	return conv.Submit(context.WithoutCancel(ctx), content, messageID)
}

// Edit rewrites a user message and regenerates its answer when it had one
func (s *SessionService) Edit(ctx context.Context, conv *chat.Conversation, messageID, content string) (bool, error) {
	if err := s.allow(ctx, conv.Store().ID()); err != nil {
		return false, err
	}
	return conv.Edit(context.WithoutCancel(ctx), messageID, content)
}

// Regenerate replaces the latest answer
func (s *SessionService) Regenerate(ctx context.Context, conv *chat.Conversation) error {
	if err := s.allow(ctx, conv.Store().ID()); err != nil {
		return err
	}
	return conv.Regenerate(context.WithoutCancel(ctx))
}

// Complete attaches post-session ratings, archives the session and ends it.
// A session that was finalized but failed to archive can be completed again.
func (s *SessionService) Complete(ctx context.Context, slot string, conv *chat.Conversation, post domain.PostSessionRatings) (*domain.Session, error) {
	conv.Cancel()

	store := conv.Store()
	final, err := store.Finalize(post)
	if errors.Is(err, domain.ErrSessionFinalized) {
		final = store.Snapshot()
	} else if err != nil {
		return nil, err
	}

	if s.archive != nil {
		if err := s.archive.Save(ctx, &final); err != nil {
			return nil, fmt.Errorf("failed to archive session: %w", err)
		}
	}

	s.drop(final.ID)
	if err := s.manager.Clear(ctx, slot); err != nil {
		log.Warn().Err(err).Str("session_id", final.ID.String()).Msg("Failed to clear completed session")
	}

	log.Info().
		Str("session_id", final.ID.String()).
		Int64("time_spent", final.TimeSpent).
		Int("messages", len(final.Messages)).
		Int("error_count", final.ErrorCount).
		Msg("Session completed")

	return &final, nil
}

// Clear abandons the active session of slot without archiving it
func (s *SessionService) Clear(ctx context.Context, slot string) error {
	if id, ok := s.manager.ActiveID(slot); ok {
		s.drop(id)
	}
	return s.manager.Clear(ctx, slot)
}

// History lists the archived sessions of a user
func (s *SessionService) History(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Session, error) {
	if s.archive == nil {
		return []domain.Session{}, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.archive.ListByUser(ctx, userID, limit, offset)
}

// Archived returns one archived session owned by userID
func (s *SessionService) Archived(ctx context.Context, userID, id uuid.UUID) (*domain.Session, error) {
	if s.archive == nil {
		return nil, domain.ErrSessionNotFound
	}
	sess, err := s.archive.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.UserID == nil || *sess.UserID != userID {
		return nil, domain.ErrSessionNotFound
	}
	return sess, nil
}

func (s *SessionService) conversation(store *session.Store) *chat.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv, ok := s.conversations[store.ID()]; ok && conv.Store() == store {
		return conv
	}
	conv := chat.NewConversation(store, s.dispatcher)
	s.conversations[store.ID()] = conv
	return conv
}

// drop cancels any turn in flight and forgets the conversation
func (s *SessionService) drop(id uuid.UUID) {
	s.mu.Lock()
	conv, ok := s.conversations[id]
	delete(s.conversations, id)
	s.mu.Unlock()

	if ok {
		conv.Cancel()
	}
}

func (s *SessionService) allow(ctx context.Context, id uuid.UUID) error {
	if s.limiter == nil {
		return nil
	}
	allowed, _, _, err := s.limiter.Allow(ctx, id.String())
	if err != nil {
		log.Warn().Err(err).Str("session_id", id.String()).Msg("Rate limiter unavailable")
		return nil
	}
	if !allowed {
		return ErrRateLimited
	}
	return nil
}
