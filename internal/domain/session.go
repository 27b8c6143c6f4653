package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ModelParameters is the generation parameter set chosen by the user
type ModelParameters struct {
	Temperature      float64 `json:"temperature" validate:"gte=0,lte=2"`
	MaxTokens        int     `json:"max_tokens" validate:"gte=1,lte=32000"`
	TopP             float64 `json:"top_p" validate:"gte=0,lte=1"`
	FrequencyPenalty float64 `json:"frequency_penalty" validate:"gte=-2,lte=2"`
	PresencePenalty  float64 `json:"presence_penalty" validate:"gte=-2,lte=2"`
}

// DefaultParameters returns the parameter set assigned at session creation
func DefaultParameters() ModelParameters {
	return ModelParameters{
		Temperature:      0.7,
		MaxTokens:        1000,
		TopP:             1,
		FrequencyPenalty: 0,
		PresencePenalty:  0,
	}
}

// PreSessionRatings are collected by the configuration step
type PreSessionRatings struct {
	SkillLevel         int `json:"skill_level" validate:"gte=1,lte=5"`
	LanguageExperience int `json:"language_experience" validate:"gte=1,lte=5"`
	AIToolsFamiliarity int `json:"ai_tools_familiarity" validate:"gte=1,lte=5"`
}

// PostSessionRatings are collected by the evaluation step
type PostSessionRatings struct {
	QualityOfHelp int    `json:"quality_of_help" validate:"gte=1,lte=5"`
	ThingsLearned int    `json:"things_learned" validate:"gte=1,lte=5"`
	FeelingNow    int    `json:"feeling_now" validate:"gte=1,lte=5"`
	FeelingFuture int    `json:"feeling_future" validate:"gte=1,lte=5"`
	ThreatFelt    int    `json:"threat_felt" validate:"gte=1,lte=5"`
	TimeAllocated int    `json:"time_allocated" validate:"gte=1,lte=5"`
	TimeSaved     int    `json:"time_saved" validate:"gte=1,lte=5"`
	Notes         string `json:"notes" validate:"max=4000"`
}

type Ratings struct {
	PreSession  PreSessionRatings  `json:"pre_session"`
	PostSession PostSessionRatings `json:"post_session"`
}

// Session is one configured conversation between a user and a model.
// Messages are kept in insertion order, which is also the replay order.
type Session struct {
	ID        uuid.UUID  `json:"id"`
	UserID    *uuid.UUID `json:"user_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`

	Phase    string `json:"phase"`
	Task     string `json:"task"`
	Scope    string `json:"scope"`
	Language string `json:"language"`
	Model    string `json:"model"`

	Ratings    Ratings         `json:"ratings"`
	Parameters ModelParameters `json:"parameters"`
	Messages   []ChatMessage   `json:"messages"`

	TotalTokensUsed int        `json:"total_tokens_used"`
	TimeSpent       int64      `json:"time_spent"` // seconds
	CompletionTime  *time.Time `json:"completion_time,omitempty"`
	UserEditCount   int        `json:"user_edit_count"`
	AIResponseCount int        `json:"ai_response_count"`
	ErrorCount      int        `json:"error_count"`

	UserProvidedCredential bool `json:"user_provided_credential"`
}

// Finalized reports whether post-session ratings have been attached
func (s *Session) Finalized() bool {
	return s.CompletionTime != nil
}

// Clone returns a deep copy of the session
func (s *Session) Clone() Session {
	out := *s
	out.Messages = make([]ChatMessage, len(s.Messages))
	copy(out.Messages, s.Messages)
	if s.UserID != nil {
		id := *s.UserID
		out.UserID = &id
	}
	if s.CompletionTime != nil {
		t := *s.CompletionTime
		out.CompletionTime = &t
	}
	return out
}

// SessionConfig is what the configuration step hands over to start a session
type SessionConfig struct {
	Phase      string            `json:"phase" validate:"required,max=100"`
	Task       string            `json:"task" validate:"required,max=100"`
	Scope      string            `json:"scope" validate:"max=100"`
	Language   string            `json:"language" validate:"max=100"`
	Model      string            `json:"model" validate:"required"`
	PreSession PreSessionRatings `json:"pre_session"`
	Credential string            `json:"credential,omitempty"`
}

// SessionArchive stores completed sessions as read-only historical records
type SessionArchive interface {
	Save(ctx context.Context, session *Session) error
	Get(ctx context.Context, id uuid.UUID) (*Session, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit int, offset int) ([]Session, error)
}

// SessionSnapshot is the persisted form of an active session. SealedCredential
// is ciphertext, never the plain credential.
type SessionSnapshot struct {
	Session          Session   `json:"session"`
	SealedCredential string    `json:"sealed_credential,omitempty"`
	SavedAt          time.Time `json:"saved_at"`
}

// SnapshotStore keeps one active-session snapshot per slot (browser tab)
type SnapshotStore interface {
	Save(ctx context.Context, slot string, snap *SessionSnapshot) error
	Load(ctx context.Context, slot string) (*SessionSnapshot, error)
	Delete(ctx context.Context, slot string) error
}
