package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Rrens/ai-session-manager/internal/domain"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type sessionDoc struct {
	ID                 string     `bson:"_id"`
	UserID             string     `bson:"userId,omitempty"`
	CreatedAt          time.Time  `bson:"createdAt"`
	Phase              string     `bson:"phase"`
	Task               string     `bson:"task"`
	Scope              string     `bson:"scope"`
	Language           string     `bson:"language"`
	Model              string     `bson:"model"`
	TotalTokensUsed    int        `bson:"totalTokensUsed"`
	TimeSpent          int64      `bson:"timeSpent"`
	CompletionTime     *time.Time `bson:"completionTime,omitempty"`
	UserEditCount      int        `bson:"userEditCount"`
	AIResponseCount    int        `bson:"aiResponseCount"`
	ErrorCount         int        `bson:"errorCount"`
	UserProvidedAPIKey bool       `bson:"userProvidedApiKey"`
}

type messageDoc struct {
	ID        string    `bson:"_id"`
	SessionID string    `bson:"sessionId"`
	Position  int       `bson:"position"`
	Role      string    `bson:"role"`
	Content   string    `bson:"content"`
	Timestamp time.Time `bson:"timestamp"`
	Edited    bool      `bson:"edited"`
}

type parametersDoc struct {
	SessionID        string  `bson:"sessionId"`
	Temperature      float64 `bson:"temperature"`
	MaxTokens        int     `bson:"maxTokens"`
	TopP             float64 `bson:"topP"`
	FrequencyPenalty float64 `bson:"frequencyPenalty"`
	PresencePenalty  float64 `bson:"presencePenalty"`
}

type ratingsDoc struct {
	SessionID   string                    `bson:"sessionId"`
	PreSession  domain.PreSessionRatings  `bson:"preSession"`
	PostSession domain.PostSessionRatings `bson:"postSession"`
}

// SessionArchive stores completed sessions across the sessions, messages,
// model_parameters and session_ratings collections
type SessionArchive struct {
	sessions   *mongo.Collection
	messages   *mongo.Collection
	parameters *mongo.Collection
	ratings    *mongo.Collection
}

// NewSessionArchive creates a new archive
func NewSessionArchive(c *Client) *SessionArchive {
	return &SessionArchive{
		sessions:   c.db.Collection(SessionsCollection),
		messages:   c.db.Collection(MessagesCollection),
		parameters: c.db.Collection(ModelParametersCollection),
		ratings:    c.db.Collection(SessionRatingsCollection),
	}
}

// Save writes a completed session. Saving the same session again replaces it.
func (a *SessionArchive) Save(ctx context.Context, s *domain.Session) error {
	id := s.ID.String()
	upsert := options.Replace().SetUpsert(true)

	if _, err := a.sessions.ReplaceOne(ctx, bson.M{"_id": id}, toSessionDoc(s), upsert); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	params := parametersDoc{
		SessionID:        id,
		Temperature:      s.Parameters.Temperature,
		MaxTokens:        s.Parameters.MaxTokens,
		TopP:             s.Parameters.TopP,
		FrequencyPenalty: s.Parameters.FrequencyPenalty,
		PresencePenalty:  s.Parameters.PresencePenalty,
	}
	if _, err := a.parameters.ReplaceOne(ctx, bson.M{"sessionId": id}, params, upsert); err != nil {
		return fmt.Errorf("failed to save session parameters: %w", err)
	}

	ratings := ratingsDoc{SessionID: id, PreSession: s.Ratings.PreSession, PostSession: s.Ratings.PostSession}
	if _, err := a.ratings.ReplaceOne(ctx, bson.M{"sessionId": id}, ratings, upsert); err != nil {
		return fmt.Errorf("failed to save session ratings: %w", err)
	}

	if _, err := a.messages.DeleteMany(ctx, bson.M{"sessionId": id}); err != nil {
		return fmt.Errorf("failed to replace session messages: %w", err)
	}
	if len(s.Messages) == 0 {
		return nil
	}

	docs := make([]any, len(s.Messages))
	for i, m := range s.Messages {
		docs[i] = messageDoc{
			ID:        id + ":" + m.ID,
			SessionID: id,
			Position:  i,
			Role:      string(m.Role),
			Content:   m.Content,
			Timestamp: m.Timestamp,
			Edited:    m.Edited,
		}
	}
	if _, err := a.messages.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to save session messages: %w", err)
	}
	return nil
}

// Get loads a completed session
func (a *SessionArchive) Get(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	var doc sessionDoc
	err := a.sessions.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return a.hydrate(ctx, doc)
}

// ListByUser returns the completed sessions of a user, newest first
func (a *SessionArchive) ListByUser(ctx context.Context, userID uuid.UUID, limit int, offset int) ([]domain.Session, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))

	cursor, err := a.sessions.Find(ctx, bson.M{"userId": userID.String()}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []sessionDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode sessions: %w", err)
	}

	sessions := make([]domain.Session, 0, len(docs))
	for _, doc := range docs {
		s, err := a.hydrate(ctx, doc)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, nil
}

func (a *SessionArchive) hydrate(ctx context.Context, doc sessionDoc) (*domain.Session, error) {
	s, err := fromSessionDoc(doc)
	if err != nil {
		return nil, err
	}

	var params parametersDoc
	err = a.parameters.FindOne(ctx, bson.M{"sessionId": doc.ID}).Decode(&params)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		s.Parameters = domain.DefaultParameters()
	case err != nil:
		return nil, fmt.Errorf("failed to get session parameters: %w", err)
	default:
		s.Parameters = domain.ModelParameters{
			Temperature:      params.Temperature,
			MaxTokens:        params.MaxTokens,
			TopP:             params.TopP,
			FrequencyPenalty: params.FrequencyPenalty,
			PresencePenalty:  params.PresencePenalty,
		}
	}

	var ratings ratingsDoc
	err = a.ratings.FindOne(ctx, bson.M{"sessionId": doc.ID}).Decode(&ratings)
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to get session ratings: %w", err)
	}
	s.Ratings = domain.Ratings{PreSession: ratings.PreSession, PostSession: ratings.PostSession}

	cursor, err := a.messages.Find(ctx, bson.M{"sessionId": doc.ID}, options.Find().SetSort(bson.D{{Key: "position", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to get session messages: %w", err)
	}
	defer cursor.Close(ctx)

	var msgs []messageDoc
	if err := cursor.All(ctx, &msgs); err != nil {
		return nil, fmt.Errorf("failed to decode session messages: %w", err)
	}

	s.Messages = make([]domain.ChatMessage, len(msgs))
	prefix := doc.ID + ":"
	for i, m := range msgs {
		s.Messages[i] = domain.ChatMessage{
			ID:        strings.TrimPrefix(m.ID, prefix),
			Role:      domain.Role(m.Role),
			Content:   m.Content,
			Timestamp: m.Timestamp,
			Edited:    m.Edited,
		}
	}
	return s, nil
}

func toSessionDoc(s *domain.Session) sessionDoc {
	doc := sessionDoc{
		ID:                 s.ID.String(),
		CreatedAt:          s.CreatedAt,
		Phase:              s.Phase,
		Task:               s.Task,
		Scope:              s.Scope,
		Language:           s.Language,
		Model:              s.Model,
		TotalTokensUsed:    s.TotalTokensUsed,
		TimeSpent:          s.TimeSpent,
		CompletionTime:     s.CompletionTime,
		UserEditCount:      s.UserEditCount,
		AIResponseCount:    s.AIResponseCount,
		ErrorCount:         s.ErrorCount,
		UserProvidedAPIKey: s.UserProvidedCredential,
	}
	if s.UserID != nil {
		doc.UserID = s.UserID.String()
	}
	return doc
}

func fromSessionDoc(doc sessionDoc) (*domain.Session, error) {
	id, err := uuid.Parse(doc.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid session id %q: %w", doc.ID, err)
	}

	s := &domain.Session{
		ID:                     id,
		CreatedAt:              doc.CreatedAt,
		Phase:                  doc.Phase,
		Task:                   doc.Task,
		Scope:                  doc.Scope,
		Language:               doc.Language,
		Model:                  doc.Model,
		TotalTokensUsed:        doc.TotalTokensUsed,
		TimeSpent:              doc.TimeSpent,
		CompletionTime:         doc.CompletionTime,
		UserEditCount:          doc.UserEditCount,
		AIResponseCount:        doc.AIResponseCount,
		ErrorCount:             doc.ErrorCount,
		UserProvidedCredential: doc.UserProvidedAPIKey,
	}
	if doc.UserID != "" {
		uid, err := uuid.Parse(doc.UserID)
		if err != nil {
			return nil, fmt.Errorf("invalid user id %q: %w", doc.UserID, err)
		}
		s.UserID = &uid
	}
	return s, nil
}
