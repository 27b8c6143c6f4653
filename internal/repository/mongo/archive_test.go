package mongo

import (
	"testing"
	"time"

	"github.com/Rrens/ai-session-manager/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionDoc_KeepsAccountingFields(t *testing.T) {
	userID := uuid.New()
	done := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	s := &domain.Session{
		ID:                     uuid.New(),
		UserID:                 &userID,
		CreatedAt:              done.Add(-30 * time.Minute),
		Phase:                  "implementation",
		Task:                   "debugging",
		Model:                  "gpt-4o",
		TimeSpent:              1800,
		CompletionTime:         &done,
		UserEditCount:          2,
		AIResponseCount:        4,
		ErrorCount:             1,
		UserProvidedCredential: true,
	}

	doc := toSessionDoc(s)
	assert.Equal(t, s.ID.String(), doc.ID)
	assert.Equal(t, userID.String(), doc.UserID)
	assert.True(t, doc.UserProvidedAPIKey)

	back, err := fromSessionDoc(doc)
	require.NoError(t, err)
	assert.Equal(t, s.ID, back.ID)
	require.NotNil(t, back.UserID)
	assert.Equal(t, userID, *back.UserID)
	assert.Equal(t, int64(1800), back.TimeSpent)
	assert.Equal(t, 4, back.AIResponseCount)
	assert.Equal(t, done, *back.CompletionTime)
}

func TestSessionDoc_AnonymousSession(t *testing.T) {
	doc := toSessionDoc(&domain.Session{ID: uuid.New(), Model: "llama3"})
	assert.Empty(t, doc.UserID)

	back, err := fromSessionDoc(doc)
	require.NoError(t, err)
	assert.Nil(t, back.UserID)
}

func TestFromSessionDoc_InvalidID(t *testing.T) {
	_, err := fromSessionDoc(sessionDoc{ID: "not-a-uuid"})
	assert.Error(t, err)
}
