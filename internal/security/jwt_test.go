package security_test

import (
	"testing"
	"time"

	"github.com/Rrens/ai-session-manager/internal/security"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-with-32-chars!!"

func TestJWTManager_GenerateAndValidate(t *testing.T) {
	manager := security.NewJWTManager(testSecret, 15*time.Minute, 7*24*time.Hour)
	userID := uuid.New()

	accessToken, err := manager.GenerateAccessToken(userID, "test@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, accessToken)

	claims, err := manager.ValidateAccessToken(accessToken)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "test@example.com", claims.Email)
	assert.Equal(t, "ai-session-manager", claims.Issuer)
}

func TestJWTManager_GenerateTokenPair(t *testing.T) {
	manager := security.NewJWTManager(testSecret, 15*time.Minute, 7*24*time.Hour)
	userID := uuid.New()

	accessToken, refreshToken, expiresIn, err := manager.GenerateTokenPair(userID, "test@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, accessToken)
	assert.NotEmpty(t, refreshToken)
	assert.Equal(t, int64((15 * time.Minute).Seconds()), expiresIn)

	extracted, err := manager.ValidateRefreshToken(refreshToken)
	require.NoError(t, err)
	assert.Equal(t, userID, extracted)
}

func TestJWTManager_InvalidToken(t *testing.T) {
	manager := security.NewJWTManager(testSecret, 15*time.Minute, 7*24*time.Hour)

	t.Run("malformed", func(t *testing.T) {
		_, err := manager.ValidateAccessToken("invalid-token")
		assert.Error(t, err)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := manager.ValidateAccessToken("")
		assert.Error(t, err)
	})

	t.Run("different secret", func(t *testing.T) {
		other := security.NewJWTManager("different-secret-key-32-chars!!", 15*time.Minute, 7*24*time.Hour)
		token, err := other.GenerateAccessToken(uuid.New(), "test@example.com")
		require.NoError(t, err)

		_, err = manager.ValidateAccessToken(token)
		assert.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		short := security.NewJWTManager(testSecret, -time.Minute, time.Hour)
		token, err := short.GenerateAccessToken(uuid.New(), "test@example.com")
		require.NoError(t, err)

		_, err = manager.ValidateAccessToken(token)
		assert.Error(t, err)
	})
}
