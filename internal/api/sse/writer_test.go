package sse_test

import (
	"net/http/httptest"
	"testing"

	"github.com/Rrens/ai-session-manager/internal/api/sse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter(t *testing.T) {
	rec := httptest.NewRecorder()

	w, err := sse.NewWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.WriteJSON("fragment", map[string]string{"fragment": "Hel"}))
	require.NoError(t, w.WriteComment("ping"))
	require.NoError(t, w.WriteEvent(sse.EventDone, "{}"))

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "event: fragment\ndata: {\"fragment\":\"Hel\"}\n\n: ping\n\nevent: done\ndata: {}\n\n", rec.Body.String())
	assert.True(t, rec.Flushed)
}
