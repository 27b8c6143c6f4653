package llm_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Rrens/ai-session-manager/internal/domain"
	"github.com/Rrens/ai-session-manager/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockAdapter struct {
	mock.Mock
}

func (m *MockAdapter) Name() string {
	return "mock"
}

func (m *MockAdapter) Stream(ctx context.Context, req llm.Request, emit llm.EmitFunc) (string, error) {
	args := m.Called(ctx, req, emit)
	return args.String(0), args.Error(1)
}

// blockingAdapter emits fragments until the context ends
type blockingAdapter struct {
	emitted chan struct{}
}

func (b *blockingAdapter) Name() string { return "blocking" }

func (b *blockingAdapter) Stream(ctx context.Context, req llm.Request, emit llm.EmitFunc) (string, error) {
	var sb strings.Builder
	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return sb.String(), ctx.Err()
		default:
		}
		sb.WriteString("x")
		emit.Emit("x")
		if i == 2 {
			close(b.emitted)
		}
		time.Sleep(time.Millisecond)
	}
}

type collector struct {
	mu        sync.Mutex
	fragments []string
}

func (c *collector) emit(f string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fragments = append(c.fragments, f)
}

func (c *collector) text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.fragments, "")
}

func history(content string) []domain.ChatMessage {
	return []domain.ChatMessage{{ID: "u1", Role: domain.RoleUser, Content: content}}
}

func TestDispatcher_ConfigurationErrors(t *testing.T) {
	sim := llm.NewSimulated(time.Millisecond, 0)
	d := llm.NewDispatcher(llm.DefaultRegistry(), sim, nil)

	tests := []struct {
		name string
		req  llm.Request
		want error
	}{
		{"credential required", llm.Request{History: history("hi"), ModelID: "gpt-4o"}, domain.ErrCredentialRequired},
		{"unknown model", llm.Request{History: history("hi"), ModelID: "nope"}, domain.ErrUnknownModel},
		{"empty history", llm.Request{ModelID: "gemma"}, domain.ErrEmptyHistory},
		{"invalid role", llm.Request{History: []domain.ChatMessage{{Role: "tool", Content: "x"}}, ModelID: "gemma"}, domain.ErrInvalidRole},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen, err := d.SendMessage(context.Background(), tt.req, nil)
			assert.Nil(t, gen)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, d.Validate(tt.req), tt.want)
		})
	}

	assert.True(t, domain.IsConfigurationError(d.Validate(tests[0].req)))
	assert.True(t, domain.IsConfigurationError(d.Validate(tests[1].req)))
}

func TestDispatcher_Credentials(t *testing.T) {
	adapter := new(MockAdapter)
	d := llm.NewDispatcher(llm.DefaultRegistry(), nil, map[string]string{"gpt-4o": "dev-key"})
	d.RegisterAdapter(llm.RouteOpenAI, adapter)

	assert.False(t, d.RequiresUserCredential("gpt-4o"))
	assert.True(t, d.RequiresUserCredential("gpt-4o-mini"))
	assert.False(t, d.RequiresUserCredential("gemma"))

	t.Run("developer key fills missing credential", func(t *testing.T) {
		adapter.On("Stream", mock.Anything, mock.MatchedBy(func(r llm.Request) bool {
			return r.Credential == "dev-key"
		}), mock.Anything).Return("ok", nil).Once()

		gen, err := d.SendMessage(context.Background(), llm.Request{History: history("hi"), ModelID: "gpt-4o"}, nil)
		require.NoError(t, err)
		text, err := gen.Wait()
		require.NoError(t, err)
		assert.Equal(t, "ok", text)
	})

	t.Run("caller credential wins", func(t *testing.T) {
		adapter.On("Stream", mock.Anything, mock.MatchedBy(func(r llm.Request) bool {
			return r.Credential == "user-key"
		}), mock.Anything).Return("ok", nil).Once()

		gen, err := d.SendMessage(context.Background(), llm.Request{History: history("hi"), ModelID: "gpt-4o", Credential: "user-key"}, nil)
		require.NoError(t, err)
		_, err = gen.Wait()
		require.NoError(t, err)
	})

	adapter.AssertExpectations(t)
}

func TestDispatcher_SimulatedFallback(t *testing.T) {
	d := llm.NewDispatcher(llm.DefaultRegistry(), llm.NewSimulated(time.Millisecond, 0), nil)

	var c collector
	gen, err := d.SendMessage(context.Background(), llm.Request{History: history("hi"), ModelID: "llama-3-70b"}, c.emit)
	require.NoError(t, err)
	assert.NotEmpty(t, gen.MessageID())

	text, err := gen.Wait()
	require.NoError(t, err)
	assert.Contains(t, text, "hi")
	assert.Equal(t, text, c.text())
	assert.Greater(t, len(c.fragments), 1)
}

func TestDispatcher_TransportError(t *testing.T) {
	adapter := new(MockAdapter)
	adapter.On("Stream", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("connection refused"))

	d := llm.NewDispatcher(llm.DefaultRegistry(), nil, nil)
	d.RegisterAdapter(llm.RouteOllama, adapter)

	var c collector
	gen, err := d.SendMessage(context.Background(), llm.Request{History: history("hi"), ModelID: "gemma"}, c.emit)
	require.NoError(t, err)

	text, err := gen.Wait()
	var terr *llm.TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "Ollama", terr.Provider)
	assert.Contains(t, terr.Message, "Error connecting to Ollama")
	assert.Contains(t, terr.Message, "http://localhost:11434")

	require.Len(t, c.fragments, 1)
	assert.Equal(t, terr.Message, c.fragments[0])
	assert.Equal(t, terr.Message, text)
}

func TestGeneration_Cancel(t *testing.T) {
	adapter := &blockingAdapter{emitted: make(chan struct{})}
	d := llm.NewDispatcher(llm.DefaultRegistry(), adapter, nil)

	var c collector
	gen, err := d.SendMessage(context.Background(), llm.Request{History: history("hi"), ModelID: "gemma"}, c.emit)
	require.NoError(t, err)

	<-adapter.emitted
	gen.Cancel()
	seen := c.text()

	text, err := gen.Wait()
	assert.ErrorIs(t, err, llm.ErrCancelled)
	assert.True(t, gen.Cancelled())
	assert.Equal(t, seen, text)
	assert.Equal(t, seen, c.text())
	assert.GreaterOrEqual(t, len(text), 3)
}
