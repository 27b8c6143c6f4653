package chat_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Rrens/ai-session-manager/internal/chat"
	"github.com/Rrens/ai-session-manager/internal/domain"
	"github.com/Rrens/ai-session-manager/internal/llm"
	"github.com/Rrens/ai-session-manager/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedAdapter replies with canned fragments. When step is set, every
// fragment waits for one receive from it.
type scriptedAdapter struct {
	mu      sync.Mutex
	calls   []llm.Request
	replies [][]string
	step    chan struct{}
	err     error
}

func (a *scriptedAdapter) Name() string { return "scripted" }

func (a *scriptedAdapter) Stream(ctx context.Context, req llm.Request, emit llm.EmitFunc) (string, error) {
	a.mu.Lock()
	n := len(a.calls)
	a.calls = append(a.calls, req)
	frags := a.replies[min(n, len(a.replies)-1)]
	a.mu.Unlock()

	var sb strings.Builder
	for _, f := range frags {
		if a.step != nil {
			select {
			case <-a.step:
			case <-ctx.Done():
				return sb.String(), ctx.Err()
			}
		}
		sb.WriteString(f)
		emit.Emit(f)
	}
	return sb.String(), a.err
}

func (a *scriptedAdapter) Calls() []llm.Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]llm.Request(nil), a.calls...)
}

func newConversation(t *testing.T, adapter llm.Adapter, model string) *chat.Conversation {
	t.Helper()
	d := llm.NewDispatcher(llm.DefaultRegistry(), llm.NewSimulated(time.Millisecond, 0), nil)
	if adapter != nil {
		d.RegisterAdapter(llm.RouteOllama, adapter)
	}
	store := session.NewStore(domain.SessionConfig{Model: model}, nil)
	return chat.NewConversation(store, d)
}

func contents(msgs []domain.ChatMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = string(m.Role) + ":" + m.Content
	}
	return out
}

func waitFragments(t *testing.T, events <-chan chat.Event, n int) {
	t.Helper()
	seen := 0
	timeout := time.After(2 * time.Second)
	for seen < n {
		select {
		case ev := <-events:
			if ev.Kind == chat.EventFragment {
				seen++
			}
		case <-timeout:
			t.Fatalf("saw %d of %d fragments", seen, n)
		}
	}
}

func TestConversation_SubmitSimulated(t *testing.T) {
	conv := newConversation(t, nil, "llama-3-70b")
	events, unsubscribe := conv.Subscribe()
	defer unsubscribe()

	userID, err := conv.Submit(context.Background(), "hi", "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)

	result := conv.Wait()
	assert.Equal(t, chat.StateReady, result.State)
	assert.Contains(t, result.Content, `"hi"`)
	assert.Equal(t, chat.StateIdle, conv.State())

	msgs := conv.Store().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleAssistant, msgs[1].Role)
	assert.Equal(t, result.Content, msgs[1].Content)
	assert.Equal(t, result.MessageID, msgs[1].ID)

	live := conv.LiveView()
	require.Len(t, live, 2)
	assert.Equal(t, chat.FromStored(msgs[1]), live[1])

	var states []chat.State
	fragments := 0
	for len(events) > 0 {
		ev := <-events
		switch ev.Kind {
		case chat.EventState:
			states = append(states, ev.State)
		case chat.EventFragment:
			fragments++
		}
	}
	assert.Equal(t, []chat.State{chat.StateSubmitted, chat.StateStreaming, chat.StateReady, chat.StateIdle}, states)
	assert.Greater(t, fragments, 1)
}

func TestConversation_CredentialRequired(t *testing.T) {
	conv := newConversation(t, nil, "gpt-4o")
	events, unsubscribe := conv.Subscribe()
	defer unsubscribe()

	_, err := conv.Submit(context.Background(), "hi", "u1")
	assert.ErrorIs(t, err, domain.ErrCredentialRequired)
	assert.True(t, domain.IsConfigurationError(err))

	assert.Empty(t, conv.Store().Messages())
	assert.Equal(t, chat.StateIdle, conv.State())
	assert.Empty(t, events)
}

func TestConversation_CancelKeepsPartialContent(t *testing.T) {
	adapter := &scriptedAdapter{
		replies: [][]string{{"one ", "two ", "three ", "four"}},
		step:    make(chan struct{}),
	}
	conv := newConversation(t, adapter, "gemma")
	events, unsubscribe := conv.Subscribe()
	defer unsubscribe()

	_, err := conv.Submit(context.Background(), "count", "u1")
	require.NoError(t, err)

	adapter.step <- struct{}{}
	adapter.step <- struct{}{}
	waitFragments(t, events, 2)
	assert.Equal(t, chat.StateStreaming, conv.State())

	result := conv.Cancel()
	assert.True(t, result.Cancelled)
	assert.Equal(t, chat.StateIdle, conv.State())

	msgs := conv.Store().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "one two ", msgs[1].Content)
	assert.Equal(t, 0, conv.Store().Snapshot().ErrorCount)
}

func TestConversation_CancelBeforeFirstFragment(t *testing.T) {
	adapter := &scriptedAdapter{replies: [][]string{{"never"}}, step: make(chan struct{})}
	conv := newConversation(t, adapter, "gemma")

	_, err := conv.Submit(context.Background(), "hi", "u1")
	require.NoError(t, err)

	result := conv.Cancel()
	assert.True(t, result.Cancelled)
	assert.Equal(t, []string{"user:hi"}, contents(conv.Store().Messages()))
	assert.Len(t, conv.LiveView(), 1)
}

func TestConversation_RapidDoubleSubmit(t *testing.T) {
	adapter := &scriptedAdapter{replies: [][]string{{"ok"}}, step: make(chan struct{})}
	conv := newConversation(t, adapter, "gemma")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = conv.Submit(context.Background(), "retry", "")
		}(i)
	}
	wg.Wait()

	inProgress := 0
	for _, err := range errs {
		if errors.Is(err, domain.ErrTurnInProgress) {
			inProgress++
		} else {
			assert.NoError(t, err)
		}
	}
	assert.Equal(t, 1, inProgress)

	adapter.step <- struct{}{}
	conv.Wait()

	assert.Equal(t, []string{"user:retry", "assistant:ok"}, contents(conv.Store().Messages()))
	assert.Len(t, adapter.Calls(), 1)
}

func TestConversation_EditTriggersRegeneration(t *testing.T) {
	adapter := &scriptedAdapter{replies: [][]string{{"answer A"}, {"answer C"}, {"answer A2"}}}
	conv := newConversation(t, adapter, "gemma")
	ctx := context.Background()

	_, err := conv.Submit(ctx, "A", "ua")
	require.NoError(t, err)
	conv.Wait()
	_, err = conv.Submit(ctx, "C", "uc")
	require.NoError(t, err)
	conv.Wait()
	require.Len(t, adapter.Calls(), 2)

	regenerated, err := conv.Edit(ctx, "ua", "A edited")
	require.NoError(t, err)
	assert.True(t, regenerated)
	conv.Wait()

	calls := adapter.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, []string{"user:A edited"}, contents(calls[2].History))

	msgs := conv.Store().Messages()
	assert.Equal(t, []string{"user:A edited", "assistant:answer A2"}, contents(msgs))
	assert.True(t, msgs[0].Edited)
}

func TestConversation_EditWithoutAnswer(t *testing.T) {
	adapter := &scriptedAdapter{replies: [][]string{{"unused"}}}
	d := llm.NewDispatcher(llm.DefaultRegistry(), nil, nil)
	d.RegisterAdapter(llm.RouteOllama, adapter)

	store := session.NewStore(domain.SessionConfig{Model: "gemma"}, nil)
	_, err := store.Append(domain.RoleUser, "draft", "u1")
	require.NoError(t, err)
	conv := chat.NewConversation(store, d)

	regenerated, err := conv.Edit(context.Background(), "u1", "final")
	require.NoError(t, err)
	assert.False(t, regenerated)
	assert.Empty(t, adapter.Calls())
	assert.Equal(t, []string{"user:final"}, contents(store.Messages()))
	assert.Equal(t, "final", conv.LiveView()[0].Content)

	t.Run("rejects assistant messages", func(t *testing.T) {
		id, _ := store.Append(domain.RoleAssistant, "reply", "")
		_, err := conv.Edit(context.Background(), id, "x")
		assert.ErrorIs(t, err, domain.ErrNotUserMessage)
	})

	t.Run("unknown message", func(t *testing.T) {
		_, err := conv.Edit(context.Background(), "nope", "x")
		assert.ErrorIs(t, err, domain.ErrMessageNotFound)
	})
}

func TestConversation_Regenerate(t *testing.T) {
	adapter := &scriptedAdapter{replies: [][]string{{"B"}, {"B prime"}}}
	conv := newConversation(t, adapter, "gemma")
	ctx := context.Background()

	_, err := conv.Submit(ctx, "A", "ua")
	require.NoError(t, err)
	first := conv.Wait()

	require.NoError(t, conv.Regenerate(ctx))
	second := conv.Wait()

	assert.NotEqual(t, first.MessageID, second.MessageID)
	assert.Equal(t, []string{"user:A", "assistant:B prime"}, contents(conv.Store().Messages()))

	calls := adapter.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, calls[0].History, calls[1].History)
}

func TestConversation_UpdateAndRemoveDuringTurn(t *testing.T) {
	adapter := &scriptedAdapter{
		replies: [][]string{{"answer A"}, {"b1", "b2"}},
		step:    make(chan struct{}),
	}
	conv := newConversation(t, adapter, "gemma")
	events, unsubscribe := conv.Subscribe()
	defer unsubscribe()
	ctx := context.Background()

	_, err := conv.Submit(ctx, "A", "a")
	require.NoError(t, err)
	adapter.step <- struct{}{}
	conv.Wait()
	answerID := conv.Store().Messages()[1].ID

	_, err = conv.Submit(ctx, "B", "b")
	require.NoError(t, err)
	adapter.step <- struct{}{}
	waitFragments(t, events, 2)

	require.NoError(t, conv.Remove(answerID))
	require.NoError(t, conv.Update("a", "A, reworded"))
	assert.Equal(t, []string{"user:A, reworded", "user:B"}, contents(conv.Store().Messages()))

	adapter.step <- struct{}{}
	waitFragments(t, events, 1)
	assert.Equal(t, []string{"user:A, reworded", "user:B"}, contents(conv.Store().Messages()))

	result := conv.Wait()
	assert.Equal(t, chat.StateReady, result.State)
	assert.Equal(t, []string{"user:A, reworded", "user:B", "assistant:b1b2"}, contents(conv.Store().Messages()))

	live := conv.LiveView()
	require.Len(t, live, 3)
	assert.Equal(t, "A, reworded", live[0].Content)

	assert.ErrorIs(t, conv.Remove(answerID), domain.ErrMessageNotFound)
	assert.ErrorIs(t, conv.Update("missing", "x"), domain.ErrMessageNotFound)
}

func TestConversation_RegenerateWithoutUserMessage(t *testing.T) {
	conv := newConversation(t, nil, "gemma")
	assert.ErrorIs(t, conv.Regenerate(context.Background()), domain.ErrNothingToRegenerate)
}

func TestConversation_TransportErrorBecomesContent(t *testing.T) {
	adapter := &scriptedAdapter{replies: [][]string{{}}, err: errors.New("dial tcp: connection refused")}
	conv := newConversation(t, adapter, "gemma")

	_, err := conv.Submit(context.Background(), "hi", "u1")
	require.NoError(t, err)

	result := conv.Wait()
	assert.Equal(t, chat.StateErrored, result.State)
	var terr *llm.TransportError
	require.ErrorAs(t, result.Err, &terr)

	msgs := conv.Store().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleAssistant, msgs[1].Role)
	assert.Contains(t, msgs[1].Content, "Error connecting to Ollama")
	assert.Equal(t, 1, conv.Store().Snapshot().ErrorCount)
	assert.Equal(t, chat.StateIdle, conv.State())

	_, err = conv.Submit(context.Background(), "again", "u2")
	assert.NoError(t, err)
	conv.Wait()
}

func TestConversation_ModelLockedAfterFirstTurn(t *testing.T) {
	adapter := &scriptedAdapter{replies: [][]string{{"ok"}}}
	conv := newConversation(t, adapter, "gemma")

	_, err := conv.Submit(context.Background(), "hi", "u1")
	require.NoError(t, err)
	conv.Wait()

	assert.ErrorIs(t, conv.Store().SetModel("gpt-4o"), domain.ErrModelLocked)
}

func TestConversion(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	stored := domain.ChatMessage{ID: "m1", Role: domain.RoleAssistant, Content: "hello", Timestamp: ts}

	live := chat.FromStored(stored)
	assert.Equal(t, chat.StreamMessage{ID: "m1", Role: domain.RoleAssistant, Content: "hello"}, live)
	assert.Equal(t, stored, chat.ToStored(live, ts))
}
