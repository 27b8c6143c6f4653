package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Rrens/ai-session-manager/internal/domain"
	"github.com/Rrens/ai-session-manager/internal/llm"
	"github.com/Rrens/ai-session-manager/internal/session"
	"github.com/rs/zerolog/log"
)

const subscriberBuffer = 1024

// Dispatcher starts generations for a conversation
type Dispatcher interface {
	Validate(req llm.Request) error
	SendMessage(ctx context.Context, req llm.Request, emit llm.EmitFunc) (*llm.Generation, error)
}

type turn struct {
	id     string
	gen    *llm.Generation
	done   chan struct{}
	result TurnResult
}

// Conversation drives turns against one session store. It keeps a live view
// of the transcript, folds streamed fragments into it, and reconciles the
// store with that view.
type Conversation struct {
	store      *session.Store
	dispatcher Dispatcher

	mu     sync.Mutex
	state  State
	live   []StreamMessage
	turn   *turn
	subs   map[int]chan Event
	nextID int
}

// NewConversation creates a conversation over store
func NewConversation(store *session.Store, dispatcher Dispatcher) *Conversation {
	return &Conversation{
		store:      store,
		dispatcher: dispatcher,
		state:      StateIdle,
		live:       liveFromStored(store.Messages()),
		subs:       make(map[int]chan Event),
	}
}

// Store returns the backing session store
func (c *Conversation) Store() *session.Store {
	return c.store
}

// State returns the current turn state
func (c *Conversation) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LiveView returns a copy of the live generation view
func (c *Conversation) LiveView() []StreamMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]StreamMessage, len(c.live))
	copy(out, c.live)
	return out
}

// Subscribe registers for events. The returned func unsubscribes.
func (c *Conversation) Subscribe() (<-chan Event, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	ch := make(chan Event, subscriberBuffer)
	c.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if _, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(ch)
			}
		})
	}
}

// Submit appends a user message and starts a turn. Configuration errors are
// returned before the transcript changes. Returns the id of the stored user
// message.
func (c *Conversation) Submit(ctx context.Context, content, id string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Busy() {
		return "", domain.ErrTurnInProgress
	}

	pending := append(c.store.Messages(), domain.ChatMessage{ID: id, Role: domain.RoleUser, Content: content})
	if err := c.dispatcher.Validate(c.request(pending)); err != nil {
		return "", err
	}

	userID, err := c.store.Append(domain.RoleUser, content, id)
	if err != nil {
		return "", err
	}
	c.refreshLocked()

	if err := c.startLocked(ctx); err != nil {
		return userID, err
	}
	return userID, nil
}

// Edit rewrites a user message and drops everything after it. When the
// message was answered, a new answer is generated from the truncated history.
func (c *Conversation) Edit(ctx context.Context, messageID, content string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Busy() {
		return false, domain.ErrTurnInProgress
	}

	msgs := c.store.Messages()
	i := indexOf(msgs, messageID)
	if i < 0 {
		return false, fmt.Errorf("%w: %s", domain.ErrMessageNotFound, messageID)
	}
	if msgs[i].Role != domain.RoleUser {
		return false, domain.ErrNotUserMessage
	}

	regenerate := i+1 < len(msgs) && msgs[i+1].Role == domain.RoleAssistant
	if regenerate {
		forked := append([]domain.ChatMessage(nil), msgs[:i+1]...)
		forked[i].Content = content
		if err := c.dispatcher.Validate(c.request(forked)); err != nil {
			return false, err
		}
	}

	if err := c.store.Fork(messageID, content); err != nil {
		return false, err
	}
	c.refreshLocked()

	if !regenerate {
		return false, nil
	}
	return true, c.startLocked(ctx)
}

// Regenerate replaces the answer to the most recent user message
func (c *Conversation) Regenerate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Busy() {
		return domain.ErrTurnInProgress
	}

	msgs := c.store.Messages()
	last := -1
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == domain.RoleUser {
			last = i
			break
		}
	}
	if last < 0 {
		return domain.ErrNothingToRegenerate
	}

	if err := c.dispatcher.Validate(c.request(msgs[:last+1])); err != nil {
		return err
	}
	if err := c.store.Fork(msgs[last].ID, msgs[last].Content); err != nil {
		return err
	}
	c.refreshLocked()

	return c.startLocked(ctx)
}

// Update replaces the content of a stored message. It may run while a turn
// streams; the live view is rebuilt so the next sync keeps the new content.
func (c *Conversation) Update(messageID, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if indexOf(c.store.Messages(), messageID) < 0 {
		return fmt.Errorf("%w: %s", domain.ErrMessageNotFound, messageID)
	}
	if err := c.store.Update(messageID, content); err != nil {
		return err
	}
	c.refreshLocked()
	return nil
}

// Remove deletes a stored message. The answer being generated is not stored
// yet and cannot be removed this way; use Cancel.
func (c *Conversation) Remove(messageID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if indexOf(c.store.Messages(), messageID) < 0 {
		return fmt.Errorf("%w: %s", domain.ErrMessageNotFound, messageID)
	}
	if err := c.store.Remove(messageID); err != nil {
		return err
	}
	c.refreshLocked()
	return nil
}

// Cancel stops the turn in flight and waits for it to settle. Content
// generated so far is kept as the assistant message.
func (c *Conversation) Cancel() TurnResult {
	c.mu.Lock()
	t := c.turn
	busy := c.state.Busy()
	c.mu.Unlock()

	if t == nil || !busy {
		return TurnResult{State: c.State()}
	}

	t.gen.Cancel()
	<-t.done
	return t.result
}

// Wait blocks until the current turn, if any, has ended
func (c *Conversation) Wait() TurnResult {
	c.mu.Lock()
	t := c.turn
	c.mu.Unlock()

	if t == nil {
		return TurnResult{State: StateIdle}
	}
	<-t.done
	return t.result
}

func (c *Conversation) request(history []domain.ChatMessage) llm.Request {
	return llm.Request{
		History:    history,
		ModelID:    c.store.Model(),
		Parameters: c.store.Parameters(),
		Credential: c.store.Credential(),
	}
}

// startLocked dispatches the current transcript; caller holds mu
func (c *Conversation) startLocked(ctx context.Context) error {
	t := &turn{done: make(chan struct{})}
	c.setStateLocked(StateSubmitted)

	gen, err := c.dispatcher.SendMessage(ctx, c.request(c.store.Messages()), func(fragment string) {
		c.fold(t, fragment)
	})
	if err != nil {
		c.setStateLocked(StateIdle)
		return err
	}

	c.store.BeginGeneration()
	t.id = gen.MessageID()
	t.gen = gen
	c.turn = t

	go c.await(t)
	return nil
}

// fold appends a fragment to the turn's live assistant message
func (c *Conversation) fold(t *turn, fragment string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.turn != t || !c.state.Busy() {
		return
	}
	if c.state == StateSubmitted {
		c.setStateLocked(StateStreaming)
	}

	i := liveIndex(c.live, t.id)
	if i < 0 {
		c.live = append(c.live, StreamMessage{ID: t.id, Role: domain.RoleAssistant, Pending: true})
		i = len(c.live) - 1
	}
	c.live[i].Content += fragment

	c.publishLocked(Event{Kind: EventFragment, MessageID: t.id, Fragment: fragment})
	c.syncLocked()
}

func (c *Conversation) await(t *turn) {
	text, err := t.gen.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	defer close(t.done)

	result := TurnResult{MessageID: t.id, Content: text}
	var terr *llm.TransportError

	switch {
	case errors.Is(err, llm.ErrCancelled):
		result.State = StateIdle
		result.Cancelled = true
	case errors.As(err, &terr):
		result.State = StateErrored
		result.Err = err
	case err != nil:
		result.State = StateErrored
		result.Err = err
		if text == "" {
			text = fmt.Sprintf("Error: %v", err)
			result.Content = text
		}
	default:
		result.State = StateReady
	}

	i := liveIndex(c.live, t.id)
	if text == "" {
		if i >= 0 {
			c.live = append(c.live[:i], c.live[i+1:]...)
		}
	} else {
		if i < 0 {
			c.live = append(c.live, StreamMessage{ID: t.id, Role: domain.RoleAssistant})
			i = len(c.live) - 1
		}
		c.live[i].Content = text
		c.live[i].Pending = false

		stored, appendErr := c.store.Append(domain.RoleAssistant, text, t.id)
		if appendErr != nil {
			log.Warn().Err(appendErr).Str("session_id", c.store.ID().String()).Msg("Failed to commit assistant message")
		}
		if stored != "" {
			result.MessageID = stored
		}
	}
	if result.State == StateErrored {
		c.store.RecordError()
	}

	c.syncLocked()
	c.refreshLocked()
	t.result = result

	if text != "" {
		c.publishLocked(Event{Kind: EventMessage, MessageID: result.MessageID, Content: text})
	}
	if result.Err != nil {
		c.publishLocked(Event{Kind: EventError, MessageID: result.MessageID, Error: text})
	}

	if result.State != StateIdle {
		c.setStateLocked(result.State)
	}
	c.setStateLocked(StateIdle)

	log.Debug().
		Str("session_id", c.store.ID().String()).
		Str("outcome", string(result.State)).
		Bool("cancelled", result.Cancelled).
		Int("length", len(text)).
		Msg("Turn finished")
}

// syncLocked pushes every settled live message the store lacks or holds
// with different content. Pending messages are left to the turn's commit.
func (c *Conversation) syncLocked() {
	stored := c.store.Messages()
	index := make(map[string]string, len(stored))
	for _, m := range stored {
		index[m.ID] = m.Content
	}

	for _, m := range c.live {
		if m.Pending {
			continue
		}
		content, ok := index[m.ID]
		switch {
		case !ok:
			if _, err := c.store.Append(m.Role, m.Content, m.ID); err != nil {
				log.Warn().Err(err).Str("message_id", m.ID).Msg("Failed to sync message")
			}
		case content != m.Content:
			if err := c.store.Update(m.ID, m.Content); err != nil {
				log.Warn().Err(err).Str("message_id", m.ID).Msg("Failed to sync message")
			}
		}
	}
}

// refreshLocked rebuilds the live view from the store, keeping a pending
// assistant message at the end
func (c *Conversation) refreshLocked() {
	var pending []StreamMessage
	for _, m := range c.live {
		if m.Pending {
			pending = append(pending, m)
		}
	}
	c.live = append(liveFromStored(c.store.Messages()), pending...)
}

func (c *Conversation) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	c.publishLocked(Event{Kind: EventState, State: s})
}

func (c *Conversation) publishLocked(ev Event) {
	for id, ch := range c.subs {
		select {
		case ch <- ev:
		default:
			log.Warn().Int("subscriber", id).Str("kind", string(ev.Kind)).Msg("Dropping event for slow subscriber")
		}
	}
}

func indexOf(msgs []domain.ChatMessage, id string) int {
	for i, m := range msgs {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func liveIndex(msgs []StreamMessage, id string) int {
	for i, m := range msgs {
		if m.ID == id {
			return i
		}
	}
	return -1
}
