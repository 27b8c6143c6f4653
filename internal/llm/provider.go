package llm

import (
	"context"

	"github.com/Rrens/ai-session-manager/internal/domain"
)

// Request is the uniform generation request handed to every backend
type Request struct {
	History    []domain.ChatMessage
	ModelID    string
	Parameters domain.ModelParameters

	// Credential is the caller-supplied secret. The dispatcher replaces it
	// with the resolved credential before the adapter sees the request.
	Credential string
}

// LastUserMessage returns the most recent user turn of the history
func (r Request) LastUserMessage() (domain.ChatMessage, bool) {
	for i := len(r.History) - 1; i >= 0; i-- {
		if r.History[i].Role == domain.RoleUser {
			return r.History[i], true
		}
	}
	return domain.ChatMessage{}, false
}

// EmitFunc receives generated fragments in order. A nil EmitFunc asks the
// backend for the complete text only.
type EmitFunc func(fragment string)

// Emit forwards a non-empty fragment when f is set
func (f EmitFunc) Emit(fragment string) {
	if f != nil && fragment != "" {
		f(fragment)
	}
}

// Adapter is one backend family behind the dispatcher's streaming contract
type Adapter interface {
	// Name returns the adapter identifier
	Name() string

	// Stream generates a completion, forwarding fragments to emit as they are
	// decoded, and returns the full text once the backend is done.
	Stream(ctx context.Context, req Request, emit EmitFunc) (string, error)
}
