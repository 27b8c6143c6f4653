package domain

import "errors"

var (
	// Configuration errors reject a turn before any network call.
	ErrUnknownModel       = errors.New("unknown model")
	ErrCredentialRequired = errors.New("credential required")

	ErrEmptyHistory        = errors.New("message history is empty")
	ErrInvalidRole         = errors.New("invalid message role")
	ErrTurnInProgress      = errors.New("a response is already being generated")
	ErrNoActiveSession     = errors.New("no active session")
	ErrSessionNotFound     = errors.New("session not found")
	ErrMessageNotFound     = errors.New("message not found")
	ErrNotUserMessage      = errors.New("only user messages can be edited")
	ErrNothingToRegenerate = errors.New("no user message to regenerate from")
	ErrSessionFinalized    = errors.New("session is finalized")
	ErrModelLocked         = errors.New("model cannot change after generation started")
	ErrEmailTaken          = errors.New("email already registered")
	ErrInvalidCredentials  = errors.New("invalid credentials")
)

// IsConfigurationError reports whether err prevents a turn from starting at all
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrUnknownModel) || errors.Is(err, ErrCredentialRequired)
}
