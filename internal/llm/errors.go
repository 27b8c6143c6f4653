package llm

import "fmt"

// TransportError is a network or backend failure. Message is the text shown
// to the user in place of the assistant answer.
type TransportError struct {
	Provider string
	Message  string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func newTransportError(p ProviderDescriptor, err error) *TransportError {
	var msg string
	if p.Local {
		msg = fmt.Sprintf("Error connecting to %s: %v. Make sure %s is running locally at %s.", p.Name, err, p.Name, p.BaseURL)
	} else {
		msg = fmt.Sprintf("Error from %s: %v", p.Name, err)
	}
	return &TransportError{Provider: p.Name, Message: msg, Err: err}
}
