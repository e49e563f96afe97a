package llm

import (
	"fmt"
	"strings"
)

// ErrorKind classifies a model-capability failure.
type ErrorKind string

const (
	// ErrKindAuth means the provider rejected the credential.
	ErrKindAuth ErrorKind = "auth"
	// ErrKindNetwork means the request never produced a provider response.
	ErrKindNetwork ErrorKind = "network"
	// ErrKindBadRequest means the local request was malformed.
	ErrKindBadRequest ErrorKind = "bad_request"
	// ErrKindRemote means the provider returned an error status.
	ErrKindRemote ErrorKind = "remote"
	// ErrKindUnsupported means the requested provider or capability is not available.
	ErrKindUnsupported ErrorKind = "unsupported"
)

// Error is a classified model-capability failure. Status is the HTTP
// status when the provider responded, 0 otherwise.
type Error struct {
	Kind     ErrorKind
	Provider string
	Status   int
	Message  string
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = "request failed"
	}
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s (%s, status %d)", e.Provider, msg, e.Kind, e.Status)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Provider, msg, e.Kind)
}

func classifyStatus(status int) ErrorKind {
	switch {
	case status == 401 || status == 403:
		return ErrKindAuth
	case status == 400 || status == 404 || status == 422:
		return ErrKindBadRequest
	case status > 0:
		return ErrKindRemote
	default:
		return ErrKindNetwork
	}
}
