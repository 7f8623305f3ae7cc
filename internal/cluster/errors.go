package cluster

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrReplayProtection is returned when a message carries a nonce that
	// does not match the session's nonce. The message is dropped before any
	// state is touched.
	ErrReplayProtection = errors.New("session nonce mismatch")

	// ErrInvalidStateForRequest is returned when a message is well-formed
	// but the session is not in a state that accepts it.
	ErrInvalidStateForRequest = errors.New("invalid state for request")

	// ErrInvalidMessage is returned for structural violations: wrong sender
	// role, duplicate confirmation, share delivery from an unassigned node,
	// or a mapping that contradicts the local view.
	ErrInvalidMessage = errors.New("invalid message")

	// ErrInvalidNodesConfiguration is returned when a proposed share move
	// mapping violates the global structural invariants.
	ErrInvalidNodesConfiguration = errors.New("invalid nodes configuration")

	// ErrTooEarlyForRequest classifies a message that arrived before the
	// session it targets exists. It is owned by the dispatcher, which queues
	// and retries such deliveries; sessions never return it.
	ErrTooEarlyForRequest = errors.New("too early for request")
)

// StorageError wraps a key storage failure into the session error taxonomy.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("key storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
