package message

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/keymesh/go-cluster-kms/internal/cluster"
)

// Message kinds as they appear on the wire.
const (
	KindInitializeShareMoveSession     = "initialize_share_move_session"
	KindConfirmShareMoveInitialization = "confirm_share_move_initialization"
	KindShareMoveRequest               = "share_move_request"
	KindShareMove                      = "share_move"
	KindShareMoveConfirm               = "share_move_confirm"
	KindShareMoveError                 = "share_move_error"
)

// Envelope is the transport frame: a kind tag, the sender, and the message
// payload.
type Envelope struct {
	Kind    string          `json:"kind"`
	From    cluster.NodeID  `json:"from"`
	Payload json.RawMessage `json:"payload"`
}

// Seal wraps a protocol message into an envelope.
func Seal(from cluster.NodeID, msg ShareMoveMessage) (*Envelope, error) {
	var kind string
	switch msg.(type) {
	case *InitializeShareMoveSession:
		kind = KindInitializeShareMoveSession
	case *ConfirmShareMoveInitialization:
		kind = KindConfirmShareMoveInitialization
	case *ShareMoveRequest:
		kind = KindShareMoveRequest
	case *ShareMove:
		kind = KindShareMove
	case *ShareMoveConfirm:
		kind = KindShareMoveConfirm
	case *ShareMoveError:
		kind = KindShareMoveError
	default:
		return nil, errors.Errorf("unknown message type %T", msg)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal message")
	}
	return &Envelope{Kind: kind, From: from, Payload: payload}, nil
}

// Open decodes the payload into its concrete message type.
func (e *Envelope) Open() (ShareMoveMessage, error) {
	var msg ShareMoveMessage
	switch e.Kind {
	case KindInitializeShareMoveSession:
		msg = &InitializeShareMoveSession{}
	case KindConfirmShareMoveInitialization:
		msg = &ConfirmShareMoveInitialization{}
	case KindShareMoveRequest:
		msg = &ShareMoveRequest{}
	case KindShareMove:
		msg = &ShareMove{}
	case KindShareMoveConfirm:
		msg = &ShareMoveConfirm{}
	case KindShareMoveError:
		msg = &ShareMoveError{}
	default:
		return nil, errors.Errorf("unknown message kind %q", e.Kind)
	}

	if err := json.Unmarshal(e.Payload, msg); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal %s", e.Kind)
	}
	return msg, nil
}
