// Package message defines the share move session wire messages.
package message

import "github.com/keymesh/go-cluster-kms/internal/cluster"

// ShareMoveMessage is implemented by every message of the share move
// protocol. All messages carry the session id, the sub-session id and the
// session nonce.
type ShareMoveMessage interface {
	Session() cluster.SessionID
	SubSession() string
	Nonce() uint64
}

// SessionHeader is embedded in every protocol message.
type SessionHeader struct {
	SessionID    cluster.SessionID `json:"session"`
	SubSessionID string            `json:"sub_session"`
	SessionNonce uint64            `json:"session_nonce"`
}

func (h SessionHeader) Session() cluster.SessionID { return h.SessionID }
func (h SessionHeader) SubSession() string         { return h.SubSessionID }
func (h SessionHeader) Nonce() uint64              { return h.SessionNonce }

// InitializeShareMoveSession is the master's proposal: which share moves
// from which source node to which destination node.
type InitializeShareMoveSession struct {
	SessionHeader
	SharesToMove map[cluster.NodeID]cluster.NodeID `json:"shares_to_move"`
}

// ConfirmShareMoveInitialization acknowledges the proposal to the master.
type ConfirmShareMoveInitialization struct {
	SessionHeader
}

// ShareMoveRequest tells a source node to deliver its share.
type ShareMoveRequest struct {
	SessionHeader
}

// ShareMove carries the full share record from a source node to its
// destination.
type ShareMove struct {
	SessionHeader
	Author      cluster.NodeID                             `json:"author"`
	Threshold   int                                        `json:"threshold"`
	IDNumbers   map[cluster.NodeID]cluster.EvaluationPoint `json:"id_numbers"`
	Commitments []string                                   `json:"commitments"`
	SecretShare string                                     `json:"secret_share"`

	CommonPoint    string `json:"common_point,omitempty"`
	EncryptedPoint string `json:"encrypted_point,omitempty"`
}

// Record converts the delivered payload into a share record.
func (m *ShareMove) Record() *cluster.ShareRecord {
	rec := &cluster.ShareRecord{
		Author:         m.Author,
		Threshold:      m.Threshold,
		IDNumbers:      m.IDNumbers,
		Commitments:    m.Commitments,
		SecretShare:    m.SecretShare,
		CommonPoint:    m.CommonPoint,
		EncryptedPoint: m.EncryptedPoint,
	}
	return rec.Clone()
}

// FromRecord builds the delivery payload for a share record.
func FromRecord(h SessionHeader, rec *cluster.ShareRecord) *ShareMove {
	rec = rec.Clone()
	return &ShareMove{
		SessionHeader:  h,
		Author:         rec.Author,
		Threshold:      rec.Threshold,
		IDNumbers:      rec.IDNumbers,
		Commitments:    rec.Commitments,
		SecretShare:    rec.SecretShare,
		CommonPoint:    rec.CommonPoint,
		EncryptedPoint: rec.EncryptedPoint,
	}
}

// ShareMoveConfirm tells the other participants that a destination has
// received and accepted its share.
type ShareMoveConfirm struct {
	SessionHeader
}

// ShareMoveError abandons the session cluster-wide.
type ShareMoveError struct {
	SessionHeader
	Reason string `json:"error"`
}
