// Package sharemove implements the admin session that relocates secret
// shares between cluster participants without reconstructing the secret.
// The session is constructed with identical identity parameters on every
// affected node; the master proposes a source-to-destination mapping, every
// peer validates it against its own view, each source ships its record to
// its destination, and every participant re-indexes the sharing metadata and
// persists the result exactly once. Consensus over the plan is formed before
// the session starts.
package sharemove

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/keymesh/go-cluster-kms/internal/cluster"
	"github.com/keymesh/go-cluster-kms/internal/cluster/message"
	"github.com/keymesh/go-cluster-kms/internal/cluster/storage"
	"github.com/keymesh/go-cluster-kms/internal/cluster/transport"
)

// State of the session on one node. A peer skips
// StateWaitingForInitializationConfirm; only the master collects
// initialization confirmations.
type State int

const (
	StateWaitingForInitialization State = iota
	StateWaitingForInitializationConfirm
	StateWaitingForMoveConfirmation
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateWaitingForInitialization:
		return "waiting_for_initialization"
	case StateWaitingForInitializationConfirm:
		return "waiting_for_initialization_confirm"
	case StateWaitingForMoveConfirmation:
		return "waiting_for_move_confirmation"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Params bundles everything needed to construct a session on one node.
type Params struct {
	Meta       cluster.SessionMeta
	SubSession string
	Nonce      uint64

	// KeyShare is this node's current record of the secret, nil when the
	// node holds no share (it is then expected to be a move destination).
	KeyShare *cluster.ShareRecord

	Transport transport.Transport
	Storage   storage.KeyStorage
}

// core is the immutable part of the session, read without locking.
type core struct {
	meta       cluster.SessionMeta
	subSession string
	nonce      uint64
	keyShare   *cluster.ShareRecord
	transport  transport.Transport
	storage    storage.KeyStorage
}

// progress is the mutable part, guarded by the session mutex.
type progress struct {
	state State

	// initConfirmations holds nodes whose initialization ack is still
	// outstanding. Meaningful on the master only.
	initConfirmations map[cluster.NodeID]struct{}

	// moveConfirmations holds nodes whose move ack is still outstanding.
	moveConfirmations map[cluster.NodeID]struct{}

	sharesToMove     map[cluster.NodeID]cluster.NodeID
	receivedKeyShare *cluster.ShareRecord
}

// Session is one share move session instance on one node.
type Session struct {
	core core

	mu   sync.Mutex
	data progress
}

var _ cluster.Session = (*Session)(nil)

// New constructs a session. The caller is responsible for constructing it
// with identical identity parameters on every affected node before the
// master initializes.
func New(p Params) (*Session, error) {
	if p.Transport == nil {
		return nil, errors.New("transport is required")
	}
	if p.Storage == nil {
		return nil, errors.New("storage is required")
	}
	if p.Meta.SelfID == "" || p.Meta.MasterID == "" || p.Meta.SessionID == "" {
		return nil, errors.New("session meta is incomplete")
	}

	return &Session{
		core: core{
			meta:       p.Meta,
			subSession: p.SubSession,
			nonce:      p.Nonce,
			keyShare:   p.KeyShare.Clone(),
			transport:  p.Transport,
			storage:    p.Storage,
		},
		data: progress{
			state:             StateWaitingForInitialization,
			initConfirmations: make(map[cluster.NodeID]struct{}),
			moveConfirmations: make(map[cluster.NodeID]struct{}),
			sharesToMove:      make(map[cluster.NodeID]cluster.NodeID),
		},
	}, nil
}

func (s *Session) header() message.SessionHeader {
	return message.SessionHeader{
		SessionID:    s.core.meta.SessionID,
		SubSessionID: s.core.subSession,
		SessionNonce: s.core.nonce,
	}
}

// Meta returns the session's immutable identity.
func (s *Session) Meta() cluster.SessionMeta {
	return s.core.meta
}

// SubSession returns the identifier distinguishing this move from other
// admin operations on the same secret.
func (s *Session) SubSession() string {
	return s.core.subSession
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.state
}

// Peers returns every other node this session knows about: current holders
// plus every node named by the agreed mapping.
func (s *Session) Peers() []cluster.NodeID {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := make(map[cluster.NodeID]struct{})
	if s.core.keyShare != nil {
		for n := range s.core.keyShare.IDNumbers {
			set[n] = struct{}{}
		}
	}
	for source, target := range s.data.sharesToMove {
		set[source] = struct{}{}
		set[target] = struct{}{}
	}
	set[s.core.meta.MasterID] = struct{}{}
	delete(set, s.core.meta.SelfID)
	return cluster.SortedNodes(set)
}

// Initialize starts the session on the master node with the proposed
// source-to-destination mapping. It must be called exactly once, on the
// master only, and only while no message has been processed yet.
func (s *Session) Initialize(ctx context.Context, sharesToMove map[cluster.NodeID]cluster.NodeID) error {
	if s.core.meta.SelfID != s.core.meta.MasterID {
		return errors.Wrap(cluster.ErrInvalidMessage, "initialize is master-only")
	}
	if s.core.keyShare == nil {
		return errors.Wrap(cluster.ErrInvalidMessage, "master node holds no share")
	}
	if err := validateSharesToMove(s.core.meta.SelfID, sharesToMove, s.core.keyShare.IDNumbers); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data.state != StateWaitingForInitialization {
		return cluster.ErrInvalidStateForRequest
	}

	s.data.state = StateWaitingForInitializationConfirm
	for source, target := range sharesToMove {
		s.data.sharesToMove[source] = target
		s.data.moveConfirmations[target] = struct{}{}
	}
	for holder := range s.core.keyShare.IDNumbers {
		s.data.initConfirmations[holder] = struct{}{}
	}
	for _, target := range sharesToMove {
		s.data.initConfirmations[target] = struct{}{}
	}
	delete(s.data.initConfirmations, s.core.meta.SelfID)

	for _, node := range cluster.SortedNodes(s.data.initConfirmations) {
		err := s.core.transport.Send(ctx, node, &message.InitializeShareMoveSession{
			SessionHeader: s.header(),
			SharesToMove:  s.data.sharesToMove,
		})
		if err != nil {
			return errors.Wrapf(err, "failed to send initialization to %s", node)
		}
	}
	return nil
}

// ProcessMessage is the single entry point for all inbound protocol
// messages. The nonce is checked before anything else; a mismatch leaves the
// session untouched.
func (s *Session) ProcessMessage(ctx context.Context, sender cluster.NodeID, msg message.ShareMoveMessage) error {
	if msg.Nonce() != s.core.nonce {
		return cluster.ErrReplayProtection
	}

	switch m := msg.(type) {
	case *message.InitializeShareMoveSession:
		return s.onInitializeSession(ctx, sender, m)
	case *message.ConfirmShareMoveInitialization:
		return s.onConfirmInitialization(ctx, sender, m)
	case *message.ShareMoveRequest:
		return s.onShareMoveRequest(ctx, sender, m)
	case *message.ShareMove:
		return s.onShareMove(ctx, sender, m)
	case *message.ShareMoveConfirm:
		return s.onShareMoveConfirm(ctx, sender, m)
	case *message.ShareMoveError:
		return s.onSessionError(sender, m)
	default:
		return errors.Wrapf(cluster.ErrInvalidMessage, "unexpected message type %T", msg)
	}
}

// onInitializeSession handles the master's proposal on a peer node.
func (s *Session) onInitializeSession(ctx context.Context, sender cluster.NodeID, msg *message.InitializeShareMoveSession) error {
	if sender != s.core.meta.MasterID {
		return errors.Wrap(cluster.ErrInvalidMessage, "initialization must come from master")
	}

	var view map[cluster.NodeID]cluster.EvaluationPoint
	if s.core.keyShare != nil {
		view = s.core.keyShare.IDNumbers
	}
	if err := validateSharesToMove(s.core.meta.SelfID, msg.SharesToMove, view); err != nil {
		return err
	}

	// This node must agree with the master about its own role: a listed
	// source holds a share, a pure destination holds none.
	if _, isSource := msg.SharesToMove[s.core.meta.SelfID]; isSource {
		if s.core.keyShare == nil {
			return errors.Wrap(cluster.ErrInvalidMessage, "listed as source but holds no share")
		}
	} else {
		for _, target := range msg.SharesToMove {
			if target == s.core.meta.SelfID && s.core.keyShare != nil {
				return errors.Wrap(cluster.ErrInvalidMessage, "listed as destination but already holds a share")
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data.state != StateWaitingForInitialization {
		return cluster.ErrInvalidStateForRequest
	}

	s.data.state = StateWaitingForMoveConfirmation
	for source, target := range msg.SharesToMove {
		s.data.sharesToMove[source] = target
		s.data.moveConfirmations[target] = struct{}{}
	}

	err := s.core.transport.Send(ctx, sender, &message.ConfirmShareMoveInitialization{
		SessionHeader: s.header(),
	})
	return errors.Wrap(err, "failed to confirm initialization")
}

// onConfirmInitialization counts initialization acks on the master. Once
// every affected node has confirmed, move requests go out to the sources.
func (s *Session) onConfirmInitialization(ctx context.Context, sender cluster.NodeID, _ *message.ConfirmShareMoveInitialization) error {
	if s.core.meta.SelfID != s.core.meta.MasterID {
		return errors.Wrap(cluster.ErrInvalidMessage, "confirmation sent to non-master node")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data.state != StateWaitingForInitializationConfirm {
		return cluster.ErrInvalidStateForRequest
	}
	if _, outstanding := s.data.initConfirmations[sender]; !outstanding {
		return errors.Wrapf(cluster.ErrInvalidMessage, "duplicate initialization confirmation from %s", sender)
	}
	delete(s.data.initConfirmations, sender)
	if len(s.data.initConfirmations) > 0 {
		return nil
	}

	s.data.state = StateWaitingForMoveConfirmation
	for _, source := range cluster.SortedNodes(s.data.sharesToMove) {
		if source == s.core.meta.SelfID {
			continue
		}
		err := s.core.transport.Send(ctx, source, &message.ShareMoveRequest{
			SessionHeader: s.header(),
		})
		if err != nil {
			return errors.Wrapf(err, "failed to request move from %s", source)
		}
	}

	// the master does not wait for its own request
	if target, isSource := s.data.sharesToMove[s.core.meta.SelfID]; isSource {
		return s.moveShare(ctx, target)
	}
	return nil
}

// onShareMoveRequest triggers the relocation on a source node.
func (s *Session) onShareMoveRequest(ctx context.Context, sender cluster.NodeID, _ *message.ShareMoveRequest) error {
	if sender != s.core.meta.MasterID {
		return errors.Wrap(cluster.ErrInvalidMessage, "move request must come from master")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data.state != StateWaitingForMoveConfirmation {
		return cluster.ErrInvalidStateForRequest
	}

	target, isSource := s.data.sharesToMove[s.core.meta.SelfID]
	if !isSource {
		return errors.Wrap(cluster.ErrInvalidMessage, "move requested from a node that is not a source")
	}
	return s.moveShare(ctx, target)
}

// onShareMove stores the delivered record on the destination node and tells
// everyone else the move happened.
func (s *Session) onShareMove(ctx context.Context, sender cluster.NodeID, msg *message.ShareMove) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data.state != StateWaitingForMoveConfirmation {
		return cluster.ErrInvalidStateForRequest
	}

	// only the assigned source may deliver share material to this node
	if s.data.sharesToMove[sender] != s.core.meta.SelfID {
		return errors.Wrapf(cluster.ErrInvalidMessage, "unassigned share delivery from %s", sender)
	}

	delete(s.data.moveConfirmations, s.core.meta.SelfID)
	s.data.receivedKeyShare = msg.Record()

	// everyone who needs to know: all destinations plus all holders listed
	// in the delivered record
	participants := make(map[cluster.NodeID]struct{})
	for _, target := range s.data.sharesToMove {
		participants[target] = struct{}{}
	}
	for holder := range msg.IDNumbers {
		participants[holder] = struct{}{}
	}
	delete(participants, s.core.meta.SelfID)

	for _, node := range cluster.SortedNodes(participants) {
		err := s.core.transport.Send(ctx, node, &message.ShareMoveConfirm{
			SessionHeader: s.header(),
		})
		if err != nil {
			return errors.Wrapf(err, "failed to confirm move to %s", node)
		}
	}

	if len(s.data.moveConfirmations) == 0 {
		return s.completeSession(ctx)
	}
	return nil
}

// onShareMoveConfirm counts move acks on every participant.
func (s *Session) onShareMoveConfirm(ctx context.Context, sender cluster.NodeID, _ *message.ShareMoveConfirm) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data.state != StateWaitingForMoveConfirmation {
		return cluster.ErrInvalidStateForRequest
	}
	if _, outstanding := s.data.moveConfirmations[sender]; !outstanding {
		return errors.Wrapf(cluster.ErrInvalidMessage, "unexpected move confirmation from %s", sender)
	}
	delete(s.data.moveConfirmations, sender)

	if len(s.data.moveConfirmations) == 0 {
		return s.completeSession(ctx)
	}
	return nil
}

// onSessionError abandons the session. No recovery is attempted and storage
// mutations already applied on other nodes are not undone.
func (s *Session) onSessionError(sender cluster.NodeID, msg *message.ShareMoveError) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log.Warn().
		Str("session_id", string(s.core.meta.SessionID)).
		Str("sub_session", s.core.subSession).
		Str("sender", string(sender)).
		Str("reason", msg.Reason).
		Msg("share move session failed on another node")

	s.data.state = StateFinished
	return nil
}

// moveShare packages this node's full record and sends it to the
// destination. Reaching this point with no share is a protocol defect, not a
// runtime condition.
func (s *Session) moveShare(ctx context.Context, target cluster.NodeID) error {
	if s.core.keyShare == nil {
		return errors.New("source node has no share to move")
	}

	err := s.core.transport.Send(ctx, target, message.FromRecord(s.header(), s.core.keyShare))
	return errors.Wrapf(err, "failed to deliver share to %s", target)
}

// completeSession runs once per node, when its move-outstanding set empties.
// Departing sources drop their record; everyone else relabels the moved
// evaluation points and persists. Storage failures are surfaced but
// in-memory state is not rolled back.
func (s *Session) completeSession(ctx context.Context) error {
	s.data.state = StateFinished

	if _, isSource := s.data.sharesToMove[s.core.meta.SelfID]; isSource {
		if err := s.core.storage.Remove(ctx, s.core.meta.SessionID); err != nil {
			return &cluster.StorageError{Op: "remove", Err: err}
		}
		return nil
	}

	isOldNode := s.data.receivedKeyShare == nil
	record := s.data.receivedKeyShare
	if record == nil {
		record = s.core.keyShare.Clone()
	}

	// relabel each moved slot: the evaluation point stays with the slot,
	// only its owner changes
	for source, target := range s.data.sharesToMove {
		point, ok := record.IDNumbers[source]
		if !ok {
			return errors.Wrapf(cluster.ErrInvalidNodesConfiguration, "source %s missing from id_numbers", source)
		}
		delete(record.IDNumbers, source)
		record.IDNumbers[target] = point
	}

	if isOldNode {
		if err := s.core.storage.Update(ctx, s.core.meta.SessionID, record); err != nil {
			return &cluster.StorageError{Op: "update", Err: err}
		}
		return nil
	}
	if err := s.core.storage.Insert(ctx, s.core.meta.SessionID, record); err != nil {
		return &cluster.StorageError{Op: "insert", Err: err}
	}
	return nil
}

// IsFinished reports whether the session reached its terminal state.
func (s *Session) IsFinished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.state == StateFinished
}

// OnSessionTimeout is intentionally a no-op: the session defines no timeout
// recovery semantics. Abandonment happens via ShareMoveError only.
func (s *Session) OnSessionTimeout() {}

// OnNodeTimeout is intentionally a no-op, see OnSessionTimeout.
func (s *Session) OnNodeTimeout(_ cluster.NodeID) {}
