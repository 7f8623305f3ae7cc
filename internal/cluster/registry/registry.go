// Package registry is the dispatcher that owns live admin sessions on one
// node: it routes inbound envelopes to the right session instance, queues
// deliveries that arrive before their session exists, and abandons a session
// cluster-wide when one of its handlers fails.
package registry

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/keymesh/go-cluster-kms/internal/cluster"
	"github.com/keymesh/go-cluster-kms/internal/cluster/message"
	"github.com/keymesh/go-cluster-kms/internal/cluster/sharemove"
	"github.com/keymesh/go-cluster-kms/internal/cluster/transport"
)

// Factory constructs the local session instance when the master's
// initialization proposal arrives for a session this node has not seen yet.
// The proposal's sender is the master.
type Factory func(ctx context.Context, id cluster.SessionID, subSession string, master cluster.NodeID, nonce uint64) (*sharemove.Session, error)

type key struct {
	session    cluster.SessionID
	subSession string
}

type pendingDelivery struct {
	from cluster.NodeID
	msg  message.ShareMoveMessage
}

// Registry dispatches envelopes to share move sessions.
type Registry struct {
	self      cluster.NodeID
	transport transport.Transport
	factory   Factory

	mu       sync.Mutex
	sessions map[key]*sharemove.Session
	pending  map[key][]pendingDelivery
}

// New creates a registry for this node. factory may be nil when sessions are
// always registered up front (tests, admin CLI).
func New(self cluster.NodeID, t transport.Transport, factory Factory) *Registry {
	ensureMetrics()
	return &Registry{
		self:      self,
		transport: t,
		factory:   factory,
		sessions:  make(map[key]*sharemove.Session),
		pending:   make(map[key][]pendingDelivery),
	}
}

// NewSubSession mints an identifier distinguishing one admin operation on a
// secret from others.
func NewSubSession() string {
	return uuid.New().String()
}

// Register adds a session constructed by an outer authority and replays any
// deliveries that arrived too early for it.
func (r *Registry) Register(s *sharemove.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{session: s.Meta().SessionID, subSession: s.SubSession()}
	if _, ok := r.sessions[k]; ok {
		return errors.Errorf("session %s/%s already registered", k.session, k.subSession)
	}
	r.sessions[k] = s
	sessionsStarted.Inc()

	queued := r.pending[k]
	delete(r.pending, k)
	for _, d := range queued {
		if err := r.dispatch(context.Background(), k, s, d.from, d.msg); err != nil {
			log.Error().Err(err).
				Str("session_id", string(k.session)).
				Str("sub_session", k.subSession).
				Msg("failed to replay queued delivery")
		}
	}
	return nil
}

// Deliver routes one inbound envelope. A message for a session that does not
// exist yet is queued and reported as ErrTooEarlyForRequest; it is replayed
// once the session is registered or constructed.
func (r *Registry) Deliver(ctx context.Context, env *message.Envelope) error {
	msg, err := env.Open()
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{session: msg.Session(), subSession: msg.SubSession()}
	s, ok := r.sessions[k]
	if !ok {
		init, isInit := msg.(*message.InitializeShareMoveSession)
		if isInit && r.factory != nil {
			s, err = r.factory(ctx, k.session, k.subSession, env.From, init.Nonce())
			if err != nil {
				return errors.Wrap(err, "failed to construct session")
			}
			r.sessions[k] = s
			sessionsStarted.Inc()
		} else {
			r.pending[k] = append(r.pending[k], pendingDelivery{from: env.From, msg: msg})
			return errors.Wrapf(cluster.ErrTooEarlyForRequest, "no session %s/%s", k.session, k.subSession)
		}
	}

	return r.dispatch(ctx, k, s, env.From, msg)
}

// dispatch runs one handler call and applies the abandonment policy: any
// structural or storage failure is broadcast to the session's peers as a
// ShareMoveError. Nonce mismatches are only returned to the caller so that
// replayed traffic cannot kill a live session.
func (r *Registry) dispatch(ctx context.Context, k key, s *sharemove.Session, from cluster.NodeID, msg message.ShareMoveMessage) error {
	err := s.ProcessMessage(ctx, from, msg)
	if err == nil {
		if s.IsFinished() {
			delete(r.sessions, k)
			sessionsFinished.Inc()
		}
		return nil
	}

	if errors.Is(err, cluster.ErrReplayProtection) {
		return err
	}

	sessionsFailed.Inc()
	errMsg := &message.ShareMoveError{
		SessionHeader: message.SessionHeader{
			SessionID:    k.session,
			SubSessionID: k.subSession,
			SessionNonce: msg.Nonce(),
		},
		Reason: err.Error(),
	}
	for _, peer := range s.Peers() {
		if sendErr := r.transport.Send(ctx, peer, errMsg); sendErr != nil {
			log.Error().Err(sendErr).
				Str("session_id", string(k.session)).
				Str("peer", string(peer)).
				Msg("failed to notify peer of session failure")
		}
	}

	// terminate the local instance the same way peers will
	if termErr := s.ProcessMessage(ctx, r.self, errMsg); termErr != nil {
		log.Error().Err(termErr).
			Str("session_id", string(k.session)).
			Msg("failed to terminate session locally")
	}
	delete(r.sessions, k)

	return err
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
