// Package transport moves protocol messages between cluster nodes. Delivery
// is fire-and-forget from the session's perspective; ordering and retry
// belong to the dispatcher driving the session.
package transport

import (
	"context"

	"github.com/keymesh/go-cluster-kms/internal/cluster"
	"github.com/keymesh/go-cluster-kms/internal/cluster/message"
)

// Transport sends a protocol message to a named peer.
type Transport interface {
	Send(ctx context.Context, node cluster.NodeID, msg message.ShareMoveMessage) error
}

// Handler consumes an inbound message on the receiving node.
type Handler func(ctx context.Context, env *message.Envelope)
