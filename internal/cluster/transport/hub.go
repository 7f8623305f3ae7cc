package transport

import (
	"context"
	"sync"

	"github.com/keymesh/go-cluster-kms/internal/cluster"
	"github.com/keymesh/go-cluster-kms/internal/cluster/message"
)

// Hub is an in-process message fabric connecting fake nodes. Sent envelopes
// queue up in FIFO order until drained with Take; tests and single-process
// setups drive delivery explicitly.
type Hub struct {
	mu    sync.Mutex
	queue []Delivery
}

// Delivery is one queued envelope addressed to a node.
type Delivery struct {
	To       cluster.NodeID
	Envelope *message.Envelope
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{}
}

// Node returns the Transport a given node sends through.
func (h *Hub) Node(self cluster.NodeID) Transport {
	return &hubNode{hub: h, self: self}
}

// Take pops the oldest queued delivery.
func (h *Hub) Take() (Delivery, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.queue) == 0 {
		return Delivery{}, false
	}
	d := h.queue[0]
	h.queue = h.queue[1:]
	return d, true
}

type hubNode struct {
	hub  *Hub
	self cluster.NodeID
}

func (n *hubNode) Send(_ context.Context, node cluster.NodeID, msg message.ShareMoveMessage) error {
	env, err := message.Seal(n.self, msg)
	if err != nil {
		return err
	}

	n.hub.mu.Lock()
	defer n.hub.mu.Unlock()
	n.hub.queue = append(n.hub.queue, Delivery{To: node, Envelope: env})
	return nil
}
