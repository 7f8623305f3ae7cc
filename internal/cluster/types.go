package cluster

import "sort"

// NodeID identifies a cluster participant. It is the lowercase hex encoding
// of the keccak-256 hash of the node's secp256k1 public key, so plain string
// comparison gives the total order used for deterministic set iteration.
type NodeID string

// SessionID identifies the distributed secret an admin session operates on.
type SessionID string

// EvaluationPoint is a holder's position on the secret's sharing polynomial,
// encoded as a 32-byte hex scalar. The point belongs to the polynomial slot,
// not to the node occupying it: a share move relabels the slot's owner and
// keeps the point unchanged.
type EvaluationPoint string

// SessionMeta is the immutable identity of one admin session instance. It is
// fixed at construction and must be identical (apart from SelfID) on every
// node participating in the session.
type SessionMeta struct {
	SelfID    NodeID
	MasterID  NodeID
	SessionID SessionID
	Threshold int
}

// Session is the minimal surface an admin session exposes to the session
// registry. Timeout hooks are declared for the registry's benefit; the share
// move session leaves them as no-ops because its recovery semantics are
// undefined.
type Session interface {
	IsFinished() bool
	OnSessionTimeout()
	OnNodeTimeout(node NodeID)
}

// SortedNodes returns the keys of m in ascending NodeID order.
func SortedNodes[V any](m map[NodeID]V) []NodeID {
	nodes := make([]NodeID, 0, len(m))
	for n := range m {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })
	return nodes
}
