package storage

import (
	"context"
	"sync"

	"github.com/keymesh/go-cluster-kms/internal/cluster"
)

// Memory is an in-process KeyStorage used by tests and single-node setups.
type Memory struct {
	mu      sync.Mutex
	records map[cluster.SessionID]*cluster.ShareRecord
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[cluster.SessionID]*cluster.ShareRecord)}
}

func (s *Memory) Get(_ context.Context, id cluster.SessionID) (*cluster.ShareRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return record.Clone(), nil
}

func (s *Memory) Insert(_ context.Context, id cluster.SessionID, record *cluster.ShareRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; ok {
		return ErrAlreadyExists
	}
	s.records[id] = record.Clone()
	return nil
}

func (s *Memory) Update(_ context.Context, id cluster.SessionID, record *cluster.ShareRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return ErrNotFound
	}
	s.records[id] = record.Clone()
	return nil
}

func (s *Memory) Remove(_ context.Context, id cluster.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, id)
	return nil
}
