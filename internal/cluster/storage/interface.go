// Package storage persists per-node share records. The store is shared by
// every admin session running on the same node; each session performs at
// most one read at construction and one write at completion, so no
// transactional guarantee across calls is assumed.
package storage

import (
	"context"

	"github.com/pkg/errors"

	"github.com/keymesh/go-cluster-kms/internal/cluster"
)

// ErrNotFound is returned when no record exists for the requested secret.
var ErrNotFound = errors.New("share record not found")

// ErrAlreadyExists is returned by Insert when a record is already present.
var ErrAlreadyExists = errors.New("share record already exists")

// KeyStorage stores one share record per distributed secret.
type KeyStorage interface {
	Get(ctx context.Context, id cluster.SessionID) (*cluster.ShareRecord, error)
	Insert(ctx context.Context, id cluster.SessionID, record *cluster.ShareRecord) error
	Update(ctx context.Context, id cluster.SessionID, record *cluster.ShareRecord) error
	Remove(ctx context.Context, id cluster.SessionID) error
}
