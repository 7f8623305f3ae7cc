package sharemove

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/keymesh/go-cluster-kms/internal/cluster"
)

func TestValidateSharesToMove(t *testing.T) {
	holders := map[cluster.NodeID]cluster.EvaluationPoint{
		"node-a": "01",
		"node-b": "02",
		"node-c": "03",
	}

	tests := []struct {
		name         string
		self         cluster.NodeID
		sharesToMove map[cluster.NodeID]cluster.NodeID
		idNumbers    map[cluster.NodeID]cluster.EvaluationPoint
		wantErr      error
	}{
		{
			name:         "valid single move",
			self:         "node-a",
			sharesToMove: map[cluster.NodeID]cluster.NodeID{"node-b": "node-d"},
			idNumbers:    holders,
		},
		{
			name:         "valid multi move",
			self:         "node-a",
			sharesToMove: map[cluster.NodeID]cluster.NodeID{"node-b": "node-d", "node-c": "node-e"},
			idNumbers:    holders,
		},
		{
			name:         "empty mapping",
			self:         "node-a",
			sharesToMove: map[cluster.NodeID]cluster.NodeID{},
			idNumbers:    holders,
			wantErr:      cluster.ErrInvalidMessage,
		},
		{
			name:         "source is not a holder",
			self:         "node-a",
			sharesToMove: map[cluster.NodeID]cluster.NodeID{"node-x": "node-d"},
			idNumbers:    holders,
			wantErr:      cluster.ErrInvalidNodesConfiguration,
		},
		{
			name:         "destination already holds a share",
			self:         "node-a",
			sharesToMove: map[cluster.NodeID]cluster.NodeID{"node-b": "node-c"},
			idNumbers:    holders,
			wantErr:      cluster.ErrInvalidNodesConfiguration,
		},
		{
			name:         "duplicate destinations",
			self:         "node-a",
			sharesToMove: map[cluster.NodeID]cluster.NodeID{"node-b": "node-d", "node-c": "node-d"},
			idNumbers:    holders,
			wantErr:      cluster.ErrInvalidNodesConfiguration,
		},
		{
			name:         "joining node is a destination",
			self:         "node-d",
			sharesToMove: map[cluster.NodeID]cluster.NodeID{"node-b": "node-d"},
		},
		{
			name:         "joining node listed as source",
			self:         "node-d",
			sharesToMove: map[cluster.NodeID]cluster.NodeID{"node-d": "node-e"},
			wantErr:      cluster.ErrInvalidMessage,
		},
		{
			name:         "joining node not a destination",
			self:         "node-d",
			sharesToMove: map[cluster.NodeID]cluster.NodeID{"node-b": "node-e"},
			wantErr:      cluster.ErrInvalidMessage,
		},
		{
			name:         "duplicate destinations without holder view",
			self:         "node-d",
			sharesToMove: map[cluster.NodeID]cluster.NodeID{"node-b": "node-d", "node-c": "node-d"},
			wantErr:      cluster.ErrInvalidNodesConfiguration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateSharesToMove(tt.self, tt.sharesToMove, tt.idNumbers)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
