package sharemove

import (
	"github.com/pkg/errors"

	"github.com/keymesh/go-cluster-kms/internal/cluster"
)

// validateSharesToMove checks a proposed source-to-destination mapping. It
// is invoked identically by the master before proposing and by every peer
// before accepting; idNumbers is nil on a node that holds no share and
// therefore cannot see the current holder set.
func validateSharesToMove(self cluster.NodeID, sharesToMove map[cluster.NodeID]cluster.NodeID, idNumbers map[cluster.NodeID]cluster.EvaluationPoint) error {
	if len(sharesToMove) == 0 {
		return errors.Wrap(cluster.ErrInvalidMessage, "empty shares to move")
	}

	if idNumbers != nil {
		// a move is always old to new: every source is a current holder,
		// no destination is
		for source := range sharesToMove {
			if _, ok := idNumbers[source]; !ok {
				return errors.Wrapf(cluster.ErrInvalidNodesConfiguration, "source %s is not a current holder", source)
			}
		}
		for _, target := range sharesToMove {
			if _, ok := idNumbers[target]; ok {
				return errors.Wrapf(cluster.ErrInvalidNodesConfiguration, "destination %s already holds a share", target)
			}
		}
	} else {
		// a node with no local view must be joining: not a source, and
		// named as a destination
		if _, ok := sharesToMove[self]; ok {
			return errors.Wrap(cluster.ErrInvalidMessage, "node without a share listed as source")
		}
		isTarget := false
		for _, target := range sharesToMove {
			if target == self {
				isTarget = true
				break
			}
		}
		if !isTarget {
			return errors.Wrap(cluster.ErrInvalidMessage, "node without a share is not a destination")
		}
	}

	// no merging of two moves into one destination
	targets := make(map[cluster.NodeID]struct{}, len(sharesToMove))
	for _, target := range sharesToMove {
		targets[target] = struct{}{}
	}
	if len(targets) != len(sharesToMove) {
		return errors.Wrap(cluster.ErrInvalidNodesConfiguration, "duplicate destinations")
	}

	return nil
}
