package message

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keymesh/go-cluster-kms/internal/cluster"
)

func TestSealOpen(t *testing.T) {
	header := SessionHeader{
		SessionID:    "secret-1",
		SubSessionID: "sub-1",
		SessionNonce: 7,
	}

	msg := &InitializeShareMoveSession{
		SessionHeader: header,
		SharesToMove:  map[cluster.NodeID]cluster.NodeID{"node-b": "node-d"},
	}

	env, err := Seal("node-a", msg)
	require.NoError(t, err)
	assert.Equal(t, KindInitializeShareMoveSession, env.Kind)
	assert.Equal(t, cluster.NodeID("node-a"), env.From)

	// survives a transport round trip
	data, err := json.Marshal(env)
	require.NoError(t, err)
	var decoded Envelope
	require.NoError(t, json.Unmarshal(data, &decoded))

	opened, err := decoded.Open()
	require.NoError(t, err)
	assert.Equal(t, msg, opened)
}

func TestOpenUnknownKind(t *testing.T) {
	env := &Envelope{Kind: "not_a_message", From: "node-a", Payload: []byte("{}")}
	_, err := env.Open()
	assert.Error(t, err)
}

func TestSealErrorMessage(t *testing.T) {
	msg := &ShareMoveError{
		SessionHeader: SessionHeader{SessionID: "secret-1", SubSessionID: "sub-1", SessionNonce: 7},
		Reason:        "share delivery from unassigned node",
	}

	env, err := Seal("node-b", msg)
	require.NoError(t, err)
	assert.Equal(t, KindShareMoveError, env.Kind)

	opened, err := env.Open()
	require.NoError(t, err)
	got, ok := opened.(*ShareMoveError)
	require.True(t, ok)
	assert.Equal(t, msg.Reason, got.Reason)
}

func TestShareMoveRecordRoundTrip(t *testing.T) {
	rec := &cluster.ShareRecord{
		Author:    "node-a",
		Threshold: 1,
		IDNumbers: map[cluster.NodeID]cluster.EvaluationPoint{
			"node-a": "01",
			"node-b": "02",
		},
		Commitments: []string{"02aa", "02bb"},
		SecretShare: "03",
	}

	msg := FromRecord(SessionHeader{SessionID: "secret-1"}, rec)
	assert.Equal(t, rec, msg.Record())

	// the payload must not alias the original record
	msg.IDNumbers["node-c"] = "04"
	assert.NotContains(t, rec.IDNumbers, cluster.NodeID("node-c"))
}
