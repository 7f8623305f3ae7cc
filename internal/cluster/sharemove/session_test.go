package sharemove_test

import (
	"context"
	"math/big"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/keymesh/go-cluster-kms/internal/cluster"
	"github.com/keymesh/go-cluster-kms/internal/cluster/math"
	"github.com/keymesh/go-cluster-kms/internal/cluster/message"
	"github.com/keymesh/go-cluster-kms/internal/cluster/sharemove"
	"github.com/keymesh/go-cluster-kms/internal/cluster/storage"
	"github.com/keymesh/go-cluster-kms/internal/cluster/transport"
)

const (
	testSubSession = "sub-1"
	testNonce      = uint64(1)
)

type testNode struct {
	store   *storage.Memory
	session *sharemove.Session
}

// messageLoop wires one session per node through an in-process hub and
// drives the exchange to quiescence, like a cooperative cluster dispatcher.
type messageLoop struct {
	t         *testing.T
	hub       *transport.Hub
	sessionID cluster.SessionID
	master    cluster.NodeID
	holders   []cluster.NodeID
	joiners   []cluster.NodeID
	nodes     map[cluster.NodeID]*testNode
	threshold int

	// generation-time snapshot
	records map[cluster.NodeID]*cluster.ShareRecord
	secret  *big.Int
}

func freshNodeIDs(t *testing.T, n int) []cluster.NodeID {
	ids := make([]cluster.NodeID, n)
	for i := range ids {
		key, err := cluster.GenerateNodeKey()
		require.NoError(t, err)
		ids[i] = cluster.NodeIDFromPublicKey(&key.PublicKey)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func newMessageLoop(t *testing.T, threshold, numHolders, numJoiners int) *messageLoop {
	holders := freshNodeIDs(t, numHolders)
	joiners := freshNodeIDs(t, numJoiners)
	master := holders[0]

	records, secret, err := math.Deal(master, threshold, holders)
	require.NoError(t, err)

	ml := &messageLoop{
		t:         t,
		hub:       transport.NewHub(),
		sessionID: "secret-1",
		master:    master,
		holders:   holders,
		joiners:   joiners,
		nodes:     make(map[cluster.NodeID]*testNode),
		threshold: threshold,
		records:   records,
		secret:    secret,
	}

	ctx := context.Background()
	for _, n := range holders {
		store := storage.NewMemory()
		require.NoError(t, store.Insert(ctx, ml.sessionID, records[n]))
		ml.nodes[n] = &testNode{store: store, session: ml.newSession(n, records[n], store)}
	}
	for _, n := range joiners {
		store := storage.NewMemory()
		ml.nodes[n] = &testNode{store: store, session: ml.newSession(n, nil, store)}
	}
	return ml
}

func (ml *messageLoop) newSession(self cluster.NodeID, keyShare *cluster.ShareRecord, store storage.KeyStorage) *sharemove.Session {
	s, err := sharemove.New(sharemove.Params{
		Meta: cluster.SessionMeta{
			SelfID:    self,
			MasterID:  ml.master,
			SessionID: ml.sessionID,
			Threshold: ml.threshold,
		},
		SubSession: testSubSession,
		Nonce:      testNonce,
		KeyShare:   keyShare,
		Transport:  ml.hub.Node(self),
		Storage:    store,
	})
	require.NoError(ml.t, err)
	return s
}

func (ml *messageLoop) run(ctx context.Context) {
	for {
		d, ok := ml.hub.Take()
		if !ok {
			return
		}
		node := ml.nodes[d.To]
		require.NotNil(ml.t, node, "message for unknown node %s", d.To)

		msg, err := d.Envelope.Open()
		require.NoError(ml.t, err)
		require.NoError(ml.t, node.session.ProcessMessage(ctx, d.Envelope.From, msg))
	}
}

func (ml *messageLoop) drain() {
	for {
		if _, ok := ml.hub.Take(); !ok {
			return
		}
	}
}

func header() message.SessionHeader {
	return message.SessionHeader{
		SessionID:    "secret-1",
		SubSessionID: testSubSession,
		SessionNonce: testNonce,
	}
}

func TestNodeMovedUsingShareMove(t *testing.T) {
	ctx := context.Background()
	ml := newMessageLoop(t, 1, 3, 1)
	source := ml.holders[1]
	target := ml.joiners[0]

	err := ml.nodes[ml.master].session.Initialize(ctx, map[cluster.NodeID]cluster.NodeID{source: target})
	require.NoError(t, err)
	ml.run(ctx)

	for id, n := range ml.nodes {
		assert.True(t, n.session.IsFinished(), "session on %s not finished", id)
	}

	// the departing source no longer holds a record
	_, err = ml.nodes[source].store.Get(ctx, ml.sessionID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// all survivors persisted identical re-indexed metadata
	survivors := []cluster.NodeID{ml.holders[0], ml.holders[2], target}
	stored := make(map[cluster.NodeID]*cluster.ShareRecord)
	for _, n := range survivors {
		rec, err := ml.nodes[n].store.Get(ctx, ml.sessionID)
		require.NoError(t, err, "survivor %s has no record", n)
		assert.Equal(t, 1, rec.Threshold)
		assert.Equal(t, ml.records[ml.master].Commitments, rec.Commitments)
		stored[n] = rec
	}

	original := ml.records[ml.master].IDNumbers
	base := stored[survivors[0]].IDNumbers
	assert.NotContains(t, base, source)
	assert.Equal(t, original[source], base[target], "destination did not take over the source's evaluation point")
	assert.Equal(t, original[ml.holders[0]], base[ml.holders[0]])
	assert.Equal(t, original[ml.holders[2]], base[ml.holders[2]])
	for _, n := range survivors[1:] {
		assert.Equal(t, base, stored[n].IDNumbers, "id_numbers diverged on %s", n)
	}

	// any threshold+1 survivors still reconstruct the original secret
	for i := 0; i < len(survivors); i++ {
		for j := i + 1; j < len(survivors); j++ {
			got, err := math.Reconstruct(stored, []cluster.NodeID{survivors[i], survivors[j]})
			require.NoError(t, err)
			assert.Zero(t, got.Cmp(ml.secret), "secret changed for pair %d,%d", i, j)
		}
	}
}

func TestTwoNodesMovedAtOnce(t *testing.T) {
	ctx := context.Background()
	ml := newMessageLoop(t, 1, 4, 2)
	mapping := map[cluster.NodeID]cluster.NodeID{
		ml.holders[1]: ml.joiners[0],
		ml.holders[2]: ml.joiners[1],
	}

	require.NoError(t, ml.nodes[ml.master].session.Initialize(ctx, mapping))
	ml.run(ctx)

	for _, source := range []cluster.NodeID{ml.holders[1], ml.holders[2]} {
		_, err := ml.nodes[source].store.Get(ctx, ml.sessionID)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	}

	survivors := []cluster.NodeID{ml.holders[0], ml.holders[3], ml.joiners[0], ml.joiners[1]}
	stored := make(map[cluster.NodeID]*cluster.ShareRecord)
	for _, n := range survivors {
		rec, err := ml.nodes[n].store.Get(ctx, ml.sessionID)
		require.NoError(t, err)
		stored[n] = rec
	}

	original := ml.records[ml.master].IDNumbers
	assert.Equal(t, original[ml.holders[1]], stored[ml.joiners[0]].IDNumbers[ml.joiners[0]])
	assert.Equal(t, original[ml.holders[2]], stored[ml.joiners[1]].IDNumbers[ml.joiners[1]])

	got, err := math.Reconstruct(stored, []cluster.NodeID{ml.joiners[0], ml.joiners[1]})
	require.NoError(t, err)
	assert.Zero(t, got.Cmp(ml.secret))
}

func TestMasterMovesOwnShare(t *testing.T) {
	ctx := context.Background()
	ml := newMessageLoop(t, 1, 3, 1)
	target := ml.joiners[0]

	err := ml.nodes[ml.master].session.Initialize(ctx, map[cluster.NodeID]cluster.NodeID{ml.master: target})
	require.NoError(t, err)
	ml.run(ctx)

	_, err = ml.nodes[ml.master].store.Get(ctx, ml.sessionID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	survivors := []cluster.NodeID{ml.holders[1], ml.holders[2], target}
	stored := make(map[cluster.NodeID]*cluster.ShareRecord)
	for _, n := range survivors {
		rec, err := ml.nodes[n].store.Get(ctx, ml.sessionID)
		require.NoError(t, err)
		stored[n] = rec
	}

	got, err := math.Reconstruct(stored, []cluster.NodeID{ml.holders[1], target})
	require.NoError(t, err)
	assert.Zero(t, got.Cmp(ml.secret))
}

func TestInitializeRejectedOnNonMaster(t *testing.T) {
	ctx := context.Background()
	ml := newMessageLoop(t, 1, 3, 1)

	err := ml.nodes[ml.holders[1]].session.Initialize(ctx, map[cluster.NodeID]cluster.NodeID{
		ml.holders[2]: ml.joiners[0],
	})
	assert.ErrorIs(t, err, cluster.ErrInvalidMessage)

	_, pending := ml.hub.Take()
	assert.False(t, pending, "no message must be sent on rejected initialize")
}

func TestDuplicateDestinationRejectedBeforeAnySend(t *testing.T) {
	ctx := context.Background()
	ml := newMessageLoop(t, 1, 4, 1)

	err := ml.nodes[ml.master].session.Initialize(ctx, map[cluster.NodeID]cluster.NodeID{
		ml.holders[1]: ml.joiners[0],
		ml.holders[2]: ml.joiners[0],
	})
	assert.ErrorIs(t, err, cluster.ErrInvalidNodesConfiguration)

	_, pending := ml.hub.Take()
	assert.False(t, pending)
	assert.Equal(t, sharemove.StateWaitingForInitialization, ml.nodes[ml.master].session.State())
}

func TestNonceMismatchRejectedBeforeStateMutation(t *testing.T) {
	ctx := context.Background()
	ml := newMessageLoop(t, 1, 3, 1)
	peer := ml.nodes[ml.holders[1]].session

	msg := &message.InitializeShareMoveSession{
		SessionHeader: message.SessionHeader{
			SessionID:    ml.sessionID,
			SubSessionID: testSubSession,
			SessionNonce: testNonce + 1,
		},
		SharesToMove: map[cluster.NodeID]cluster.NodeID{ml.holders[2]: ml.joiners[0]},
	}
	err := peer.ProcessMessage(ctx, ml.master, msg)
	assert.ErrorIs(t, err, cluster.ErrReplayProtection)
	assert.Equal(t, sharemove.StateWaitingForInitialization, peer.State())
}

func TestDuplicateInitializationConfirmation(t *testing.T) {
	ctx := context.Background()
	ml := newMessageLoop(t, 1, 3, 1)
	master := ml.nodes[ml.master].session

	err := master.Initialize(ctx, map[cluster.NodeID]cluster.NodeID{ml.holders[1]: ml.joiners[0]})
	require.NoError(t, err)
	ml.drain()

	confirm := &message.ConfirmShareMoveInitialization{SessionHeader: header()}
	require.NoError(t, master.ProcessMessage(ctx, ml.holders[2], confirm))

	err = master.ProcessMessage(ctx, ml.holders[2], confirm)
	assert.ErrorIs(t, err, cluster.ErrInvalidMessage)
}

func TestInitializationFromNonMasterRejected(t *testing.T) {
	ctx := context.Background()
	ml := newMessageLoop(t, 1, 3, 1)
	peer := ml.nodes[ml.holders[1]].session

	msg := &message.InitializeShareMoveSession{
		SessionHeader: header(),
		SharesToMove:  map[cluster.NodeID]cluster.NodeID{ml.holders[2]: ml.joiners[0]},
	}
	err := peer.ProcessMessage(ctx, ml.holders[2], msg)
	assert.ErrorIs(t, err, cluster.ErrInvalidMessage)
	assert.Equal(t, sharemove.StateWaitingForInitialization, peer.State())
}

func TestUnassignedShareDeliveryRejected(t *testing.T) {
	ctx := context.Background()
	ml := newMessageLoop(t, 1, 3, 1)
	source := ml.holders[1]
	target := ml.joiners[0]
	dest := ml.nodes[target].session

	init := &message.InitializeShareMoveSession{
		SessionHeader: header(),
		SharesToMove:  map[cluster.NodeID]cluster.NodeID{source: target},
	}
	require.NoError(t, dest.ProcessMessage(ctx, ml.master, init))
	ml.drain()

	// a node other than the assigned source tries to inject share material
	delivery := message.FromRecord(header(), ml.records[ml.holders[2]])
	err := dest.ProcessMessage(ctx, ml.holders[2], delivery)
	assert.ErrorIs(t, err, cluster.ErrInvalidMessage)

	_, err = ml.nodes[target].store.Get(ctx, ml.sessionID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSessionErrorForcesTermination(t *testing.T) {
	ctx := context.Background()
	ml := newMessageLoop(t, 1, 3, 1)

	err := ml.nodes[ml.master].session.Initialize(ctx, map[cluster.NodeID]cluster.NodeID{ml.holders[1]: ml.joiners[0]})
	require.NoError(t, err)
	ml.drain()

	failure := &message.ShareMoveError{SessionHeader: header(), Reason: "simulated failure"}
	for id, n := range ml.nodes {
		require.NoError(t, n.session.ProcessMessage(ctx, ml.holders[2], failure))
		assert.True(t, n.session.IsFinished(), "session on %s not terminated", id)
	}

	// a terminated session emits nothing
	_, pending := ml.hub.Take()
	assert.False(t, pending)
}

type mockKeyStorage struct {
	mock.Mock
}

func (m *mockKeyStorage) Get(ctx context.Context, id cluster.SessionID) (*cluster.ShareRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cluster.ShareRecord), args.Error(1)
}

func (m *mockKeyStorage) Insert(ctx context.Context, id cluster.SessionID, record *cluster.ShareRecord) error {
	return m.Called(ctx, id, record).Error(0)
}

func (m *mockKeyStorage) Update(ctx context.Context, id cluster.SessionID, record *cluster.ShareRecord) error {
	return m.Called(ctx, id, record).Error(0)
}

func (m *mockKeyStorage) Remove(ctx context.Context, id cluster.SessionID) error {
	return m.Called(ctx, id).Error(0)
}

func TestCompletionSurfacesStorageFailure(t *testing.T) {
	ctx := context.Background()
	ml := newMessageLoop(t, 1, 3, 1)
	source := ml.holders[1]
	target := ml.joiners[0]
	staying := ml.holders[2]

	mockStore := new(mockKeyStorage)
	mockStore.On("Update", mock.Anything, ml.sessionID, mock.AnythingOfType("*cluster.ShareRecord")).
		Return(assert.AnError).Once()
	session := ml.newSession(staying, ml.records[staying], mockStore)

	init := &message.InitializeShareMoveSession{
		SessionHeader: header(),
		SharesToMove:  map[cluster.NodeID]cluster.NodeID{source: target},
	}
	require.NoError(t, session.ProcessMessage(ctx, ml.master, init))

	// the destination's confirmation empties the outstanding set and
	// triggers completion, whose persistence fails
	err := session.ProcessMessage(ctx, target, &message.ShareMoveConfirm{SessionHeader: header()})
	require.Error(t, err)

	var storageErr *cluster.StorageError
	assert.ErrorAs(t, err, &storageErr)
	assert.ErrorIs(t, err, assert.AnError)
	mockStore.AssertExpectations(t)
}
