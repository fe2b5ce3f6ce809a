package replicator_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/inkwell-db/replicore/internal/blip"
	"github.com/inkwell-db/replicore/internal/checkpoint"
	"github.com/inkwell-db/replicore/internal/cookiejar"
	"github.com/inkwell-db/replicore/internal/replicator"
	"github.com/inkwell-db/replicore/internal/replicator/dbactor"
	"github.com/inkwell-db/replicore/internal/replicator/pusher"
	"github.com/inkwell-db/replicore/internal/replicator/puller"
	"github.com/inkwell-db/replicore/internal/store"
	"github.com/inkwell-db/replicore/internal/transport/faketransport"
)

// TestPushOneShotReplicatesToPeer wires a pusher on side A to a puller on
// side B over an in-memory transport and checks that a locally authored
// revision on A ends up committed on B, with the push checkpoint
// advancing on A — a fresh one-shot push.
func TestPushOneShotReplicatesToPeer(t *testing.T) {
	storeA, err := store.Open(t.TempDir())
	require.NoError(t, err)
	defer storeA.Close()
	storeB, err := store.Open(t.TempDir())
	require.NoError(t, err)
	defer storeB.Close()

	require.NoError(t, storeA.PutLocalRevision("doc1", "1-aaa", "", []byte(`{"x":1}`), false))

	actorA := dbactor.New(storeA, cookiejar.New(), "peerB")
	defer actorA.Stop()
	actorB := dbactor.New(storeB, cookiejar.New(), "peerA")
	defer actorB.Stop()

	connA, connB := faketransport.Pair()
	senderA := blip.NewSender(connA)
	senderB := blip.NewSender(connB)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go senderA.Run(ctx)
	go senderB.Run(ctx)

	replicator.ServeCheckpointRequests(senderA, actorA)
	replicator.ServeCheckpointRequests(senderB, actorB)

	pullerB := puller.New(puller.Config{RemoteID: "peerA"}, actorB, checkpoint.New(
		"chan-b", storeB, replicator.NewRemoteCheckpoint(senderB),
	))
	require.NoError(t, pullerB.Start(ctx))
	pullerB.RegisterHandlers(senderB)

	checkpointsA := checkpoint.New("chan-a", storeA, replicator.NewRemoteCheckpoint(senderA))
	pusherA := pusher.New(pusher.Config{RemoteID: "peerA", BatchSize: 10}, actorA, senderA, checkpointsA)
	pusherA.Start(ctx)
	defer pusherA.Stop()

	require.Eventually(t, func() bool {
		body, _, _, _, err := storeB.ReadRevision("doc1", "1-aaa")
		return err == nil && string(body) == `{"x":1}`
	}, 2*time.Second, 10*time.Millisecond, "revision never replicated to peer B")

	require.Eventually(t, func() bool {
		return pusherA.State() == pusher.CaughtUp
	}, 2*time.Second, 10*time.Millisecond, "pusher never reached caught-up")
}

// TestReplicatorCoordinatorPushesThroughPublicAPI exercises the
// Replicator coordinator's own New/Start/Stop lifecycle end to end,
// rather than wiring pusher/puller by hand as the test above does.
func TestReplicatorCoordinatorPushesThroughPublicAPI(t *testing.T) {
	storeA, err := store.Open(t.TempDir())
	require.NoError(t, err)
	defer storeA.Close()
	storeB, err := store.Open(t.TempDir())
	require.NoError(t, err)
	defer storeB.Close()

	require.NoError(t, storeA.PutLocalRevision("doc1", "1-aaa", "", []byte(`{"x":1}`), false))

	connA, connB := faketransport.Pair()

	repA, err := replicator.New(replicator.Config{
		RemoteID:  "peerB",
		RemoteURL: "fake://peerB",
		Push:      true,
	}, storeA, cookiejar.New(), connA)
	require.NoError(t, err)

	repB, err := replicator.New(replicator.Config{
		RemoteID:  "peerA",
		RemoteURL: "fake://peerA",
		Pull:      true,
	}, storeB, cookiejar.New(), connB)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, repA.Start(ctx))
	require.NoError(t, repB.Start(ctx))
	defer repA.Stop()
	defer repB.Stop()

	require.Eventually(t, func() bool {
		body, _, _, _, err := storeB.ReadRevision("doc1", "1-aaa")
		return err == nil && string(body) == `{"x":1}`
	}, 2*time.Second, 10*time.Millisecond, "revision never replicated through the coordinator")

	status := repA.Status()
	require.True(t, status.Running)
	require.Equal(t, "peerB", status.RemoteID)
	require.True(t, status.Push.Enabled)
	require.False(t, status.Pull.Enabled)

	repA.Stop()
	require.Equal(t, replicator.Offline, repA.Status().State)
}

// TestContinuousChannelSendsHeartbeats checks that a continuous channel
// with a short heartbeat interval actually exchanges keep-alive frames,
// rather than HeartbeatSeconds sitting unused.
func TestContinuousChannelSendsHeartbeats(t *testing.T) {
	storeA, err := store.Open(t.TempDir())
	require.NoError(t, err)
	defer storeA.Close()
	storeB, err := store.Open(t.TempDir())
	require.NoError(t, err)
	defer storeB.Close()

	connA, connB := faketransport.Pair()

	repA, err := replicator.New(replicator.Config{
		RemoteID:         "peerB",
		RemoteURL:        "fake://peerB",
		Pull:             true,
		Continuous:       true,
		HeartbeatSeconds: 1,
	}, storeA, cookiejar.New(), connA)
	require.NoError(t, err)

	var heartbeats int32
	senderB := blip.NewSender(connB)
	actorB := dbactor.New(storeB, cookiejar.New(), "peerA")
	defer actorB.Stop()
	replicator.ServeCheckpointRequests(senderB, actorB)
	senderB.RegisterHandler(blip.ProfileHeartbeat, func(ctx context.Context, msg blip.Message) blip.Message {
		atomic.AddInt32(&heartbeats, 1)
		return msg.Reply(nil, nil)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go senderB.Run(ctx)

	require.NoError(t, repA.Start(ctx))
	defer repA.Stop()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&heartbeats) >= 2
	}, 5*time.Second, 50*time.Millisecond, "continuous channel never sent a heartbeat")
}
