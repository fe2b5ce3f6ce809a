package pusher

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-db/replicore/internal/blip"
	"github.com/inkwell-db/replicore/internal/checkpoint"
	"github.com/inkwell-db/replicore/internal/cookiejar"
	"github.com/inkwell-db/replicore/internal/replicator/dbactor"
	"github.com/inkwell-db/replicore/internal/store"
	"github.com/inkwell-db/replicore/internal/transport/faketransport"
)

type fakeCheckpointLocal struct{ data map[string][]byte }

func (f *fakeCheckpointLocal) GetCheckpoint(id string) ([]byte, bool, error) {
	d, ok := f.data[id]
	return d, ok, nil
}
func (f *fakeCheckpointLocal) SetCheckpoint(id string, data []byte) error {
	f.data[id] = append([]byte(nil), data...)
	return nil
}

type fakeCheckpointRemote struct{ data map[string][]byte }

func (f *fakeCheckpointRemote) GetRemoteCheckpoint(id string) ([]byte, bool, error) {
	d, ok := f.data[id]
	return d, ok, nil
}
func (f *fakeCheckpointRemote) SetRemoteCheckpoint(id string, data []byte, priorRev string) (string, error) {
	f.data[id] = append([]byte(nil), data...)
	return "rev1", nil
}

func newTestCheckpointStore() *checkpoint.Store {
	return checkpoint.New("chan1",
		&fakeCheckpointLocal{data: map[string][]byte{}},
		&fakeCheckpointRemote{data: map[string][]byte{}},
	)
}

// stubPeer answers a pusher's "changes"/"rev" requests directly, without a
// real puller, so the pusher's own logic (batching, checkpoint advance,
// state transitions) can be tested in isolation.
func stubPeerAcceptingAll(sender *blip.Sender) {
	sender.RegisterHandler(blip.ProfileChanges, func(ctx context.Context, msg blip.Message) blip.Message {
		var wire []changeWire
		_ = json.Unmarshal(msg.Body, &wire)
		wanted := make([]bool, len(wire))
		for i := range wanted {
			wanted[i] = true
		}
		body, _ := json.Marshal(wanted)
		return msg.Reply(nil, body)
	})
	sender.RegisterHandler(blip.ProfileRev, func(ctx context.Context, msg blip.Message) blip.Message {
		return msg.Reply(nil, nil)
	})
}

func TestPusherPushesAndAdvancesCheckpoint(t *testing.T) {
	db, err := store.Open(t.TempDir())
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.PutLocalRevision("doc1", "1-aaa", "", []byte("body"), false))

	actor := dbactor.New(db, cookiejar.New(), "peer1")
	defer actor.Stop()

	connA, connB := faketransport.Pair()
	senderA := blip.NewSender(connA)
	senderB := blip.NewSender(connB)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go senderA.Run(ctx)
	go senderB.Run(ctx)

	stubPeerAcceptingAll(senderB)

	cp := newTestCheckpointStore()
	p := New(Config{RemoteID: "peer1", BatchSize: 10}, actor, senderA, cp)
	p.Start(ctx)
	defer p.Stop()

	require.Eventually(t, func() bool {
		return p.State() == CaughtUp
	}, 2*time.Second, 10*time.Millisecond)

	got, err := cp.Reconcile()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.LastSequencePushed)
}

// TestPusherCheckpointStopsAtFirstFailedSend simulates the peer rejecting
// the second revision of a two-revision batch, and checks that the
// checkpoint only advances to the sequence of the revision that was
// actually acknowledged, never past the failed one.
func TestPusherCheckpointStopsAtFirstFailedSend(t *testing.T) {
	db, err := store.Open(t.TempDir())
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.PutLocalRevision("doc1", "1-aaa", "", []byte("body1"), false))
	require.NoError(t, db.PutLocalRevision("doc2", "1-bbb", "", []byte("body2"), false))

	actor := dbactor.New(db, cookiejar.New(), "peer1")
	defer actor.Stop()

	connA, connB := faketransport.Pair()
	senderA := blip.NewSender(connA)
	senderB := blip.NewSender(connB)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go senderA.Run(ctx)
	go senderB.Run(ctx)

	senderB.RegisterHandler(blip.ProfileChanges, func(ctx context.Context, msg blip.Message) blip.Message {
		var wire []changeWire
		_ = json.Unmarshal(msg.Body, &wire)
		wanted := make([]bool, len(wire))
		for i := range wanted {
			wanted[i] = true
		}
		body, _ := json.Marshal(wanted)
		return msg.Reply(nil, body)
	})
	senderB.RegisterHandler(blip.ProfileRev, func(ctx context.Context, msg blip.Message) blip.Message {
		if msg.Properties["id"] == "doc2" {
			return msg.ReplyError("simulated send failure")
		}
		return msg.Reply(nil, nil)
	})

	cp := newTestCheckpointStore()
	p := New(Config{RemoteID: "peer1", BatchSize: 10, SendWindow: 1}, actor, senderA, cp)
	p.Start(ctx)
	defer p.Stop()

	require.Eventually(t, func() bool {
		got, err := cp.Reconcile()
		return err == nil && got.LastSequencePushed == 1
	}, 2*time.Second, 10*time.Millisecond)

	got, err := cp.Reconcile()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.LastSequencePushed, "checkpoint must not advance past doc2's still-unacknowledged revision")
}

func TestPusherOneShotStopsAfterCaughtUp(t *testing.T) {
	db, err := store.Open(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	actor := dbactor.New(db, cookiejar.New(), "peer1")
	defer actor.Stop()

	connA, connB := faketransport.Pair()
	senderA := blip.NewSender(connA)
	senderB := blip.NewSender(connB)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go senderA.Run(ctx)
	go senderB.Run(ctx)
	stubPeerAcceptingAll(senderB)

	cp := newTestCheckpointStore()
	p := New(Config{RemoteID: "peer1"}, actor, senderA, cp)
	p.Start(ctx)

	select {
	case <-p.doneCh:
	case <-time.After(2 * time.Second):
		t.Fatal("one-shot pusher never exited on an empty feed")
	}
}
