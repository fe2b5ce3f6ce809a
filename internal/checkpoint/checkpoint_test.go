package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLocal struct {
	data map[string][]byte
}

func newFakeLocal() *fakeLocal { return &fakeLocal{data: map[string][]byte{}} }

func (f *fakeLocal) GetCheckpoint(id string) ([]byte, bool, error) {
	d, ok := f.data[id]
	return d, ok, nil
}

func (f *fakeLocal) SetCheckpoint(id string, data []byte) error {
	f.data[id] = append([]byte(nil), data...)
	return nil
}

type fakeRemote struct {
	data map[string][]byte
	rev  map[string]string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{data: map[string][]byte{}, rev: map[string]string{}}
}

func (f *fakeRemote) GetRemoteCheckpoint(id string) ([]byte, bool, error) {
	d, ok := f.data[id]
	return d, ok, nil
}

func (f *fakeRemote) SetRemoteCheckpoint(id string, data []byte, priorRev string) (string, error) {
	f.data[id] = append([]byte(nil), data...)
	next := f.rev[id] + "x"
	f.rev[id] = next
	return next, nil
}

func TestKeyIsStableAndDistinguishesChannels(t *testing.T) {
	k1 := Key("uuid-1", "wss://peer/db", nil)
	k2 := Key("uuid-1", "wss://peer/db", nil)
	k3 := Key("uuid-1", "wss://other/db", nil)
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cp := Checkpoint{LastSequencePushed: 42, PullCursor: "cursor-abc"}
	got, err := Decode(Encode(cp))
	require.NoError(t, err)
	assert.Equal(t, cp, got)
}

func TestReconcileAbsentRemoteStartsFromZero(t *testing.T) {
	local := newFakeLocal()
	remote := newFakeRemote()
	s := New("chan1", local, remote)

	cp, err := s.Reconcile()
	require.NoError(t, err)
	assert.Equal(t, Checkpoint{}, cp)
}

func TestReconcileDisagreementTrustsRemote(t *testing.T) {
	local := newFakeLocal()
	remote := newFakeRemote()
	s := New("chan1", local, remote)

	require.NoError(t, local.SetCheckpoint("chan1", Encode(Checkpoint{LastSequencePushed: 5})))
	remote.data["chan1"] = Encode(Checkpoint{LastSequencePushed: 9, PullCursor: "r"})

	cp, err := s.Reconcile()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), cp.LastSequencePushed)
	assert.Equal(t, "r", cp.PullCursor)
}

func TestReconcileAgreementKeepsValue(t *testing.T) {
	local := newFakeLocal()
	remote := newFakeRemote()
	s := New("chan1", local, remote)

	cp := Checkpoint{LastSequencePushed: 7, PullCursor: "c"}
	require.NoError(t, local.SetCheckpoint("chan1", Encode(cp)))
	remote.data["chan1"] = Encode(cp)

	got, err := s.Reconcile()
	require.NoError(t, err)
	assert.Equal(t, cp, got)
}

func TestSavePersistsBothSides(t *testing.T) {
	local := newFakeLocal()
	remote := newFakeRemote()
	s := New("chan1", local, remote)

	cp := Checkpoint{LastSequencePushed: 3}
	require.NoError(t, s.Save(cp))

	localData, ok, err := local.GetCheckpoint("chan1")
	require.NoError(t, err)
	require.True(t, ok)
	got, err := Decode(localData)
	require.NoError(t, err)
	assert.Equal(t, cp, got)
}
