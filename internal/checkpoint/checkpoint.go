// Package checkpoint implements the CheckpointStore: a resumption
// marker keyed by a digest over (local DB UUID, remote URL,
// filter options, protocol version), mirrored between the local database
// and the peer, reconciled on startup.
package checkpoint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// ProtocolVersion is included in the checkpoint digest so that a future
// wire-protocol revision never collides with an older checkpoint.
const ProtocolVersion = 1

// LocalStore is the subset of the local database the checkpoint store
// needs, satisfied by internal/store in production and a fake in tests.
type LocalStore interface {
	GetCheckpoint(checkpointID string) (data []byte, found bool, err error)
	SetCheckpoint(checkpointID string, data []byte) error
}

// RemoteFetcher retrieves and stores the peer's mirror of the checkpoint,
// implemented over the wire protocol's getCheckpoint/setCheckpoint
// profiles (internal/blip).
type RemoteFetcher interface {
	GetRemoteCheckpoint(checkpointID string) (data []byte, found bool, err error)
	SetRemoteCheckpoint(checkpointID string, data []byte, priorRev string) (newRev string, err error)
}

// Key computes the stable checkpoint digest from the replication
// channel's identity.
func Key(localDBUUID, remoteURL string, filterOptions []byte) string {
	h := sha256.New()
	h.Write([]byte(localDBUUID))
	h.Write([]byte{0})
	h.Write([]byte(remoteURL))
	h.Write([]byte{0})
	h.Write(filterOptions)
	h.Write([]byte{0})
	var v [4]byte
	binary.BigEndian.PutUint32(v[:], ProtocolVersion)
	h.Write(v[:])
	return hex.EncodeToString(h.Sum(nil))
}

// Checkpoint is the decoded body of a checkpoint document: the last local
// sequence successfully pushed, and an opaque cursor describing the last
// revision pulled.
type Checkpoint struct {
	LastSequencePushed uint64
	PullCursor         string
}

// Encode serializes a checkpoint body: uvarint LastSequencePushed followed
// by a length-prefixed PullCursor.
func Encode(c Checkpoint) []byte {
	buf := make([]byte, 0, 16+len(c.PullCursor))
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], c.LastSequencePushed)
	buf = append(buf, tmp[:n]...)
	n = binary.PutUvarint(tmp[:], uint64(len(c.PullCursor)))
	buf = append(buf, tmp[:n]...)
	buf = append(buf, c.PullCursor...)
	return buf
}

// Decode parses a checkpoint body produced by Encode.
func Decode(data []byte) (Checkpoint, error) {
	seq, n := binary.Uvarint(data)
	if n <= 0 {
		return Checkpoint{}, fmt.Errorf("checkpoint: truncated sequence")
	}
	data = data[n:]
	cursorLen, n := binary.Uvarint(data)
	if n <= 0 {
		return Checkpoint{}, fmt.Errorf("checkpoint: truncated cursor length")
	}
	data = data[n:]
	if uint64(len(data)) < cursorLen {
		return Checkpoint{}, fmt.Errorf("checkpoint: truncated cursor")
	}
	return Checkpoint{LastSequencePushed: seq, PullCursor: string(data[:cursorLen])}, nil
}

// Store ties together the key, local persistence and remote reconciliation
// for one replication channel.
type Store struct {
	id     string
	local  LocalStore
	remote RemoteFetcher

	remoteRev string
}

// New creates a Store for the channel identified by id (see Key).
func New(id string, local LocalStore, remote RemoteFetcher) *Store {
	return &Store{id: id, local: local, remote: remote}
}

// ID returns the channel's checkpoint digest.
func (s *Store) ID() string { return s.id }

// Reconcile fetches both mirrors and resolves disagreement: if the
// remote side is absent, start from zero; if present but
// different from local (or the local side is absent), the pushed sequence
// restarts from zero — the revision tree rejects duplicates, so this is
// safe — while the pull cursor is taken from the remote, which avoids
// reprocessing what it already has.
func (s *Store) Reconcile() (Checkpoint, error) {
	localData, localFound, err := s.local.GetCheckpoint(s.id)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("checkpoint: read local: %w", err)
	}
	remoteData, remoteFound, err := s.remote.GetRemoteCheckpoint(s.id)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("checkpoint: read remote: %w", err)
	}

	if !remoteFound {
		return Checkpoint{}, nil
	}

	remoteCP, err := Decode(remoteData)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("checkpoint: decode remote: %w", err)
	}

	if !localFound {
		return Checkpoint{PullCursor: remoteCP.PullCursor}, nil
	}

	localCP, err := Decode(localData)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("checkpoint: decode local: %w", err)
	}

	if localCP != remoteCP {
		return Checkpoint{PullCursor: remoteCP.PullCursor}, nil
	}
	return localCP, nil
}

// Save persists cp to the local store and pushes it to the remote,
// chaining the prior remote revision so the peer can detect conflicting
// writers.
func (s *Store) Save(cp Checkpoint) error {
	data := Encode(cp)
	if err := s.local.SetCheckpoint(s.id, data); err != nil {
		return fmt.Errorf("checkpoint: write local: %w", err)
	}
	newRev, err := s.remote.SetRemoteCheckpoint(s.id, data, s.remoteRev)
	if err != nil {
		return fmt.Errorf("checkpoint: write remote: %w", err)
	}
	s.remoteRev = newRev
	return nil
}
