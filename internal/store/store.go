// Package store is the bbolt-backed storage engine the replicator's
// DBActor drives: enumerate changes since sequence N, read/write a document with a
// revision history, insert or merge a foreign revision into the revision
// tree, and maintain a per-remote "last synced" marker per document.
package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/inkwell-db/replicore/internal/revtree"
)

var (
	bucketDocs          = []byte("docs")
	bucketChanges       = []byte("changes")
	bucketCheckpoints   = []byte("checkpoints")
	bucketRemoteMarkers = []byte("remote_markers")
	bucketRemoteBlobs   = []byte("remote_blobs")
	bucketMeta          = []byte("meta")

	metaUUIDKey = []byte("uuid")
)

// Store is the bbolt-backed document and revision-tree store for one
// embedded database.
type Store struct {
	db *bolt.DB

	mu          sync.Mutex
	subscribers []chan struct{}
}

// Open opens (creating if absent) the database file "replicore.db" under
// dataDir and ensures all reserved buckets exist.
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "replicore.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketDocs, bucketChanges, bucketCheckpoints, bucketRemoteMarkers, bucketRemoteBlobs, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// UUID returns this database's stable identity, generating and persisting
// one on first call. It anchors the checkpoint digest across process
// restarts.
func (s *Store) UUID() (string, error) {
	var id string
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		if v := b.Get(metaUUIDKey); v != nil {
			id = string(v)
			return nil
		}
		id = uuid.NewString()
		return b.Put(metaUUIDKey, []byte(id))
	})
	return id, err
}

// revNode is one revision in a document's tree.
type revNode struct {
	RevID          string `json:"rev"`
	ParentRevID    string `json:"parent,omitempty"`
	Body           []byte `json:"body,omitempty"`
	Deleted        bool   `json:"deleted,omitempty"`
	HasAttachments bool   `json:"has_attachments,omitempty"`
	Foreign        bool   `json:"foreign,omitempty"`
}

// docRecord is the persisted form of a document: every known revision plus
// the current set of leaf (tip) revisions. Leaves number more than one
// only when replication has introduced a conflict.
type docRecord struct {
	DocID     string             `json:"doc_id"`
	Revisions map[string]revNode `json:"revisions"`
	Leaves    []string           `json:"leaves"`
}

func seqKey(seq uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seq)
	return b[:]
}

func seqFromKey(k []byte) uint64 {
	return binary.BigEndian.Uint64(k)
}

// IsEmpty reports whether the database has committed any changes yet
// (sequence count == 0), per get_checkpoint's dbIsEmpty result.
func (s *Store) IsEmpty() (bool, error) {
	empty := true
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketChanges)
		c := b.Cursor()
		if k, _ := c.First(); k != nil {
			empty = false
		}
		return nil
	})
	return empty, err
}

// GetCheckpoint implements checkpoint.LocalStore.
func (s *Store) GetCheckpoint(checkpointID string) ([]byte, bool, error) {
	var data []byte
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCheckpoints)
		v := b.Get([]byte(checkpointID))
		if v != nil {
			data = append([]byte(nil), v...)
			found = true
		}
		return nil
	})
	return data, found, err
}

// SetCheckpoint implements checkpoint.LocalStore.
func (s *Store) SetCheckpoint(checkpointID string, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCheckpoints).Put([]byte(checkpointID), data)
	})
}

// remoteBlobKey namespaces opaque per-remote blobs (e.g. an encoded
// cookie jar) by remote identity and purpose.
func remoteBlobKey(remoteID, name string) []byte {
	return []byte(remoteID + "\x00" + name)
}

// GetRemoteBlob reads an opaque per-remote document — cookies live in
// one of these, under a reserved name.
func (s *Store) GetRemoteBlob(remoteID, name string) ([]byte, bool, error) {
	var data []byte
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketRemoteBlobs).Get(remoteBlobKey(remoteID, name))
		if v != nil {
			data = append([]byte(nil), v...)
			found = true
		}
		return nil
	})
	return data, found, err
}

// SetRemoteBlob writes an opaque per-remote document.
func (s *Store) SetRemoteBlob(remoteID, name string, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRemoteBlobs).Put(remoteBlobKey(remoteID, name), data)
	})
}

// GetRemoteMarker returns the last-synced revID this store has recorded
// for (remoteID, docID). The pusher does not read it: revisions received
// from a remote are still announced back to that remote, which reports
// them as already known.
func (s *Store) GetRemoteMarker(remoteID, docID string) (string, bool, error) {
	var rev string
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketRemoteMarkers).Get(remoteMarkerKey(remoteID, docID))
		if v != nil {
			rev = string(v)
			found = true
		}
		return nil
	})
	return rev, found, err
}

func remoteMarkerKey(remoteID, docID string) []byte {
	return []byte(remoteID + "\x00" + docID)
}

// setRemoteMarkerTx updates the last-synced marker inside an existing
// transaction, used from the batched insert commit.
func setRemoteMarkerTx(tx *bolt.Tx, remoteID, docID, revID string) error {
	return tx.Bucket(bucketRemoteMarkers).Put(remoteMarkerKey(remoteID, docID), []byte(revID))
}

// Subscribe registers a channel that receives a non-blocking notification
// after every committed local revision or insert batch, for the pusher's
// continuous-mode change observer.
func (s *Store) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.subscribers = append(s.subscribers, ch)
	s.mu.Unlock()
	return ch
}

// Unsubscribe removes a channel previously returned by Subscribe.
func (s *Store) Unsubscribe(ch <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subscribers {
		if sub == ch {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			return
		}
	}
}

func (s *Store) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func loadDocRecord(tx *bolt.Tx, docID string) (*docRecord, bool, error) {
	v := tx.Bucket(bucketDocs).Get([]byte(docID))
	if v == nil {
		return nil, false, nil
	}
	var rec docRecord
	if err := json.Unmarshal(v, &rec); err != nil {
		return nil, false, fmt.Errorf("store: decode doc %q: %w", docID, err)
	}
	return &rec, true, nil
}

func saveDocRecord(tx *bolt.Tx, rec *docRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: encode doc %q: %w", rec.DocID, err)
	}
	return tx.Bucket(bucketDocs).Put([]byte(rec.DocID), data)
}

func removeLeaf(leaves []string, revID string) []string {
	out := leaves[:0]
	for _, l := range leaves {
		if l != revID {
			out = append(out, l)
		}
	}
	return out
}

func sortedLeaves(rec *docRecord) []string {
	out := append([]string(nil), rec.Leaves...)
	sort.Strings(out)
	return out
}
