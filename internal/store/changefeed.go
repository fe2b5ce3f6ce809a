package store

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/inkwell-db/replicore/internal/revtree"
)

// changeRecord is the persisted form of a revtree.ChangeEntry.
type changeRecord struct {
	DocID    string `json:"doc_id"`
	RevID    string `json:"rev_id"`
	Deleted  bool   `json:"deleted,omitempty"`
	BodySize int    `json:"body_size"`
	Foreign  bool   `json:"foreign,omitempty"`
}

// appendChange assigns the bucket's next sequence number to a new change
// log entry within tx, returning the assigned sequence.
func appendChange(tx *bolt.Tx, docID, revID string, deleted bool, bodySize int, foreign bool) (uint64, error) {
	b := tx.Bucket(bucketChanges)
	seq, err := b.NextSequence()
	if err != nil {
		return 0, fmt.Errorf("store: next sequence: %w", err)
	}
	rec := changeRecord{DocID: docID, RevID: revID, Deleted: deleted, BodySize: bodySize, Foreign: foreign}
	data, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("store: encode change: %w", err)
	}
	if err := b.Put(seqKey(seq), data); err != nil {
		return 0, err
	}
	return seq, nil
}

// GetChangesSince enumerates changes after sequence "since" in increasing
// order, per get_changes: optionally filtered to an
// explicit docID allow-set, and optionally excluding deleted or foreign
// (peer-originated) tip revisions. limit <= 0 means unlimited.
func (s *Store) GetChangesSince(since uint64, docIDs map[string]bool, limit int, skipDeleted, skipForeign bool) ([]revtree.ChangeEntry, error) {
	var out []revtree.ChangeEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketChanges)
		c := b.Cursor()
		start := seqKey(since + 1)
		for k, v := c.Seek(start); k != nil; k, v = c.Next() {
			seq := seqFromKey(k)
			var rec changeRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("store: decode change at seq %d: %w", seq, err)
			}
			if docIDs != nil && !docIDs[rec.DocID] {
				continue
			}
			if skipDeleted && rec.Deleted {
				continue
			}
			if skipForeign && rec.Foreign {
				continue
			}
			out = append(out, revtree.ChangeEntry{
				Sequence: seq,
				DocID:    revtree.DocID(rec.DocID),
				RevID:    revtree.RevID(rec.RevID),
				Deleted:  rec.Deleted,
				BodySize: rec.BodySize,
				Foreign:  rec.Foreign,
			})
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	return out, err
}

// LastSequence returns the highest sequence number assigned so far, or 0
// if the change log is empty.
func (s *Store) LastSequence() (uint64, error) {
	var last uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketChanges)
		k, _ := b.Cursor().Last()
		if k != nil {
			last = seqFromKey(k)
		}
		return nil
	})
	return last, err
}
