package store

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	bolt "go.etcd.io/bbolt"

	"github.com/inkwell-db/replicore/internal/revtree"
)

func generation(revID string) int {
	gen, _, ok := splitRevID(revID)
	if !ok {
		return 0
	}
	return gen
}

func splitRevID(revID string) (gen int, digest string, ok bool) {
	dash := strings.IndexByte(revID, '-')
	if dash <= 0 {
		return 0, "", false
	}
	n, err := strconv.Atoi(revID[:dash])
	if err != nil {
		return 0, "", false
	}
	return n, revID[dash+1:], true
}

// PutLocalRevision records a revision authored directly on this database
// (not via replication), appending a change log entry. parentRevID is ""
// for a document's first revision.
func (s *Store) PutLocalRevision(docID, revID, parentRevID string, body []byte, deleted bool) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		rec, found, err := loadDocRecord(tx, docID)
		if err != nil {
			return err
		}
		if !found {
			rec = &docRecord{DocID: docID, Revisions: map[string]revNode{}}
		}
		rec.Revisions[revID] = revNode{RevID: revID, ParentRevID: parentRevID, Body: body, Deleted: deleted}
		rec.Leaves = removeLeaf(rec.Leaves, parentRevID)
		rec.Leaves = append(rec.Leaves, revID)
		if err := saveDocRecord(tx, rec); err != nil {
			return err
		}
		_, err = appendChange(tx, docID, revID, deleted, len(body), false)
		return err
	})
	if err != nil {
		return err
	}
	s.notify()
	return nil
}

// RevInsertResult reports the outcome of inserting one revision from an
// InsertBatch call.
type RevInsertResult struct {
	DocID    string
	RevID    string
	Conflict bool
	Err      error
}

// InsertBatch implements the batched insert algorithm: a single write
// transaction, each revision inserted in arrival order with
// its supplied history (a conflicting revision is inserted as an extra
// leaf and flagged in its result), one commit, and a per-remote
// last-synced marker update for every successfully inserted foreign
// revision.
func (s *Store) InsertBatch(remoteID string, revs []revtree.RevToInsert) ([]RevInsertResult, error) {
	results := make([]RevInsertResult, len(revs))
	err := s.db.Update(func(tx *bolt.Tx) error {
		for i, rev := range revs {
			conflict, err := insertOneTx(tx, rev)
			results[i] = RevInsertResult{DocID: string(rev.DocID), RevID: string(rev.RevID), Conflict: conflict, Err: err}
			if err != nil {
				continue
			}
			if _, err := appendChange(tx, string(rev.DocID), string(rev.RevID), rev.Deleted, len(rev.Body), true); err != nil {
				results[i].Err = err
				continue
			}
			if err := setRemoteMarkerTx(tx, remoteID, string(rev.DocID), string(rev.RevID)); err != nil {
				results[i].Err = err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: insert batch commit: %w", err)
	}
	s.notify()
	return results, nil
}

// insertOneTx inserts a single foreign revision into its document's tree.
// The insert is always forced: there is no generation check and no second
// attempt. conflict reports that the document already had leaves and the
// revision's parent (its first history entry, or none) is not one of them;
// the revision is then added as an additional leaf.
func insertOneTx(tx *bolt.Tx, rev revtree.RevToInsert) (conflict bool, err error) {
	docID := string(rev.DocID)
	revID := string(rev.RevID)
	parent := ""
	if len(rev.History) > 0 {
		parent = string(rev.History[0])
	}

	rec, found, err := loadDocRecord(tx, docID)
	if err != nil {
		return false, err
	}
	if !found {
		rec = &docRecord{DocID: docID, Revisions: map[string]revNode{}}
	}

	if _, already := rec.Revisions[revID]; already {
		return false, nil // already known; nothing to do
	}

	conflict = len(rec.Leaves) > 0 && !containsString(rec.Leaves, parent)

	rec.Revisions[revID] = revNode{
		RevID:          revID,
		ParentRevID:    parent,
		Body:           rev.Body,
		Deleted:        rev.Deleted,
		HasAttachments: rev.HasAttachments,
		Foreign:        true,
	}
	if parent != "" {
		rec.Leaves = removeLeaf(rec.Leaves, parent)
	}
	rec.Leaves = append(rec.Leaves, revID)

	if err := saveDocRecord(tx, rec); err != nil {
		return conflict, err
	}
	return conflict, nil
}

func containsString(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

// FindAncestors walks the known revision tree for docID and returns up to
// revtree.MaxPossibleAncestors revIDs in descending generation order, for
// the peer to compute a smaller delta via find_ancestors.
func (s *Store) FindAncestors(docID string) ([]string, error) {
	var out []string
	err := s.db.View(func(tx *bolt.Tx) error {
		rec, found, err := loadDocRecord(tx, docID)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}
		revIDs := make([]string, 0, len(rec.Revisions))
		for r := range rec.Revisions {
			revIDs = append(revIDs, r)
		}
		sort.Slice(revIDs, func(i, j int) bool { return generation(revIDs[i]) > generation(revIDs[j]) })
		if len(revIDs) > revtree.MaxPossibleAncestors {
			revIDs = revIDs[:revtree.MaxPossibleAncestors]
		}
		out = revIDs
		return nil
	})
	return out, err
}

// FindProposedChange implements find_proposed_change: 0 if
// acceptable, revtree.ProposedChangeAlreadyKnown if revID is already
// present, revtree.ProposedChangeConflict if the local tip differs from
// parentRevID.
func (s *Store) FindProposedChange(docID, revID, parentRevID string) (revtree.ProposedChangeStatus, error) {
	var status revtree.ProposedChangeStatus
	err := s.db.View(func(tx *bolt.Tx) error {
		rec, found, err := loadDocRecord(tx, docID)
		if err != nil {
			return err
		}
		if !found {
			status = revtree.ProposedChangeOK
			return nil
		}
		if _, already := rec.Revisions[revID]; already {
			status = revtree.ProposedChangeAlreadyKnown
			return nil
		}
		if parentRevID == "" {
			if len(rec.Leaves) == 0 {
				status = revtree.ProposedChangeOK
				return nil
			}
			status = revtree.ProposedChangeConflict
			return nil
		}
		if containsString(rec.Leaves, parentRevID) {
			status = revtree.ProposedChangeOK
			return nil
		}
		status = revtree.ProposedChangeConflict
		return nil
	})
	return status, err
}

// ReadRevision returns the body and known ancestor chain for (docID,
// revID), used by send_revision to build an outbound "rev" message.
func (s *Store) ReadRevision(docID, revID string) (body []byte, history []string, deleted bool, hasAttachments bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		rec, found, err := loadDocRecord(tx, docID)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("store: document %q not found", docID)
		}
		node, ok := rec.Revisions[revID]
		if !ok {
			return fmt.Errorf("store: revision %q of %q not found", revID, docID)
		}
		body = node.Body
		deleted = node.Deleted
		hasAttachments = node.HasAttachments
		for cur := node.ParentRevID; cur != ""; {
			history = append(history, cur)
			parent, ok := rec.Revisions[cur]
			if !ok {
				break
			}
			cur = parent.ParentRevID
		}
		return nil
	})
	return body, history, deleted, hasAttachments, err
}

// Leaves returns the current tip revisions for docID, used by tests and by
// FindProposedChange-adjacent callers that need the raw leaf set.
func (s *Store) Leaves(docID string) ([]string, error) {
	var leaves []string
	err := s.db.View(func(tx *bolt.Tx) error {
		rec, found, err := loadDocRecord(tx, docID)
		if err != nil {
			return err
		}
		if found {
			leaves = sortedLeaves(rec)
		}
		return nil
	})
	return leaves, err
}
