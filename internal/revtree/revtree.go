// Package revtree defines the document revision identity types shared by
// the storage engine, the replicator actors and the wire codec.
package revtree

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DocID is an opaque document identifier.
type DocID string

// RevID encodes a generation number and a digest, e.g. "3-b00f".
type RevID string

// Generation returns the leading generation number of a revID, or 0 if the
// revID is malformed.
func (r RevID) Generation() int {
	gen, _, ok := strings.Cut(string(r), "-")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(gen)
	if err != nil {
		return 0
	}
	return n
}

// Digest returns the digest portion of a revID.
func (r RevID) Digest() string {
	_, digest, ok := strings.Cut(string(r), "-")
	if !ok {
		return ""
	}
	return digest
}

// Valid reports whether the revID has the "<generation>-<digest>" shape.
func (r RevID) Valid() bool {
	gen, digest, ok := strings.Cut(string(r), "-")
	if !ok || digest == "" {
		return false
	}
	n, err := strconv.Atoi(gen)
	return err == nil && n > 0
}

// NewRevID builds a revID from a generation and digest.
func NewRevID(generation int, digest string) RevID {
	return RevID(fmt.Sprintf("%d-%s", generation, digest))
}

// RevToInsert is an inbound revision awaiting commit. It is created on wire
// message receipt, buffered by the insert batcher, and destroyed when its
// transaction commits (or the insert fails and the puller is notified).
type RevToInsert struct {
	DocID          DocID
	RevID          RevID
	Body           []byte
	History        []RevID // ancestor revIDs, descending generation order
	Deleted        bool
	HasAttachments bool
	NoConflicts    bool

	// Err carries a per-revision insert failure. The insert batcher does
	// not set it; it reports per-revision outcomes as store.RevInsertResult
	// values to the DBActor's batch-completion callback.
	Err error
}

// RevRequest is an outbound revision to send, created from a change-feed
// entry and destroyed when the peer acknowledges or the send errors.
type RevRequest struct {
	DocID     DocID
	RevID     RevID
	Ancestors []RevID // ancestors already known to the peer
	Deleted   bool
}

// ChangeEntry is one row of the DB change feed, emitted in monotonically
// increasing, stable, unique sequence order.
type ChangeEntry struct {
	Sequence uint64
	DocID    DocID
	RevID    RevID
	Deleted  bool
	BodySize int
	// Foreign is true if the tip revision was inserted via replication
	// rather than authored locally.
	Foreign bool
}

// Checkpoint is the resumption marker for one (local, remote, options)
// replication channel.
type Checkpoint struct {
	LastSequencePushed uint64
	PullCursor         string
}

// Cookie is the replicator's cookie data model.
type Cookie struct {
	Name    string
	Value   string
	Domain  string
	Path    string
	Created time.Time
	Expires time.Time // zero value means session cookie
	Secure  bool
}

// Valid reports whether the cookie has a non-empty name.
func (c Cookie) Valid() bool {
	return c.Name != ""
}

// Persistent reports whether the cookie should survive a jar round trip.
func (c Cookie) Persistent() bool {
	return !c.Expires.IsZero()
}

// ExpiredAt reports whether the cookie is expired relative to now.
func (c Cookie) ExpiredAt(now time.Time) bool {
	return !c.Expires.IsZero() && c.Expires.Before(now)
}

const (
	// MaxPossibleAncestors bounds how many ancestor revIDs find_ancestors
	// returns to the peer.
	MaxPossibleAncestors = 10
)

// ProposedChangeStatus mirrors the HTTP-style status codes returned by
// find_proposed_change.
type ProposedChangeStatus int

const (
	ProposedChangeOK           ProposedChangeStatus = 0
	ProposedChangeConflict     ProposedChangeStatus = 409
	ProposedChangeAlreadyKnown ProposedChangeStatus = 403
)
