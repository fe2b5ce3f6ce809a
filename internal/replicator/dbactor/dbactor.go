// Package dbactor implements DBActor: the exclusive, single-threaded
// owner of all database handles, serializing every read and write
// through a mailbox.Mailbox.
package dbactor

import (
	"fmt"
	"sync"
	"time"

	"github.com/inkwell-db/replicore/internal/blip"
	"github.com/inkwell-db/replicore/internal/cookiejar"
	"github.com/inkwell-db/replicore/internal/metrics"
	"github.com/inkwell-db/replicore/internal/replicator/mailbox"
	"github.com/inkwell-db/replicore/internal/revtree"
	"github.com/inkwell-db/replicore/internal/store"
)

// FlushInterval is the insert batcher's one-shot timer period.
var FlushInterval = 20 * time.Millisecond

// HighWaterMark is the queue size at which a pending batch flushes
// immediately instead of waiting for the timer.
var HighWaterMark = 200

// AnnouncedRev is one (docID, revID, ancestors) tuple from an inbound
// "changes"/"proposedChanges" message, as find_or_request_revs receives
// it.
type AnnouncedRev struct {
	DocID       revtree.DocID
	RevID       revtree.RevID
	Ancestors   []revtree.RevID
	IsProposed  bool
	ParentRevID revtree.RevID // only meaningful when IsProposed
}

// DBActor is the single owner of db and cookies; every exported method is
// safe to call from any goroutine, but the database work itself always
// runs on the mailbox's single worker.
type DBActor struct {
	db       *store.Store
	cookies  *cookiejar.Jar
	remoteID string
	mailbox  *mailbox.Mailbox

	queueMu sync.Mutex
	queue   []revtree.RevToInsert
	timer   *time.Timer

	onBatchComplete func([]store.RevInsertResult)

	inFlightMu sync.Mutex
	inFlight   map[string]bool // (docID,revID) requested from peer, not yet inserted
}

// New creates a DBActor over db and starts its mailbox worker. remoteID
// identifies the peer this actor's insert batches mark as the source of
// foreign revisions.
func New(db *store.Store, cookies *cookiejar.Jar, remoteID string) *DBActor {
	a := &DBActor{
		db:       db,
		cookies:  cookies,
		remoteID: remoteID,
		mailbox:  mailbox.New(64),
		inFlight: make(map[string]bool),
	}
	a.mailbox.Start()
	return a
}

// OnBatchComplete registers the callback invoked after each committed
// insert batch with its per-revision results.
func (a *DBActor) OnBatchComplete(fn func([]store.RevInsertResult)) {
	a.onBatchComplete = fn
}

// Stop terminates the actor's mailbox after its current command.
// Commands still queued are not run, and revisions waiting in the insert
// queue are not flushed.
func (a *DBActor) Stop() {
	a.mailbox.Stop()
}

// GetCheckpoint implements get_checkpoint: read the local checkpoint doc
// and report whether the database is empty.
func (a *DBActor) GetCheckpoint(checkpointID string, cb func(data []byte, dbIsEmpty bool, err error)) {
	a.mailbox.Enqueue(func() {
		data, _, err := a.db.GetCheckpoint(checkpointID)
		if err != nil {
			cb(nil, false, err)
			return
		}
		empty, err := a.db.IsEmpty()
		cb(data, empty, err)
	})
}

// SetCheckpoint implements set_checkpoint: persist data under
// checkpointID, then invoke onComplete.
func (a *DBActor) SetCheckpoint(checkpointID string, data []byte, onComplete func(error)) {
	a.mailbox.Enqueue(func() {
		err := a.db.SetCheckpoint(checkpointID, data)
		if onComplete != nil {
			onComplete(err)
		}
	})
}

// GetChanges implements one enumeration pass of get_changes: changes after
// since, optionally filtered by docIDs, capped at limit (<=0 unlimited),
// optionally excluding deleted or foreign tips.
func (a *DBActor) GetChanges(since uint64, docIDs map[string]bool, limit int, skipDeleted, skipForeign bool, onBatch func([]revtree.ChangeEntry, error)) {
	a.mailbox.Enqueue(func() {
		changes, err := a.db.GetChangesSince(since, docIDs, limit, skipDeleted, skipForeign)
		onBatch(changes, err)
	})
}

// Subscribe exposes the store's commit notification channel for the
// pusher's continuous-mode change observer.
func (a *DBActor) Subscribe() <-chan struct{} {
	return a.db.Subscribe()
}

// Unsubscribe releases a channel returned by Subscribe.
func (a *DBActor) Unsubscribe(ch <-chan struct{}) {
	a.db.Unsubscribe(ch)
}

// FindOrRequestRevs implements find_or_request_revs: for each announced
// rev, reports whether the local DB wants it (new and not superseded),
// and records wanted revs as in-flight so a duplicate announcement isn't
// requested twice.
func (a *DBActor) FindOrRequestRevs(announced []AnnouncedRev, cb func(wanted []bool, err error)) {
	a.mailbox.Enqueue(func() {
		wanted := make([]bool, len(announced))
		for i, rev := range announced {
			key := inFlightKey(rev.DocID, rev.RevID)

			a.inFlightMu.Lock()
			alreadyRequested := a.inFlight[key]
			a.inFlightMu.Unlock()
			if alreadyRequested {
				wanted[i] = false
				continue
			}

			if rev.IsProposed {
				status, err := a.db.FindProposedChange(string(rev.DocID), string(rev.RevID), string(rev.ParentRevID))
				if err != nil {
					cb(nil, err)
					return
				}
				wanted[i] = status == revtree.ProposedChangeOK
			} else {
				status, err := a.db.FindProposedChange(string(rev.DocID), string(rev.RevID), "")
				if err != nil {
					cb(nil, err)
					return
				}
				wanted[i] = status != revtree.ProposedChangeAlreadyKnown
			}

			if wanted[i] {
				a.inFlightMu.Lock()
				a.inFlight[key] = true
				a.inFlightMu.Unlock()
			}
		}
		cb(wanted, nil)
	})
}

// FindAncestors implements find_ancestors: up to revtree.MaxPossibleAncestors
// known revIDs for docID, used by the pusher to build a "changes" message's
// ancestor list so the peer can compute a smaller delta.
func (a *DBActor) FindAncestors(docID revtree.DocID, cb func(ancestors []revtree.RevID, err error)) {
	a.mailbox.Enqueue(func() {
		raw, err := a.db.FindAncestors(string(docID))
		if err != nil {
			cb(nil, err)
			return
		}
		out := make([]revtree.RevID, len(raw))
		for i, r := range raw {
			out[i] = revtree.RevID(r)
		}
		cb(out, nil)
	})
}

func inFlightKey(docID revtree.DocID, revID revtree.RevID) string {
	return string(docID) + "\x00" + string(revID)
}

// SendRevision implements send_revision: read the revision body and
// ancestor history and build the outbound "rev" wire message. The actual
// transport send is the pusher's responsibility, keeping the shared
// connection out of the DB actor.
func (a *DBActor) SendRevision(req revtree.RevRequest, onProgress func(sent, total int), cb func(msg blip.Message, err error)) {
	a.mailbox.Enqueue(func() {
		body, history, deleted, _, err := a.db.ReadRevision(string(req.DocID), string(req.RevID))
		if err != nil {
			cb(blip.Message{}, err)
			return
		}
		props := map[string]string{
			"id":  string(req.DocID),
			"rev": string(req.RevID),
		}
		if deleted {
			props["deleted"] = "1"
		}
		if len(history) > 0 {
			props["history"] = joinRevIDs(history)
		}
		if onProgress != nil {
			onProgress(len(body), len(body))
		}
		msg := blip.NewRequest(0, blip.ProfileRev, props, body)
		cb(msg, nil)
	})
}

func joinRevIDs(revs []string) string {
	out := ""
	for i, r := range revs {
		if i > 0 {
			out += ","
		}
		out += r
	}
	return out
}

// InsertRevision implements insert_revision: append rev to the batch
// queue under a dedicated lock (callable from any goroutine), arming or
// accelerating the flush timer.
func (a *DBActor) InsertRevision(rev revtree.RevToInsert) {
	a.queueMu.Lock()
	a.queue = append(a.queue, rev)
	shouldFlushNow := len(a.queue) >= HighWaterMark
	if shouldFlushNow && a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	} else if a.timer == nil {
		a.timer = time.AfterFunc(FlushInterval, func() {
			a.mailbox.Enqueue(a.flushBatch)
		})
	}
	a.queueMu.Unlock()

	if shouldFlushNow {
		a.mailbox.Enqueue(a.flushBatch)
	}
}

func (a *DBActor) flushBatch() {
	a.queueMu.Lock()
	batch := a.queue
	a.queue = nil
	a.timer = nil
	a.queueMu.Unlock()

	if len(batch) == 0 {
		return
	}

	results, err := a.db.InsertBatch(a.remoteID, batch)
	if err != nil {
		results = make([]store.RevInsertResult, len(batch))
		for i, rev := range batch {
			results[i] = store.RevInsertResult{DocID: string(rev.DocID), RevID: string(rev.RevID), Err: fmt.Errorf("dbactor: batch commit: %w", err)}
		}
	}

	a.inFlightMu.Lock()
	for _, rev := range batch {
		delete(a.inFlight, inFlightKey(rev.DocID, rev.RevID))
	}
	a.inFlightMu.Unlock()

	metrics.InsertBatchSize.Observe(float64(len(batch)))
	if a.onBatchComplete != nil {
		a.onBatchComplete(results)
	}
}

// SetCookie implements set_cookie: parse, validate and insert.
func (a *DBActor) SetCookie(header, fromHost string) error {
	c, ok := cookiejar.Parse(header, fromHost)
	if !ok {
		return fmt.Errorf("dbactor: invalid Set-Cookie header")
	}
	a.cookies.Insert(c)
	metrics.CookieJarSize.Set(float64(len(a.cookies.Snapshot())))
	return nil
}

