// Package puller implements the Puller actor: it answers inbound
// "changes" announcements with a wanted mask, accepts "rev"
// messages for whatever it asked for, and hands them to the DB actor's
// insert batcher, advancing the pull cursor once a batch commits.
package puller

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/inkwell-db/replicore/internal/blip"
	"github.com/inkwell-db/replicore/internal/checkpoint"
	"github.com/inkwell-db/replicore/internal/log"
	"github.com/inkwell-db/replicore/internal/metrics"
	"github.com/inkwell-db/replicore/internal/replicator/dbactor"
	"github.com/inkwell-db/replicore/internal/revtree"
	"github.com/inkwell-db/replicore/internal/store"
)

// Config parameterizes one Puller run.
type Config struct {
	RemoteID string
}

// changeWire mirrors pusher.changeWire; kept as a separate type since the
// two packages never share an import and the wire shape is the contract,
// not the Go type.
type changeWire struct {
	DocID     string   `json:"docID"`
	RevID     string   `json:"revID"`
	Deleted   bool     `json:"deleted,omitempty"`
	Ancestors []string `json:"ancestors,omitempty"`
}

// Puller drives one inbound replication direction against a single peer.
// Unlike the Pusher, it is purely reactive: RegisterHandlers installs its
// blip.Handler callbacks, and it does no polling of its own.
type Puller struct {
	cfg         Config
	actor       *dbactor.DBActor
	checkpoints *checkpoint.Store

	cpMu        sync.Mutex
	cp          checkpoint.Checkpoint
	batchCursor uint64

	revsPulled   atomic.Uint64
	insertErrors atomic.Uint64
}

// New creates a Puller and registers its batch-completion callback on
// actor so the pull cursor advances as inserts commit.
func New(cfg Config, actor *dbactor.DBActor, checkpoints *checkpoint.Store) *Puller {
	p := &Puller{cfg: cfg, actor: actor, checkpoints: checkpoints}
	actor.OnBatchComplete(p.onBatchComplete)
	return p
}

// Start reconciles the starting checkpoint. The puller has no run loop of
// its own; RegisterHandlers wires it to the sender that does the work.
func (p *Puller) Start(context.Context) error {
	cp, err := p.checkpoints.Reconcile()
	if err != nil {
		return fmt.Errorf("puller: checkpoint reconcile: %w", err)
	}
	p.cpMu.Lock()
	p.cp = cp
	if cp.PullCursor != "" {
		if n, err := strconv.ParseUint(cp.PullCursor, 10, 64); err == nil {
			p.batchCursor = n
		}
	}
	p.cpMu.Unlock()
	return nil
}

// Counters reports the cumulative revisions pulled and insert failures
// across this Puller's lifetime, for Replicator.Status().
func (p *Puller) Counters() (revs, errors uint64) {
	return p.revsPulled.Load(), p.insertErrors.Load()
}

// RegisterHandlers installs this puller's request handlers on sender.
func (p *Puller) RegisterHandlers(sender *blip.Sender) {
	sender.RegisterHandler(blip.ProfileChanges, p.handleChanges)
	sender.RegisterHandler(blip.ProfileRev, p.handleRev)
}

func (p *Puller) handleChanges(ctx context.Context, msg blip.Message) blip.Message {
	var wire []changeWire
	if err := json.Unmarshal(msg.Body, &wire); err != nil {
		return msg.ReplyError(fmt.Sprintf("puller: decode changes: %v", err))
	}

	announced := make([]dbactor.AnnouncedRev, len(wire))
	for i, w := range wire {
		ancestors := make([]revtree.RevID, len(w.Ancestors))
		for j, a := range w.Ancestors {
			ancestors[j] = revtree.RevID(a)
		}
		announced[i] = dbactor.AnnouncedRev{
			DocID:     revtree.DocID(w.DocID),
			RevID:     revtree.RevID(w.RevID),
			Ancestors: ancestors,
		}
	}

	type result struct {
		wanted []bool
		err    error
	}
	done := make(chan result, 1)
	p.actor.FindOrRequestRevs(announced, func(wanted []bool, err error) {
		done <- result{wanted, err}
	})
	r := <-done
	if r.err != nil {
		return msg.ReplyError(fmt.Sprintf("puller: find_or_request_revs: %v", r.err))
	}

	body, err := json.Marshal(r.wanted)
	if err != nil {
		return msg.ReplyError(fmt.Sprintf("puller: encode wanted: %v", err))
	}
	return msg.Reply(nil, body)
}

func (p *Puller) handleRev(ctx context.Context, msg blip.Message) blip.Message {
	docID := msg.Properties["id"]
	revID := msg.Properties["rev"]
	if docID == "" || revID == "" {
		return msg.ReplyError("puller: rev message missing id/rev")
	}

	var history []revtree.RevID
	if h := msg.Properties["history"]; h != "" {
		for _, r := range strings.Split(h, ",") {
			history = append(history, revtree.RevID(r))
		}
	}

	rev := revtree.RevToInsert{
		DocID:   revtree.DocID(docID),
		RevID:   revtree.RevID(revID),
		Body:    msg.Body,
		History: history,
		Deleted: msg.Properties["deleted"] == "1",
	}
	p.actor.InsertRevision(rev)

	log.Logger.Debug().Str("docID", docID).Str("revID", revID).Msg("puller: queued revision for insert")
	return msg.Reply(nil, nil)
}

func (p *Puller) onBatchComplete(results []store.RevInsertResult) {
	advanced := false
	for _, r := range results {
		if r.Err != nil {
			log.Logger.Warn().Err(r.Err).Str("docID", r.DocID).Str("revID", r.RevID).Msg("puller: insert failed")
			p.insertErrors.Add(1)
			continue
		}
		metrics.RevsPulledTotal.WithLabelValues(p.cfg.RemoteID).Inc()
		p.revsPulled.Add(1)
		if r.Conflict {
			metrics.ConflictsTotal.WithLabelValues(p.cfg.RemoteID).Inc()
		}
		advanced = true
	}
	if !advanced {
		return
	}

	p.cpMu.Lock()
	p.batchCursor++
	p.cp.PullCursor = strconv.FormatUint(p.batchCursor, 10)
	cp := p.cp
	p.cpMu.Unlock()

	if err := p.checkpoints.Save(cp); err != nil {
		log.Logger.Warn().Err(err).Str("remote", p.cfg.RemoteID).Msg("puller: save checkpoint failed")
	}
}
