// Package pusher implements the Pusher actor: it walks the local change
// feed forward, announces new revisions to the peer, and sends
// whichever ones the peer reports wanting, advancing the push
// checkpoint only once a full batch is acknowledged.
package pusher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/inkwell-db/replicore/internal/blip"
	"github.com/inkwell-db/replicore/internal/checkpoint"
	"github.com/inkwell-db/replicore/internal/log"
	"github.com/inkwell-db/replicore/internal/metrics"
	"github.com/inkwell-db/replicore/internal/replicator/dbactor"
	"github.com/inkwell-db/replicore/internal/revtree"
)

// State is one of the Pusher's lifecycle states.
type State int

const (
	Idle State = iota
	Busy
	CaughtUp
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Busy:
		return "busy"
	case CaughtUp:
		return "caught-up"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config parameterizes one Pusher run, mirroring the replication config
// shape as it applies to the outbound direction.
type Config struct {
	RemoteID    string
	Continuous  bool
	BatchSize   int
	SendWindow  int
	DocIDs      map[string]bool
	SkipDeleted bool
}

// changeWire is the wire payload of a "changes" announcement: one entry
// per candidate revision, with the ancestors already known locally so the
// peer can answer find_or_request_revs without a round trip per rev.
type changeWire struct {
	DocID     string   `json:"docID"`
	RevID     string   `json:"revID"`
	Deleted   bool     `json:"deleted,omitempty"`
	Ancestors []string `json:"ancestors,omitempty"`
}

// Pusher drives one outbound replication direction against a single peer.
type Pusher struct {
	cfg         Config
	actor       *dbactor.DBActor
	sender      *blip.Sender
	checkpoints *checkpoint.Store

	stateMu sync.Mutex
	state   State

	cpMu sync.Mutex
	cp   checkpoint.Checkpoint

	revsPushed atomic.Uint64
	sendErrors atomic.Uint64

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a Pusher. BatchSize defaults to 200 if cfg.BatchSize <= 0.
func New(cfg Config, actor *dbactor.DBActor, sender *blip.Sender, checkpoints *checkpoint.Store) *Pusher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.SendWindow <= 0 {
		cfg.SendWindow = 10
	}
	return &Pusher{
		cfg:         cfg,
		actor:       actor,
		sender:      sender,
		checkpoints: checkpoints,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// State reports the pusher's current lifecycle state.
func (p *Pusher) State() State {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.state
}

// Counters reports the cumulative revisions pushed and send failures
// across this Pusher's lifetime, for Replicator.Status().
func (p *Pusher) Counters() (revs, errors uint64) {
	return p.revsPushed.Load(), p.sendErrors.Load()
}

func (p *Pusher) setState(s State) {
	p.stateMu.Lock()
	p.state = s
	p.stateMu.Unlock()
}

// Start runs the pusher loop in its own goroutine until ctx is cancelled,
// Stop is called, or (in one-shot mode) the feed is drained.
func (p *Pusher) Start(ctx context.Context) {
	go p.run(ctx)
}

// Stop requests the pusher loop to exit and waits for it to do so.
func (p *Pusher) Stop() {
	select {
	case <-p.stopCh:
	default:
		close(p.stopCh)
	}
	<-p.doneCh
}

func (p *Pusher) run(ctx context.Context) {
	defer close(p.doneCh)
	defer p.setState(Stopped)

	cp, err := p.checkpoints.Reconcile()
	if err != nil {
		log.Logger.Error().Err(err).Str("remote", p.cfg.RemoteID).Msg("pusher: checkpoint reconcile failed")
		return
	}
	p.cpMu.Lock()
	p.cp = cp
	p.cpMu.Unlock()

	var sub <-chan struct{}
	if p.cfg.Continuous {
		sub = p.actor.Subscribe()
		defer p.actor.Unsubscribe(sub)
	}

	since := cp.LastSequencePushed
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		default:
		}

		p.setState(Busy)
		newSince, pushedAny, err := p.pushOnce(ctx, since)
		if err != nil {
			log.Logger.Warn().Err(err).Str("remote", p.cfg.RemoteID).Msg("pusher: batch failed")
		}
		// newSince is the sequence pushOnce tried to checkpoint (the full
		// batch tip, or the acknowledged prefix of a partially-failed
		// one); when err comes from a failed checkpoint save, that
		// sequence was sent but not durably recorded.
		if pushedAny {
			since = newSince
		}

		if pushedAny {
			continue
		}

		p.setState(CaughtUp)
		if !p.cfg.Continuous {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-sub:
		}
	}
}

// pushOnce enumerates one batch of changes since since, announces them,
// sends whichever the peer wants, and reports the new high-water sequence.
func (p *Pusher) pushOnce(ctx context.Context, since uint64) (newSince uint64, pushedAny bool, err error) {
	changes, err := p.getChanges(since)
	if err != nil {
		return since, false, err
	}
	if len(changes) == 0 {
		return since, false, nil
	}

	wire := make([]changeWire, len(changes))
	for i, c := range changes {
		ancestors, err := p.findAncestors(c.DocID)
		if err != nil {
			return since, false, err
		}
		wire[i] = changeWire{
			DocID:     string(c.DocID),
			RevID:     string(c.RevID),
			Deleted:   c.Deleted,
			Ancestors: revIDsToStrings(ancestors),
		}
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return since, false, err
	}
	reply, err := p.sender.Request(ctx, blip.ProfileChanges, nil, body)
	if err != nil {
		return since, false, fmt.Errorf("pusher: changes request: %w", err)
	}
	var wanted []bool
	if err := json.Unmarshal(reply.Body, &wanted); err != nil {
		return since, false, fmt.Errorf("pusher: decode changes reply: %w", err)
	}
	if len(wanted) != len(changes) {
		return since, false, fmt.Errorf("pusher: peer returned %d wants for %d changes", len(wanted), len(changes))
	}

	failed := p.sendWanted(ctx, changes, wanted)
	last, firstFailure := acknowledgedPrefix(changes, failed)
	if firstFailure {
		if last == nil {
			return since, true, fmt.Errorf("pusher: batch failed before any revision was acknowledged")
		}
		if err := p.advanceCheckpoint(*last); err != nil {
			return *last, true, err
		}
		return *last, true, fmt.Errorf("pusher: one or more revisions in batch failed to send")
	}

	seq := changes[len(changes)-1].Sequence
	if err := p.advanceCheckpoint(seq); err != nil {
		return seq, true, err
	}
	return seq, true, nil
}

// acknowledgedPrefix reports the sequence of the last change preceding
// any failed send and whether any send failed at all. changes is in
// ascending sequence order, so the returned sequence is safe to
// checkpoint even though later revisions in the batch never landed.
func acknowledgedPrefix(changes []revtree.ChangeEntry, failed []bool) (last *uint64, anyFailed bool) {
	for i, f := range failed {
		if f {
			if i == 0 {
				return nil, true
			}
			seq := changes[i-1].Sequence
			return &seq, true
		}
	}
	return nil, false
}

// sendWanted sends every wanted revision of one batch, capping the
// number of outstanding per-rev sends at cfg.SendWindow; pushOnce, and
// therefore the next batch's fetch, blocks until the whole window has
// drained. The returned slice has the same length as changes, with
// failed[i] true exactly when changes[i] was wanted but sendOne did not
// succeed.
func (p *Pusher) sendWanted(ctx context.Context, changes []revtree.ChangeEntry, wanted []bool) []bool {
	failed := make([]bool, len(changes))
	sem := make(chan struct{}, p.cfg.SendWindow)
	var wg sync.WaitGroup
	for i, want := range wanted {
		if !want {
			continue
		}
		c := changes[i]
		sem <- struct{}{}
		wg.Add(1)
		go func(i int, c revtree.ChangeEntry) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := p.sendOne(ctx, c); err != nil {
				log.Logger.Warn().Err(err).Str("docID", string(c.DocID)).Str("revID", string(c.RevID)).Msg("pusher: send revision failed")
				failed[i] = true
				p.sendErrors.Add(1)
				return
			}
			metrics.RevsPushedTotal.WithLabelValues(p.cfg.RemoteID).Inc()
			p.revsPushed.Add(1)
		}(i, c)
	}
	wg.Wait()
	return failed
}

func (p *Pusher) sendOne(ctx context.Context, c revtree.ChangeEntry) error {
	msg, err := p.sendRevision(revtree.RevRequest{DocID: c.DocID, RevID: c.RevID, Deleted: c.Deleted})
	if err != nil {
		return err
	}
	_, err = p.sender.Request(ctx, msg.Profile, msg.Properties, msg.Body)
	return err
}

func (p *Pusher) advanceCheckpoint(lastSequence uint64) error {
	p.cpMu.Lock()
	p.cp.LastSequencePushed = lastSequence
	cp := p.cp
	p.cpMu.Unlock()

	if err := p.checkpoints.Save(cp); err != nil {
		return fmt.Errorf("pusher: save checkpoint: %w", err)
	}
	metrics.PushCheckpointSequence.WithLabelValues(p.cfg.RemoteID).Set(float64(lastSequence))
	return nil
}

func (p *Pusher) getChanges(since uint64) ([]revtree.ChangeEntry, error) {
	type result struct {
		changes []revtree.ChangeEntry
		err     error
	}
	ch := make(chan result, 1)
	p.actor.GetChanges(since, p.cfg.DocIDs, p.cfg.BatchSize, p.cfg.SkipDeleted, false, func(changes []revtree.ChangeEntry, err error) {
		ch <- result{changes, err}
	})
	r := <-ch
	return r.changes, r.err
}

func (p *Pusher) findAncestors(docID revtree.DocID) ([]revtree.RevID, error) {
	type result struct {
		ancestors []revtree.RevID
		err       error
	}
	ch := make(chan result, 1)
	p.actor.FindAncestors(docID, func(ancestors []revtree.RevID, err error) {
		ch <- result{ancestors, err}
	})
	r := <-ch
	return r.ancestors, r.err
}

func (p *Pusher) sendRevision(req revtree.RevRequest) (blip.Message, error) {
	type result struct {
		msg blip.Message
		err error
	}
	ch := make(chan result, 1)
	p.actor.SendRevision(req, nil, func(msg blip.Message, err error) {
		ch <- result{msg, err}
	})
	r := <-ch
	return r.msg, r.err
}

func revIDsToStrings(revs []revtree.RevID) []string {
	out := make([]string, len(revs))
	for i, r := range revs {
		out[i] = string(r)
	}
	return out
}
