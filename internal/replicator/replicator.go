package replicator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/inkwell-db/replicore/internal/blip"
	"github.com/inkwell-db/replicore/internal/checkpoint"
	"github.com/inkwell-db/replicore/internal/cookiejar"
	"github.com/inkwell-db/replicore/internal/log"
	"github.com/inkwell-db/replicore/internal/replicator/dbactor"
	"github.com/inkwell-db/replicore/internal/replicator/puller"
	"github.com/inkwell-db/replicore/internal/replicator/pusher"
	"github.com/inkwell-db/replicore/internal/store"
)

// Config is the top-level configuration for one replication channel
// against a single peer: push, pull, docIDs, filter, continuous, batch
// size and heartbeat. The cookie jar is passed to New separately.
type Config struct {
	RemoteID         string
	RemoteURL        string
	Push             bool
	Pull             bool
	Continuous       bool
	DocIDs           map[string]bool
	FilterOptions    []byte
	BatchSize        int
	HeartbeatSeconds int
}

// State is a Replicator's coarse lifecycle state, rolled up from
// whichever of its sub-actors is driving progress.
type State int

const (
	Idle State = iota
	Busy
	CaughtUp
	Stopped
	Offline
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
	case Offline:
		return "offline"
	default:
		return "unknown"
	}
}

// DirectionStatus reports one direction's cumulative progress.
type DirectionStatus struct {
	Enabled bool
	Revs    uint64
	Errors  uint64
}

// Status is a point-in-time snapshot of a Replicator's sub-actors, for
// status rollup and CLI reporting.
type Status struct {
	RemoteID string
	Running  bool
	State    State
	Push     DirectionStatus
	Pull     DirectionStatus
}

// Replicator is the top-level coordinator: it owns the DBActor, Pusher
// and Puller sub-actors for one peer, wires their wire protocol
// handlers onto a shared blip.Sender, and manages their combined
// lifecycle. Sub-actors hold no reference back to it; everything flows
// one way, from Replicator down into its sub-actors.
type Replicator struct {
	cfg Config

	actor       *dbactor.DBActor
	sender      *blip.Sender
	checkpoints *checkpoint.Store
	pusher      *pusher.Pusher
	puller      *puller.Puller

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New builds a Replicator over db and cookies, talking to the peer at the
// other end of conn. It does not start any goroutines until Start.
func New(cfg Config, db *store.Store, cookies *cookiejar.Jar, conn blip.Conn) (*Replicator, error) {
	if !cfg.Push && !cfg.Pull {
		return nil, fmt.Errorf("replicator: config must enable push, pull, or both")
	}
	localUUID, err := db.UUID()
	if err != nil {
		return nil, fmt.Errorf("replicator: read local UUID: %w", err)
	}

	actor := dbactor.New(db, cookies, cfg.RemoteID)
	sender := blip.NewSender(conn)
	ServeCheckpointRequests(sender, actor)
	sender.RegisterHandler(blip.ProfileHeartbeat, func(ctx context.Context, msg blip.Message) blip.Message {
		return msg.Reply(nil, nil)
	})

	checkpointID := checkpoint.Key(localUUID, cfg.RemoteURL, cfg.FilterOptions)
	checkpoints := checkpoint.New(checkpointID, db, NewRemoteCheckpoint(sender))

	r := &Replicator{
		cfg:         cfg,
		actor:       actor,
		sender:      sender,
		checkpoints: checkpoints,
		done:        make(chan struct{}),
	}

	if cfg.Push {
		r.pusher = pusher.New(pusher.Config{
			RemoteID:   cfg.RemoteID,
			Continuous: cfg.Continuous,
			BatchSize:  cfg.BatchSize,
			DocIDs:     cfg.DocIDs,
		}, actor, sender, checkpoints)
	}
	if cfg.Pull {
		r.puller = puller.New(puller.Config{RemoteID: cfg.RemoteID}, actor, checkpoints)
		r.puller.RegisterHandlers(sender)
	}
	return r, nil
}

// Start launches the sender's receive loop and any configured sub-actors.
// With pull enabled it first reconciles the checkpoint, which waits for
// the peer to answer a getCheckpoint request. It returns once everything
// has been launched; replication proceeds in background goroutines until
// ctx is cancelled or Stop is called.
func (r *Replicator) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("replicator: already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	r.mu.Unlock()

	go func() {
		defer close(r.done)
		_ = r.sender.Run(ctx)
	}()

	if r.puller != nil {
		if err := r.puller.Start(ctx); err != nil {
			r.Stop()
			return fmt.Errorf("replicator: start puller: %w", err)
		}
	}
	if r.pusher != nil {
		r.pusher.Start(ctx)
	}
	if r.cfg.Continuous && r.cfg.HeartbeatSeconds > 0 {
		go r.runHeartbeat(ctx)
	}

	log.Logger.Info().Str("remote", r.cfg.RemoteID).Bool("push", r.cfg.Push).Bool("pull", r.cfg.Pull).Msg("replicator: started")
	return nil
}

// runHeartbeat sends a no-op keep-alive frame every HeartbeatSeconds
// until ctx is cancelled, so an idle continuous channel still exercises
// the connection between real traffic.
func (r *Replicator) runHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(r.cfg.HeartbeatSeconds) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.sender.Request(ctx, blip.ProfileHeartbeat, nil, nil); err != nil {
				log.Logger.Debug().Err(err).Str("remote", r.cfg.RemoteID).Msg("replicator: heartbeat failed")
			}
		}
	}
}

// Stop cancels the replicator's context, stops its sub-actors, and closes
// the underlying connection. Safe to call more than once.
func (r *Replicator) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if r.pusher != nil {
		r.pusher.Stop()
	}
	_ = r.sender.Close()
	<-r.done
	r.actor.Stop()
	log.Logger.Info().Str("remote", r.cfg.RemoteID).Msg("replicator: stopped")
}

// Status reports the current sub-actor states and cumulative
// per-direction progress.
func (r *Replicator) Status() Status {
	r.mu.Lock()
	running := r.running
	r.mu.Unlock()

	st := Status{RemoteID: r.cfg.RemoteID, Running: running}
	if !running {
		st.State = Offline
		return st
	}

	if r.pusher != nil {
		revs, errs := r.pusher.Counters()
		st.Push = DirectionStatus{Enabled: true, Revs: revs, Errors: errs}
		st.State = pusherToReplicatorState(r.pusher.State())
	}
	if r.puller != nil {
		revs, errs := r.puller.Counters()
		st.Pull = DirectionStatus{Enabled: true, Revs: revs, Errors: errs}
		if r.pusher == nil {
			// The puller has no run loop of its own to report a state
			// for; a running pull-only channel is always ready to
			// receive.
			st.State = CaughtUp
		}
	}
	return st
}

func pusherToReplicatorState(s pusher.State) State {
	switch s {
	case pusher.Idle:
		return Idle
	case pusher.Busy:
		return Busy
	case pusher.CaughtUp:
		return CaughtUp
	case pusher.Stopped:
		return Stopped
	default:
		return Idle
	}
}
