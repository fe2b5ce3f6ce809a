// Package mailbox implements the single-worker closure queue every actor
// under internal/replicator runs its state on: a buffered channel plus
// a stopCh select loop, generalized from a typed pub/sub broker into a
// general single-threaded command queue — the primitive that guarantees
// message handlers run to completion before the next message.
package mailbox

// Mailbox serializes arbitrary closures onto a single worker goroutine.
type Mailbox struct {
	commands chan func()
	stopCh   chan struct{}
	done     chan struct{}
}

// New creates a mailbox with the given queue depth.
func New(buffer int) *Mailbox {
	return &Mailbox{
		commands: make(chan func(), buffer),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the worker goroutine.
func (m *Mailbox) Start() {
	go m.run()
}

func (m *Mailbox) run() {
	defer close(m.done)
	for {
		select {
		case cmd := <-m.commands:
			cmd()
		case <-m.stopCh:
			return
		}
	}
}

// Enqueue posts fn to run on the mailbox's worker goroutine. It does not
// block for fn to complete. Enqueue after Stop is a silent no-op: callers
// are expected to check the stopping flag before enqueuing follow-ups.
func (m *Mailbox) Enqueue(fn func()) {
	select {
	case m.commands <- fn:
	case <-m.stopCh:
	}
}

// Stop signals the worker to exit after its current command, if any, and
// waits for it to do so.
func (m *Mailbox) Stop() {
	select {
	case <-m.stopCh:
	default:
		close(m.stopCh)
	}
	<-m.done
}
