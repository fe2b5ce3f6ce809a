package blip

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Conn is the narrow black-box transport contract the framed message
// protocol assumes: send, receive, and a way to learn the connection
// has closed. internal/transport implements this over
// gorilla/websocket; internal/transport/faketransport implements it
// in-memory for tests.
type Conn interface {
	Send(ctx context.Context, frame []byte) error
	Recv(ctx context.Context) (frame []byte, err error)
	Close() error
}

// ProgressFunc reports incremental delivery progress for a streamed
// body, e.g. send_revision.
type ProgressFunc func(sent, total int)

// Handler processes an inbound request message and returns the reply.
type Handler func(ctx context.Context, msg Message) Message

// Sender multiplexes request/reply correlation and inbound-profile
// dispatch over a single Conn: a full-duplex connection carrying
// request/response pairs.
type Sender struct {
	conn Conn

	seq      uint64
	mu       sync.Mutex
	pending  map[uint64]chan Message
	handlers map[Profile]Handler

	closeOnce sync.Once
	closed    chan struct{}
}

// NewSender wraps conn with request/reply bookkeeping. It does not start
// the receive loop; the caller runs Run for that. Call RegisterHandler for
// every inbound profile before traffic starts arriving.
func NewSender(conn Conn) *Sender {
	s := &Sender{
		conn:     conn,
		pending:  make(map[uint64]chan Message),
		handlers: make(map[Profile]Handler),
		closed:   make(chan struct{}),
	}
	return s
}

// RegisterHandler installs the handler invoked for inbound request
// messages of the given profile.
func (s *Sender) RegisterHandler(profile Profile, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[profile] = h
}

// Run drains the connection until it closes or ctx is cancelled,
// dispatching inbound requests to registered handlers and inbound
// responses to waiting Request calls. It is meant to run in its own
// goroutine for the lifetime of the connection.
func (s *Sender) Run(ctx context.Context) error {
	defer s.markClosed()
	for {
		frame, err := s.conn.Recv(ctx)
		if err != nil {
			return err
		}
		msg, err := Decode(frame)
		if err != nil {
			return fmt.Errorf("blip: decode inbound frame: %w", err)
		}
		if msg.IsResponse {
			s.deliverResponse(msg)
			continue
		}
		go s.dispatch(ctx, msg)
	}
}

func (s *Sender) dispatch(ctx context.Context, msg Message) {
	s.mu.Lock()
	h := s.handlers[msg.Profile]
	s.mu.Unlock()
	if h == nil {
		_ = s.send(ctx, msg.ReplyError(fmt.Sprintf("blip: no handler for profile %q", msg.Profile)))
		return
	}
	reply := h(ctx, msg)
	_ = s.send(ctx, reply)
}

func (s *Sender) deliverResponse(msg Message) {
	s.mu.Lock()
	ch, ok := s.pending[msg.Number]
	if ok {
		delete(s.pending, msg.Number)
	}
	s.mu.Unlock()
	if ok {
		ch <- msg
	}
}

// Request sends profile/props/body as a new request and blocks for its
// reply or ctx cancellation.
func (s *Sender) Request(ctx context.Context, profile Profile, props map[string]string, body []byte) (Message, error) {
	number := atomic.AddUint64(&s.seq, 1)
	req := NewRequest(number, profile, props, body)

	ch := make(chan Message, 1)
	s.mu.Lock()
	s.pending[number] = ch
	s.mu.Unlock()

	if err := s.send(ctx, req); err != nil {
		s.mu.Lock()
		delete(s.pending, number)
		s.mu.Unlock()
		return Message{}, err
	}

	select {
	case reply := <-ch:
		if reply.Error != "" {
			return reply, fmt.Errorf("blip: %s: %s", profile, reply.Error)
		}
		return reply, nil
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pending, number)
		s.mu.Unlock()
		return Message{}, ctx.Err()
	case <-s.closed:
		return Message{}, fmt.Errorf("blip: connection closed")
	}
}

// Send emits a one-way message (typically a reply or a fire-and-forget
// notification) without waiting for a response.
func (s *Sender) Send(ctx context.Context, msg Message) error {
	return s.send(ctx, msg)
}

func (s *Sender) send(ctx context.Context, msg Message) error {
	return s.conn.Send(ctx, Encode(msg))
}

func (s *Sender) markClosed() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// Close shuts down the underlying connection.
func (s *Sender) Close() error {
	s.markClosed()
	return s.conn.Close()
}
