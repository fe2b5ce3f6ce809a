// Package faketransport provides an in-memory implementation of
// blip.Conn for driving end-to-end replication scenarios without a real
// network, treating the transport as a black box.
package faketransport

import (
	"context"

	"github.com/inkwell-db/replicore/internal/rerror"
)

// Pair creates two connected ends of an in-memory full-duplex pipe: frames
// sent on one end are received on the other, and vice versa.
func Pair() (a, b *Conn) {
	ab := make(chan []byte, 64)
	ba := make(chan []byte, 64)
	a = &Conn{send: ab, recv: ba, closed: make(chan struct{})}
	b = &Conn{send: ba, recv: ab, closed: make(chan struct{})}
	return a, b
}

// Conn is one end of an in-memory pipe implementing blip.Conn.
type Conn struct {
	send   chan []byte
	recv   chan []byte
	closed chan struct{}
}

// Send enqueues frame for the peer end.
func (c *Conn) Send(ctx context.Context, frame []byte) error {
	select {
	case <-c.closed:
		return rerror.Cancelled
	default:
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	select {
	case c.send <- cp:
		return nil
	case <-c.closed:
		return rerror.Cancelled
	case <-ctx.Done():
		return rerror.Cancelled
	}
}

// Recv blocks for the next frame from the peer end.
func (c *Conn) Recv(ctx context.Context) ([]byte, error) {
	select {
	case frame, ok := <-c.recv:
		if !ok {
			return nil, rerror.Cancelled
		}
		return frame, nil
	case <-c.closed:
		return nil, rerror.Cancelled
	case <-ctx.Done():
		return nil, rerror.Cancelled
	}
}

// Close closes this end's send channel so the peer's next Recv observes
// closure once it has drained any buffered frames, mirroring how closing
// one side of a real socket still lets the other side read what's already
// in flight.
func (c *Conn) Close() error {
	select {
	case <-c.closed:
		return nil
	default:
		close(c.closed)
		close(c.send)
	}
	return nil
}
