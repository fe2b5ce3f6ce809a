// Package transport implements a full-duplex framed connection treated
// as a black-box transport: send/receive/cancel over a long-lived
// connection, with no progress reporting. It wraps gorilla/websocket, the websocket
// library present in the example pack's dependency surface
// (tkmct-go-ethereum's go.mod).
package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/inkwell-db/replicore/internal/backoff"
	"github.com/inkwell-db/replicore/internal/log"
	"github.com/inkwell-db/replicore/internal/metrics"
	"github.com/inkwell-db/replicore/internal/rerror"
)

// WriteTimeout bounds how long a single frame write may block.
var WriteTimeout = 10 * time.Second

// Conn wraps a gorilla/websocket connection with the mutex discipline
// gorilla requires (one writer at a time) and maps transport failures onto
// this repository's error taxonomy (internal/rerror).
type Conn struct {
	ws     *websocket.Conn
	remote string

	writeMu sync.Mutex
	closed  bool
	closeMu sync.Mutex
}

// Dial opens a client connection to url: a full-duplex connection
// carrying request/response pairs.
func Dial(ctx context.Context, url string, header http.Header) (*Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	ws, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, rerror.TransientError{Op: "dial", Err: err}
	}
	return &Conn{ws: ws, remote: url}, nil
}

// Accept upgrades an inbound HTTP request to a server-side connection.
func Accept(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: upgrade: %w", err)
	}
	return &Conn{ws: ws, remote: r.RemoteAddr}, nil
}

// Send writes frame as a single binary message. Safe for concurrent use;
// gorilla/websocket permits only one writer at a time, so this serializes
// with an internal mutex.
func (c *Conn) Send(ctx context.Context, frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("transport: set write deadline: %w", err)
	}
	if err := c.ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		metrics.TransportReconnectsTotal.WithLabelValues(c.remote).Inc()
		return rerror.TransientError{Op: "send", Err: err}
	}
	return nil
}

// Recv blocks for the next binary frame, or returns rerror.Cancelled if ctx
// is done first.
func (c *Conn) Recv(ctx context.Context) ([]byte, error) {
	type result struct {
		frame []byte
		err   error
	}
	done := make(chan result, 1)
	go func() {
		_, frame, err := c.ws.ReadMessage()
		done <- result{frame, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if websocket.IsCloseError(r.err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, rerror.Cancelled
			}
			return nil, rerror.TransientError{Op: "recv", Err: r.err}
		}
		return r.frame, nil
	case <-ctx.Done():
		return nil, rerror.Cancelled
	}
}

// Close closes the underlying connection; safe to call more than once.
func (c *Conn) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.ws.Close()
}

// DialWithRetry dials url, retrying with the given backoff policy on
// transient failure until ctx is done.
func DialWithRetry(ctx context.Context, url string, header http.Header, policy backoff.Policy) (*Conn, error) {
	retrier := backoff.NewRetrier(policy)
	for {
		conn, err := Dial(ctx, url, header)
		if err == nil {
			return conn, nil
		}
		if _, transient := err.(rerror.TransientError); !transient {
			return nil, err
		}
		delay := retrier.Next()
		log.Logger.Warn().Err(err).Dur("retry_in", delay).Str("url", url).Msg("transport dial failed, retrying")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
