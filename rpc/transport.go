package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/justapithecus/ndsagent/iox"
	"github.com/justapithecus/ndsagent/log"
)

// DefaultCallTimeout is the default per-call timeout.
const DefaultCallTimeout = 300 * time.Second

// DefaultHandshakeTimeout bounds the WebSocket opening handshake.
const DefaultHandshakeTimeout = 30 * time.Second

// closeGrace bounds the close-frame write during Close.
const closeGrace = time.Second

// Config configures a Transport.
type Config struct {
	// URL is the full ws:// or wss:// endpoint including the client id (required).
	URL string
	// HandshakeTimeout bounds the opening handshake (default 30s).
	HandshakeTimeout time.Duration
	// Logger is optional. If nil, no logging is emitted.
	Logger *log.Logger
}

// Transport owns one WebSocket connection to a gateway and multiplexes
// correlated calls over it.
//
// A single receive goroutine runs per connected session. Responses are
// matched to calls by request id only; concurrent calls may resolve out of
// order. At most one binary file transfer is received at a time.
type Transport struct {
	url    string
	dialer *websocket.Dialer
	logger *log.Logger

	writeMu sync.Mutex // serializes frame writes; gorilla allows one writer

	mu       sync.Mutex // guards sess, pending and transfer
	sess     *session
	pending  pendingCalls
	transfer transferState
}

// session is one live connection and its receive loop.
type session struct {
	conn *websocket.Conn
	done chan struct{} // closed when the receive loop exits
}

// CallOption customizes a single Call.
type CallOption func(*Request)

// WithRequestID overrides the generated request id.
func WithRequestID(id string) CallOption {
	return func(r *Request) {
		if id != "" {
			r.RequestID = id
		}
	}
}

// New creates a disconnected transport.
// Returns an error if the URL is empty.
func New(cfg Config) (*Transport, error) {
	if cfg.URL == "" {
		return nil, errors.New("rpc transport requires a URL")
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}

	return &Transport{
		url: cfg.URL,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		logger:   cfg.Logger,
		pending:  make(pendingCalls),
		transfer: transferIdle{},
	}, nil
}

// URL returns the endpoint this transport dials.
func (t *Transport) URL() string {
	return t.url
}

// Connect dials the gateway. If the transport is already live (per the
// liveness probe) it returns immediately without re-dialing.
func (t *Transport) Connect(ctx context.Context) error {
	if t.IsConnected(ctx) {
		return nil
	}

	conn, resp, err := t.dialer.DialContext(ctx, t.url, nil)
	if resp != nil && resp.Body != nil {
		iox.DiscardClose(resp.Body)
	}
	if err != nil {
		t.logger.Error("websocket connect failed", map[string]any{
			"url":   t.url,
			"error": err.Error(),
		})
		return newError(ErrConnectFailed, CodeConnect, "", fmt.Sprintf("dial %s", t.url), err)
	}

	sess := &session{conn: conn, done: make(chan struct{})}

	t.mu.Lock()
	stale := t.sess
	if stale != nil {
		// Probe failed on a session the receive loop has not noticed yet.
		t.teardownLocked(ErrConnectionLost, "websocket connection lost")
	}
	t.sess = sess
	t.transfer = transferIdle{}
	t.mu.Unlock()

	if stale != nil {
		iox.DiscardClose(stale.conn)
	}

	go t.receive(sess)

	t.logger.Info("websocket connected", map[string]any{"url": t.url})
	return nil
}

// IsConnected reports whether the transport has a live session. When it
// does, a check_connection no-op is written to confirm the socket accepts
// data. After a detected connection loss it returns false without I/O.
func (t *Transport) IsConnected(ctx context.Context) bool {
	t.mu.Lock()
	sess := t.sess
	t.mu.Unlock()

	if sess == nil {
		return false
	}

	if err := t.write(ctx, sess, NewRequest(APICheckConnection, nil)); err != nil {
		t.logger.Warn("liveness probe failed", map[string]any{
			"url":   t.url,
			"error": err.Error(),
		})
		return false
	}
	return true
}

// Call sends api with params and waits for the correlated response.
//
// Errors (all *Error, classify with errors.Is):
//   - ErrNotConnected: no live session
//   - ErrTransport: the request could not be encoded or written
//   - ErrCancelled: ctx was cancelled while waiting
//   - ErrTimeout: no response within timeout (timeout <= 0 waits indefinitely)
//   - ErrRemote: the gateway answered with an error response
//   - ErrProtocol: a file transfer completed without data
//   - ErrConnectionLost / ErrConnectionClosed: the session ended first
//
// On every failure the pending entry, and the file transfer slot if this
// call owns it, are released before Call returns.
func (t *Transport) Call(ctx context.Context, api string, params map[string]any, timeout time.Duration, opts ...CallOption) (*Response, error) {
	req := NewRequest(api, params)
	for _, opt := range opts {
		opt(req)
	}
	id := req.RequestID

	if !t.IsConnected(ctx) {
		return nil, newError(ErrNotConnected, CodeConnect, id, "websocket not connected", nil)
	}

	c := newCompletion()

	t.mu.Lock()
	sess := t.sess
	if sess == nil {
		t.mu.Unlock()
		return nil, newError(ErrNotConnected, CodeConnect, id, "websocket not connected", nil)
	}
	if _, dup := t.pending[id]; dup {
		t.mu.Unlock()
		return nil, newError(ErrTransport, CodeTransport, id, "duplicate request id", nil)
	}
	t.pending[id] = c
	t.mu.Unlock()

	if err := t.write(ctx, sess, req); err != nil {
		return t.abandon(c, id, newError(ErrTransport, CodeTransport, id, fmt.Sprintf("send %s", api), err))
	}

	var timer <-chan time.Time
	if timeout > 0 {
		tm := time.NewTimer(timeout)
		defer tm.Stop()
		timer = tm.C
	}

	select {
	case out := <-c.ch:
		return out.resp, out.err
	case <-ctx.Done():
		return t.abandon(c, id, newError(ErrCancelled, CodeClosed, id, fmt.Sprintf("request cancelled: %s", api), ctx.Err()))
	case <-timer:
		return t.abandon(c, id, newError(ErrTimeout, CodeTimeout, id, fmt.Sprintf("request timed out: %s", api), nil))
	}
}

// abandon releases a call the caller has stopped waiting for. If the call
// was resolved concurrently, that resolution is returned instead of failure.
func (t *Transport) abandon(c *completion, id string, failure *Error) (*Response, error) {
	t.mu.Lock()
	_, stillPending := t.pending.take(id)
	if stillPending {
		if _, owned := ownedBy(t.transfer, id); owned {
			t.transfer = transferIdle{}
		}
	}
	t.mu.Unlock()

	if !stillPending {
		// Resolutions are delivered under t.mu, so the value is already buffered.
		out := <-c.ch
		return out.resp, out.err
	}
	return nil, failure
}

// Close ends the session. Every pending call, including an in-flight file
// transfer, is resolved with ErrConnectionClosed before the socket closes.
// Safe to call on a closed transport.
func (t *Transport) Close() error {
	t.mu.Lock()
	sess := t.sess
	t.sess = nil
	n := t.teardownLocked(ErrConnectionClosed, "connection closed")
	t.mu.Unlock()

	if sess == nil {
		return nil
	}

	t.writeMu.Lock()
	_ = sess.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeGrace),
	)
	t.writeMu.Unlock()

	err := sess.conn.Close()
	<-sess.done

	t.logger.Info("websocket closed", map[string]any{
		"url":     t.url,
		"drained": n,
	})
	return err
}

// PendingCount returns the number of outstanding calls.
func (t *Transport) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// write encodes v and sends it as one text frame.
func (t *Transport) write(ctx context.Context, sess *session, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = sess.conn.SetWriteDeadline(deadline)
		defer func() { _ = sess.conn.SetWriteDeadline(time.Time{}) }()
	}
	return sess.conn.WriteMessage(websocket.TextMessage, payload)
}

// receive is the session's only reader. It exits when the socket fails or
// is closed.
func (t *Transport) receive(sess *session) {
	defer close(sess.done)

	for {
		msgType, data, err := sess.conn.ReadMessage()
		if err != nil {
			t.lost(sess, err)
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			t.appendChunk(data)
		case websocket.TextMessage:
			t.dispatch(data)
		}
	}
}

// lost drains the session after an unexpected read failure. A session that
// was closed or replaced locally has already been drained.
func (t *Transport) lost(sess *session, cause error) {
	t.mu.Lock()
	if t.sess != sess {
		t.mu.Unlock()
		return
	}
	t.sess = nil
	n := t.teardownLocked(ErrConnectionLost, "websocket connection lost")
	t.mu.Unlock()

	iox.DiscardClose(sess.conn)

	t.logger.Warn("websocket connection lost", map[string]any{
		"url":     t.url,
		"error":   cause.Error(),
		"drained": n,
	})
}

// teardownLocked resolves every pending call with kind. The call owning the
// file transfer slot, if any, is resolved first. Caller must hold t.mu.
func (t *Transport) teardownLocked(kind error, message string) int {
	n := 0
	if recv, ok := t.transfer.(*transferReceiving); ok {
		if c, found := t.pending.take(recv.requestID); found {
			c.resolve(nil, newError(kind, CodeClosed, recv.requestID, "file transfer interrupted: "+message, nil))
			n++
		}
	}
	t.transfer = transferIdle{}

	n += t.pending.drain(func(id string) error {
		return newError(kind, CodeClosed, id, message, nil)
	})
	return n
}

// appendChunk adds a binary frame to the active transfer, if any.
func (t *Transport) appendChunk(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if recv, ok := t.transfer.(*transferReceiving); ok {
		recv.chunks = append(recv.chunks, data)
	}
}

// dispatch routes one JSON text frame.
func (t *Transport) dispatch(data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.logger.Error("undecodable frame", map[string]any{
			"url":   t.url,
			"error": err.Error(),
		})
		return
	}

	switch f.Type {
	case TypeCheck:
		return
	case TypeFile:
		t.fileMarker(&f)
	case TypeResponse, TypeError:
		t.resolve(f.response())
	default:
		t.logger.Warn("unknown frame type", map[string]any{
			"url":        t.url,
			"type":       f.Type,
			"request_id": f.RequestID,
		})
	}
}

// fileMarker opens a transfer on start. End is a no-op: the terminating
// response carries the bytes.
func (t *Transport) fileMarker(f *frame) {
	if f.RequestID == "" || f.fileMarker() != FileStart {
		return
	}

	t.mu.Lock()
	prev, superseded := t.transfer.(*transferReceiving)
	// A second start supersedes the first buffer. This agent never issues
	// two concurrent reads on one connection, so this only guards the slot.
	t.transfer = &transferReceiving{requestID: f.RequestID}
	t.mu.Unlock()

	if superseded && prev.requestID != f.RequestID {
		t.logger.Warn("file transfer superseded", map[string]any{
			"url":        t.url,
			"request_id": prev.requestID,
			"by":         f.RequestID,
		})
	}
}

// resolve completes the pending call matching resp, if any.
func (t *Transport) resolve(resp *Response) {
	if resp.RequestID == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.pending.take(resp.RequestID)
	if !ok {
		return
	}

	recv, owned := ownedBy(t.transfer, resp.RequestID)
	if owned {
		t.transfer = transferIdle{}
	}

	if !resp.Success() {
		c.resolve(nil, remoteError(resp))
		return
	}

	if owned {
		if len(recv.chunks) == 0 {
			c.resolve(nil, newError(ErrProtocol, CodeProtocol, resp.RequestID, "transfer completed with no data", nil))
			return
		}
		resp.Bytes = recv.concat()
	}

	c.resolve(resp, nil)
}
