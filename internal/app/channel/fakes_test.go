package channel

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Paddel87/AIMAlocal-sub001/internal/core/contracts"
	"github.com/Paddel87/AIMAlocal-sub001/internal/core/domain"
)

var errPeerGone = errors.New("connection reset by peer")

type fakeConn struct {
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	endErr  error
	written [][]byte
	closes  int
	// writeGate, when set, holds every write until it is closed
	writeGate chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data, ok := <-c.in:
		if !ok {
			c.mu.Lock()
			defer c.mu.Unlock()
			return nil, c.endErr
		}
		return data, nil
	case <-c.closed:
		return nil, errors.New("use of closed network connection")
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	gate := c.writeGate
	c.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-c.closed:
			return errors.New("use of closed network connection")
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) holdWrites() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeGate = make(chan struct{})
}

func (c *fakeConn) push(frame string) { c.in <- []byte(frame) }

// drop ends the connection from the peer side with err.
func (c *fakeConn) drop(err error) {
	c.mu.Lock()
	c.endErr = err
	c.mu.Unlock()
	close(c.in)
}

func (c *fakeConn) frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.written))
	copy(out, c.written)
	return out
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

type dialResult struct {
	conn *fakeConn
	err  error
}

// fakeDialer hands out queued results; an empty queue fails the dial.
type fakeDialer struct {
	mu      sync.Mutex
	results []dialResult
	dials   int
	header  http.Header
	gate    chan struct{}
}

func (d *fakeDialer) queue(results ...dialResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results = append(d.results, results...)
}

func (d *fakeDialer) Dial(ctx context.Context, url string, header http.Header) (contracts.Conn, error) {
	d.mu.Lock()
	gate := d.gate
	d.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.header = header
	if len(d.results) == 0 {
		return nil, errors.New("connection refused")
	}
	r := d.results[0]
	d.results = d.results[1:]
	if r.err != nil {
		return nil, r.err
	}
	return r.conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type fakeTimer struct {
	c       *fakeClock
	d       time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

// fakeClock records scheduled retries so tests can fire them by hand.
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) afterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{c: c, d: d, fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, 0, len(c.timers))
	for _, t := range c.timers {
		out = append(out, t.d)
	}
	return out
}

func (c *fakeClock) pending() *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.timers) - 1; i >= 0; i-- {
		if !c.timers[i].stopped {
			return c.timers[i]
		}
	}
	return nil
}

// fire runs the newest pending timer on the calling goroutine.
func (c *fakeClock) fire() bool {
	t := c.pending()
	if t == nil {
		return false
	}
	c.mu.Lock()
	t.stopped = true
	c.mu.Unlock()
	t.fn()
	return true
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type harness struct {
	m      *Manager
	dialer *fakeDialer
	clock  *fakeClock
	logs   *syncBuffer

	mu     sync.Mutex
	states []State
}

func newHarness() *harness {
	h := &harness{
		dialer: &fakeDialer{},
		clock:  &fakeClock{},
		logs:   &syncBuffer{},
	}
	log := slog.New(slog.NewTextHandler(h.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h.m = NewManager(log, Config{URL: "ws://push.test/ws", Retry: DefaultRetryPolicy()}, h.dialer)
	h.m.afterFunc = h.clock.afterFunc
	h.m.OnStateChange(func(s State) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.states = append(h.states, s)
	})
	return h
}

func (h *harness) sawPhase(p Phase) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.states {
		if s.Phase == p {
			return true
		}
	}
	return false
}

// connected dials a fresh fake connection and returns it.
func (h *harness) connected(ctx context.Context) (*fakeConn, error) {
	conn := newFakeConn()
	h.dialer.queue(dialResult{conn: conn})
	return conn, h.m.Connect(ctx)
}

func jobUpdateFrame(jobID, status string) string {
	return `{"type":"` + domain.TypeJobUpdate + `","data":{"jobId":"` + jobID + `","status":"` + status + `"},"timestamp":"2024-05-01T10:00:00Z"}`
}
