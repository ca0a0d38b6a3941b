package channel

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Paddel87/AIMAlocal-sub001/internal/core/contracts"
)

// outbound serialises writes to one connection on its own goroutine.
// Every frame it accepts is either written or added to dropped.
type outbound struct {
	ctx     context.Context
	cancel  context.CancelFunc
	conn    contracts.Conn
	out     chan []byte
	log     *slog.Logger
	dropped *atomic.Uint64
	done    chan struct{}

	mu      sync.Mutex
	closed  bool
	discard bool
}

func newOutbound(parent context.Context, log *slog.Logger, conn contracts.Conn, size int, dropped *atomic.Uint64) *outbound {
	if size <= 0 {
		size = 1
	}
	ctx, cancel := context.WithCancel(parent)
	o := &outbound{
		ctx:     ctx,
		cancel:  cancel,
		conn:    conn,
		out:     make(chan []byte, size),
		log:     log,
		dropped: dropped,
		done:    make(chan struct{}),
	}
	go o.writeLoop()
	return o
}

// enqueue never blocks; it reports false when the buffer is full or the
// writer has stopped.
func (o *outbound) enqueue(data []byte) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	select {
	case o.out <- data:
		return true
	default:
		return false
	}
}

// abandon stops the writer; buffered frames are counted as dropped.
func (o *outbound) abandon() {
	o.shutdown(true)
}

// flush stops accepting frames and waits up to timeout for the buffered
// ones to be written. It reports whether the writer finished in time.
func (o *outbound) flush(timeout time.Duration) bool {
	o.shutdown(false)
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-o.done:
		return true
	case <-t.C:
		return false
	}
}

func (o *outbound) shutdown(discard bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	o.discard = discard
	o.cancel()
}

func (o *outbound) writeLoop() {
	defer close(o.done)
	for {
		select {
		case <-o.ctx.Done():
			o.mu.Lock()
			discard := o.discard
			o.mu.Unlock()
			if discard {
				o.drop("writer stopped")
				return
			}
			o.drain()
			return
		case data := <-o.out:
			if !o.write(data) {
				return
			}
		}
	}
}

// drain writes what is left in the buffer; enqueue is closed by now.
func (o *outbound) drain() {
	for {
		select {
		case data := <-o.out:
			if !o.write(data) {
				return
			}
		default:
			return
		}
	}
}

func (o *outbound) write(data []byte) bool {
	if err := o.conn.WriteMessage(data); err != nil {
		o.log.Warn("channel - write loop - write failed, closing connection", "err", err)
		o.dropped.Add(1)
		o.shutdown(true)
		// the read loop observes the closed socket and reports it
		_ = o.conn.Close()
		o.drop("write failed")
		return false
	}
	return true
}

// drop empties the buffer into the dropped counter.
func (o *outbound) drop(reason string) {
	n := 0
	for {
		select {
		case <-o.out:
			n++
		default:
			if n > 0 {
				o.dropped.Add(uint64(n))
				o.log.Warn("channel - write loop - buffered frames dropped", "frames", n, "reason", reason)
			}
			return
		}
	}
}
