package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Paddel87/AIMAlocal-sub001/internal/core/contracts"
	"github.com/Paddel87/AIMAlocal-sub001/internal/core/domain"
	"github.com/Paddel87/AIMAlocal-sub001/pkg/logging"
)

var tracer = otel.Tracer("channel-manager")

const defaultFlushTimeout = 5 * time.Second

// ErrSendBufferFull is returned by Send when the writer cannot keep up.
var ErrSendBufferFull = errors.New("push send buffer full")

type Config struct {
	URL              string
	Header           http.Header
	Retry            RetryPolicy
	HandshakeTimeout time.Duration
	SendBuffer       int
}

type Stats struct {
	State          State  `json:"-"`
	Phase          string `json:"state"`
	Attempt        int    `json:"attempt"`
	Dropped        uint64 `json:"droppedSends"`
	Malformed      uint64 `json:"malformedFrames"`
	ListenerFaults uint64 `json:"listenerFaults"`
}

// Timer is the part of *time.Timer the manager uses.
type Timer interface {
	Stop() bool
}

// Manager owns the single push connection: lifecycle, reconnects and
// typed dispatch to registered listeners.
type Manager struct {
	log       *slog.Logger
	cfg       Config
	dialer    contracts.Dialer
	listeners *Registry
	afterFunc func(time.Duration, func()) Timer
	now       func() time.Time

	// flushTimeout bounds how long Disconnect waits for buffered frames
	flushTimeout time.Duration

	mu        sync.Mutex
	state     State
	gen       uint64
	conn      contracts.Conn
	writer    *outbound
	timer     Timer
	abortDial context.CancelFunc
	observers []func(State)
	taps      []func(domain.Envelope)

	dropped   atomic.Uint64
	malformed atomic.Uint64
	faults    atomic.Uint64
}

var _ contracts.Channel = (*Manager)(nil)

func NewManager(log *slog.Logger, cfg Config, dialer contracts.Dialer) *Manager {
	if cfg.Retry.MaxAttempts <= 0 && cfg.Retry.Interval <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	return &Manager{
		log:       log.With(slog.String("component", "channel")),
		cfg:       cfg,
		dialer:    dialer,
		listeners: NewRegistry(),
		afterFunc: func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) },
		now:       time.Now,

		flushTimeout: defaultFlushTimeout,
	}
}

// Connect opens the push connection. It returns nil when already connected,
// domain.ErrConnectionInProgress while a dial is in flight, and an error
// wrapping domain.ErrConnection when the dial fails. A failed Connect never
// schedules a reconnect.
func (m *Manager) Connect(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "ChannelManager.Connect", trace.WithAttributes(
		attribute.String("ws.url", m.cfg.URL),
	))
	defer span.End()

	m.mu.Lock()
	next, eff := Transition(m.state, Event{Kind: EventConnect}, m.cfg.Retry)
	if eff.Err != nil {
		m.mu.Unlock()
		span.RecordError(eff.Err)
		return eff.Err
	}
	if !eff.Dial {
		m.mu.Unlock()
		span.SetStatus(codes.Ok, "already connected")
		return nil
	}
	m.stopTimerLocked()
	m.state = next
	m.gen++
	gen := m.gen
	m.mu.Unlock()
	m.emit(next)

	if err := m.dial(ctx, gen); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dial failed")
		return err
	}
	span.SetStatus(codes.Ok, "connected")
	return nil
}

// Disconnect closes the connection cleanly, clears every listener and
// cancels a pending reconnect. Calling it again is a no-op.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.stopTimerLocked()
	m.listeners.Clear()
	prev := m.state
	next, eff := Transition(m.state, Event{Kind: EventDisconnect}, m.cfg.Retry)
	if next == prev {
		m.mu.Unlock()
		return
	}
	m.gen++
	conn, writer := m.conn, m.writer
	m.conn, m.writer = nil, nil
	if eff.CancelDial && m.abortDial != nil {
		m.abortDial()
	}
	m.abortDial = nil
	m.state = next
	m.mu.Unlock()
	m.emit(next)

	if !eff.CloseConn {
		m.log.Info("channel - disconnect - cancelled", "from", prev.String())
		return
	}
	if writer != nil && !writer.flush(m.flushTimeout) {
		m.log.Warn("channel - disconnect - flush timed out", "timeout", m.flushTimeout)
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			m.log.Debug("channel - disconnect - close failed", logging.Err(err))
		}
	}

	m.mu.Lock()
	final, _ := Transition(m.state, Event{Kind: EventClosed, Clean: true}, m.cfg.Retry)
	changed := final != m.state
	m.state = final
	m.mu.Unlock()
	if changed {
		m.emit(final)
	}
	m.log.Info("channel - disconnect - closed")
}

// On registers a listener for eventType. Listeners run in registration order.
func (m *Manager) On(eventType string, l contracts.Listener) contracts.ListenerID {
	return m.listeners.Add(eventType, l)
}

// Off removes a listener. Unknown ids are ignored.
func (m *Manager) Off(eventType string, id contracts.ListenerID) {
	m.listeners.Remove(eventType, id)
}

// OnStateChange registers an observer for connection state transitions.
func (m *Manager) OnStateChange(fn func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// OnEnvelope registers a tap that sees every well-formed inbound envelope
// before listeners do. Taps survive Disconnect.
func (m *Manager) OnEnvelope(fn func(domain.Envelope)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.taps = append(m.taps, fn)
}

// Send enqueues a typed envelope. When the channel is not connected the
// frame is dropped and counted; there is no queue for later delivery.
func (m *Manager) Send(eventType string, payload any) error {
	data, err := json.Marshal(domain.NewOutbound(eventType, payload, m.now()))
	if err != nil {
		return fmt.Errorf("encode %s envelope: %w", eventType, err)
	}

	m.mu.Lock()
	w := m.writer
	connected := m.state.Phase == Connected && w != nil
	state := m.state
	m.mu.Unlock()

	if !connected {
		m.dropped.Add(1)
		m.log.Warn("channel - send - not connected, frame dropped", logging.EventType(eventType), "state", state.String())
		return domain.ErrNotConnected
	}
	if !w.enqueue(data) {
		m.dropped.Add(1)
		m.log.Warn("channel - send - buffer full, frame dropped", logging.EventType(eventType))
		return ErrSendBufferFull
	}
	return nil
}

func (m *Manager) SubscribeToJob(jobID string) error {
	return m.Send(domain.TypeSubscribeJob, domain.JobSubscription{JobID: jobID})
}

func (m *Manager) UnsubscribeFromJob(jobID string) error {
	return m.Send(domain.TypeUnsubscribeJob, domain.JobSubscription{JobID: jobID})
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Stats() Stats {
	st := m.State()
	return Stats{
		State:          st,
		Phase:          st.Phase.String(),
		Attempt:        st.Attempt,
		Dropped:        m.dropped.Load(),
		Malformed:      m.malformed.Load(),
		ListenerFaults: m.faults.Load(),
	}
}

func (m *Manager) dial(ctx context.Context, gen uint64) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if m.cfg.HandshakeTimeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, m.cfg.HandshakeTimeout)
		defer cancelTimeout()
	}
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return fmt.Errorf("%w: attempt aborted", domain.ErrConnection)
	}
	m.abortDial = cancel
	m.mu.Unlock()

	conn, err := m.dialer.Dial(ctx, m.cfg.URL, m.cfg.Header.Clone())

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return fmt.Errorf("%w: attempt aborted", domain.ErrConnection)
	}
	m.abortDial = nil
	if err != nil {
		attempt := m.state.Attempt
		next, eff := Transition(m.state, Event{Kind: EventDialFailed}, m.cfg.Retry)
		m.state = next
		if eff.Schedule > 0 {
			m.scheduleLocked(eff.Schedule)
		}
		m.mu.Unlock()

		m.log.Warn("channel - dial - failed", logging.Attempt(attempt), logging.Err(err))
		if eff.Exhausted {
			m.reportExhausted(next)
		}
		m.emit(next)
		return fmt.Errorf("%w: %w", domain.ErrConnection, err)
	}

	next, _ := Transition(m.state, Event{Kind: EventDialed}, m.cfg.Retry)
	m.state = next
	m.conn = conn
	m.writer = newOutbound(context.Background(), m.log, conn, m.cfg.SendBuffer, &m.dropped)
	m.mu.Unlock()

	m.log.Info("channel - dial - connected", "url", m.cfg.URL)
	m.emit(next)
	go m.readLoop(gen, conn)
	return nil
}

func (m *Manager) readLoop(gen uint64, conn contracts.Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			m.handleClosed(gen, conn, err)
			return
		}
		if len(data) > 0 {
			m.dispatch(data)
		}
	}
}

func (m *Manager) handleClosed(gen uint64, conn contracts.Conn, err error) {
	clean := errors.Is(err, domain.ErrCleanClose)

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	if m.writer != nil {
		m.writer.abandon()
		m.writer = nil
	}
	m.conn = nil
	next, eff := Transition(m.state, Event{Kind: EventClosed, Clean: clean}, m.cfg.Retry)
	m.state = next
	if eff.Schedule > 0 {
		m.scheduleLocked(eff.Schedule)
	}
	m.mu.Unlock()

	_ = conn.Close()
	if clean {
		m.log.Info("channel - read loop - closed by peer")
	} else {
		m.log.Warn("channel - read loop - unexpected close", logging.Err(err), "next", next.String(), "retry_in", eff.Schedule)
	}
	if eff.Exhausted {
		m.reportExhausted(next)
	}
	m.emit(next)
}

func (m *Manager) retry(gen uint64) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	next, eff := Transition(m.state, Event{Kind: EventRetry}, m.cfg.Retry)
	if !eff.Dial {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.state = next
	m.gen++
	g := m.gen
	m.mu.Unlock()

	m.log.Info("channel - retry - reconnecting", logging.Attempt(next.Attempt))
	m.emit(next)
	if err := m.dial(context.Background(), g); err != nil {
		m.log.Debug("channel - retry - attempt failed", logging.Attempt(next.Attempt), logging.Err(err))
	}
}

// scheduleLocked arms the reconnect timer for the current generation.
func (m *Manager) scheduleLocked(d time.Duration) {
	gen := m.gen
	m.timer = m.afterFunc(d, func() { m.retry(gen) })
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) reportExhausted(s State) {
	m.log.Error("channel - reconnect - giving up",
		logging.Attempt(s.Attempt),
		logging.Err(domain.ErrReconnectExhausted),
	)
}

func (m *Manager) dispatch(data []byte) {
	var env domain.Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		m.malformed.Add(1)
		m.log.Warn("channel - dispatch - malformed frame dropped",
			logging.Err(errors.Join(domain.ErrMalformedFrame, err)),
			"size", len(data),
		)
		return
	}

	m.mu.Lock()
	taps := m.taps
	m.mu.Unlock()
	for _, tap := range taps {
		m.safeCall(env.Type, 0, func() { tap(env) })
	}
	for _, e := range m.listeners.Snapshot(env.Type) {
		m.safeCall(env.Type, e.id, func() { e.fn(env.Data) })
	}
}

func (m *Manager) safeCall(eventType string, id contracts.ListenerID, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.faults.Add(1)
			m.log.Error("channel - dispatch - listener panicked",
				logging.EventType(eventType),
				"listener", uint64(id),
				"panic", fmt.Sprint(r),
				logging.Err(domain.ErrListenerPanic),
			)
		}
	}()
	fn()
}

func (m *Manager) emit(s State) {
	m.mu.Lock()
	obs := m.observers
	m.mu.Unlock()
	for _, fn := range obs {
		fn(s)
	}
}
