package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Paddel87/AIMAlocal-sub001/internal/core/contracts"
	"github.com/Paddel87/AIMAlocal-sub001/internal/core/domain"
)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

type recorder struct {
	mu   sync.Mutex
	seen []string
}

func (r *recorder) listener(name string) func(json.RawMessage) {
	return func(data json.RawMessage) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.seen = append(r.seen, name+":"+string(data))
	}
}

func (r *recorder) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.seen))
	copy(out, r.seen)
	return out
}

func TestManager_ConnectIsIdempotent(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	_, err := h.connected(ctx)
	require.NoError(t, err)
	require.NoError(t, h.m.Connect(ctx))

	assert.Equal(t, 1, h.dialer.dialCount())
	assert.Equal(t, State{Phase: Connected}, h.m.State())
}

func TestManager_ConnectWhileDialing(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	gate := make(chan struct{})
	h.dialer.gate = gate
	h.dialer.queue(dialResult{conn: newFakeConn()})

	done := make(chan error, 1)
	go func() { done <- h.m.Connect(ctx) }()
	require.Eventually(t, func() bool { return h.m.State().Phase == Connecting }, waitFor, tick)

	assert.ErrorIs(t, h.m.Connect(ctx), domain.ErrConnectionInProgress)

	close(gate)
	require.NoError(t, <-done)
	assert.Equal(t, Connected, h.m.State().Phase)
	assert.Equal(t, 1, h.dialer.dialCount())
}

func TestManager_FailedConnectDoesNotRetry(t *testing.T) {
	h := newHarness()

	err := h.m.Connect(context.Background())

	assert.ErrorIs(t, err, domain.ErrConnection)
	assert.Equal(t, State{Phase: Disconnected}, h.m.State())
	assert.Nil(t, h.clock.pending())
	assert.True(t, h.sawPhase(Connecting))
}

func TestManager_DispatchInRegistrationOrder(t *testing.T) {
	h := newHarness()
	rec := &recorder{}
	h.m.On(domain.TypeJobUpdate, rec.listener("first"))
	h.m.On(domain.TypeJobUpdate, rec.listener("second"))
	h.m.On(domain.TypeMLProgress, rec.listener("other"))

	conn, err := h.connected(context.Background())
	require.NoError(t, err)
	conn.push(jobUpdateFrame("job-1", "PROCESSING"))

	payload := `{"jobId":"job-1","status":"PROCESSING"}`
	require.Eventually(t, func() bool { return len(rec.calls()) == 2 }, waitFor, tick)
	assert.Equal(t, []string{"first:" + payload, "second:" + payload}, rec.calls())
}

func TestManager_TapSeesEnvelopeBeforeListeners(t *testing.T) {
	h := newHarness()
	var (
		mu    sync.Mutex
		order []string
	)
	h.m.On(domain.TypeJobUpdate, func(json.RawMessage) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, "listener")
	})
	h.m.OnEnvelope(func(env domain.Envelope) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, "tap:"+env.Type+"@"+env.Timestamp)
	})

	conn, err := h.connected(context.Background())
	require.NoError(t, err)
	conn.push(jobUpdateFrame("job-1", "COMPLETED"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, waitFor, tick)
	assert.Equal(t, []string{"tap:job_update@2024-05-01T10:00:00Z", "listener"}, order)
}

func TestManager_ListenerRemovedDuringDispatch(t *testing.T) {
	h := newHarness()
	rec := &recorder{}
	var secondID contracts.ListenerID
	h.m.On(domain.TypeJobUpdate, func(data json.RawMessage) {
		rec.listener("first")(data)
		h.m.Off(domain.TypeJobUpdate, secondID)
	})
	secondID = h.m.On(domain.TypeJobUpdate, rec.listener("second"))

	conn, err := h.connected(context.Background())
	require.NoError(t, err)
	conn.push(jobUpdateFrame("job-1", "PROCESSING"))
	require.Eventually(t, func() bool { return len(rec.calls()) == 2 }, waitFor, tick)

	conn.push(jobUpdateFrame("job-1", "COMPLETED"))
	conn.push(jobUpdateFrame("job-1", "FAILED"))
	require.Eventually(t, func() bool { return len(rec.calls()) == 4 }, waitFor, tick)
	for _, c := range rec.calls()[2:] {
		assert.Contains(t, c, "first:")
	}
}

func TestManager_MalformedFramesAreDropped(t *testing.T) {
	h := newHarness()
	rec := &recorder{}
	h.m.On(domain.TypeJobUpdate, rec.listener("job"))

	conn, err := h.connected(context.Background())
	require.NoError(t, err)
	conn.push("not json")
	conn.push(`{"data":{"jobId":"job-1"}}`)
	conn.push(jobUpdateFrame("job-1", "FAILED"))

	require.Eventually(t, func() bool { return len(rec.calls()) == 1 }, waitFor, tick)
	assert.Equal(t, uint64(2), h.m.Stats().Malformed)
	assert.Equal(t, Connected, h.m.State().Phase)
	assert.Contains(t, h.logs.String(), "malformed frame dropped")
}

func TestManager_UnknownTypeIsIgnored(t *testing.T) {
	h := newHarness()
	rec := &recorder{}
	h.m.On(domain.TypeJobUpdate, rec.listener("job"))

	conn, err := h.connected(context.Background())
	require.NoError(t, err)
	conn.push(`{"type":"something_new","data":{}}`)
	conn.push(jobUpdateFrame("job-1", "FAILED"))

	require.Eventually(t, func() bool { return len(rec.calls()) == 1 }, waitFor, tick)
	assert.Zero(t, h.m.Stats().Malformed)
}

func TestManager_ListenerPanicIsContained(t *testing.T) {
	h := newHarness()
	rec := &recorder{}
	h.m.On(domain.TypeJobUpdate, func(json.RawMessage) { panic("boom") })
	h.m.On(domain.TypeJobUpdate, rec.listener("survivor"))

	conn, err := h.connected(context.Background())
	require.NoError(t, err)
	conn.push(jobUpdateFrame("job-1", "PROCESSING"))
	conn.push(jobUpdateFrame("job-1", "COMPLETED"))

	require.Eventually(t, func() bool { return len(rec.calls()) == 2 }, waitFor, tick)
	assert.Equal(t, uint64(2), h.m.Stats().ListenerFaults)
	assert.Equal(t, Connected, h.m.State().Phase)
	assert.Contains(t, h.logs.String(), "listener panicked")
}

func TestManager_Off(t *testing.T) {
	h := newHarness()
	rec := &recorder{}
	id := h.m.On(domain.TypeJobUpdate, rec.listener("gone"))
	h.m.On(domain.TypeJobUpdate, rec.listener("kept"))
	h.m.Off(domain.TypeJobUpdate, id)
	h.m.Off(domain.TypeJobUpdate, id)

	conn, err := h.connected(context.Background())
	require.NoError(t, err)
	conn.push(jobUpdateFrame("job-1", "PROCESSING"))

	require.Eventually(t, func() bool { return len(rec.calls()) == 1 }, waitFor, tick)
	assert.Contains(t, rec.calls()[0], "kept:")
}

func TestManager_SendWhileDisconnected(t *testing.T) {
	h := newHarness()

	err := h.m.SubscribeToJob("job-7")

	assert.ErrorIs(t, err, domain.ErrNotConnected)
	assert.Equal(t, uint64(1), h.m.Stats().Dropped)
	assert.Contains(t, h.logs.String(), "not connected, frame dropped")
	assert.Zero(t, h.dialer.dialCount(), "send must not trigger a connect")
}

func TestManager_SendWritesEnvelope(t *testing.T) {
	h := newHarness()
	h.m.now = func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }

	conn, err := h.connected(context.Background())
	require.NoError(t, err)
	require.NoError(t, h.m.SubscribeToJob("job-7"))
	require.NoError(t, h.m.UnsubscribeFromJob("job-7"))

	require.Eventually(t, func() bool { return len(conn.frames()) == 2 }, waitFor, tick)
	frames := conn.frames()
	assert.JSONEq(t, `{"type":"subscribe_job","data":{"jobId":"job-7"},"timestamp":"2024-05-01T10:00:00Z"}`, string(frames[0]))
	assert.JSONEq(t, `{"type":"unsubscribe_job","data":{"jobId":"job-7"},"timestamp":"2024-05-01T10:00:00Z"}`, string(frames[1]))
	assert.Zero(t, h.m.Stats().Dropped)
}

func TestManager_ReconnectUntilExhausted(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	conn, err := h.connected(ctx)
	require.NoError(t, err)
	conn.drop(errPeerGone)
	require.Eventually(t, func() bool {
		return h.m.State() == State{Phase: ReconnectScheduled, Attempt: 1}
	}, waitFor, tick)
	require.Eventually(t, func() bool { return conn.closeCount() == 1 }, waitFor, tick)

	for h.clock.fire() {
	}

	assert.Equal(t, []time.Duration{
		3 * time.Second, 6 * time.Second, 9 * time.Second, 12 * time.Second, 15 * time.Second,
	}, h.clock.delays())
	assert.Equal(t, State{Phase: Exhausted, Attempt: 5}, h.m.State())
	assert.Equal(t, 6, h.dialer.dialCount())
	assert.Contains(t, h.logs.String(), domain.ErrReconnectExhausted.Error())

	_, err = h.connected(ctx)
	require.NoError(t, err)
	assert.Equal(t, State{Phase: Connected}, h.m.State())
}

func TestManager_SuccessfulRetryResetsAttempts(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	first, err := h.connected(ctx)
	require.NoError(t, err)
	first.drop(errPeerGone)
	require.Eventually(t, func() bool { return h.m.State().Phase == ReconnectScheduled }, waitFor, tick)

	// attempt 1 fails, attempt 2 succeeds
	require.True(t, h.clock.fire())
	second := newFakeConn()
	h.dialer.queue(dialResult{conn: second})
	require.True(t, h.clock.fire())
	assert.Equal(t, State{Phase: Connected}, h.m.State())

	second.drop(errPeerGone)
	require.Eventually(t, func() bool {
		return h.m.State() == State{Phase: ReconnectScheduled, Attempt: 1}
	}, waitFor, tick)
	assert.Equal(t, []time.Duration{3 * time.Second, 6 * time.Second, 3 * time.Second}, h.clock.delays())
}

func TestManager_ListenersSurviveReconnect(t *testing.T) {
	h := newHarness()
	rec := &recorder{}
	h.m.On(domain.TypeJobUpdate, rec.listener("job"))

	first, err := h.connected(context.Background())
	require.NoError(t, err)
	first.drop(errPeerGone)
	require.Eventually(t, func() bool { return h.m.State().Phase == ReconnectScheduled }, waitFor, tick)

	second := newFakeConn()
	h.dialer.queue(dialResult{conn: second})
	require.True(t, h.clock.fire())
	second.push(jobUpdateFrame("job-1", "COMPLETED"))

	require.Eventually(t, func() bool { return len(rec.calls()) == 1 }, waitFor, tick)
}

func TestManager_CleanCloseDoesNotReconnect(t *testing.T) {
	h := newHarness()

	conn, err := h.connected(context.Background())
	require.NoError(t, err)
	conn.drop(fmt.Errorf("%w: going away", domain.ErrCleanClose))

	require.Eventually(t, func() bool { return h.m.State().Phase == Disconnected }, waitFor, tick)
	assert.Nil(t, h.clock.pending())
	assert.Equal(t, 1, h.dialer.dialCount())
}

func TestManager_Disconnect(t *testing.T) {
	h := newHarness()
	rec := &recorder{}
	h.m.On(domain.TypeJobUpdate, rec.listener("job"))

	conn, err := h.connected(context.Background())
	require.NoError(t, err)

	h.m.Disconnect()
	h.m.Disconnect()

	assert.Equal(t, State{Phase: Disconnected}, h.m.State())
	assert.Equal(t, 1, conn.closeCount())
	assert.Zero(t, h.m.listeners.Len(domain.TypeJobUpdate))
	assert.True(t, h.sawPhase(Closing))
	assert.Nil(t, h.clock.pending())
	assert.ErrorIs(t, h.m.SubscribeToJob("job-1"), domain.ErrNotConnected)
}

func TestManager_DisconnectFlushesBufferedFrames(t *testing.T) {
	h := newHarness()
	conn, err := h.connected(context.Background())
	require.NoError(t, err)

	conn.holdWrites()
	for _, id := range []string{"job-1", "job-2", "job-3", "job-4", "job-5"} {
		require.NoError(t, h.m.UnsubscribeFromJob(id))
	}
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(conn.writeGate)
	}()

	h.m.Disconnect()

	assert.Len(t, conn.frames(), 5)
	assert.Zero(t, h.m.Stats().Dropped)
	assert.Equal(t, 1, conn.closeCount())
}

func TestManager_DisconnectCountsUnflushedFrames(t *testing.T) {
	h := newHarness()
	h.m.flushTimeout = 20 * time.Millisecond
	conn, err := h.connected(context.Background())
	require.NoError(t, err)

	conn.holdWrites()
	for _, id := range []string{"job-1", "job-2", "job-3"} {
		require.NoError(t, h.m.UnsubscribeFromJob(id))
	}

	h.m.Disconnect()

	require.Eventually(t, func() bool { return h.m.Stats().Dropped == 3 }, waitFor, tick)
	assert.Empty(t, conn.frames())
	assert.Contains(t, h.logs.String(), "flush timed out")
}

func TestManager_PeerCloseCountsBufferedFrames(t *testing.T) {
	h := newHarness()
	conn, err := h.connected(context.Background())
	require.NoError(t, err)

	conn.holdWrites()
	for _, id := range []string{"job-1", "job-2", "job-3"} {
		require.NoError(t, h.m.SubscribeToJob(id))
	}
	conn.drop(errPeerGone)

	require.Eventually(t, func() bool { return h.m.Stats().Dropped == 3 }, waitFor, tick)
	assert.Empty(t, conn.frames())
}

func TestManager_DisconnectCancelsScheduledReconnect(t *testing.T) {
	h := newHarness()

	conn, err := h.connected(context.Background())
	require.NoError(t, err)
	conn.drop(errPeerGone)
	require.Eventually(t, func() bool { return h.m.State().Phase == ReconnectScheduled }, waitFor, tick)

	h.m.Disconnect()

	assert.Equal(t, State{Phase: Disconnected}, h.m.State())
	assert.Nil(t, h.clock.pending())
	assert.Equal(t, 1, h.dialer.dialCount())
}

func TestManager_DisconnectAbortsDial(t *testing.T) {
	h := newHarness()
	h.dialer.gate = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- h.m.Connect(context.Background()) }()
	require.Eventually(t, func() bool { return h.m.State().Phase == Connecting }, waitFor, tick)

	h.m.Disconnect()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, domain.ErrConnection)
	case <-time.After(waitFor):
		t.Fatal("connect did not return after disconnect")
	}
	assert.Equal(t, State{Phase: Disconnected}, h.m.State())
}

func TestManager_ConnectAfterDisconnect(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	_, err := h.connected(ctx)
	require.NoError(t, err)
	h.m.Disconnect()

	_, err = h.connected(ctx)
	require.NoError(t, err)
	assert.Equal(t, State{Phase: Connected}, h.m.State())
	assert.Equal(t, 2, h.dialer.dialCount())
}
