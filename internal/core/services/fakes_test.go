package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/Paddel87/AIMAlocal-sub001/internal/core/contracts"
	"github.com/Paddel87/AIMAlocal-sub001/internal/core/domain"
)

type listenerEntry struct {
	id contracts.ListenerID
	fn contracts.Listener
}

// fakeChannel dispatches synchronously and records control messages.
type fakeChannel struct {
	mu        sync.Mutex
	next      contracts.ListenerID
	listeners map[string][]listenerEntry
	sent      []string
	down      bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{listeners: make(map[string][]listenerEntry)}
}

func (c *fakeChannel) On(eventType string, l contracts.Listener) contracts.ListenerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	c.listeners[eventType] = append(c.listeners[eventType], listenerEntry{id: c.next, fn: l})
	return c.next
}

func (c *fakeChannel) Off(eventType string, id contracts.ListenerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var rest []listenerEntry
	for _, e := range c.listeners[eventType] {
		if e.id != id {
			rest = append(rest, e)
		}
	}
	c.listeners[eventType] = rest
}

func (c *fakeChannel) send(kind, jobID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return domain.ErrNotConnected
	}
	c.sent = append(c.sent, kind+":"+jobID)
	return nil
}

func (c *fakeChannel) SubscribeToJob(jobID string) error {
	return c.send(domain.TypeSubscribeJob, jobID)
}

func (c *fakeChannel) UnsubscribeFromJob(jobID string) error {
	return c.send(domain.TypeUnsubscribeJob, jobID)
}

func (c *fakeChannel) deliver(eventType string, data string) {
	c.mu.Lock()
	snap := append([]listenerEntry(nil), c.listeners[eventType]...)
	c.mu.Unlock()
	for _, e := range snap {
		e.fn(json.RawMessage(data))
	}
}

func (c *fakeChannel) sends() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

func (c *fakeChannel) listenerCount(eventType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.listeners[eventType])
}

type fakeFetcher struct {
	mu    sync.Mutex
	jobs  map[string]*domain.Job
	err   error
	pulls int
	// onPull runs before the lookup, outside the lock
	onPull func(ctx context.Context, jobID string)
}

func (f *fakeFetcher) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	f.mu.Lock()
	hook := f.onPull
	f.mu.Unlock()
	if hook != nil {
		hook(ctx, jobID)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulls++
	if f.err != nil {
		return nil, f.err
	}
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, errors.New("job not found")
	}
	cp := *job
	return &cp, nil
}

type captureSink struct {
	mu  sync.Mutex
	got []domain.Notification
}

func (s *captureSink) Notify(n domain.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, n)
}

func (s *captureSink) all() []domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Notification(nil), s.got...)
}

func testLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}
