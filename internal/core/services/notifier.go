package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Paddel87/AIMAlocal-sub001/internal/core/contracts"
	"github.com/Paddel87/AIMAlocal-sub001/internal/core/domain"
	"github.com/Paddel87/AIMAlocal-sub001/pkg/logging"
)

// Notifier turns ML push events and connection changes into user-facing
// notifications.
type Notifier struct {
	log  *slog.Logger
	sink contracts.NotificationSink
	now  func() time.Time

	mu        sync.Mutex
	channel   contracts.Channel
	listeners map[string]contracts.ListenerID
	lost      bool
}

func NewNotifier(log *slog.Logger, sink contracts.NotificationSink) *Notifier {
	return &Notifier{
		log:  log.With(slog.String("component", "notifier")),
		sink: sink,
		now:  time.Now,
	}
}

// Attach registers the notifier's listeners on ch. A second Attach
// replaces the first.
func (n *Notifier) Attach(ch contracts.Channel) {
	n.Detach()
	handlers := map[string]contracts.Listener{
		domain.TypeMLProgress:         n.onProgress,
		domain.TypeMLComplete:         n.onComplete,
		domain.TypeMLError:            n.onError,
		domain.TypeSystemNotification: n.onSystem,
	}
	ids := make(map[string]contracts.ListenerID, len(handlers))
	for t, fn := range handlers {
		ids[t] = ch.On(t, fn)
	}
	n.mu.Lock()
	n.channel, n.listeners = ch, ids
	n.mu.Unlock()
}

func (n *Notifier) Detach() {
	n.mu.Lock()
	ch, ids := n.channel, n.listeners
	n.channel, n.listeners = nil, nil
	n.mu.Unlock()
	for t, id := range ids {
		ch.Off(t, id)
	}
}

// Connected reports a (re)established connection. Only a recovery after a
// loss is surfaced.
func (n *Notifier) Connected() {
	n.mu.Lock()
	wasLost := n.lost
	n.lost = false
	n.mu.Unlock()
	if wasLost {
		n.emit(domain.Notification{Level: domain.LevelSuccess, Title: "Live updates restored", Message: "Reconnected to the push channel."})
	}
}

func (n *Notifier) Reconnecting(attempt int, in time.Duration) {
	n.mu.Lock()
	first := !n.lost
	n.lost = true
	n.mu.Unlock()
	if first {
		n.emit(domain.Notification{
			Level:   domain.LevelWarning,
			Title:   "Connection lost",
			Message: fmt.Sprintf("Reconnecting in %s (attempt %d).", in, attempt),
		})
	}
}

func (n *Notifier) Exhausted(attempts int) {
	n.mu.Lock()
	n.lost = true
	n.mu.Unlock()
	n.emit(domain.Notification{
		Level:   domain.LevelError,
		Title:   "Live updates unavailable",
		Message: fmt.Sprintf("Gave up after %d reconnect attempts. Reconnect manually to resume.", attempts),
	})
}

func (n *Notifier) onProgress(data json.RawMessage) {
	var p domain.MLProgress
	if !n.decode(domain.TypeMLProgress, data, &p) {
		return
	}
	msg := fmt.Sprintf("%.0f%% done", p.Progress*100)
	if p.Stage != "" {
		msg = p.Stage + ": " + msg
	}
	if p.Message != "" {
		msg += " - " + p.Message
	}
	n.emit(domain.Notification{Level: domain.LevelInfo, Title: "Processing", Message: msg, JobID: p.JobID})
}

func (n *Notifier) onComplete(data json.RawMessage) {
	var c domain.MLComplete
	if !n.decode(domain.TypeMLComplete, data, &c) {
		return
	}
	title := "Analysis complete"
	if c.Type != "" {
		title = c.Type + " complete"
	}
	n.emit(domain.Notification{Level: domain.LevelSuccess, Title: title, Message: "Results are ready.", JobID: c.JobID})
}

func (n *Notifier) onError(data json.RawMessage) {
	var e domain.MLError
	if !n.decode(domain.TypeMLError, data, &e) {
		return
	}
	n.emit(domain.Notification{Level: domain.LevelError, Title: "Analysis failed", Message: e.Error, JobID: e.JobID})
}

func (n *Notifier) onSystem(data json.RawMessage) {
	var s domain.SystemNotification
	if !n.decode(domain.TypeSystemNotification, data, &s) {
		return
	}
	level := domain.NotificationLevel(s.Level)
	switch level {
	case domain.LevelInfo, domain.LevelSuccess, domain.LevelWarning, domain.LevelError:
	default:
		level = domain.LevelInfo
	}
	title := s.Title
	if title == "" {
		title = "System"
	}
	n.emit(domain.Notification{Level: level, Title: title, Message: s.Message})
}

func (n *Notifier) decode(eventType string, data json.RawMessage, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		n.log.Warn("notifier - decode - payload dropped", logging.EventType(eventType), logging.Err(err))
		return false
	}
	return true
}

func (n *Notifier) emit(note domain.Notification) {
	note.At = n.now()
	n.sink.Notify(note)
}

// LogSink writes notifications to a logger.
type LogSink struct {
	log *slog.Logger
}

func NewLogSink(log *slog.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Notify(n domain.Notification) {
	level := slog.LevelInfo
	switch n.Level {
	case domain.LevelWarning:
		level = slog.LevelWarn
	case domain.LevelError:
		level = slog.LevelError
	}
	attrs := []any{"title", n.Title}
	if n.JobID != "" {
		attrs = append(attrs, logging.Job(n.JobID))
	}
	s.log.Log(context.Background(), level, n.Message, attrs...)
}
