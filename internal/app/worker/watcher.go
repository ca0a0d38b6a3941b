package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Paddel87/AIMAlocal-sub001/internal/app/channel"
	"github.com/Paddel87/AIMAlocal-sub001/internal/core/contracts"
	"github.com/Paddel87/AIMAlocal-sub001/internal/core/domain"
	"github.com/Paddel87/AIMAlocal-sub001/internal/core/services"
	"github.com/Paddel87/AIMAlocal-sub001/pkg/logging"
)

const storeTimeout = 2 * time.Second

// JobWatcher keeps a set of jobs tracked for the lifetime of a context. It
// mirrors projections to the snapshot store, journals inbound envelopes and
// resubscribes after the channel reconnects.
type JobWatcher struct {
	log        *slog.Logger
	reconciler services.IReconciler
	snapshots  contracts.SnapshotStore
	journal    contracts.EventJournal
	notifier   *services.Notifier
	policy     channel.RetryPolicy

	mu   sync.Mutex
	lost bool
}

// NewJobWatcher wires the watcher. snapshots, journal and notifier are
// optional.
func NewJobWatcher(
	log *slog.Logger,
	reconciler services.IReconciler,
	snapshots contracts.SnapshotStore,
	journal contracts.EventJournal,
	notifier *services.Notifier,
	policy channel.RetryPolicy,
) *JobWatcher {
	return &JobWatcher{
		log:        log.With(slog.String("component", "watcher")),
		reconciler: reconciler,
		snapshots:  snapshots,
		journal:    journal,
		notifier:   notifier,
		policy:     policy,
	}
}

type RunOptions struct {
	// UntilDone returns once every successfully tracked job is terminal.
	UntilDone bool
}

// Run tracks jobIDs and blocks until ctx is done (or, with UntilDone, until
// all tracked jobs finish). Every job is untracked on return.
func (w *JobWatcher) Run(ctx context.Context, jobIDs []string, opts RunOptions, onChange services.OnChange) error {
	var (
		mu      sync.Mutex
		started bool
		active  = make(map[string]bool)
		done    = make(chan struct{})
		once    sync.Once
	)
	// settled reports whether no tracked job is still running; mu must be held
	settled := func() bool { return started && len(active) == 0 }
	finish := func() { once.Do(func() { close(done) }) }

	observe := func(p domain.Projection) {
		if p.Failed() {
			w.lastKnown(ctx, p)
		} else {
			w.persist(ctx, p)
		}
		if onChange != nil {
			onChange(p)
		}
		mu.Lock()
		if p.Failed() || p.Status.Terminal() {
			delete(active, p.JobID)
		} else {
			active[p.JobID] = true
		}
		over := settled()
		mu.Unlock()
		if opts.UntilDone && over {
			finish()
		}
	}

	tracked := make([]string, 0, len(jobIDs))
	for _, id := range jobIDs {
		if err := w.reconciler.Track(ctx, id, observe); err != nil {
			w.log.WarnContext(ctx, "watcher - run - track rejected", logging.Job(id), logging.Err(err))
			continue
		}
		if _, ok := w.reconciler.Projection(id); ok {
			tracked = append(tracked, id)
		}
	}
	defer func() {
		for _, id := range tracked {
			w.reconciler.Untrack(id)
		}
		w.log.Info("watcher - run - stopped", "jobs", len(tracked))
	}()

	mu.Lock()
	started = true
	over := settled()
	mu.Unlock()
	if opts.UntilDone && over {
		return nil
	}
	w.log.InfoContext(ctx, "watcher - run - watching", "jobs", len(tracked))

	select {
	case <-ctx.Done():
	case <-done:
	}
	return nil
}

// OnState reacts to channel state changes. Register it with
// Manager.OnStateChange.
func (w *JobWatcher) OnState(s channel.State) {
	switch s.Phase {
	case channel.Connected:
		w.mu.Lock()
		wasLost := w.lost
		w.lost = false
		w.mu.Unlock()
		if wasLost {
			w.log.Info("watcher - state - reconnected, resubscribing", "jobs", len(w.reconciler.Tracked()))
			w.reconciler.Resubscribe()
		}
		if w.notifier != nil {
			w.notifier.Connected()
		}
	case channel.ReconnectScheduled:
		w.setLost()
		if w.notifier != nil {
			w.notifier.Reconnecting(s.Attempt, w.policy.Delay(s.Attempt))
		}
	case channel.Exhausted:
		w.setLost()
		if w.notifier != nil {
			w.notifier.Exhausted(s.Attempt)
		}
	}
}

// OnEnvelope appends inbound envelopes to the journal. Register it with
// Manager.OnEnvelope.
func (w *JobWatcher) OnEnvelope(env domain.Envelope) {
	if w.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := w.journal.Append(ctx, env); err != nil {
		w.log.Warn("watcher - journal - append failed", logging.EventType(env.Type), logging.Err(err))
	}
}

func (w *JobWatcher) setLost() {
	w.mu.Lock()
	w.lost = true
	w.mu.Unlock()
}

func (w *JobWatcher) persist(ctx context.Context, p domain.Projection) {
	if w.snapshots == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()
	if err := w.snapshots.SaveProjection(ctx, p); err != nil {
		w.log.Warn("watcher - persist - save failed", logging.Job(p.JobID), logging.Err(err))
	}
}

// lastKnown logs the cached projection of a job whose pull failed.
func (w *JobWatcher) lastKnown(ctx context.Context, p domain.Projection) {
	if w.snapshots == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()
	cached, ok, err := w.snapshots.LoadProjection(ctx, p.JobID)
	if err != nil || !ok {
		return
	}
	w.log.Info("watcher - pull failed - last known status",
		logging.Job(p.JobID),
		logging.Status(string(cached.Status)),
		"updated_at", cached.UpdatedAt,
	)
}
