package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Paddel87/AIMAlocal-sub001/internal/core/contracts"
	"github.com/Paddel87/AIMAlocal-sub001/internal/core/domain"
	"github.com/Paddel87/AIMAlocal-sub001/pkg/logging"
)

type IReconciler interface {
	// Track pulls the job once, reports it through onChange and follows
	// job_update pushes for it until Untrack.
	Track(ctx context.Context, jobID string, onChange OnChange) error
	// Untrack stops following the job. Unknown ids are ignored.
	Untrack(jobID string)
	// Resubscribe re-issues subscribe_job for every tracked job.
	Resubscribe()
	Projection(jobID string) (domain.Projection, bool)
	Tracked() []string
}

// OnChange receives every new projection of a tracked job.
type OnChange func(domain.Projection)

var tracer = otel.Tracer("reconciler-service")

type trackedJob struct {
	listener contracts.ListenerID
	proj     domain.Projection
	onChange OnChange
}

type Reconciler struct {
	log     *slog.Logger
	channel contracts.Channel
	fetcher contracts.JobStatusFetcher
	now     func() time.Time

	mu   sync.Mutex
	jobs map[string]*trackedJob
}

var _ IReconciler = (*Reconciler)(nil)

func NewReconciler(
	log *slog.Logger,
	channel contracts.Channel,
	fetcher contracts.JobStatusFetcher,
) *Reconciler {
	return &Reconciler{
		log:     log.With(slog.String("component", "reconciler")),
		channel: channel,
		fetcher: fetcher,
		now:     time.Now,
		jobs:    make(map[string]*trackedJob),
	}
}

// Track returns an error only for invalid arguments. A failed pull is
// reported to onChange as a projection with PullErr set; nothing is
// registered and the caller may call Track again. Tracking a job that is
// already tracked replaces the previous registration.
func (r *Reconciler) Track(ctx context.Context, jobID string, onChange OnChange) error {
	ctx, span := tracer.Start(ctx, "Reconciler.Track", trace.WithAttributes(
		attribute.String("job_id", jobID),
	))
	defer span.End()
	if jobID == "" {
		span.RecordError(domain.ErrInvalidJobID)
		return domain.ErrInvalidJobID
	}
	if onChange == nil {
		err := errors.New("track: nil change callback")
		span.RecordError(err)
		return err
	}
	r.Untrack(jobID)
	ctx = logging.WithJob(logging.WithContext(ctx, r.log), jobID)
	log := logging.FromContext(ctx)

	job, err := r.fetcher.GetJob(ctx, jobID)
	if err == nil && job == nil {
		err = errors.New("empty job record")
	}
	if err != nil {
		pullErr := fmt.Errorf("%w: %w", domain.ErrPullFailure, err)
		span.RecordError(pullErr)
		span.SetStatus(codes.Error, "pull failed")
		log.WarnContext(ctx, "reconciler - track - pull failed", logging.Err(err))
		onChange(domain.Projection{JobID: jobID, PullErr: pullErr})
		return nil
	}

	proj := domain.NewProjection(job)
	proj.JobID = jobID
	t := &trackedJob{proj: proj, onChange: onChange}

	r.mu.Lock()
	if prev, ok := r.jobs[jobID]; ok {
		// a concurrent Track for the same job registered first
		r.channel.Off(domain.TypeJobUpdate, prev.listener)
	}
	t.listener = r.channel.On(domain.TypeJobUpdate, r.listener(jobID, t))
	r.jobs[jobID] = t
	r.mu.Unlock()

	onChange(proj)

	if err := r.channel.SubscribeToJob(jobID); err != nil {
		// the watcher resubscribes once the channel is back
		log.WarnContext(ctx, "reconciler - track - subscribe not sent", logging.Err(err))
	}
	span.SetAttributes(attribute.String("status", string(proj.Status)))
	span.SetStatus(codes.Ok, "tracked")
	log.DebugContext(ctx, "reconciler - track - success", logging.Status(string(proj.Status)))
	return nil
}

func (r *Reconciler) listener(jobID string, t *trackedJob) contracts.Listener {
	return func(data json.RawMessage) {
		var u domain.JobUpdate
		if err := json.Unmarshal(data, &u); err != nil {
			r.log.Warn("reconciler - merge - undecodable job update", logging.Err(err))
			return
		}
		if u.JobID != jobID {
			return
		}
		status, ok := domain.ParseJobStatus(u.Status)
		if !ok {
			r.log.Warn("reconciler - merge - unknown status dropped", logging.Job(jobID), logging.Status(u.Status))
			return
		}

		r.mu.Lock()
		if r.jobs[jobID] != t {
			// untracked or replaced while this frame was in dispatch
			r.mu.Unlock()
			return
		}
		t.proj = t.proj.Apply(u, status, r.now())
		proj := t.proj
		r.mu.Unlock()

		t.onChange(proj)
	}
}

func (r *Reconciler) Untrack(jobID string) {
	r.mu.Lock()
	t, ok := r.jobs[jobID]
	if ok {
		delete(r.jobs, jobID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	r.channel.Off(domain.TypeJobUpdate, t.listener)
	if err := r.channel.UnsubscribeFromJob(jobID); err != nil {
		r.log.Debug("reconciler - untrack - unsubscribe not sent", logging.Job(jobID), logging.Err(err))
	}
}

func (r *Reconciler) Resubscribe() {
	for _, id := range r.Tracked() {
		if err := r.channel.SubscribeToJob(id); err != nil {
			r.log.Warn("reconciler - resubscribe - failed", logging.Job(id), logging.Err(err))
		}
	}
}

func (r *Reconciler) Projection(jobID string) (domain.Projection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.jobs[jobID]
	if !ok {
		return domain.Projection{}, false
	}
	return t.proj, true
}

// Tracked returns the tracked job ids in lexical order.
func (r *Reconciler) Tracked() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.jobs))
	for id := range r.jobs {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}
