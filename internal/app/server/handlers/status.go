package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/Paddel87/AIMAlocal-sub001/internal/app/channel"
	"github.com/Paddel87/AIMAlocal-sub001/internal/core/domain"
	"github.com/Paddel87/AIMAlocal-sub001/pkg/logging"
)

type ChannelStats interface {
	Stats() channel.Stats
}

type ProjectionSource interface {
	Tracked() []string
	Projection(jobID string) (domain.Projection, bool)
}

type StatusHandler struct {
	channel ChannelStats
	jobs    ProjectionSource
	started time.Time
}

func NewStatusHandler(ch ChannelStats, jobs ProjectionSource) *StatusHandler {
	return &StatusHandler{channel: ch, jobs: jobs, started: time.Now()}
}

type statusResponse struct {
	Channel channel.Stats       `json:"channel"`
	Uptime  string              `json:"uptime"`
	Jobs    []domain.Projection `json:"jobs"`
}

// Healthz answers 503 once the channel has given up reconnecting.
func (h *StatusHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	st := h.channel.Stats()
	code := http.StatusOK
	if st.State.Phase == channel.Exhausted {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, map[string]string{"status": st.Phase})
}

func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	ids := h.jobs.Tracked()
	resp := statusResponse{
		Channel: h.channel.Stats(),
		Uptime:  time.Since(h.started).Truncate(time.Second).String(),
		Jobs:    make([]domain.Projection, 0, len(ids)),
	}
	for _, id := range ids {
		if p, ok := h.jobs.Projection(id); ok {
			resp.Jobs = append(resp.Jobs, p)
		}
	}
	writeJSON(w, r, http.StatusOK, resp)
	logging.FromContext(r.Context()).DebugContext(r.Context(), "status handler - status - served", "jobs", len(resp.Jobs))
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).ErrorContext(r.Context(), "status handler - encode failed", logging.Err(err))
	}
}
