package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Paddel87/AIMAlocal-sub001/pkg/logging"
)

const RequestIDHeader = "X-Request-ID"

// RequestLogger creates a middleware that logs requests and injects the logger.
func RequestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get(RequestIDHeader)
			if reqID == "" {
				reqID = uuid.NewString()
			}
			reqLog := log.With(
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr),
				logging.RequestID(reqID),
			)
			ctx := logging.WithContext(r.Context(), reqLog)
			w.Header().Set(RequestIDHeader, reqID)

			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r.WithContext(ctx))
			reqLog.Info("request completed", "status", wrapped.statusCode, "duration", time.Since(start))
		})
	}
}

// LoggingTransport tags outgoing requests with a request id and logs their
// outcome.
type LoggingTransport struct {
	Log  *slog.Logger
	Base http.RoundTripper
}

func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req
	reqID := req.Header.Get(RequestIDHeader)
	if reqID == "" {
		reqID = uuid.NewString()
		r = req.Clone(req.Context())
		r.Header.Set(RequestIDHeader, reqID)
	}
	log := t.Log.With(
		slog.String("method", r.Method),
		slog.String("url", r.URL.Redacted()),
		logging.RequestID(reqID),
	)

	start := time.Now()
	resp, err := base(t.Base).RoundTrip(r)
	if err != nil {
		log.WarnContext(r.Context(), "http client - request - failed", logging.Err(err), "duration", time.Since(start))
		return nil, err
	}
	log.DebugContext(r.Context(), "http client - request - done", "status", resp.StatusCode, "duration", time.Since(start))
	return resp, nil
}
