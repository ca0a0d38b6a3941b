package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Paddel87/AIMAlocal-sub001/internal/app/server/handlers"
	"github.com/Paddel87/AIMAlocal-sub001/pkg/middleware"
)

// Server exposes the local status endpoints.
type Server struct {
	mux    *http.ServeMux
	addr   string
	app    string
	log    *slog.Logger
	status *handlers.StatusHandler
	tokens middleware.TokenValidator
}

// NewServer builds the status server. With a nil validator /status is
// served without authentication.
func NewServer(
	log *slog.Logger,
	app string,
	addr string,
	status *handlers.StatusHandler,
	tokens middleware.TokenValidator,
) *Server {
	s := &Server{
		mux:    http.NewServeMux(),
		addr:   addr,
		app:    app,
		log:    log.With(slog.String("component", "status-server")),
		status: status,
		tokens: tokens,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.status.Healthz)

	var status http.Handler = http.HandlerFunc(s.status.Status)
	if s.tokens != nil {
		status = middleware.AuthMiddleware(s.tokens)(status)
	}
	s.mux.Handle("GET /status", status)
}

func (s *Server) Handler() http.Handler {
	return middleware.TracerMiddleware(s.app)(middleware.RequestLogger(s.log)(s.mux))
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("status server - start - listening", "addr", s.addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.log.Info("status server - shutdown - done")
	return nil
}
