// Package httpapi serves the OAuth callback, health and metrics endpoints.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/hay-kot/pagewatch/internal/core/logging"
)

const shutdownTimeout = 10 * time.Second

// Authorizer completes an OAuth authorization.
type Authorizer interface {
	Complete(ctx context.Context, code, state string) (subjectID int64, credential string, err error)
}

// CredentialReceiver accepts a credential for a subject.
type CredentialReceiver interface {
	CredentialObtained(ctx context.Context, subjectID int64, credential string) error
}

// Deps are the handlers' collaborators.
type Deps struct {
	Auth        Authorizer
	Credentials CredentialReceiver
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	// BotURL is where the user is sent after connecting.
	BotURL string
}

// Server is the HTTP listener.
type Server struct {
	addr   string
	router *chi.Mux
	log    zerolog.Logger
}

// New builds the router.
func New(addr string, deps Deps) *Server {
	s := &Server{
		addr:   addr,
		router: chi.NewRouter(),
		log:    logging.Component("http"),
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger(s.log))
	s.router.Use(middleware.Recoverer)

	s.router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	if deps.Metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	s.router.Get("/oauth/callback", (&callback{
		auth:        deps.Auth,
		credentials: deps.Credentials,
		botURL:      deps.BotURL,
		log:         s.log,
	}).ServeHTTP)

	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			log.Debug().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("http request")
		})
	}
}
