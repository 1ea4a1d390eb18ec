// The admin HTTP server exposes health, Prometheus metrics and read-only views of the served lists.

package port

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nobletooth/dlist/pkg/list"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// shutdownTimeout bounds the graceful shutdown of the admin server.
const shutdownTimeout = 5 * time.Second

var adminAddress = flag.String("admin_address", ":9390",
	"The ip:port to listen on for admin HTTP (metrics, health); empty disables it.")

type adminService struct {
	m        chi.Router
	registry *Registry
}

func (s *adminService) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.m.ServeHTTP(w, r) }

func newAdminService(registry *Registry) *adminService {
	s := &adminService{m: chi.NewMux(), registry: registry}
	s.routes()
	return s
}

func (s *adminService) routes() {
	s.m.Get("/healthz", s.handleHealth)
	s.m.Handle("/metrics", promhttp.Handler())
	s.m.Route("/lists", func(r chi.Router) {
		r.Get("/", s.handleNames)
		r.Get("/{name}", s.handleDump)
	})
}

func (s *adminService) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// handleNames writes the names of the served lists, one per line.
func (s *adminService) handleNames(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	for _, name := range s.registry.Names() {
		_, _ = fmt.Fprintln(w, name)
	}
}

// handleDump writes the rendering of a single list.
func (s *adminService) handleDump(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var rendered strings.Builder
	exists := s.registry.View(name, func(l *list.List) {
		_ = l.Dump(&rendered) // strings.Builder never fails.
	})
	if !exists {
		http.Error(w, fmt.Sprintf("list %q not found", name), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(rendered.String()))
}

// RunAdminServer serves the admin HTTP endpoints until `ctx` is cancelled. It returns at once if disabled.
func RunAdminServer(ctx context.Context, registry *Registry) error {
	if *adminAddress == "" {
		slog.Info("Admin server is disabled.")
		return nil
	}

	server := &http.Server{Addr: *adminAddress, Handler: newAdminService(registry)}
	serverErrSignal := make(chan error, 1)
	go func() {
		slog.Info("Serving admin HTTP.", "address", *adminAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrSignal <- err
		}
		close(serverErrSignal)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down admin server: %w", err)
		}
		return nil
	case err, ok := <-serverErrSignal:
		if !ok {
			return nil
		}
		return fmt.Errorf("admin server stopped unexpectedly: %w", err)
	}
}
