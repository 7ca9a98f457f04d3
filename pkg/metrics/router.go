package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/tullus-labs/SpaceTraveler/pkg/errors"
	"github.com/tullus-labs/SpaceTraveler/pkg/logging"
	"github.com/tullus-labs/SpaceTraveler/pkg/supervisor"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 5 * time.Second

// StatusSource lists the current handle of every managed service.
type StatusSource interface {
	Handles() []supervisor.Handle
}

type statusResponse struct {
	Services []supervisor.Handle `json:"services"`
	Time     time.Time           `json:"time"`
}

// NewRouter serves /metrics, /status and /healthz.
func NewRouter(collector *Collector, source StatusSource, logger logging.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(collector.Registry(), promhttp.HandlerOpts{}))

	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		response := statusResponse{Services: []supervisor.Handle{}, Time: time.Now().UTC()}
		if source != nil {
			response.Services = append(response.Services, source.Handles()...)
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(response); err != nil {
			logger.Warnf("Failed to write status response: %v", err)
		}
	})

	return r
}

// Serve runs an HTTP server on address until ctx ends, then shuts it down.
func Serve(ctx context.Context, address string, handler http.Handler, logger logging.Logger) error {
	server := &http.Server{
		Addr:              address,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Infof("Status server listening, address: %s", address)
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return errors.NewIOError("status server failed", err).WithContext("address", address)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("Status server shutdown: %v", err)
	}
	<-serveErr
	logger.Infof("Status server stopped")
	return nil
}
