package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/rs/cors"

	"github.com/ethereum-optimism/infra/op-multitest/metrics"
)

// HealthzServer answers /healthz while a run is in progress. It reports
// 503 once the run has been marked as stopping.
type HealthzServer struct {
	log      log.Logger
	server   *http.Server
	listener net.Listener
	stopping atomic.Bool
}

func NewHealthzServer(logger log.Logger) *HealthzServer {
	return &HealthzServer{log: logger.New("component", "healthz")}
}

// Start listens on addr and serves in the background.
func (h *HealthzServer) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	hdlr := http.NewServeMux()
	hdlr.HandleFunc("/healthz", h.Handle)
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
	})
	h.listener = listener
	h.server = &http.Server{
		Handler:           c.Handler(hdlr),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := h.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.log.Error("Healthz server stopped", "err", err)
			metrics.RecordErrorDetails("healthz", err)
		}
	}()
	h.log.Info("Started healthz server", "addr", listener.Addr().String())
	return nil
}

// Addr returns the bound address, or "" before Start.
func (h *HealthzServer) Addr() string {
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}

// MarkStopping makes subsequent probes fail.
func (h *HealthzServer) MarkStopping() {
	h.stopping.Store(true)
}

func (h *HealthzServer) Shutdown(ctx context.Context) error {
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}

func (h *HealthzServer) Handle(w http.ResponseWriter, r *http.Request) {
	h.log.Debug("Received health check request", "path", r.URL.Path)
	if h.stopping.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("STOPPING")) //nolint:errcheck
		return
	}
	w.Write([]byte("OK")) //nolint:errcheck
}
