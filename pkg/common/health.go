package common

import (
	"net/http"
	"sync/atomic"
)

// HealthServer answers liveness and readiness probes for the daemon.
type HealthServer struct {
	server *http.Server
}

// NewHealthServer builds a probe server on addr. Readiness reports 503 until
// ready is set.
func NewHealthServer(addr string, ready *atomic.Bool) *HealthServer {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if !ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return &HealthServer{server: &http.Server{Addr: addr, Handler: mux}}
}

// Server exposes the underlying http.Server for startup and shutdown.
func (h *HealthServer) Server() *http.Server { return h.server }
