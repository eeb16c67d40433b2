package common

import (
	"fmt"
	"net/http"
	"time"

	"github.com/arl/statsviz"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewMetricsServer builds the scrape server: Prometheus runtime and process
// collectors on /metrics and the live statsviz dashboard on /debug/statsviz.
func NewMetricsServer(addr string) (*http.Server, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := statsviz.Register(mux); err != nil {
		return nil, fmt.Errorf("registering statsviz: %w", err)
	}
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}, nil
}
