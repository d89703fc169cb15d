// Package metrics exposes the node's Prometheus instrumentation: counters
// and gauges the consensus loop and mempool update at the same points they
// already log, served over HTTP for scraping.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter/gauge the node updates. All are registered
// against their own prometheus.Registry so multiple nodes can run in the
// same test process without collector name collisions.
type Metrics struct {
	registry *prometheus.Registry

	BlocksCommitted prometheus.Counter
	ViewChanges     prometheus.Counter
	RoundDuration   prometheus.Histogram
	MempoolSize     prometheus.Gauge
	ConnectedPeers  prometheus.Gauge
	ChainHeight     prometheus.Gauge
}

// New creates a Metrics set registered against a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		BlocksCommitted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "meridian",
			Subsystem: "consensus",
			Name:      "blocks_committed_total",
			Help:      "Blocks committed by this peer's Sumeragi round.",
		}),
		ViewChanges: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "meridian",
			Subsystem: "consensus",
			Name:      "view_changes_total",
			Help:      "View-change proofs this peer has broadcast.",
		}),
		RoundDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: "meridian",
			Subsystem: "consensus",
			Name:      "round_duration_seconds",
			Help:      "Wall-clock time from round start to block commit.",
			Buckets:   prometheus.DefBuckets,
		}),
		MempoolSize: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "meridian",
			Subsystem: "mempool",
			Name:      "queue_size",
			Help:      "Accepted transactions currently queued for a block.",
		}),
		ConnectedPeers: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "meridian",
			Subsystem: "network",
			Name:      "connected_peers",
			Help:      "Peers currently connected over P2P.",
		}),
		ChainHeight: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "meridian",
			Subsystem: "state",
			Name:      "chain_height",
			Help:      "Height of the last committed block.",
		}),
	}
	return m
}

// ObserveRound records the wall-clock duration of one Sumeragi round.
func (m *Metrics) ObserveRound(start time.Time) {
	m.RoundDuration.Observe(time.Since(start).Seconds())
}

// Server builds the HTTP server exposing /metrics on addr; Run serves it.
func (m *Metrics) Server(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	return &http.Server{Addr: addr, Handler: mux}
}

// Run starts the metrics HTTP server and blocks until ctx is cancelled or
// the server fails to start.
func Run(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
