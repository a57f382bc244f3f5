// Package metrics exposes Prometheus instrumentation for the collection
// engine and serves it over HTTP.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stashhunt/stashd/pkg/logx"
)

var (
	// CollectAttempts counts collection attempts by outcome code.
	CollectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stashd_collect_attempts_total",
		Help: "Collection attempts partitioned by outcome.",
	}, []string{"outcome"})

	// PointsAwarded accumulates all credited point values.
	PointsAwarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stashd_points_awarded_total",
		Help: "Total points credited across all users.",
	})

	// PersistenceDegraded counts commits that fell back to the local store.
	PersistenceDegraded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stashd_persistence_degraded_total",
		Help: "Collections committed to the local fallback store because the authoritative store was unreachable.",
	})

	// PendingReconcile tracks events queued for reconciliation.
	PendingReconcile = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stashd_pending_reconcile",
		Help: "Collection events awaiting replay against the authoritative store.",
	})

	// RoadSnapRequests counts nearest-road lookups by result.
	RoadSnapRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stashd_road_snap_requests_total",
		Help: "Road snapping requests partitioned by result.",
	}, []string{"result"})

	// ActiveSessions tracks live player sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stashd_active_sessions",
		Help: "Player sessions currently held in memory.",
	})

	// BatchesSpawned counts entity batch generations.
	BatchesSpawned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stashd_batches_spawned_total",
		Help: "Entity batches generated.",
	})
)

// Server serves the Prometheus scrape endpoint.
type Server struct {
	srv    *http.Server
	logger *logx.Logger
}

// NewServer creates a metrics server bound to addr, e.g. ":9090".
func NewServer(addr string, logger *logx.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &Server{
		srv: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Start serves the endpoint until Stop is called. It does not block.
func (s *Server) Start() {
	go func() {
		s.logger.Info("Metrics server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Metrics server failed", "error", err.Error())
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics server shutdown failed: %w", err)
	}
	return nil
}
