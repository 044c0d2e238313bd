package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	FeedFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "searcher_feed_frames_total",
		Help: "Flashblock frames by outcome.",
	}, []string{"outcome"})

	FeedConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "searcher_feed_connections",
		Help: "Open flashblock feed connections.",
	})

	SwapsDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "searcher_swaps_decoded_total",
		Help: "Swap logs applied to the price table, by pool type.",
	}, []string{"pool_type"})

	ChainHead = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "searcher_chain_head",
		Help: "Latest confirmed block number.",
	})

	Simulations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "searcher_simulations_total",
		Help: "Fork simulation calls by method and outcome.",
	}, []string{"method", "outcome"})

	SearchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "searcher_search_duration_seconds",
		Help:    "Wall time of one full optimizer round.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	Candidates = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "searcher_candidates",
		Help: "Candidates in the latest published list.",
	})

	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "searcher_distribution_subscribers",
		Help: "Active trade distribution sinks.",
	})

	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "searcher_submissions_total",
		Help: "Relay submissions by venue and outcome.",
	}, []string{"venue", "outcome"})
)

// Outcome maps an error to a metric label
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Handler exposes the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve runs the exporter until ctx is cancelled. An empty addr disables it.
func Serve(ctx context.Context, addr string) error {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("Metrics exporter listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
