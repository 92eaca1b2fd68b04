// Package metrics exposes the negotiation counters of util.Stats to
// Prometheus.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/1ureka/peercall/internal/util"
)

const namespace = "peercall"

func counter(name, help string, read func() int64) prometheus.Collector {
	return prometheus.NewCounterFunc(
		prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help},
		func() float64 { return float64(read()) },
	)
}

// NewRegistry returns a registry with every negotiation counter, the active
// session gauge and the Go runtime collectors.
func NewRegistry() *prometheus.Registry {
	s := util.Stats
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_active",
				Help:      "Number of peer sessions currently alive",
			},
			func() float64 { return float64(s.Active()) },
		),
		counter("sessions_opened_total", "Peer sessions created", s.SessionsOpened.Load),
		counter("sessions_closed_total", "Peer sessions destroyed", s.SessionsClosed.Load),
		counter("offers_sent_total", "Offers handed to the relay", s.OffersSent.Load),
		counter("answers_sent_total", "Answers handed to the relay", s.AnswersSent.Load),
		counter("candidates_queued_total", "Remote ICE candidates queued before a remote description", s.CandidatesQueued.Load),
		counter("candidates_applied_total", "Remote ICE candidates applied to a transport", s.CandidatesApplied.Load),
		counter("glare_rollbacks_total", "Local offers rolled back by the polite peer", s.GlareRollbacks.Load),
		counter("offers_ignored_total", "Colliding offers ignored by the impolite peer", s.OffersIgnored.Load),
		counter("failures_total", "Negotiation, media and transport failures", s.Failures.Load),
		collectors.NewGoCollector(),
		prometheus.NewBuildInfoCollector(),
	)
	return reg
}

// Handler serves reg in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		// Opt into OpenMetrics to support exemplars.
		EnableOpenMetrics: true,
	})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(NewRegistry()))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		util.LogInfo("metrics listening on http://%s/metrics", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
