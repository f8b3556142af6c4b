// Package metrics exposes coordinator-side prometheus metrics. The
// collector is optional everywhere it is accepted; a nil *Collector is a
// no-op so call sites stay unconditional.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ccs-labs/runmaker/internal/jobfile"
)

// Collector aggregates request counts and the current job-state tally.
type Collector struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	jobs     *prometheus.GaugeVec
}

// Request results recorded per handled connection.
const (
	ResultOK           = "ok"
	ResultNoJob        = "no_job"
	ResultInvalidCmd   = "invalid_cmd"
	ResultInvalidToken = "invalid_token"
)

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "runmaker",
			Subsystem: "coordinator",
			Name:      "requests_total",
			Help:      "Requests handled, by command and result.",
		}, []string{"command", "result"}),
		jobs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "runmaker",
			Subsystem: "coordinator",
			Name:      "jobs",
			Help:      "Jobs by current state.",
		}, []string{"state"}),
	}
	c.registry.MustRegister(c.requests, c.jobs)
	return c
}

// RecordRequest counts one handled request.
func (c *Collector) RecordRequest(command, result string) {
	if c == nil {
		return
	}
	c.requests.WithLabelValues(command, result).Inc()
}

// SetJobs publishes the current per-state tally.
func (c *Collector) SetJobs(counts jobfile.Counts) {
	if c == nil {
		return
	}
	c.jobs.WithLabelValues("pending").Set(float64(counts.Pending))
	c.jobs.WithLabelValues("claimed").Set(float64(counts.Claimed))
	c.jobs.WithLabelValues("running").Set(float64(counts.Running))
	c.jobs.WithLabelValues("done").Set(float64(counts.Done))
	c.jobs.WithLabelValues("failed").Set(float64(counts.Failed))
	c.jobs.WithLabelValues("error").Set(float64(counts.Error))
}

// Handler serves the collector's registry in prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, c *Collector) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
