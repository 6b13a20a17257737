// Package metrics counts what one pipeline run did. The counters live in a
// private registry and are written as a Prometheus textfile at the end of
// the run.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder methods are safe on a nil receiver so callers can run without
// metrics.
type Recorder struct {
	reg         *prometheus.Registry
	pairs       *prometheus.CounterVec
	identity    *prometheus.HistogramVec
	blacklisted *prometheus.CounterVec
	fetched     *prometheus.CounterVec
	stages      *prometheus.HistogramVec
	requests    *prometheus.CounterVec
}

func New() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		pairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "phylomat",
			Name:      "flatten_pairs_total",
			Help:      "Organism and locus pairs processed, by outcome.",
		}, []string{"locus", "outcome"}),
		identity: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "phylomat",
			Name:      "flatten_alignment_identity",
			Help:      "Identity score of flattening alignments.",
			Buckets:   []float64{0.5, 0.6, 0.7, 0.8, 0.85, 0.9, 0.95, 0.99, 1},
		}, []string{"locus"}),
		blacklisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "phylomat",
			Name:      "records_blacklisted_total",
			Help:      "Records inactivated and blacklisted, by note.",
		}, []string{"note"}),
		fetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "phylomat",
			Name:      "records_fetched_total",
			Help:      "Records fetched from the archive, by locus.",
		}, []string{"locus"}),
		stages: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "phylomat",
			Name:      "stage_duration_seconds",
			Help:      "Wall time of pipeline stages.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 8),
		}, []string{"stage"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "phylomat",
			Name:      "http_requests_total",
			Help:      "Requests answered by the project view, by method and status.",
		}, []string{"method", "status"}),
	}
	r.reg.MustRegister(r.pairs, r.identity, r.blacklisted, r.fetched, r.stages, r.requests)
	return r
}

func (r *Recorder) Pair(locus, outcome string) {
	if r == nil {
		return
	}
	r.pairs.WithLabelValues(locus, outcome).Inc()
}

func (r *Recorder) Identity(locus string, score float64) {
	if r == nil {
		return
	}
	r.identity.WithLabelValues(locus).Observe(score)
}

func (r *Recorder) Blacklisted(note string) {
	if r == nil {
		return
	}
	r.blacklisted.WithLabelValues(note).Inc()
}

func (r *Recorder) Fetched(locus string, n int) {
	if r == nil {
		return
	}
	r.fetched.WithLabelValues(locus).Add(float64(n))
}

func (r *Recorder) Stage(stage string, d time.Duration) {
	if r == nil {
		return
	}
	r.stages.WithLabelValues(stage).Observe(d.Seconds())
}

func (r *Recorder) Request(method string, status int) {
	if r == nil {
		return
	}
	r.requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

// Registry exposes the collectors, e.g. for an HTTP handler.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.reg
}

// WriteTextfile writes the current values to path in the text exposition
// format.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.reg)
}
