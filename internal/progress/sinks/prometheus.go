package sinks

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/dossier-crawler/internal/progress"
)

// PrometheusSink exports tracker snapshots as gauges.
type PrometheusSink struct {
	total      prometheus.Gauge
	processed  prometheus.Gauge
	successful prometheus.Gauge
	failed     prometheus.Gauge
	rate       prometheus.Gauge
	eta        prometheus.Gauge
}

// NewPrometheusSink registers the gauges against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	}
	s := &PrometheusSink{
		total:      gauge("dossier_progress_total_items", "Identifiers scheduled in this run."),
		processed:  gauge("dossier_progress_processed_items", "Identifiers processed so far."),
		successful: gauge("dossier_progress_successful_items", "Identifiers extracted successfully."),
		failed:     gauge("dossier_progress_failed_items", "Identifiers that ended in a failed record."),
		rate:       gauge("dossier_progress_items_per_second", "Average processing rate since start."),
		eta:        gauge("dossier_progress_eta_seconds", "Estimated seconds until the run completes."),
	}
	for _, collector := range []prometheus.Collector{
		s.total,
		s.processed,
		s.successful,
		s.failed,
		s.rate,
		s.eta,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Callback returns the function to register on a tracker.
func (s *PrometheusSink) Callback() progress.Callback {
	return s.Observe
}

// Observe sets every gauge from snap.
func (s *PrometheusSink) Observe(snap progress.Snapshot) {
	s.total.Set(float64(snap.Total))
	s.processed.Set(float64(snap.Processed))
	s.successful.Set(float64(snap.Successful))
	s.failed.Set(float64(snap.Failed))
	s.rate.Set(snap.ItemsPerSecond)
	s.eta.Set(snap.EstimatedRemaining.Seconds())
}
