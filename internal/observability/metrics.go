package observability

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// JobName groups pushed metrics in the Pushgateway.
const JobName = "mesh_weather_relay"

// Run outcomes used as the "outcome" label of RunsTotal.
const (
	OutcomeSuccess       = "success"
	OutcomeFetchError    = "fetch_error"
	OutcomeDeviceError   = "device_error"
	OutcomeTransmitError = "transmit_error"
	OutcomeDryRun        = "dry_run"
)

// Metrics holds the Prometheus collectors for a single relay run. The relay
// is a short-lived batch job, so collectors live in their own registry and
// are exported once at exit instead of being scraped.
type Metrics struct {
	Registry *prometheus.Registry

	RunsTotal        *prometheus.CounterVec // labels: outcome
	FetchDuration    prometheus.Histogram
	MessagesSent     prometheus.Counter
	LastSuccessEpoch prometheus.Gauge
}

// NewMetrics creates the relay collectors in a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mesh_relay",
			Name:      "runs_total",
			Help:      "Relay runs by outcome.",
		}, []string{"outcome"}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mesh_relay",
			Name:      "fetch_duration_seconds",
			Help:      "Weather service request duration in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mesh_relay",
			Name:      "messages_sent_total",
			Help:      "Text messages broadcast on the mesh.",
		}),
		LastSuccessEpoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mesh_relay",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful relay.",
		}),
	}

	m.Registry.MustRegister(
		m.RunsTotal,
		m.FetchDuration,
		m.MessagesSent,
		m.LastSuccessEpoch,
	)
	return m
}

// Export pushes the registry to a Pushgateway and/or writes it to a
// node_exporter textfile. Empty targets are skipped.
func (m *Metrics) Export(ctx context.Context, pushgatewayURL, textfile string) error {
	var errs []error
	if pushgatewayURL != "" {
		if err := push.New(pushgatewayURL, JobName).Gatherer(m.Registry).PushContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("push metrics: %w", err))
		}
	}
	if textfile != "" {
		if err := prometheus.WriteToTextfile(textfile, m.Registry); err != nil {
			errs = append(errs, fmt.Errorf("write metrics textfile: %w", err))
		}
	}
	return errors.Join(errs...)
}
