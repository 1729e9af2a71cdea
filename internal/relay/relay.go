// Package relay runs one fetch-format-broadcast cycle.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/mesh-weather-relay/internal/domain"
	"github.com/couchcryptid/mesh-weather-relay/internal/observability"
)

// ErrUsage marks invalid command-line arguments.
var ErrUsage = errors.New("usage")

// ResolveLocation picks the location from the positional arguments, falling
// back to def when none is given. The value is otherwise passed through as-is;
// the weather service decides what it understands.
func ResolveLocation(args []string, def string) (string, error) {
	switch len(args) {
	case 0:
		return def, nil
	case 1:
		if strings.TrimSpace(args[0]) == "" {
			return "", domain.ErrEmptyLocation
		}
		return args[0], nil
	default:
		return "", fmt.Errorf("%w: expected at most one LOCATION, got %d arguments", ErrUsage, len(args))
	}
}

// WeatherSource serves both the one-line summary and the structured report.
type WeatherSource interface {
	domain.WeatherFetcher
	domain.ReportFetcher
}

// Options tunes a relay run.
type Options struct {
	Mode             domain.Mode
	MaxMessageLength int
	MessageDelay     time.Duration
	Channel          uint32
	// DryRun prints messages to Out instead of opening the radio.
	DryRun bool
	Out    io.Writer
	Clock  clockwork.Clock
}

// Result describes a finished run.
type Result struct {
	Location string
	Messages []string
	Sent     int
	NodeNum  uint32
	DryRun   bool
}

// Relay orchestrates weather fetch, formatting and mesh broadcast.
type Relay struct {
	weather   WeatherSource
	opener    domain.DeviceOpener
	publisher domain.EventPublisher
	logger    *slog.Logger
	metrics   *observability.Metrics
	opts      Options
}

// New creates a Relay. publisher may be nil to skip event publishing.
func New(weather WeatherSource, opener domain.DeviceOpener, publisher domain.EventPublisher, logger *slog.Logger, metrics *observability.Metrics, opts Options) *Relay {
	if opts.Mode == "" {
		opts.Mode = domain.ModeText
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	return &Relay{
		weather:   weather,
		opener:    opener,
		publisher: publisher,
		logger:    logger,
		metrics:   metrics,
		opts:      opts,
	}
}

// Run fetches the weather for location and broadcasts it. A fetch failure
// returns before the radio is touched; once opened, the radio is closed on
// every path. The first failed send aborts the remaining messages.
func (r *Relay) Run(ctx context.Context, location string) (Result, error) {
	res := Result{Location: location, DryRun: r.opts.DryRun}
	if strings.TrimSpace(location) == "" {
		r.metrics.RunsTotal.WithLabelValues(observability.OutcomeFetchError).Inc()
		return res, domain.ErrEmptyLocation
	}

	logger := r.logger.With("location", location, "mode", r.opts.Mode)
	logger.Info("relay started", "dry_run", r.opts.DryRun)

	msgs, err := r.fetch(ctx, location)
	if err != nil {
		r.metrics.RunsTotal.WithLabelValues(observability.OutcomeFetchError).Inc()
		return res, err
	}
	res.Messages = msgs
	logger.Info("weather fetched", "messages", len(msgs))

	if r.opts.DryRun {
		if err := r.print(msgs); err != nil {
			return res, err
		}
		r.metrics.RunsTotal.WithLabelValues(observability.OutcomeDryRun).Inc()
		return res, nil
	}

	res.Sent, res.NodeNum, err = r.broadcast(ctx, logger, msgs)
	if err != nil {
		r.metrics.RunsTotal.WithLabelValues(outcomeFor(err)).Inc()
		return res, err
	}

	r.metrics.RunsTotal.WithLabelValues(observability.OutcomeSuccess).Inc()
	r.metrics.LastSuccessEpoch.Set(float64(r.opts.Clock.Now().Unix()))
	logger.Info("relay complete", "sent", res.Sent)

	r.publish(ctx, location, res)
	return res, nil
}

func (r *Relay) fetch(ctx context.Context, location string) ([]string, error) {
	start := r.opts.Clock.Now()
	defer func() {
		r.metrics.FetchDuration.Observe(r.opts.Clock.Since(start).Seconds())
	}()

	if r.opts.Mode == domain.ModeText {
		summary, err := r.weather.FetchSummary(ctx, location)
		if err != nil {
			return nil, err
		}
		return []string{summary}, nil
	}

	report, err := r.weather.FetchReport(ctx, location)
	if err != nil {
		return nil, err
	}
	if r.opts.Mode == domain.ModeConcise {
		return []string{domain.FormatConcise(report)}, nil
	}
	return domain.FormatReport(report, r.opts.MaxMessageLength), nil
}

func (r *Relay) broadcast(ctx context.Context, logger *slog.Logger, msgs []string) (sent int, nodeNum uint32, err error) {
	dev, err := r.opener.Open(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer func() {
		if cerr := dev.Close(); cerr != nil {
			logger.Warn("close device failed", "error", cerr)
		}
	}()

	if n, ok := dev.(interface{ NodeNum() uint32 }); ok {
		nodeNum = n.NodeNum()
	}

	for i, msg := range msgs {
		if i > 0 {
			if err := r.pause(ctx); err != nil {
				return sent, nodeNum, err
			}
		}
		if err := dev.Broadcast(ctx, msg); err != nil {
			return sent, nodeNum, err
		}
		sent++
		r.metrics.MessagesSent.Inc()
		logger.Info("message broadcast", "part", i+1, "of", len(msgs), "channel", r.opts.Channel)
	}
	return sent, nodeNum, nil
}

// pause spaces consecutive messages so the mesh can drain its queue.
func (r *Relay) pause(ctx context.Context) error {
	if r.opts.MessageDelay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.opts.Clock.After(r.opts.MessageDelay):
		return nil
	}
}

func (r *Relay) print(msgs []string) error {
	for i, msg := range msgs {
		if i > 0 {
			if _, err := fmt.Fprintln(r.opts.Out); err != nil {
				return fmt.Errorf("write dry-run output: %w", err)
			}
		}
		if _, err := fmt.Fprintln(r.opts.Out, strings.TrimRight(msg, "\n")); err != nil {
			return fmt.Errorf("write dry-run output: %w", err)
		}
	}
	return nil
}

// publish records the relay downstream. Failures are logged only; the
// broadcast already happened and cannot be undone.
func (r *Relay) publish(ctx context.Context, location string, res Result) {
	if r.publisher == nil {
		return
	}
	event := domain.NewRelayEvent(location, r.opts.Mode, r.opts.Channel, res.NodeNum, res.Messages)
	if err := r.publisher.Publish(ctx, event); err != nil {
		r.logger.Warn("publish relay event failed", "error", err, "id", event.ID)
	}
}

func outcomeFor(err error) string {
	if errors.Is(err, domain.ErrTransmit) {
		return observability.OutcomeTransmitError
	}
	return observability.OutcomeDeviceError
}
