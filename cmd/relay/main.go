// Command mesh-weather-relay fetches current weather from wttr.in and
// broadcasts it as a text message over an attached Meshtastic radio.
//
// Usage:
//
//	mesh-weather-relay [flags] [LOCATION]
//
// LOCATION is anything wttr.in understands: a city, a ZIP code, an airport
// code or coordinates. Without it the configured default is used.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	kafkaadapter "github.com/couchcryptid/mesh-weather-relay/internal/adapter/kafka"
	"github.com/couchcryptid/mesh-weather-relay/internal/adapter/meshtastic"
	"github.com/couchcryptid/mesh-weather-relay/internal/adapter/wttr"
	"github.com/couchcryptid/mesh-weather-relay/internal/config"
	"github.com/couchcryptid/mesh-weather-relay/internal/domain"
	"github.com/couchcryptid/mesh-weather-relay/internal/observability"
	"github.com/couchcryptid/mesh-weather-relay/internal/relay"
)

const progName = "mesh-weather-relay"

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// metricsExportTimeout bounds the final metrics push; the run context may
// already be cancelled by then.
const metricsExportTimeout = 5 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet(progName, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: %s [flags] [LOCATION]\n\nFlags:\n", progName)
		fs.PrintDefaults()
	}

	configPath := fs.String("config", os.Getenv("RELAY_CONFIG"), "path to a YAML config file")
	port := fs.String("port", "", "serial port of the radio (default: auto-detect)")
	channel := fs.Uint("channel", 0, "channel index to broadcast on (0-7)")
	mode := fs.String("mode", "", "message style: text, report or concise")
	dryRun := fs.Bool("dry-run", false, "print messages instead of sending them")
	verbose := fs.Bool("v", false, "debug logging")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fail(stderr, err)
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.SerialPort = *port
		case "channel":
			// Saturate so Validate rejects huge values instead of seeing them wrap.
			cfg.Channel = uint32(min(*channel, math.MaxUint32))
		case "mode":
			cfg.Mode = domain.Mode(*mode)
		case "dry-run":
			cfg.DryRun = *dryRun
		case "v":
			if *verbose {
				cfg.LogLevel = "debug"
			}
		}
	})
	if err := cfg.Validate(); err != nil {
		return fail(stderr, err)
	}

	location, err := relay.ResolveLocation(fs.Args(), cfg.DefaultLocation)
	if errors.Is(err, relay.ErrUsage) {
		fmt.Fprintf(stderr, "%s: %v\n", progName, err)
		fs.Usage()
		return exitUsage
	}
	if err != nil {
		return fail(stderr, err)
	}

	// Dry runs own stdout; their logs go to stderr.
	var logOut io.Writer
	if cfg.DryRun {
		logOut = stderr
	}
	logger := observability.NewLogger(cfg, logOut)
	metrics := observability.NewMetrics()

	weather := wttr.NewClient(cfg.WeatherBaseURL, cfg.WeatherFormat, cfg.WeatherTimeout, logger)
	opener := meshtastic.NewOpener(meshtastic.Options{
		Port:     cfg.SerialPort,
		Channel:  cfg.Channel,
		HopLimit: cfg.HopLimit,
		Timeout:  cfg.DeviceTimeout,
	}, logger)

	var publisher domain.EventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		writer := kafkaadapter.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		defer func() {
			if err := writer.Close(); err != nil {
				logger.Error("kafka writer close error", "error", err)
			}
		}()
		publisher = writer
		logger.Debug("relay event publishing enabled", "topic", cfg.KafkaTopic)
	}

	r := relay.New(weather, opener, publisher, logger, metrics, relay.Options{
		Mode:             cfg.Mode,
		MaxMessageLength: cfg.MaxMessageLength,
		MessageDelay:     cfg.MessageDelay,
		Channel:          cfg.Channel,
		DryRun:           cfg.DryRun,
		Out:              stdout,
	})

	_, runErr := r.Run(ctx, location)

	exportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsExportTimeout)
	defer cancel()
	if err := metrics.Export(exportCtx, cfg.PushgatewayURL, cfg.MetricsTextfile); err != nil {
		logger.Warn("metrics export failed", "error", err)
	}

	if runErr != nil {
		return fail(stderr, runErr)
	}
	return exitOK
}

// fail prints the one-line diagnostic for a failed run.
func fail(stderr io.Writer, err error) int {
	fmt.Fprintf(stderr, "%s: %v\n", progName, err)
	return exitFailure
}
