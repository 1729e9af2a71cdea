package relay_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/mesh-weather-relay/internal/adapter/wttr"
	"github.com/couchcryptid/mesh-weather-relay/internal/config"
	"github.com/couchcryptid/mesh-weather-relay/internal/domain"
	"github.com/couchcryptid/mesh-weather-relay/internal/observability"
	"github.com/couchcryptid/mesh-weather-relay/internal/relay"
)

const londonLine = "London: ⛅️ +15°C"

// --- stubs ---

type stubWeather struct {
	summary string
	report  domain.Report
	err     error

	mu    sync.Mutex
	calls []string
}

func (s *stubWeather) FetchSummary(_ context.Context, location string) (string, error) {
	s.record(location)
	if s.err != nil {
		return "", s.err
	}
	return s.summary, nil
}

func (s *stubWeather) FetchReport(_ context.Context, location string) (domain.Report, error) {
	s.record(location)
	if s.err != nil {
		return domain.Report{}, s.err
	}
	return s.report, nil
}

func (s *stubWeather) record(location string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, location)
}

type stubDevice struct {
	nodeNum uint32
	failOn  int // 1-based message index that fails; 0 never fails

	mu     sync.Mutex
	sent   []string
	closed int
}

func (d *stubDevice) Broadcast(_ context.Context, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failOn == len(d.sent)+1 {
		return fmt.Errorf("%w: radio rejected packet", domain.ErrTransmit)
	}
	d.sent = append(d.sent, text)
	return nil
}

func (d *stubDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed++
	return nil
}

func (d *stubDevice) NodeNum() uint32 { return d.nodeNum }

func (d *stubDevice) messages() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.sent...)
}

type stubOpener struct {
	dev   *stubDevice
	err   error
	opens int
}

func (o *stubOpener) Open(context.Context) (domain.Broadcaster, error) {
	o.opens++
	if o.err != nil {
		return nil, o.err
	}
	return o.dev, nil
}

type stubPublisher struct {
	events []domain.RelayEvent
	err    error
}

func (p *stubPublisher) Publish(_ context.Context, event domain.RelayEvent) error {
	p.events = append(p.events, event)
	return p.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRelay(weather relay.WeatherSource, opener domain.DeviceOpener, pub domain.EventPublisher, m *observability.Metrics, opts relay.Options) *relay.Relay {
	if m == nil {
		m = observability.NewMetrics()
	}
	return relay.New(weather, opener, pub, discardLogger(), m, opts)
}

func londonReport() domain.Report {
	return domain.Report{
		CurrentCondition: []domain.CurrentCondition{{
			TempC:            "15",
			TempF:            "59",
			FeelsLikeC:       "14",
			FeelsLikeF:       "57",
			Humidity:         "72",
			WindSpeedKmph:    "11",
			WindDir16Point:   "SW",
			ObservationTime:  "10:15 AM",
			LocalObsDateTime: "2025-03-01 10:15 AM",
			WeatherDesc:      []domain.TextValue{{Value: "Partly cloudy"}},
		}},
		NearestArea: []domain.NearestArea{{
			AreaName: []domain.TextValue{{Value: "London"}},
			Region:   []domain.TextValue{{Value: "City of London, Greater London"}},
		}},
		Weather: []domain.DailyWeather{{
			Astronomy: []domain.Astronomy{{Sunrise: "06:42 AM", Sunset: "05:41 PM"}},
		}},
	}
}

// --- ResolveLocation ---

func TestResolveLocation(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    string
		wantErr error
	}{
		{"no argument uses default", nil, config.DefaultLocation, nil},
		{"city", []string{"London"}, "London", nil},
		{"airport code", []string{"muc"}, "muc", nil},
		{"coordinates", []string{"~Eiffel+Tower"}, "~Eiffel+Tower", nil},
		{"spaces kept verbatim", []string{"New York"}, "New York", nil},
		{"blank argument", []string{"  "}, "", domain.ErrEmptyLocation},
		{"too many arguments", []string{"London", "Paris"}, "", relay.ErrUsage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := relay.ResolveLocation(tt.args, config.DefaultLocation)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveLocation_DefaultIs37397(t *testing.T) {
	got, err := relay.ResolveLocation(nil, config.Defaults().DefaultLocation)
	require.NoError(t, err)
	assert.Equal(t, "37397", got)
}

// --- Run ---

func TestRun_LondonEndToEnd(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		_, _ = w.Write([]byte(londonLine))
	}))
	defer srv.Close()

	dev := &stubDevice{nodeNum: 0xDEADBEEF}
	opener := &stubOpener{dev: dev}
	pub := &stubPublisher{}
	weather := wttr.NewClient(srv.URL, "3", 5*time.Second, discardLogger())
	m := observability.NewMetrics()

	res, err := newRelay(weather, opener, pub, m, relay.Options{}).Run(context.Background(), "London")
	require.NoError(t, err)

	assert.Equal(t, []string{"/London"}, paths)
	assert.Equal(t, []string{londonLine}, dev.messages())
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, uint32(0xDEADBEEF), res.NodeNum)
	assert.Equal(t, 1, dev.closed)

	require.Len(t, pub.events, 1)
	assert.Equal(t, "London", pub.events[0].Location)
	assert.Equal(t, []string{londonLine}, pub.events[0].Messages)
	assert.Equal(t, uint32(0xDEADBEEF), pub.events[0].NodeNum)

	assert.InDelta(t, 1, testutil.ToFloat64(m.RunsTotal.WithLabelValues(observability.OutcomeSuccess)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.MessagesSent), 0)
	assert.Positive(t, testutil.ToFloat64(m.LastSuccessEpoch))
}

func TestRun_ServiceFailureNeverOpensDevice(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, "Internal Server Error"},
		{"not found", http.StatusNotFound, "Unknown location"},
		{"empty body", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			opener := &stubOpener{dev: &stubDevice{}}
			m := observability.NewMetrics()
			weather := wttr.NewClient(srv.URL, "3", 5*time.Second, discardLogger())

			_, err := newRelay(weather, opener, nil, m, relay.Options{}).Run(context.Background(), "London")
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrService)
			assert.Zero(t, opener.opens)
			assert.InDelta(t, 1, testutil.ToFloat64(m.RunsTotal.WithLabelValues(observability.OutcomeFetchError)), 0)
		})
	}
}

func TestRun_FetchTimeoutNeverOpensDevice(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	opener := &stubOpener{dev: &stubDevice{}}
	weather := wttr.NewClient(srv.URL, "3", 50*time.Millisecond, discardLogger())

	_, err := newRelay(weather, opener, nil, nil, relay.Options{}).Run(context.Background(), "London")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNetwork)
	assert.Contains(t, err.Error(), "network")
	assert.Zero(t, opener.opens)
}

func TestRun_NoDevice(t *testing.T) {
	weather := &stubWeather{summary: londonLine}
	opener := &stubOpener{err: fmt.Errorf("%w: %w", domain.ErrDevice, domain.ErrNoDevice)}
	pub := &stubPublisher{}
	m := observability.NewMetrics()

	_, err := newRelay(weather, opener, pub, m, relay.Options{}).Run(context.Background(), "London")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDevice)
	assert.Contains(t, err.Error(), "no meshtastic device found")
	assert.Len(t, weather.calls, 1, "no fetch retry")
	assert.Empty(t, pub.events)
	assert.InDelta(t, 1, testutil.ToFloat64(m.RunsTotal.WithLabelValues(observability.OutcomeDeviceError)), 0)
}

func TestRun_TwoRunsAreIndependent(t *testing.T) {
	weather := &stubWeather{summary: londonLine}
	dev := &stubDevice{}
	opener := &stubOpener{dev: dev}
	r := newRelay(weather, opener, nil, nil, relay.Options{})

	for range 2 {
		_, err := r.Run(context.Background(), "London")
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"London", "London"}, weather.calls)
	assert.Equal(t, 2, opener.opens)
	assert.Equal(t, []string{londonLine, londonLine}, dev.messages())
	assert.Equal(t, 2, dev.closed)
}

func TestRun_EmptyLocation(t *testing.T) {
	weather := &stubWeather{summary: londonLine}
	opener := &stubOpener{dev: &stubDevice{}}

	_, err := newRelay(weather, opener, nil, nil, relay.Options{}).Run(context.Background(), " ")
	assert.ErrorIs(t, err, domain.ErrEmptyLocation)
	assert.Empty(t, weather.calls)
	assert.Zero(t, opener.opens)
}

func TestRun_ReportSplitsWithDelay(t *testing.T) {
	clock := clockwork.NewFakeClock()
	weather := &stubWeather{report: londonReport()}
	dev := &stubDevice{}
	opts := relay.Options{
		Mode:             domain.ModeReport,
		MaxMessageLength: 200,
		MessageDelay:     7 * time.Second,
		Clock:            clock,
	}
	r := newRelay(weather, &stubOpener{dev: dev}, nil, nil, opts)

	type outcome struct {
		res relay.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := r.Run(context.Background(), "London")
		done <- outcome{res, err}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Len(t, dev.messages(), 1, "second message waits for the delay")

	clock.Advance(7 * time.Second)

	select {
	case out := <-done:
		require.NoError(t, out.err)
		assert.Equal(t, 2, out.res.Sent)
	case <-ctx.Done():
		t.Fatal("relay did not finish after the delay elapsed")
	}

	msgs := dev.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.FormatReport(londonReport(), 200), msgs)
	assert.Contains(t, msgs[0], "Weather in London")
	assert.Contains(t, msgs[1], "Wind: 11km/h SW")
}

func TestRun_ReportFitsInOneMessage(t *testing.T) {
	report := londonReport()
	report.NearestArea[0].Region = []domain.TextValue{{Value: "Greater London"}}
	weather := &stubWeather{report: report}
	dev := &stubDevice{}
	opts := relay.Options{Mode: domain.ModeReport, MaxMessageLength: 233, MessageDelay: time.Hour}

	res, err := newRelay(weather, &stubOpener{dev: dev}, nil, nil, opts).Run(context.Background(), "London")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.Contains(t, dev.messages()[0], "Sunset: 05:41 PM")
}

func TestRun_Concise(t *testing.T) {
	weather := &stubWeather{report: londonReport()}
	dev := &stubDevice{}

	_, err := newRelay(weather, &stubOpener{dev: dev}, nil, nil, relay.Options{Mode: domain.ModeConcise}).
		Run(context.Background(), "London")
	require.NoError(t, err)
	assert.Equal(t, []string{domain.FormatConcise(londonReport())}, dev.messages())
}

func TestRun_FirstSendFailureAbortsAndCloses(t *testing.T) {
	weather := &stubWeather{report: londonReport()}
	dev := &stubDevice{failOn: 1}
	opts := relay.Options{Mode: domain.ModeReport, MaxMessageLength: 200}
	m := observability.NewMetrics()
	pub := &stubPublisher{}

	res, err := newRelay(weather, &stubOpener{dev: dev}, pub, m, opts).Run(context.Background(), "London")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransmit)
	assert.Zero(t, res.Sent)
	assert.Empty(t, dev.messages())
	assert.Equal(t, 1, dev.closed)
	assert.Empty(t, pub.events)
	assert.InDelta(t, 1, testutil.ToFloat64(m.RunsTotal.WithLabelValues(observability.OutcomeTransmitError)), 0)
}

func TestRun_CancelDuringDelayCloses(t *testing.T) {
	clock := clockwork.NewFakeClock()
	weather := &stubWeather{report: londonReport()}
	dev := &stubDevice{}
	opts := relay.Options{Mode: domain.ModeReport, MaxMessageLength: 200, MessageDelay: 7 * time.Second, Clock: clock}
	r := newRelay(weather, &stubOpener{dev: dev}, nil, nil, opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := r.Run(ctx, "London")
		done <- err
	}()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-waitCtx.Done():
		t.Fatal("relay did not stop after cancellation")
	}
	assert.Len(t, dev.messages(), 1)
	assert.Equal(t, 1, dev.closed)
}

func TestRun_DryRunPrintsWithoutDevice(t *testing.T) {
	weather := &stubWeather{summary: londonLine + "\n"}
	opener := &stubOpener{dev: &stubDevice{}}
	pub := &stubPublisher{}
	var out bytes.Buffer
	m := observability.NewMetrics()

	res, err := newRelay(weather, opener, pub, m, relay.Options{DryRun: true, Out: &out}).
		Run(context.Background(), "London")
	require.NoError(t, err)

	assert.True(t, res.DryRun)
	assert.Equal(t, londonLine+"\n", out.String())
	assert.Zero(t, opener.opens)
	assert.Empty(t, pub.events)
	assert.InDelta(t, 1, testutil.ToFloat64(m.RunsTotal.WithLabelValues(observability.OutcomeDryRun)), 0)
}

func TestRun_PublishFailureIsNotFatal(t *testing.T) {
	weather := &stubWeather{summary: londonLine}
	dev := &stubDevice{}
	pub := &stubPublisher{err: errors.New("broker unavailable")}

	res, err := newRelay(weather, &stubOpener{dev: dev}, pub, nil, relay.Options{}).Run(context.Background(), "London")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.Len(t, pub.events, 1)
}
