package wttr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/couchcryptid/mesh-weather-relay/internal/domain"
)

// DefaultBaseURL is the public wttr.in endpoint.
const DefaultBaseURL = "https://wttr.in"

// maxBodyBytes caps how much of a response is read; j1 reports are ~50KB.
const maxBodyBytes = 1 << 20

// Client implements domain.WeatherFetcher and domain.ReportFetcher against wttr.in.
// Every call issues exactly one request: no retries, no caching.
type Client struct {
	httpClient *http.Client
	baseURL    string
	format     string
	logger     *slog.Logger
}

// NewClient creates a wttr.in client. format is the one-line text format
// used by FetchSummary ("3" when empty).
func NewClient(baseURL, format string, timeout time.Duration, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if format == "" {
		format = "3"
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		format:  format,
		logger:  logger,
	}
}

// FetchSummary returns the one-line weather text for location, byte for byte
// as the service sent it.
func (c *Client) FetchSummary(ctx context.Context, location string) (string, error) {
	body, err := c.get(ctx, location, c.format)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// FetchReport returns the structured j1 report for location.
func (c *Client) FetchReport(ctx context.Context, location string) (domain.Report, error) {
	body, err := c.get(ctx, location, "j1")
	if err != nil {
		return domain.Report{}, err
	}

	var r domain.Report
	if err := json.Unmarshal(body, &r); err != nil {
		return domain.Report{}, fmt.Errorf("%w: decode report: %v", domain.ErrService, err)
	}
	if !r.HasCurrent() {
		return domain.Report{}, fmt.Errorf("%w: report has no current conditions", domain.ErrService)
	}
	return r, nil
}

func (c *Client) get(ctx context.Context, location, format string) ([]byte, error) {
	fullURL := c.requestURL(location, format)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	// wttr.in picks its output by User-Agent; curl gets plain text.
	req.Header.Set("User-Agent", "curl/8.5.0 (mesh-weather-relay)")
	req.Header.Set("Accept", "text/plain, application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: weather request for %q: %v", domain.ErrNetwork, location, unwrapURLError(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read weather response: %v", domain.ErrNetwork, err)
	}

	c.logger.Debug("weather response",
		"location", location,
		"format", format,
		"status", resp.StatusCode,
		"bytes", len(body),
		"duration", time.Since(start),
	)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", domain.ErrService, resp.StatusCode, snippet(body))
	}
	if strings.TrimSpace(string(body)) == "" {
		return nil, fmt.Errorf("%w: empty response for %q", domain.ErrService, location)
	}
	return body, nil
}

// requestURL builds "<base>/<location>?format=<f>&T". T is a bare flag, so
// the query is assembled by hand rather than through url.Values.
func (c *Client) requestURL(location, format string) string {
	q := url.Values{"format": {format}}.Encode()
	if format != "j1" {
		q += "&T"
	}
	return fmt.Sprintf("%s/%s?%s", c.baseURL, url.PathEscape(location), q)
}

// unwrapURLError drops the *url.Error wrapper, whose message repeats the
// full request URL.
func unwrapURLError(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		if uerr.Timeout() {
			return fmt.Errorf("timed out: %w", uerr.Err)
		}
		return uerr.Err
	}
	return err
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 120 {
		s = s[:120] + "..."
	}
	return s
}
