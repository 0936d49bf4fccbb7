// Package calendar provides a Microsoft Graph client for the calendar
// operations the reconciliation engine needs: listing calendars, reading
// date-ranged views (paginated or delta based), and mutating events.
package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"streamcal/internal/retry"
)

// DefaultBaseURL is the Microsoft Graph v1.0 endpoint.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// viewPageSize is the $top value used for calendarView pagination.
const viewPageSize = 1000

// ErrCalendarNotFound indicates no calendar matched the configured name.
var ErrCalendarNotFound = errors.New("calendar: calendar not found")

// GraphError is a non-2xx response from Microsoft Graph.
type GraphError struct {
	// StatusCode is the HTTP status code.
	StatusCode int
	// Code is Graph's machine-readable error code.
	Code string
	// Message is Graph's human-readable error message.
	Message string
}

// Error returns a string representation of the Graph error.
func (e *GraphError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("graph: %s (status %d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("graph: status %d", e.StatusCode)
}

// IsTransient reports whether the error is worth retrying with the same
// request: throttling, server errors, and timeouts.
func (e *GraphError) IsTransient() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests, http.StatusRequestTimeout,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Config holds Graph client configuration.
type Config struct {
	// BaseURL overrides the Graph endpoint, mainly for tests.
	BaseURL string
	// ProxyURL is an optional HTTP proxy for Graph calls.
	ProxyURL string
	// Timeout bounds individual HTTP requests.
	Timeout time.Duration
	// RequestsPerSecond paces Graph calls. Default: 4.0.
	RequestsPerSecond float64
	// Retry configures per-request retry behavior.
	Retry retry.Config
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:           DefaultBaseURL,
		Timeout:           60 * time.Second,
		RequestsPerSecond: 4.0,
		Retry:             retry.DefaultConfig(),
	}
}

// Client calls Microsoft Graph calendar endpoints.
type Client struct {
	base    *http.Client
	baseURL string
	tokens  oauth2.TokenSource
	limiter *rate.Limiter
	config  Config
	logger  zerolog.Logger
}

// NewClient creates a Graph client authenticating with tokens.
func NewClient(cfg Config, tokens oauth2.TokenSource, logger zerolog.Logger) (*Client, error) {
	if tokens == nil {
		return nil, fmt.Errorf("calendar: token source required")
	}
	defaults := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = defaults.RequestsPerSecond
	}

	transport := &http.Transport{}
	if cfg.ProxyURL != "" {
		proxy, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("calendar: parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxy)
	}

	return &Client{
		base:    &http.Client{Timeout: cfg.Timeout, Transport: transport},
		baseURL: cfg.BaseURL,
		tokens:  tokens,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		config:  cfg,
		logger:  logger,
	}, nil
}

// ListCalendars lists the account's calendars.
func (c *Client) ListCalendars(ctx context.Context) ([]Calendar, error) {
	var page struct {
		Value []Calendar `json:"value"`
	}
	if err := c.get(ctx, c.url("/me/calendars", nil), &page); err != nil {
		return nil, err
	}
	return page.Value, nil
}

// FindCalendar returns the calendar with the given display name.
// The match is case-sensitive; ErrCalendarNotFound is returned when the
// name does not exist.
func (c *Client) FindCalendar(ctx context.Context, name string) (Calendar, error) {
	calendars, err := c.ListCalendars(ctx)
	if err != nil {
		return Calendar{}, err
	}
	for _, cal := range calendars {
		if cal.Name == name {
			return cal, nil
		}
	}
	return Calendar{}, fmt.Errorf("%w: %q", ErrCalendarNotFound, name)
}

// GetView fetches all events of a calendar between start and end,
// following @odata.nextLink until the view is exhausted.
func (c *Client) GetView(ctx context.Context, calendarID string, start, end time.Time) ([]Event, error) {
	query := url.Values{
		"startDateTime": {start.UTC().Format(time.RFC3339)},
		"endDateTime":   {end.UTC().Format(time.RFC3339)},
		"$top":          {fmt.Sprint(viewPageSize)},
	}
	next := c.url("/me/calendars/"+url.PathEscape(calendarID)+"/calendarView", query)

	var events []Event
	for next != "" {
		var page struct {
			NextLink string  `json:"@odata.nextLink"`
			Value    []Event `json:"value"`
		}
		if err := c.get(ctx, next, &page); err != nil {
			return nil, err
		}
		events = append(events, page.Value...)
		next = c.rebase(page.NextLink)
	}

	c.logger.Debug().Int("events", len(events)).Str("calendar", calendarID).Msg("fetched calendar view")
	return events, nil
}

// CreateEvent creates an event in the calendar.
func (c *Client) CreateEvent(ctx context.Context, calendarID string, draft *EventDraft) (*Event, error) {
	var created Event
	path := c.url("/me/calendars/"+url.PathEscape(calendarID)+"/events", nil)
	if err := c.do(ctx, http.MethodPost, path, draft, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateEvent patches an event. Only the draft's non-zero fields change.
func (c *Client) UpdateEvent(ctx context.Context, eventID string, draft *EventDraft) (*Event, error) {
	var updated Event
	path := c.url("/me/events/"+url.PathEscape(eventID), nil)
	if err := c.do(ctx, http.MethodPatch, path, draft, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteEvent deletes an event.
func (c *Client) DeleteEvent(ctx context.Context, eventID string) error {
	path := c.url("/me/events/"+url.PathEscape(eventID), nil)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// url builds an absolute URL under the configured base.
func (c *Client) url(path string, query url.Values) string {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// rebase rewrites a Graph continuation link onto the configured base URL,
// preserving its path below /v1.0 and its query. Continuation links always
// point at the production endpoint, which matters when BaseURL is a test
// server.
func (c *Client) rebase(link string) string {
	if link == "" {
		return ""
	}
	parsed, err := url.Parse(link)
	if err != nil {
		return link
	}
	path := parsed.Path
	if i := len("/v1.0"); len(path) >= i && path[:i] == "/v1.0" {
		path = path[i:]
	}
	u := c.baseURL + path
	if parsed.RawQuery != "" {
		u += "?" + parsed.RawQuery
	}
	return u
}

// get performs a GET with retry and decodes the response into out.
func (c *Client) get(ctx context.Context, rawurl string, out any) error {
	return c.do(ctx, http.MethodGet, rawurl, nil, out)
}

// do performs one Graph request with retry on transient failures.
func (c *Client) do(ctx context.Context, method, rawurl string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("calendar: encode request: %w", err)
		}
	}

	return retry.Do(ctx, c.config.Retry, isTransientGraphError, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		token, err := c.tokens.Token()
		if err != nil {
			return fmt.Errorf("calendar: acquire token: %w", err)
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawurl, reader)
		if err != nil {
			return err
		}
		token.SetAuthHeader(req)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.base.Do(req)
		if err != nil {
			return fmt.Errorf("calendar: %s %s: %w", method, rawurl, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return decodeGraphError(resp)
		}

		if out == nil || resp.StatusCode == http.StatusNoContent {
			io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("calendar: decode response: %w", err)
		}
		return nil
	})
}

// decodeGraphError extracts Graph's error envelope from a failed response.
func decodeGraphError(resp *http.Response) error {
	graphErr := &GraphError{StatusCode: resp.StatusCode}

	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil {
		graphErr.Code = envelope.Error.Code
		graphErr.Message = envelope.Error.Message
	}
	return graphErr
}

// isTransientGraphError classifies Graph errors for retry.
func isTransientGraphError(err error) bool {
	if !retry.IsRetryable(err) {
		return false
	}

	var graphErr *GraphError
	if errors.As(err, &graphErr) {
		return graphErr.IsTransient()
	}

	// Network-level failures are retryable
	return true
}
