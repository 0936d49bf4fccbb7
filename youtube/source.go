// Package youtube fetches tracked video metadata from YouTube Data API v3.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	youtubeapi "google.golang.org/api/youtube/v3"

	"streamcal/dispatch"
	"streamcal/internal/retry"
)

// maxIDsPerRequest is the videos.list batch limit imposed by the API.
const maxIDsPerRequest = 50

// SourceError wraps video source errors with operation context.
type SourceError struct {
	// Op is the failed API operation ("search", "videos").
	Op string
	// Channel is the channel id if applicable.
	Channel string
	// Err is the underlying error.
	Err error
}

// Error returns a string representation of the source error.
func (e *SourceError) Error() string {
	if e.Channel != "" {
		return fmt.Sprintf("youtube: %s %s: %v", e.Op, e.Channel, e.Err)
	}
	return fmt.Sprintf("youtube: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for use with errors.Is() and errors.As().
func (e *SourceError) Unwrap() error { return e.Err }

// Config holds video source configuration.
type Config struct {
	// APIKey is a Google API key with YouTube Data API v3 access.
	APIKey string
	// ProxyURL is an optional HTTP proxy for API calls.
	ProxyURL string
	// RequestsPerSecond paces Data API calls. Default: 1.0.
	RequestsPerSecond float64
	// Retry configures per-request retry behavior.
	Retry retry.Config
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 1.0,
		Retry:             retry.DefaultConfig(),
	}
}

// Source lists and fetches video metadata using YouTube Data API v3.
type Source struct {
	service *youtubeapi.Service
	limiter *rate.Limiter
	config  Config
	logger  zerolog.Logger
}

// NewSource creates a video source for the given configuration.
func NewSource(ctx context.Context, cfg Config, logger zerolog.Logger) (*Source, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("youtube: api key required")
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultConfig().RequestsPerSecond
	}

	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.ProxyURL != "" {
		proxy, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("youtube: parse proxy url: %w", err)
		}
		client := &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(proxy)}}
		opts = append(opts, option.WithHTTPClient(client))
	}

	service, err := youtubeapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("youtube: create service: %w", err)
	}

	return &Source{
		service: service,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		config:  cfg,
		logger:  logger,
	}, nil
}

// SearchIDs lists the ids of a channel's videos of the given event type,
// following nextPageToken until the result set is exhausted. A zero
// publishedAfter fetches the full history.
func (s *Source) SearchIDs(ctx context.Context, channelID string, eventType EventType, publishedAfter time.Time) ([]string, error) {
	var ids []string

	pageToken := ""
	for {
		err := retry.Do(ctx, s.config.Retry, isTransientAPIError, func(ctx context.Context) error {
			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}

			call := s.service.Search.List([]string{"id"}).
				ChannelId(channelID).
				Type("video").
				EventType(string(eventType)).
				Order("date").
				MaxResults(maxIDsPerRequest).
				PageToken(pageToken).
				Context(ctx)
			if !publishedAfter.IsZero() {
				call = call.PublishedAfter(publishedAfter.UTC().Format(time.RFC3339))
			}

			resp, err := call.Do()
			if err != nil {
				return err
			}

			for _, item := range resp.Items {
				if item.Id != nil && item.Id.VideoId != "" {
					ids = append(ids, item.Id.VideoId)
				}
			}
			pageToken = resp.NextPageToken
			return nil
		})
		if err != nil {
			return nil, &SourceError{Op: "search", Channel: channelID, Err: err}
		}

		if pageToken == "" {
			return ids, nil
		}
	}
}

// VideosByIDs fetches full records for the given video ids, batching
// requests at the API limit of 50 ids each.
func (s *Source) VideosByIDs(ctx context.Context, ids []string) ([]VideoRecord, error) {
	var records []VideoRecord

	for start := 0; start < len(ids); start += maxIDsPerRequest {
		end := start + maxIDsPerRequest
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]

		err := retry.Do(ctx, s.config.Retry, isTransientAPIError, func(ctx context.Context) error {
			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}

			resp, err := s.service.Videos.List([]string{"snippet", "liveStreamingDetails"}).
				Id(batch...).
				Context(ctx).
				Do()
			if err != nil {
				return err
			}

			for _, item := range resp.Items {
				records = append(records, normalize(item))
			}
			return nil
		})
		if err != nil {
			return nil, &SourceError{Op: "videos", Err: err}
		}
	}

	return records, nil
}

// FetchChannels searches every channel for completed, live, and upcoming
// broadcasts and fetches full records for the union of ids plus extraIDs.
// Searches run concurrently through the dispatcher; watermark may return a
// per-channel publishedAfter cutoff (zero means full history).
func (s *Source) FetchChannels(
	ctx context.Context,
	d *dispatch.Dispatcher,
	channelIDs []string,
	extraIDs []string,
	watermark func(channelID string) time.Time,
) ([]VideoRecord, error) {
	var mu sync.Mutex
	idSet := make(map[string]struct{})

	var tasks []dispatch.NamedTask
	for _, channelID := range channelIDs {
		for _, eventType := range AllEventTypes {
			channelID, eventType := channelID, eventType
			var after time.Time
			if watermark != nil {
				after = watermark(channelID)
			}
			tasks = append(tasks, dispatch.NamedTask{
				Name: fmt.Sprintf("search %s %s", channelID, eventType),
				Run: func(ctx context.Context) error {
					ids, err := s.SearchIDs(ctx, channelID, eventType, after)
					if err != nil {
						return err
					}
					mu.Lock()
					for _, id := range ids {
						idSet[id] = struct{}{}
					}
					mu.Unlock()
					return nil
				},
			})
		}
	}
	if err := d.All(ctx, tasks); err != nil {
		return nil, err
	}

	for _, id := range extraIDs {
		idSet[id] = struct{}{}
	}

	ids := make([]string, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	s.logger.Info().Int("videos", len(ids)).Int("channels", len(channelIDs)).Msg("fetching video details")

	var records []VideoRecord
	err := d.Run(ctx, "videos by ids", func(ctx context.Context) error {
		var err error
		records, err = s.VideosByIDs(ctx, ids)
		return err
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// normalize converts an API video resource into a VideoRecord.
func normalize(item *youtubeapi.Video) VideoRecord {
	record := VideoRecord{ID: item.Id, Broadcast: BroadcastNone}

	if item.Snippet != nil {
		record.ChannelID = item.Snippet.ChannelId
		record.Title = item.Snippet.Title
		if item.Snippet.LiveBroadcastContent != "" {
			record.Broadcast = BroadcastStatus(item.Snippet.LiveBroadcastContent)
		}
		record.PublishedAt = parseTimestamp(item.Snippet.PublishedAt)
	}

	if details := item.LiveStreamingDetails; details != nil {
		record.ActualStart = parseTimestamp(details.ActualStartTime)
		record.ActualEnd = parseTimestamp(details.ActualEndTime)
		record.ScheduledStart = parseTimestamp(details.ScheduledStartTime)
		record.ScheduledEnd = parseTimestamp(details.ScheduledEndTime)
	}

	return record
}

// parseTimestamp parses an RFC3339 timestamp, returning the zero time for
// empty or malformed input.
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// isTransientAPIError classifies Data API errors for retry: quota and rate
// limit rejections and server errors are transient, everything else is not.
func isTransientAPIError(err error) bool {
	if !retry.IsRetryable(err) {
		return false
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		case http.StatusForbidden:
			for _, item := range apiErr.Errors {
				if item.Reason == "quotaExceeded" || item.Reason == "rateLimitExceeded" {
					return true
				}
			}
			return false
		default:
			return false
		}
	}

	// Network-level failures without an API error shape are retryable
	return true
}
