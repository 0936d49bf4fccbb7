// Command streamcal mirrors tracked YouTube broadcast schedules into a
// Microsoft Outlook calendar. One invocation runs one reconciliation pass.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"streamcal/calendar"
	"streamcal/config"
	"streamcal/dispatch"
	"streamcal/engine"
	"streamcal/internal/retry"
	"streamcal/report"
	"streamcal/storage"
	"streamcal/youtube"
)

type options struct {
	Config  string `short:"c" long:"config" description:"Path to the YAML configuration file" default:"config.yaml"`
	Cached  bool   `long:"cached" description:"Reconcile from the video cache instead of fetching"`
	DryRun  bool   `short:"n" long:"dry-run" description:"Compute the action plan but apply nothing"`
	Report  string `long:"report" description:"Write a CSV digest of the view window to FILE and exit" value-name:"FILE"`
	Verbose bool   `short:"v" long:"verbose" description:"Enable debug logging"`
}

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	logger := newLogger(opts.Verbose)

	if err := run(context.Background(), opts, logger); err != nil {
		logger.Error().Err(err).Msg("run failed")
		os.Exit(1)
	}
}

func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}

func run(ctx context.Context, opts options, logger zerolog.Logger) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return err
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxRetries = cfg.MaxRetries
	retryCfg.InitialBackoff = cfg.InitialBackoff
	retryCfg.MaxBackoff = cfg.MaxBackoff

	d := dispatch.New(dispatch.Config{
		Concurrency: cfg.Concurrency,
		Retry:       retryCfg,
	}, logger)

	videos, err := loadVideos(ctx, cfg, d, opts.Cached, retryCfg, logger)
	if err != nil {
		return err
	}
	if len(videos) == 0 {
		logger.Info().Msg("no tracked videos, nothing to reconcile")
		return nil
	}

	token, err := readToken(cfg.MicrosoftTokenFile)
	if err != nil {
		return err
	}

	calCfg := calendar.DefaultConfig()
	calCfg.ProxyURL = cfg.MicrosoftAPIProxy
	// Mutations carry their own retry budget in Apply; the client keeps
	// its default per-request attempts and only inherits the backoff.
	calCfg.Retry.InitialBackoff = cfg.InitialBackoff
	calCfg.Retry.MaxBackoff = cfg.MaxBackoff
	client, err := calendar.NewClient(calCfg, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}), logger)
	if err != nil {
		return err
	}

	cal, err := client.FindCalendar(ctx, cfg.CalendarName)
	if err != nil {
		return fmt.Errorf("find calendar %q: %w", cfg.CalendarName, err)
	}

	viewStart, viewEnd := viewWindow(videos)
	logger.Info().Time("start", viewStart).Time("end", viewEnd).Str("calendar", cal.Name).Msg("loading calendar view")

	events, err := loadView(ctx, cfg, client, cal.ID, viewStart, viewEnd)
	if err != nil {
		return err
	}

	if opts.Report != "" {
		return writeReport(opts.Report, events, logger)
	}

	eng := engine.New(engine.Config{
		Channels:        cfg.Channels,
		ReminderMinutes: cfg.ReminderMinutes,
		MatchWindow:     cfg.MatchWindow,
	}, logger)

	plan, err := eng.Reconcile(videos, events)
	if err != nil {
		return err
	}
	if len(plan.Groups) == 0 {
		logger.Info().Msg("calendar is up to date")
		return nil
	}

	if opts.DryRun {
		for _, action := range plan.Actions() {
			logger.Info().
				Str("action", string(action.Type)).
				Str("subject", action.Subject).
				Str("event_id", action.EventID).
				Msg("planned")
		}
		return nil
	}

	if err := eng.Apply(ctx, d, client, cal.ID, plan, cfg.MaxRetries); err != nil {
		return err
	}
	logger.Info().Int("actions", len(plan.Actions())).Msg("reconciliation complete")
	return nil
}

// loadVideos returns the record set to reconcile: either the persisted
// cache as-is, or a fresh fetch merged into the cache. Ignored ids are
// dropped in both modes.
func loadVideos(ctx context.Context, cfg *config.Config, d *dispatch.Dispatcher, cached bool, retryCfg retry.Config, logger zerolog.Logger) ([]youtube.VideoRecord, error) {
	cache, err := storage.OpenVideoCache(cfg.VideoCachePath)
	if err != nil {
		return nil, err
	}

	if cached {
		logger.Info().Str("path", cfg.VideoCachePath).Msg("using cached video records")
		return dropIgnored(cache.Videos(), cfg.IgnoreVideoIDs), nil
	}

	srcCfg := youtube.DefaultConfig()
	srcCfg.APIKey = cfg.GoogleAPIKey
	srcCfg.ProxyURL = cfg.GoogleAPIProxy
	srcCfg.Retry = retryCfg

	source, err := youtube.NewSource(ctx, srcCfg, logger)
	if err != nil {
		return nil, err
	}

	channelIDs := make([]string, 0, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		channelIDs = append(channelIDs, ch.ID)
	}

	records, err := source.FetchChannels(ctx, d, channelIDs, cfg.ExtraVideoIDs, cache.Watermark)
	if err != nil {
		return nil, err
	}

	cache.Put(records)
	if err := cache.Save(); err != nil {
		return nil, err
	}

	// Reconcile against the whole cache, not just this fetch: watermarked
	// searches skip videos already known from earlier runs.
	return dropIgnored(cache.Videos(), cfg.IgnoreVideoIDs), nil
}

func dropIgnored(videos []youtube.VideoRecord, ignore []string) []youtube.VideoRecord {
	if len(ignore) == 0 {
		return videos
	}
	ignored := make(map[string]struct{}, len(ignore))
	for _, id := range ignore {
		ignored[id] = struct{}{}
	}

	kept := videos[:0]
	for _, video := range videos {
		if _, ok := ignored[video.ID]; ok {
			continue
		}
		kept = append(kept, video)
	}
	return kept
}

// viewWindow spans the effective start times of all videos, padded by one
// day on each side.
func viewWindow(videos []youtube.VideoRecord) (time.Time, time.Time) {
	var min, max time.Time
	for _, video := range videos {
		start, ok := video.StartTime()
		if !ok {
			continue
		}
		if min.IsZero() || start.Before(min) {
			min = start
		}
		if max.IsZero() || start.After(max) {
			max = start
		}
	}
	return min.Add(-24 * time.Hour), max.Add(24 * time.Hour)
}

// loadView fetches the calendar window, through the delta-sync view cache
// when one is configured and with a plain paginated fetch otherwise.
func loadView(ctx context.Context, cfg *config.Config, client *calendar.Client, calendarID string, start, end time.Time) ([]calendar.Event, error) {
	if cfg.CalendarCachePath == "" {
		return client.GetView(ctx, calendarID, start, end)
	}

	cache, err := calendar.OpenViewCache(cfg.CalendarCachePath, calendarID, calendar.DefaultSliceDuration)
	if err != nil {
		return nil, err
	}
	if err := cache.Update(ctx, client, start, end); err != nil {
		return nil, err
	}
	return cache.EventList(), nil
}

func writeReport(path string, events []calendar.Event, logger zerolog.Logger) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report file: %w", err)
	}

	if err := report.New(logger).WriteCSV(f, events); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close report file: %w", err)
	}

	logger.Info().Str("path", path).Int("events", len(events)).Msg("report written")
	return nil
}

func readToken(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read access token: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("access token file %s is empty", path)
	}
	return token, nil
}
