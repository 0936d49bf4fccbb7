// Package engine computes the calendar mutations that bring an Outlook
// calendar in line with tracked YouTube broadcast schedules.
//
// One reconciliation pass matches fetched video records against a snapshot
// of existing calendar events and produces a plan of create, update, and
// delete actions. The engine never invents event ids and holds no state
// beyond the pass.
package engine

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"streamcal/calendar"
	"streamcal/config"
	"streamcal/eventbody"
	"streamcal/youtube"
)

// ActionType is the kind of calendar mutation an action performs.
type ActionType string

// Action types.
const (
	ActionCreate ActionType = "create"
	ActionUpdate ActionType = "update"
	ActionDelete ActionType = "delete"
)

// Action is one proposed calendar mutation.
type Action struct {
	// Type selects the mutation.
	Type ActionType
	// EventID is the target event for update and delete.
	EventID string
	// Draft is the payload for create and update.
	Draft *calendar.EventDraft
	// Subject labels the action in logs and request tracking.
	Subject string
}

// Group is a sequence of actions that must execute in order as one unit.
// Most groups hold a single action; a replaced series instance holds its
// delete and the paired create, which must not race each other.
type Group struct {
	Name    string
	Actions []Action
}

// Plan is the ordered action set of one reconciliation pass. Groups are
// independent of each other and may execute concurrently.
type Plan struct {
	Groups []Group
}

// Actions returns every action in the plan, flattened in group order.
func (p *Plan) Actions() []Action {
	var out []Action
	for _, g := range p.Groups {
		out = append(out, g.Actions...)
	}
	return out
}

func (p *Plan) add(name string, actions ...Action) {
	p.Groups = append(p.Groups, Group{Name: name, Actions: actions})
}

// Config holds reconciliation settings.
type Config struct {
	// Channels maps channel ids to display nicknames and aliases.
	Channels []config.Channel
	// ReminderMinutes is the reminder lead time set on event payloads.
	ReminderMinutes int
	// MatchWindow is the start-time tolerance for name-based matching.
	MatchWindow time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ReminderMinutes: 5,
		MatchWindow:     15 * time.Minute,
	}
}

// Engine matches video records to calendar events and decides actions.
type Engine struct {
	config Config
	logger zerolog.Logger
	now    func() time.Time
}

// New creates an engine with the given configuration.
func New(cfg Config, logger zerolog.Logger) *Engine {
	if cfg.ReminderMinutes <= 0 {
		cfg.ReminderMinutes = DefaultConfig().ReminderMinutes
	}
	if cfg.MatchWindow <= 0 {
		cfg.MatchWindow = DefaultConfig().MatchWindow
	}
	return &Engine{
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
}

var bracketRe = regexp.MustCompile(`【.*?】|\[.*?\]`)

// CleanTitle strips bracketed annotations, in both the fullwidth and the
// ASCII bracket convention, from a video title.
func CleanTitle(title string) string {
	return strings.TrimSpace(bracketRe.ReplaceAllString(title, ""))
}

// candidate is one existing event in the working snapshot.
type candidate struct {
	event calendar.Event
	// body is the parsed structured block, nil when malformed. Events
	// with a malformed body never match; their videos get fresh creates.
	body eventbody.Document
	// start is the parsed event start, valid only when hasStart is set.
	start    time.Time
	hasStart bool
}

// Reconcile computes the action plan for one pass: a duplicate sweep and
// an alias rename pass over the event snapshot, then per-video matching
// and a create, update, replace, or no-op decision.
//
// Videos without any start time are discarded. A structured-body merge
// conflict on a matched event is fatal and aborts the pass.
func (e *Engine) Reconcile(videos []youtube.VideoRecord, events []calendar.Event) (*Plan, error) {
	plan := &Plan{}

	candidates := e.snapshot(events)
	candidates = e.sweepDuplicates(plan, candidates)
	e.renameAliases(plan, candidates)

	for _, video := range videos {
		if err := e.reconcileVideo(plan, candidates, video); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

// snapshot parses event bodies and start times into working candidates,
// preserving fetch order.
func (e *Engine) snapshot(events []calendar.Event) []*candidate {
	candidates := make([]*candidate, 0, len(events))
	for _, event := range events {
		c := &candidate{event: event}

		body, err := eventbody.Parse(event.BodyText())
		if err != nil {
			e.logger.Warn().Str("event_id", event.ID).Str("subject", event.Subject).Err(err).
				Msg("event body is malformed, excluding event from matching")
		} else {
			c.body = body
		}

		if start, err := event.Start.Time(); err == nil {
			c.start = start
			c.hasStart = true
		} else {
			e.logger.Warn().Str("event_id", event.ID).Str("subject", event.Subject).Err(err).
				Msg("event has an unparseable start time")
		}

		candidates = append(candidates, c)
	}
	return candidates
}

// sweepDuplicates collapses events sharing an identical subject and start
// time, keeping the first of each set and emitting deletes for the rest.
// Occurrences are virtual expansions of a series, not independently
// deletable duplicates, and are exempt.
func (e *Engine) sweepDuplicates(plan *Plan, candidates []*candidate) []*candidate {
	seen := make(map[string]bool)
	kept := candidates[:0]

	for _, c := range candidates {
		if c.event.Type == calendar.KindOccurrence {
			kept = append(kept, c)
			continue
		}

		key := c.event.Subject + "\x00" + c.event.Start.DateTime
		if seen[key] {
			e.logger.Info().Str("subject", c.event.Subject).Str("event_id", c.event.ID).Msg("deleting duplicate event")
			plan.add("delete duplicate "+c.event.Subject, Action{
				Type:    ActionDelete,
				EventID: c.event.ID,
				Subject: c.event.Subject,
			})
			continue
		}
		seen[key] = true
		kept = append(kept, c)
	}
	return kept
}

// renameAliases rewrites subjects whose channel prefix is a configured
// historical alias, emitting a subject-only update and patching the
// in-memory snapshot so later matching sees the canonical nickname.
func (e *Engine) renameAliases(plan *Plan, candidates []*candidate) {
	for _, c := range candidates {
		for _, channel := range e.config.Channels {
			renamed, ok := renameSubject(c.event.Subject, channel)
			if !ok {
				continue
			}

			e.logger.Info().Str("from", c.event.Subject).Str("to", renamed).Msg("renaming aliased event")
			plan.add("rename "+c.event.Subject, Action{
				Type:    ActionUpdate,
				EventID: c.event.ID,
				Draft:   &calendar.EventDraft{Subject: renamed},
				Subject: renamed,
			})
			c.event.Subject = renamed
			break
		}
	}
}

// renameSubject maps "{alias} - {title}" to "{nickname} - {title}" when
// the subject carries one of the channel's aliases.
func renameSubject(subject string, channel config.Channel) (string, bool) {
	for _, alias := range channel.Aliases {
		if alias == "" || alias == channel.Nickname {
			continue
		}
		rest, ok := strings.CutPrefix(subject, alias+" - ")
		if !ok {
			continue
		}
		return channel.Nickname + " - " + rest, true
	}
	return "", false
}

func (e *Engine) reconcileVideo(plan *Plan, candidates []*candidate, video youtube.VideoRecord) error {
	start, ok := video.StartTime()
	if !ok {
		e.logger.Warn().Str("video_id", video.ID).Str("title", video.Title).
			Msg("video has no start time, skipping")
		return nil
	}

	channel := e.channelByID(video.ChannelID)
	if channel == nil {
		e.logger.Warn().Str("video_id", video.ID).Str("channel_id", video.ChannelID).
			Msg("video belongs to an unconfigured channel, skipping")
		return nil
	}

	start = start.UTC().Truncate(time.Second)
	end := video.EndTime(e.now()).UTC().Truncate(time.Second)
	subject := channel.Nickname + " - " + CleanTitle(video.Title)
	body := eventbody.New(video.Title, youtube.WatchURL(video.ID), video.ID)

	match := e.match(candidates, video.ID, channel.Nickname, start)
	if match == nil {
		e.logger.Info().Str("subject", subject).Msg("creating event")
		plan.add("create "+subject, Action{
			Type:    ActionCreate,
			Draft:   e.draft(subject, start, end, eventbody.Format(body)),
			Subject: subject,
		})
		return nil
	}

	merged, err := eventbody.Merge(match.body, body)
	if err != nil {
		return fmt.Errorf("engine: merging body of event %s (%s): %w", match.event.ID, match.event.Subject, err)
	}

	// A subject that no longer derives from the stored original title was
	// renamed by hand; keep it.
	if old := match.body.OriginalTitle(); old != "" {
		if match.event.Subject != channel.Nickname+" - "+CleanTitle(old) {
			subject = match.event.Subject
		}
	}

	if e.unchanged(match, subject, start, end, merged) {
		return nil
	}

	draft := e.draft(subject, start, end, eventbody.Format(merged))
	if match.event.Type.IsSeriesInstance() {
		// A single occurrence cannot be patched in place; replace it with
		// a standalone event, delete strictly before create.
		e.logger.Info().Str("subject", subject).Str("event_id", match.event.ID).Msg("replacing series instance")
		plan.add("replace "+subject,
			Action{Type: ActionDelete, EventID: match.event.ID, Subject: match.event.Subject},
			Action{Type: ActionCreate, Draft: draft, Subject: subject},
		)
		return nil
	}

	e.logger.Info().Str("subject", subject).Str("event_id", match.event.ID).Msg("updating event")
	plan.add("update "+subject, Action{
		Type:    ActionUpdate,
		EventID: match.event.ID,
		Draft:   draft,
		Subject: subject,
	})
	return nil
}

// match selects at most one existing event for a video. A structured
// video id (or the canonical watch URL in older bodies) wins outright;
// otherwise the first event whose subject carries the channel nickname
// and whose start falls within the tolerance window is taken.
func (e *Engine) match(candidates []*candidate, videoID, nickname string, start time.Time) *candidate {
	watchURL := youtube.WatchURL(videoID)
	for _, c := range candidates {
		if c.body == nil {
			continue
		}
		if c.body.VideoID() == videoID || c.body.WatchURL() == watchURL {
			return c
		}
	}

	for _, c := range candidates {
		if c.body == nil || !c.hasStart {
			continue
		}
		if !strings.HasPrefix(c.event.Subject, nickname) {
			continue
		}
		delta := c.start.Sub(start)
		if delta < 0 {
			delta = -delta
		}
		if delta < e.config.MatchWindow {
			return c
		}
	}
	return nil
}

// unchanged reports whether the merged target matches the existing event
// in subject, times, and structured body.
func (e *Engine) unchanged(c *candidate, subject string, start, end time.Time, merged eventbody.Document) bool {
	if subject != c.event.Subject {
		return false
	}
	if !c.hasStart || !c.start.Equal(start) {
		return false
	}
	existingEnd, err := c.event.End.Time()
	if err != nil || !existingEnd.Equal(end) {
		return false
	}
	return eventbody.Format(merged) == eventbody.Format(c.body)
}

func (e *Engine) draft(subject string, start, end time.Time, bodyText string) *calendar.EventDraft {
	startDT := calendar.NewDateTime(start)
	endDT := calendar.NewDateTime(end)
	return &calendar.EventDraft{
		Subject: subject,
		Start:   &startDT,
		End:     &endDT,
		Body: &calendar.ItemBody{
			ContentType: "text",
			Content:     bodyText,
		},
		ReminderMinutesBeforeStart: e.config.ReminderMinutes,
	}
}

func (e *Engine) channelByID(id string) *config.Channel {
	for i := range e.config.Channels {
		if e.config.Channels[i].ID == id {
			return &e.config.Channels[i]
		}
	}
	return nil
}
