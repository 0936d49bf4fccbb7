package youtube

import "time"

// BroadcastStatus is the live-broadcast state reported for a video.
type BroadcastStatus string

// Broadcast statuses.
const (
	BroadcastNone     BroadcastStatus = "none"
	BroadcastLive     BroadcastStatus = "live"
	BroadcastUpcoming BroadcastStatus = "upcoming"
)

// EventType selects which broadcast phase a search covers.
type EventType string

// Search event types.
const (
	EventCompleted EventType = "completed"
	EventLive      EventType = "live"
	EventUpcoming  EventType = "upcoming"
)

// AllEventTypes lists every search phase, in fetch order.
var AllEventTypes = []EventType{EventCompleted, EventLive, EventUpcoming}

// VideoRecord is a normalized snapshot of one tracked live or scheduled
// video. Records are immutable once fetched and superseded by re-fetch.
type VideoRecord struct {
	// ID is the stable YouTube video id.
	ID string `json:"id"`
	// ChannelID is the YouTube channel id the video belongs to.
	ChannelID string `json:"channel_id"`
	// Title is the current video title.
	Title string `json:"title"`
	// Broadcast is the live-broadcast state at fetch time.
	Broadcast BroadcastStatus `json:"broadcast"`
	// PublishedAt is when the video was published.
	PublishedAt time.Time `json:"published_at"`

	// Live streaming timestamps; the zero value means absent.
	ActualStart    time.Time `json:"actual_start,omitempty"`
	ActualEnd      time.Time `json:"actual_end,omitempty"`
	ScheduledStart time.Time `json:"scheduled_start,omitempty"`
	ScheduledEnd   time.Time `json:"scheduled_end,omitempty"`
}

// StartTime returns the effective start time: the actual start when the
// stream has begun, else the scheduled start. The second return is false
// when neither exists, which makes the record invalid for reconciliation.
func (v VideoRecord) StartTime() (time.Time, bool) {
	if !v.ActualStart.IsZero() {
		return v.ActualStart, true
	}
	if !v.ScheduledStart.IsZero() {
		return v.ScheduledStart, true
	}
	return time.Time{}, false
}

// EndTime returns the effective end time: the actual end, else the
// scheduled end, else now for a currently live stream, else one hour
// after the effective start as a provisional end.
func (v VideoRecord) EndTime(now time.Time) time.Time {
	if !v.ActualEnd.IsZero() {
		return v.ActualEnd
	}
	if !v.ScheduledEnd.IsZero() {
		return v.ScheduledEnd
	}
	if v.Broadcast == BroadcastLive {
		return now
	}
	start, _ := v.StartTime()
	return start.Add(1 * time.Hour)
}

// WatchURL returns the canonical watch URL for a video id.
func WatchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}
