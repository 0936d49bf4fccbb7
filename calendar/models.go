package calendar

import (
	"fmt"
	"time"
)

// Calendar is one calendar owned by the signed-in account.
type Calendar struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// EventKind classifies an event's place in a recurring series.
type EventKind string

// Event kinds as reported by Microsoft Graph.
const (
	KindSingleInstance EventKind = "singleInstance"
	KindOccurrence     EventKind = "occurrence"
	KindException      EventKind = "exception"
	KindSeriesMaster   EventKind = "seriesMaster"
)

// IsSeriesInstance reports whether the event is a virtual expansion of a
// recurring series. Such events cannot be patched in place safely.
func (k EventKind) IsSeriesInstance() bool {
	return k == KindOccurrence || k == KindException
}

// DateTimeTimeZone is Graph's date-time-with-zone pair. DateTime carries
// no offset of its own; TimeZone names the zone it is expressed in.
type DateTimeTimeZone struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

// NewDateTime returns the UTC representation of t.
func NewDateTime(t time.Time) DateTimeTimeZone {
	return DateTimeTimeZone{
		DateTime: t.UTC().Format("2006-01-02T15:04:05"),
		TimeZone: "UTC",
	}
}

// Time parses the pair into a time.Time. Graph emits second or
// sub-second precision without an offset suffix.
func (d DateTimeTimeZone) Time() (time.Time, error) {
	loc := time.UTC
	if d.TimeZone != "" && d.TimeZone != "UTC" {
		parsed, err := time.LoadLocation(d.TimeZone)
		if err != nil {
			return time.Time{}, fmt.Errorf("calendar: unknown time zone %q: %w", d.TimeZone, err)
		}
		loc = parsed
	}

	for _, layout := range []string{"2006-01-02T15:04:05.9999999", "2006-01-02T15:04:05", time.RFC3339} {
		if t, err := time.ParseInLocation(layout, d.DateTime, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("calendar: cannot parse date-time %q", d.DateTime)
}

// ItemBody is an event body with its content type.
type ItemBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

// Event is one event entity in the target calendar. The engine never
// invents ids; it only proposes create, update, and delete operations.
type Event struct {
	ID                         string           `json:"id"`
	Subject                    string           `json:"subject"`
	Start                      DateTimeTimeZone `json:"start"`
	End                        DateTimeTimeZone `json:"end"`
	Body                       ItemBody         `json:"body"`
	BodyPreview                string           `json:"bodyPreview"`
	Type                       EventKind        `json:"type"`
	ReminderMinutesBeforeStart int              `json:"reminderMinutesBeforeStart"`
}

// BodyText returns the plain text of the event body, preferring the full
// body content and falling back to the preview Graph computes from it.
func (e *Event) BodyText() string {
	if e.Body.Content != "" {
		if e.Body.ContentType == "html" || e.Body.ContentType == "HTML" {
			return StripHTML(e.Body.Content)
		}
		return e.Body.Content
	}
	return e.BodyPreview
}

// EventDraft is a partial event used for create and patch operations.
// Zero-valued fields are omitted from the request, so a draft with only
// Subject set patches the subject alone.
type EventDraft struct {
	Subject                    string            `json:"subject,omitempty"`
	Start                      *DateTimeTimeZone `json:"start,omitempty"`
	End                        *DateTimeTimeZone `json:"end,omitempty"`
	Body                       *ItemBody         `json:"body,omitempty"`
	ReminderMinutesBeforeStart int               `json:"reminderMinutesBeforeStart,omitempty"`
}
