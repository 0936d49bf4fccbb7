package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

// deltaPage is one page of a calendarView delta response. Entries are kept
// raw because delta events are partial: only the changed fields appear.
type deltaPage struct {
	NextLink  string            `json:"@odata.nextLink"`
	DeltaLink string            `json:"@odata.deltaLink"`
	Value     []json.RawMessage `json:"value"`
}

// deltaMarker carries the fields that identify a delta entry.
type deltaMarker struct {
	ID      string `json:"id"`
	Removed *struct {
		Reason string `json:"reason"`
	} `json:"@removed"`
}

// DeltaInitial starts delta tracking for a calendar window. Changes are
// merged into events; the returned delta link resumes from this point.
func (c *Client) DeltaInitial(ctx context.Context, calendarID string, start, end time.Time, events map[string]Event) (string, error) {
	query := url.Values{
		"startDateTime": {start.UTC().Format(time.RFC3339)},
		"endDateTime":   {end.UTC().Format(time.RFC3339)},
	}
	first := c.url("/me/calendars/"+url.PathEscape(calendarID)+"/calendarView/delta", query)
	return c.drainDelta(ctx, first, events)
}

// Delta fetches changes since a previous delta link, merging them into
// events and returning the next delta link.
func (c *Client) Delta(ctx context.Context, deltaLink string, events map[string]Event) (string, error) {
	return c.drainDelta(ctx, c.rebase(deltaLink), events)
}

// drainDelta follows next links until a delta link is returned.
func (c *Client) drainDelta(ctx context.Context, next string, events map[string]Event) (string, error) {
	for {
		var page deltaPage
		if err := c.get(ctx, next, &page); err != nil {
			return "", err
		}
		if err := mergeDelta(events, page.Value); err != nil {
			return "", err
		}

		if page.NextLink == "" {
			if page.DeltaLink == "" {
				return "", fmt.Errorf("calendar: delta response carries neither next nor delta link")
			}
			return page.DeltaLink, nil
		}
		next = c.rebase(page.NextLink)
	}
}

// mergeDelta applies partial delta entries to the event map. Removed
// entries delete; others overlay only the fields present in the entry,
// so prior state survives for fields the delta omits.
func mergeDelta(events map[string]Event, entries []json.RawMessage) error {
	for _, raw := range entries {
		var marker deltaMarker
		if err := json.Unmarshal(raw, &marker); err != nil {
			return fmt.Errorf("calendar: decode delta entry: %w", err)
		}
		if marker.ID == "" {
			continue
		}

		if marker.Removed != nil {
			delete(events, marker.ID)
			continue
		}

		merged := events[marker.ID]
		if err := json.Unmarshal(raw, &merged); err != nil {
			return fmt.Errorf("calendar: decode delta event %s: %w", marker.ID, err)
		}
		events[marker.ID] = merged
	}
	return nil
}
