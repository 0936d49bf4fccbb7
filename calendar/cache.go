package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"streamcal/internal/atomicfile"
)

// DefaultSliceDuration is the window covered by one delta slice.
const DefaultSliceDuration = 30 * 24 * time.Hour

// ViewSlice is one delta-tracked window of the calendar.
type ViewSlice struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	DeltaLink string    `json:"delta_link"`
}

// ViewCache is a persisted incremental view of one calendar. The first
// fetch of a window records a delta link per fixed-size slice; later runs
// refresh each slice with only the changes since that link.
type ViewCache struct {
	CalendarID    string           `json:"calendar_id"`
	SliceDuration time.Duration    `json:"slice_duration"`
	Slices        []ViewSlice      `json:"slices"`
	Events        map[string]Event `json:"events"`

	path string
}

// OpenViewCache loads the cache file at path, or starts an empty cache for
// calendarID when the file does not exist yet.
func OpenViewCache(path, calendarID string, sliceDuration time.Duration) (*ViewCache, error) {
	if sliceDuration <= 0 {
		sliceDuration = DefaultSliceDuration
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &ViewCache{
			CalendarID:    calendarID,
			SliceDuration: sliceDuration,
			Events:        make(map[string]Event),
			path:          path,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("calendar: open view cache: %w", err)
	}

	cache := &ViewCache{path: path}
	if err := json.Unmarshal(data, cache); err != nil {
		return nil, fmt.Errorf("calendar: parse view cache %s: %w", path, err)
	}
	if cache.Events == nil {
		cache.Events = make(map[string]Event)
	}
	if cache.CalendarID != calendarID {
		// The cached slices belong to another calendar; start over.
		return &ViewCache{
			CalendarID:    calendarID,
			SliceDuration: sliceDuration,
			Events:        make(map[string]Event),
			path:          path,
		}, nil
	}
	return cache, nil
}

// Update brings the cache up to date for the given window: missing slices
// are fetched in full through delta-initial, known slices are refreshed
// through their stored delta links. The cache file is rewritten on success.
func (vc *ViewCache) Update(ctx context.Context, client *Client, start, end time.Time) error {
	alignedStart := start.Truncate(vc.SliceDuration)
	alignedEnd := end.Truncate(vc.SliceDuration)
	if alignedEnd.Before(end) {
		alignedEnd = alignedEnd.Add(vc.SliceDuration)
	}

	for cursor := alignedStart; cursor.Before(alignedEnd); cursor = cursor.Add(vc.SliceDuration) {
		if i := vc.sliceIndex(cursor); i >= 0 {
			link, err := client.Delta(ctx, vc.Slices[i].DeltaLink, vc.Events)
			if err != nil {
				return fmt.Errorf("refresh slice %s: %w", cursor.Format(time.RFC3339), err)
			}
			vc.Slices[i].DeltaLink = link
			continue
		}

		sliceEnd := cursor.Add(vc.SliceDuration)
		link, err := client.DeltaInitial(ctx, vc.CalendarID, cursor, sliceEnd, vc.Events)
		if err != nil {
			return fmt.Errorf("fetch slice %s: %w", cursor.Format(time.RFC3339), err)
		}
		vc.Slices = append(vc.Slices, ViewSlice{Start: cursor, End: sliceEnd, DeltaLink: link})
	}

	sort.Slice(vc.Slices, func(i, j int) bool {
		return vc.Slices[i].Start.Before(vc.Slices[j].Start)
	})

	return vc.save()
}

// EventList returns the cached events ordered by start time, then id.
func (vc *ViewCache) EventList() []Event {
	out := make([]Event, 0, len(vc.Events))
	for _, event := range vc.Events {
		out = append(out, event)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.DateTime == out[j].Start.DateTime {
			return out[i].ID < out[j].ID
		}
		return out[i].Start.DateTime < out[j].Start.DateTime
	})
	return out
}

func (vc *ViewCache) sliceIndex(start time.Time) int {
	for i, s := range vc.Slices {
		if s.Start.Equal(start) {
			return i
		}
	}
	return -1
}

// save writes the cache atomically.
func (vc *ViewCache) save() error {
	data, err := json.MarshalIndent(vc, "", "  ")
	if err != nil {
		return fmt.Errorf("calendar: encode view cache: %w", err)
	}
	if err := atomicfile.WriteFile(vc.path, data, 0o644); err != nil {
		return fmt.Errorf("calendar: save view cache: %w", err)
	}
	return nil
}
