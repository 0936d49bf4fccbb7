package calendar

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestViewCache_UpdateAndReopen(t *testing.T) {
	var initialCalls, refreshCalls int
	mux := http.NewServeMux()
	mux.HandleFunc("/me/calendars/cal1/calendarView/delta", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("$deltatoken") != "" {
			refreshCalls++
			fmt.Fprint(w, `{
				"@odata.deltaLink": "https://graph.microsoft.com/v1.0/me/calendars/cal1/calendarView/delta?$deltatoken=d2",
				"value": [{"id":"e1","subject":"Stream (moved)"}]
			}`)
			return
		}
		initialCalls++
		fmt.Fprint(w, `{
			"@odata.deltaLink": "https://graph.microsoft.com/v1.0/me/calendars/cal1/calendarView/delta?$deltatoken=d1",
			"value": [
				{"id":"e1","subject":"Stream","start":{"dateTime":"2024-01-01T10:00:00.0000000","timeZone":"UTC"},"type":"singleInstance"}
			]
		}`)
	})

	client, _ := newTestClient(t, mux)
	path := filepath.Join(t.TempDir(), "calendar.json")
	ctx := context.Background()

	cache, err := OpenViewCache(path, "cal1", time.Hour)
	if err != nil {
		t.Fatalf("OpenViewCache() error = %v", err)
	}

	start := time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)
	if err := cache.Update(ctx, client, start, start.Add(30*time.Minute)); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if initialCalls != 1 || refreshCalls != 0 {
		t.Fatalf("after first update: %d initial, %d refresh calls, want 1, 0", initialCalls, refreshCalls)
	}
	if len(cache.Slices) != 1 || cache.Slices[0].DeltaLink == "" {
		t.Fatalf("Slices = %+v, want one slice with a delta link", cache.Slices)
	}
	if cache.Events["e1"].Subject != "Stream" {
		t.Errorf("Events[e1] = %+v", cache.Events["e1"])
	}

	// A second process opens the saved file and refreshes the same window
	// through the stored delta link instead of refetching it.
	reopened, err := OpenViewCache(path, "cal1", time.Hour)
	if err != nil {
		t.Fatalf("OpenViewCache() reopen error = %v", err)
	}
	if err := reopened.Update(ctx, client, start, start.Add(30*time.Minute)); err != nil {
		t.Fatalf("Update() after reopen error = %v", err)
	}
	if initialCalls != 1 || refreshCalls != 1 {
		t.Fatalf("after reopen update: %d initial, %d refresh calls, want 1, 1", initialCalls, refreshCalls)
	}
	if reopened.Events["e1"].Subject != "Stream (moved)" {
		t.Errorf("Events[e1] after refresh = %+v", reopened.Events["e1"])
	}
	// The delta omitted start; the overlay must keep it.
	if reopened.Events["e1"].Start.DateTime == "" {
		t.Error("refresh dropped the event start")
	}
}

func TestViewCache_SpanningWindowFetchesEachSlice(t *testing.T) {
	var initialCalls int
	mux := http.NewServeMux()
	mux.HandleFunc("/me/calendars/cal1/calendarView/delta", func(w http.ResponseWriter, r *http.Request) {
		initialCalls++
		fmt.Fprintf(w, `{
			"@odata.deltaLink": "https://graph.microsoft.com/v1.0/me/calendars/cal1/calendarView/delta?$deltatoken=d%d",
			"value": []
		}`, initialCalls)
	})

	client, _ := newTestClient(t, mux)
	cache, err := OpenViewCache(filepath.Join(t.TempDir(), "calendar.json"), "cal1", time.Hour)
	if err != nil {
		t.Fatalf("OpenViewCache() error = %v", err)
	}

	// 09:30 to 11:30 with one-hour slices covers 09:00, 10:00 and 11:00.
	start := time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)
	if err := cache.Update(context.Background(), client, start, start.Add(2*time.Hour)); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if initialCalls != 3 {
		t.Errorf("initial fetches = %d, want 3", initialCalls)
	}
	if len(cache.Slices) != 3 {
		t.Fatalf("Slices = %d, want 3", len(cache.Slices))
	}
	for i := 1; i < len(cache.Slices); i++ {
		if !cache.Slices[i-1].Start.Before(cache.Slices[i].Start) {
			t.Errorf("slices not ordered: %v before %v", cache.Slices[i-1].Start, cache.Slices[i].Start)
		}
	}
}

func TestOpenViewCache_CalendarMismatchStartsOver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calendar.json")
	data := `{"calendar_id":"other","slice_duration":3600000000000,"slices":[{"start":"2024-01-01T00:00:00Z","end":"2024-01-01T01:00:00Z","delta_link":"x"}],"events":{"e1":{"id":"e1"}}}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cache, err := OpenViewCache(path, "cal1", time.Hour)
	if err != nil {
		t.Fatalf("OpenViewCache() error = %v", err)
	}
	if cache.CalendarID != "cal1" || len(cache.Slices) != 0 || len(cache.Events) != 0 {
		t.Errorf("cache = %+v, want empty cache for cal1", cache)
	}
}

func TestViewCache_EventListOrder(t *testing.T) {
	cache := &ViewCache{Events: map[string]Event{
		"b": {ID: "b", Start: DateTimeTimeZone{DateTime: "2024-01-01T10:00:00"}},
		"a": {ID: "a", Start: DateTimeTimeZone{DateTime: "2024-01-01T10:00:00"}},
		"c": {ID: "c", Start: DateTimeTimeZone{DateTime: "2024-01-01T09:00:00"}},
	}}

	list := cache.EventList()
	var order []string
	for _, event := range list {
		order = append(order, event.ID)
	}
	want := []string{"c", "a", "b"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("EventList() order = %v, want %v", order, want)
		}
	}
}
