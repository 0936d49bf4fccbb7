package calendar

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestDeltaInitial_MergesPages(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/me/calendars/cal1/calendarView/delta", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("$skiptoken") {
		case "":
			fmt.Fprint(w, `{
				"@odata.nextLink": "https://graph.microsoft.com/v1.0/me/calendars/cal1/calendarView/delta?$skiptoken=p2",
				"value": [
					{"id":"e1","subject":"First","type":"singleInstance"},
					{"id":"e2","subject":"Second","type":"singleInstance"}
				]
			}`)
		case "p2":
			fmt.Fprint(w, `{
				"@odata.deltaLink": "https://graph.microsoft.com/v1.0/me/calendars/cal1/calendarView/delta?$deltatoken=d1",
				"value": [
					{"id":"e2","subject":"Second (renamed)"},
					{"id":"e3","@removed":{"reason":"deleted"}}
				]
			}`)
		default:
			t.Errorf("unexpected skiptoken %q", r.URL.Query().Get("$skiptoken"))
		}
	})

	client, _ := newTestClient(t, mux)

	events := map[string]Event{
		"e3": {ID: "e3", Subject: "Doomed"},
	}
	link, err := client.DeltaInitial(context.Background(), "cal1", time.Now(), time.Now().Add(time.Hour), events)
	if err != nil {
		t.Fatalf("DeltaInitial() error = %v", err)
	}

	if link == "" {
		t.Error("DeltaInitial() returned empty delta link")
	}
	if len(events) != 2 {
		t.Fatalf("events after delta = %d entries, want 2", len(events))
	}
	if _, ok := events["e3"]; ok {
		t.Error("removed event e3 still present")
	}
	if got := events["e2"].Subject; got != "Second (renamed)" {
		t.Errorf("e2 subject = %q, want rename applied", got)
	}
	// A partial delta entry must not wipe fields it does not carry.
	if got := events["e2"].Type; got != KindSingleInstance {
		t.Errorf("e2 type = %q, want preserved %q", got, KindSingleInstance)
	}
}

func TestDelta_UsesStoredLink(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/me/calendars/cal1/calendarView/delta", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("$deltatoken") != "d1" {
			t.Errorf("deltatoken = %q, want d1", r.URL.Query().Get("$deltatoken"))
		}
		fmt.Fprint(w, `{
			"@odata.deltaLink": "https://graph.microsoft.com/v1.0/me/calendars/cal1/calendarView/delta?$deltatoken=d2",
			"value": [{"id":"e9","subject":"Fresh"}]
		}`)
	})

	client, _ := newTestClient(t, mux)

	events := map[string]Event{}
	link, err := client.Delta(context.Background(), "https://graph.microsoft.com/v1.0/me/calendars/cal1/calendarView/delta?$deltatoken=d1", events)
	if err != nil {
		t.Fatalf("Delta() error = %v", err)
	}
	if events["e9"].Subject != "Fresh" {
		t.Errorf("events = %+v, want e9 merged", events)
	}
	if link == "" {
		t.Error("Delta() returned empty next link")
	}
}
