// Package report renders a calendar view window into a CSV digest with
// one row per event: start time, channel name, title, and watch URL.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"streamcal/calendar"
	"streamcal/eventbody"
)

// Row is one line of the digest.
type Row struct {
	Time  string
	Name  string
	Title string
	URL   string
}

// Reporter formats calendar events into digest rows.
type Reporter struct {
	logger zerolog.Logger
}

// New creates a reporter.
func New(logger zerolog.Logger) *Reporter {
	return &Reporter{logger: logger}
}

// Rows converts events into digest rows, in the order given. The subject
// splits into channel name and title on the first " - "; the URL is the
// first YouTube reference in the structured body. Events with a malformed
// body keep their row, with the URL left empty.
func (r *Reporter) Rows(events []calendar.Event) []Row {
	rows := make([]Row, 0, len(events))
	for _, event := range events {
		name, title, _ := strings.Cut(event.Subject, " - ")

		var url string
		body, err := eventbody.Parse(event.BodyText())
		if err != nil {
			r.logger.Warn().Str("event_id", event.ID).Str("subject", event.Subject).Err(err).
				Msg("event body is malformed, leaving URL empty")
		} else {
			url = firstYouTubeRef(body)
		}

		rows = append(rows, Row{
			Time:  event.Start.DateTime,
			Name:  strings.TrimSpace(name),
			Title: strings.TrimSpace(title),
			URL:   url,
		})
	}
	return rows
}

// WriteCSV writes the digest for events to w.
func (r *Reporter) WriteCSV(w io.Writer, events []calendar.Event) error {
	cw := csv.NewWriter(w)
	cw.UseCRLF = true

	for _, row := range r.Rows(events) {
		if err := cw.Write([]string{row.Time, row.Name, row.Title, row.URL}); err != nil {
			return fmt.Errorf("report: write row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("report: flush: %w", err)
	}
	return nil
}

// firstYouTubeRef returns the first reference pointing at YouTube, which
// is broader than the canonical watch URL form so that hand-added links
// to live pages or shorts still surface.
func firstYouTubeRef(body eventbody.Document) string {
	for _, ref := range body.References() {
		if strings.Contains(ref, "youtube.com") {
			return ref
		}
	}
	return ""
}
