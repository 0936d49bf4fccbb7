package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"streamcal/calendar"
	"streamcal/dispatch"
)

// CalendarWriter is the mutation surface of the calendar client.
type CalendarWriter interface {
	CreateEvent(ctx context.Context, calendarID string, draft *calendar.EventDraft) (*calendar.Event, error)
	UpdateEvent(ctx context.Context, eventID string, draft *calendar.EventDraft) (*calendar.Event, error)
	DeleteEvent(ctx context.Context, eventID string) error
}

// Apply executes a plan against the calendar. Each group is submitted to
// the dispatcher as one sequential task with a per-group retry budget, so
// a paired delete and create cannot race; independent groups run
// concurrently up to the dispatcher's limit. All groups are waited for
// and the first error in plan order is returned; completed mutations are
// not rolled back.
func (e *Engine) Apply(ctx context.Context, d *dispatch.Dispatcher, writer CalendarWriter, calendarID string, plan *Plan, retryLimit int) error {
	errs := make([]error, len(plan.Groups))

	var wg sync.WaitGroup
	for i, group := range plan.Groups {
		wg.Add(1)
		go func(i int, group Group) {
			defer wg.Done()
			errs[i] = d.Retry(ctx, retryLimit, group.Name, func(ctx context.Context) error {
				return e.applyGroup(ctx, writer, calendarID, group)
			})
		}(i, group)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) applyGroup(ctx context.Context, writer CalendarWriter, calendarID string, group Group) error {
	for _, action := range group.Actions {
		if err := e.applyAction(ctx, writer, calendarID, action); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) applyAction(ctx context.Context, writer CalendarWriter, calendarID string, action Action) error {
	switch action.Type {
	case ActionCreate:
		created, err := writer.CreateEvent(ctx, calendarID, action.Draft)
		if err != nil {
			return err
		}
		e.logger.Debug().Str("subject", action.Subject).Str("event_id", created.ID).Msg("event created")
		return nil

	case ActionUpdate:
		if _, err := writer.UpdateEvent(ctx, action.EventID, action.Draft); err != nil {
			return err
		}
		e.logger.Debug().Str("subject", action.Subject).Str("event_id", action.EventID).Msg("event updated")
		return nil

	case ActionDelete:
		err := writer.DeleteEvent(ctx, action.EventID)
		var graphErr *calendar.GraphError
		if errors.As(err, &graphErr) && graphErr.StatusCode == http.StatusNotFound {
			// A retried group can redeliver a delete for an event that is
			// already gone.
			err = nil
		}
		if err != nil {
			return err
		}
		e.logger.Debug().Str("subject", action.Subject).Str("event_id", action.EventID).Msg("event deleted")
		return nil
	}
	return fmt.Errorf("engine: unknown action type %q", action.Type)
}
