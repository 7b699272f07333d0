// Package calendar reads chores from Google Calendar.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/dukerupert/chorgi/internal/dates"
	"github.com/dukerupert/chorgi/internal/model"
)

const eventFields = "nextPageToken,items(id,summary,start,end,attendees,colorId)"

var errNotInitialized = errors.New("calendar gateway not initialized")

// Reporter receives fetch failures. They never reach the caller.
type Reporter interface {
	Report(ctx context.Context, err error, attrs ...any)
}

// LogReporter reports through a structured logger.
type LogReporter struct {
	Logger *slog.Logger
}

func (r LogReporter) Report(ctx context.Context, err error, attrs ...any) {
	r.Logger.ErrorContext(ctx, "calendar fetch failed", append(attrs, "error", err)...)
}

type Config struct {
	// Endpoint overrides the Calendar API base URL. Used in tests.
	Endpoint string
	Timeout  time.Duration
	// Location is the kiosk's time zone; day windows are computed in it.
	Location *time.Location
}

// Gateway is constructed once per process. Init must complete before any
// fetch; Ready lets callers wait for it instead of guessing.
type Gateway struct {
	cfg      Config
	reporter Reporter

	once      sync.Once
	ready     chan struct{}
	initErr   error
	transport http.RoundTripper
}

func NewGateway(cfg Config, reporter Reporter) *Gateway {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Gateway{
		cfg:      cfg,
		reporter: reporter,
		ready:    make(chan struct{}),
	}
}

// Init prepares the shared HTTP transport and signals readiness. Calling it
// more than once is a no-op.
func (g *Gateway) Init(ctx context.Context) error {
	g.once.Do(func() {
		defer close(g.ready)
		if err := ctx.Err(); err != nil {
			g.initErr = fmt.Errorf("init calendar gateway: %w", err)
			return
		}
		base, ok := http.DefaultTransport.(*http.Transport)
		if !ok {
			g.initErr = fmt.Errorf("init calendar gateway: unexpected default transport %T", http.DefaultTransport)
			return
		}
		t := base.Clone()
		t.MaxIdleConnsPerHost = 8
		g.transport = t
	})
	return g.initErr
}

// Ready blocks until Init has finished and returns its error.
func (g *Gateway) Ready(ctx context.Context) error {
	select {
	case <-g.ready:
		return g.initErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Location is the time zone day windows are computed in.
func (g *Gateway) Location() *time.Location {
	return g.cfg.Location
}

func (g *Gateway) service(ctx context.Context, ts oauth2.TokenSource) (*gcal.Service, error) {
	select {
	case <-g.ready:
	default:
		return nil, errNotInitialized
	}
	if g.initErr != nil {
		return nil, g.initErr
	}

	client := &http.Client{
		Transport: &oauth2.Transport{Source: ts, Base: g.transport},
		Timeout:   g.cfg.Timeout,
	}
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if g.cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(g.cfg.Endpoint))
	}
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("calendar service: %w", err)
	}
	return svc, nil
}

// ListCalendars returns the calendars visible to the token's owner. Errors
// are reported and yield an empty list.
func (g *Gateway) ListCalendars(ctx context.Context, ts oauth2.TokenSource) []model.Calendar {
	svc, err := g.service(ctx, ts)
	if err != nil {
		g.reporter.Report(ctx, err, "op", "list_calendars")
		return []model.Calendar{}
	}

	calendars := []model.Calendar{}
	err = svc.CalendarList.List().Fields("nextPageToken,items(id,summary,primary)").Pages(ctx, func(page *gcal.CalendarList) error {
		for _, entry := range page.Items {
			calendars = append(calendars, model.Calendar{
				ID:      entry.Id,
				Summary: entry.Summary,
				Primary: entry.Primary,
			})
		}
		return nil
	})
	if err != nil {
		g.reporter.Report(ctx, fmt.Errorf("list calendars: %w", err), "op", "list_calendars")
		return []model.Calendar{}
	}
	return calendars
}

// Events returns the chores of calendarID that touch the days from start to
// end. The API is queried from the start of the first day to the end of the
// last and the result is filtered here again, so events that span the whole
// window are kept. Errors are reported and yield an empty list.
func (g *Gateway) Events(ctx context.Context, ts oauth2.TokenSource, calendarID string, start, end time.Time) []model.TodoItem {
	loc := g.cfg.Location
	timeMin := dates.StartOfDay(start.In(loc))
	timeMax := dates.EndOfDay(end.In(loc))

	svc, err := g.service(ctx, ts)
	if err != nil {
		g.reporter.Report(ctx, err, "op", "list_events", "calendar_id", calendarID)
		return []model.TodoItem{}
	}

	todos := []model.TodoItem{}
	call := svc.Events.List(calendarID).
		TimeMin(timeMin.Format(time.RFC3339)).
		TimeMax(timeMax.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		Fields(eventFields)
	err = call.Pages(ctx, func(page *gcal.Events) error {
		for _, ev := range page.Items {
			t := toTodo(ev, loc)
			if InWindow(t, timeMin, timeMax) {
				todos = append(todos, t)
			}
		}
		return nil
	})
	if err != nil {
		g.reporter.Report(ctx, fmt.Errorf("list events: %w", err), "op", "list_events", "calendar_id", calendarID)
		return []model.TodoItem{}
	}
	return todos
}

// InWindow reports whether t starts within the window, ends within it, or
// covers it entirely. Events with neither start nor end are kept.
func InWindow(t model.TodoItem, windowStart, windowEnd time.Time) bool {
	if t.Start.IsZero() && t.End.IsZero() {
		return true
	}
	startsWithin := !t.Start.IsZero() && !t.Start.Before(windowStart) && !t.Start.After(windowEnd)
	endsWithin := !t.End.IsZero() && t.End.After(windowStart) && !t.End.After(windowEnd)
	spans := !t.Start.IsZero() && !t.End.IsZero() && t.Start.Before(windowStart) && t.End.After(windowEnd)
	return startsWithin || endsWithin || spans
}
