// Package view holds the per-child kiosk screen state: which day is shown,
// the fetched chore lists, and the rules for refetching, sorting and
// navigating between days.
package view

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/chorgi/internal/completion"
	"github.com/dukerupert/chorgi/internal/dates"
	"github.com/dukerupert/chorgi/internal/model"
	"github.com/dukerupert/chorgi/internal/todo"
)

type State string

const (
	StateIdle         State = "idle"
	StateLoadingTodos State = "loadingTodos"
	StateLoaded       State = "loaded"
)

// Gateway is the calendar collaborator. *calendar.Gateway implements it.
type Gateway interface {
	Ready(ctx context.Context) error
	Events(ctx context.Context, ts oauth2.TokenSource, calendarID string, start, end time.Time) []model.TodoItem
}

// TokenSourcer hands out a child's OAuth token source.
type TokenSourcer interface {
	TokenSource(ctx context.Context, child model.Child) oauth2.TokenSource
}

// SelectionStore persists which calendars a child reads chores from.
type SelectionStore interface {
	Selection(ctx context.Context, childID string) model.CalendarSelection
	SetPersonalCalendars(ctx context.Context, childID string, ids []string) error
	SetSharedCalendars(ctx context.Context, childID string, ids []string) error
}

// Notifier is told about changes other kiosk screens care about.
type Notifier interface {
	TodoToggled(childID, todoID string, scope completion.Scope, done bool)
	SessionExpired(childID string)
}

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock reads the wall clock.
var SystemClock Clock = systemClock{}

type Deps struct {
	Gateway     Gateway
	Tokens      TokenSourcer
	Selections  SelectionStore
	Completions *completion.Store
	Notifier    Notifier
	Clock       Clock
	Location    *time.Location
	Logger      *slog.Logger
}

// Controller is one child's screen. All methods are safe for concurrent use;
// fetches run without holding the lock and results from superseded fetches
// are dropped.
type Controller struct {
	deps Deps

	mu        sync.Mutex
	child     model.Child
	selected  time.Time
	selection model.CalendarSelection
	personal  []model.TodoItem
	shared    []model.TodoItem
	state     State
	token     uint64
}

// NewController creates a controller showing today. It loads the child's
// calendar selection but does not fetch; call Refresh.
func NewController(ctx context.Context, child model.Child, deps Deps) *Controller {
	if deps.Clock == nil {
		deps.Clock = SystemClock
	}
	if deps.Location == nil {
		deps.Location = time.Local
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Controller{
		deps:      deps,
		child:     child,
		selected:  deps.Clock.Now().In(deps.Location),
		selection: deps.Selections.Selection(ctx, child.ID),
		personal:  []model.TodoItem{},
		shared:    []model.TodoItem{},
		state:     StateIdle,
	}
}

func (c *Controller) now() time.Time {
	return c.deps.Clock.Now().In(c.deps.Location)
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) SelectedDate() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

func (c *Controller) Selection() model.CalendarSelection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return model.CalendarSelection{
		Personal: append([]string{}, c.selection.Personal...),
		Shared:   append([]string{}, c.selection.Shared...),
	}
}

// SetChild replaces the child record, e.g. after a token refresh.
func (c *Controller) SetChild(child model.Child) {
	c.mu.Lock()
	c.child = child
	c.mu.Unlock()
}

// Refresh refetches both chore lists for the selected date. It waits for the
// gateway to be ready first. If another Refresh starts before this one
// finishes, this one's results are discarded.
func (c *Controller) Refresh(ctx context.Context) error {
	if err := c.deps.Gateway.Ready(ctx); err != nil {
		return fmt.Errorf("calendar not ready: %w", err)
	}

	c.mu.Lock()
	c.token++
	token := c.token
	c.state = StateLoadingTodos
	child := c.child
	selected := c.selected
	personalIDs := append([]string{}, c.selection.Personal...)
	sharedIDs := append([]string{}, c.selection.Shared...)
	c.mu.Unlock()

	ref := todo.ReferenceInstant(selected, c.now())
	ts := c.deps.Tokens.TokenSource(ctx, child)

	var personal, shared []model.TodoItem
	var g errgroup.Group
	g.Go(func() error {
		personal = todo.Personal(c.fetch(ctx, ts, personalIDs, selected), child.CalendarID, ref)
		return nil
	})
	g.Go(func() error {
		shared = todo.Shared(c.fetch(ctx, ts, sharedIDs, selected), ref)
		return nil
	})
	g.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	if token != c.token {
		c.deps.Logger.Debug("discarding stale fetch", "child_id", child.ID, "token", token, "current", c.token)
		return nil
	}
	// Completions are read while holding mu so a Toggle that ran during the
	// fetch is reflected.
	c.personal = c.deps.Completions.Overlay(ctx, completion.Personal, child.ID, personal, selected)
	c.shared = c.deps.Completions.Overlay(ctx, completion.Shared, child.ID, shared, selected)
	c.state = StateLoaded
	return nil
}

// fetch fans out over calendarIDs and concatenates the results in selection
// order. An empty selection makes no calls.
func (c *Controller) fetch(ctx context.Context, ts oauth2.TokenSource, calendarIDs []string, day time.Time) []model.TodoItem {
	if len(calendarIDs) == 0 {
		return []model.TodoItem{}
	}

	results := make([][]model.TodoItem, len(calendarIDs))
	var g errgroup.Group
	for i, id := range calendarIDs {
		g.Go(func() error {
			results[i] = c.deps.Gateway.Events(ctx, ts, id, day, day)
			return nil
		})
	}
	g.Wait()

	out := []model.TodoItem{}
	for _, r := range results {
		out = append(out, r...)
	}
	return out
}

// SetCalendars persists a new calendar selection. The caller refetches.
func (c *Controller) SetCalendars(ctx context.Context, sel model.CalendarSelection) error {
	c.mu.Lock()
	childID := c.child.ID
	c.mu.Unlock()

	if sel.Personal == nil {
		sel.Personal = []string{}
	}
	if sel.Shared == nil {
		sel.Shared = []string{}
	}
	if err := c.deps.Selections.SetPersonalCalendars(ctx, childID, sel.Personal); err != nil {
		return fmt.Errorf("save personal calendars: %w", err)
	}
	if err := c.deps.Selections.SetSharedCalendars(ctx, childID, sel.Shared); err != nil {
		return fmt.Errorf("save shared calendars: %w", err)
	}

	c.mu.Lock()
	c.selection = sel
	c.mu.Unlock()
	return nil
}

// Prev moves one day back. It is always allowed.
func (c *Controller) Prev() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selected = dates.AddDays(c.selected, -1)
	return c.selected
}

// Next moves one day forward, but only while a past day is shown, and never
// beyond today. It reports whether the date changed.
func (c *Controller) Next() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if !dates.BeforeDay(c.selected, now) {
		return c.selected, false
	}
	next := dates.AddDays(c.selected, 1)
	if dates.BeforeDay(now, next) {
		next = now
	}
	c.selected = next
	return c.selected, true
}

// Today jumps back to the current day.
func (c *Controller) Today() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selected = c.now()
	return c.selected
}

// CanGoForward reports whether Next would change the date.
func (c *Controller) CanGoForward() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return dates.BeforeDay(c.selected, c.now())
}

// Toggle flips one chore in the given scope for the controller's child.
func (c *Controller) Toggle(ctx context.Context, scope completion.Scope, todoID string) (model.TodoItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	list := c.personal
	if scope == completion.Shared {
		list = c.shared
	}

	updated, err := c.deps.Completions.Toggle(ctx, completion.ToggleRequest{
		Scope:   scope,
		ChildID: c.child.ID,
		Todos:   list,
		TodoID:  todoID,
		Actor:   c.child.Completer(),
		Viewed:  c.selected,
		Now:     c.now(),
	})
	if err != nil {
		return model.TodoItem{}, err
	}

	if scope == completion.Shared {
		c.shared = updated
	} else {
		c.personal = updated
	}

	var toggled model.TodoItem
	for _, t := range updated {
		if t.ID == todoID {
			toggled = t
			break
		}
	}
	if c.deps.Notifier != nil {
		c.deps.Notifier.TodoToggled(c.child.ID, todoID, scope, toggled.IsDone)
	}
	return toggled, nil
}
