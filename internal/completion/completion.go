// Package completion persists which chores have been marked done and merges
// those records onto freshly fetched todos.
//
// Records are grouped per scope key: one mapping of todo id to record for
// each (child, day) pair of personal chores and one per day for shared
// chores. The day is always the todo's own start day, so a chore that spans
// midnight is filed under the day it started.
package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/chorgi/internal/dates"
	"github.com/dukerupert/chorgi/internal/kv"
	"github.com/dukerupert/chorgi/internal/model"
	"github.com/dukerupert/chorgi/internal/todo"
)

var (
	ErrNotFound     = errors.New("todo not found")
	ErrOverdue      = errors.New("chore is overdue")
	ErrPastDate     = errors.New("cannot change chores on a past day")
	ErrNotCompleter = errors.New("chore was completed by someone else")
)

type Scope string

const (
	Personal Scope = "personal"
	Shared   Scope = "shared"
)

// ParseScope accepts "personal" and "shared".
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case Personal, Shared:
		return Scope(s), nil
	}
	return "", fmt.Errorf("unknown scope %q", s)
}

// Key returns the storage key holding records for the given start day.
// childID is ignored for shared scope.
func Key(scope Scope, childID string, day time.Time) string {
	iso := dates.ISO(dates.StartOfDay(day))
	if scope == Shared {
		return "shared-completion-" + iso
	}
	return childID + "-personal-completion-" + iso
}

// Records maps todo id to its completion record.
type Records map[string]model.CompletionRecord

type Store struct {
	kv     kv.Store
	logger *slog.Logger

	// mu serializes read-toggle-write so two toggles on the same day do not
	// interleave their overwrites within this process.
	mu sync.Mutex
}

func NewStore(s kv.Store, logger *slog.Logger) *Store {
	return &Store{kv: s, logger: logger}
}

// Load returns the records under key. Missing or malformed entries yield an
// empty mapping.
func (s *Store) Load(ctx context.Context, key string) Records {
	recs := kv.Load[Records](ctx, s.kv, key, s.logger)
	if recs == nil {
		recs = Records{}
	}
	return recs
}

// Save overwrites the records under key.
func (s *Store) Save(ctx context.Context, key string, recs Records) error {
	if recs == nil {
		recs = Records{}
	}
	return kv.Save(ctx, s.kv, key, recs)
}

// Overlay returns a copy of todos with completion fields taken from the
// store. A record is only honored when it was completed by the end of the
// viewed day; otherwise the todo shows as not done. Overlay never writes.
func (s *Store) Overlay(ctx context.Context, scope Scope, childID string, todos []model.TodoItem, viewed time.Time) []model.TodoItem {
	cutoff := dates.EndOfDay(viewed)
	cache := make(map[string]Records)

	out := make([]model.TodoItem, len(todos))
	for i, t := range todos {
		key := Key(scope, childID, t.Start.In(viewed.Location()))
		recs, ok := cache[key]
		if !ok {
			recs = s.Load(ctx, key)
			cache[key] = recs
		}

		t.ClearCompletion()
		if rec, found := recs[t.ID]; found && rec.CompletedAt != nil && !rec.CompletedAt.After(cutoff) {
			t.IsDone = rec.IsDone
			t.CompletedAt = copyTime(rec.CompletedAt)
			t.CompletedBy = copyCompleter(rec.CompletedBy)
		}
		out[i] = t
	}
	return out
}

// ToggleRequest describes one tap on a chore.
type ToggleRequest struct {
	Scope   Scope
	ChildID string
	// Todos is the full current list for the scope, already overlaid.
	Todos  []model.TodoItem
	TodoID string
	Actor  model.Completer
	Viewed time.Time
	Now    time.Time
}

// Toggle flips the completion state of one todo and rewrites the records of
// that todo's start day. The list is re-read from the store first, so records
// written since it was fetched are kept. It returns the updated list.
// Refused toggles return one of the package errors and write nothing.
func (s *Store) Toggle(ctx context.Context, req ToggleRequest) ([]model.TodoItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	loc := req.Viewed.Location()
	updated := s.Overlay(ctx, req.Scope, req.ChildID, req.Todos, req.Viewed)

	idx := -1
	for i, t := range updated {
		if t.ID == req.TodoID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, ErrNotFound
	}

	t := &updated[idx]
	if err := CanToggle(req.Scope, *t, req.Actor, req.Viewed, req.Now); err != nil {
		return nil, err
	}
	if t.IsDone {
		t.ClearCompletion()
	} else {
		stamp := req.Now
		actor := req.Actor
		t.IsDone = true
		t.CompletedAt = &stamp
		t.CompletedBy = &actor
	}

	key := Key(req.Scope, req.ChildID, t.Start.In(loc))
	day := make([]model.TodoItem, 0, len(updated))
	for _, u := range updated {
		if Key(req.Scope, req.ChildID, u.Start.In(loc)) == key {
			day = append(day, u)
		}
	}
	if err := s.persist(ctx, req.Scope, req.ChildID, day, loc); err != nil {
		return nil, err
	}
	return updated, nil
}

// CanToggle applies the guard rules for changing a chore's state.
func CanToggle(scope Scope, t model.TodoItem, actor model.Completer, viewed, now time.Time) error {
	if todo.IsOverdue(t, now) {
		return ErrOverdue
	}
	if dates.BeforeDay(viewed, now) {
		return ErrPastDate
	}
	if scope == Shared && t.IsDone && t.CompletedBy != nil && !t.CompletedBy.SameChild(actor) {
		return ErrNotCompleter
	}
	return nil
}

// Persist groups todos by start day and overwrites each day's records with
// exactly the todos that are currently done.
func (s *Store) Persist(ctx context.Context, scope Scope, childID string, todos []model.TodoItem, loc *time.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persist(ctx, scope, childID, todos, loc)
}

func (s *Store) persist(ctx context.Context, scope Scope, childID string, todos []model.TodoItem, loc *time.Location) error {
	groups := make(map[string]Records)
	var order []string
	for _, t := range todos {
		key := Key(scope, childID, t.Start.In(loc))
		recs, ok := groups[key]
		if !ok {
			recs = Records{}
			groups[key] = recs
			order = append(order, key)
		}
		if t.IsDone {
			recs[t.ID] = model.CompletionRecord{
				IsDone:      true,
				CompletedAt: copyTime(t.CompletedAt),
				CompletedBy: copyCompleter(t.CompletedBy),
			}
		}
	}

	for _, key := range order {
		if err := s.Save(ctx, key, groups[key]); err != nil {
			return fmt.Errorf("persist completions: %w", err)
		}
	}
	return nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyCompleter(c *model.Completer) *model.Completer {
	if c == nil {
		return nil
	}
	v := *c
	return &v
}
