// Package todo turns fetched calendar events into the chore lists a child
// sees: which chores are theirs, which are visible yet, which are overdue and
// in what order they are shown.
package todo

import (
	"fmt"
	"sort"
	"time"

	"github.com/dukerupert/chorgi/internal/dates"
	"github.com/dukerupert/chorgi/internal/model"
)

// ReferenceInstant is the instant chore start times are gated against. A day
// that is already over uses its end, so all of its chores are eligible. Today
// and later use now.
func ReferenceInstant(viewed, now time.Time) time.Time {
	if dates.BeforeDay(viewed, now) {
		return dates.EndOfDay(viewed)
	}
	return now
}

// Visible reports whether t has started by ref. Todos without a start time
// are always visible.
func Visible(t model.TodoItem, ref time.Time) bool {
	return !t.HasStart() || ref.After(t.Start)
}

// Personal keeps the visible todos on which calendarID is an attendee.
func Personal(todos []model.TodoItem, calendarID string, ref time.Time) []model.TodoItem {
	out := make([]model.TodoItem, 0, len(todos))
	for _, t := range todos {
		if t.HasAttendee(calendarID) && Visible(t, ref) {
			out = append(out, t)
		}
	}
	return out
}

// Shared keeps the visible todos that have no attendees at all.
func Shared(todos []model.TodoItem, ref time.Time) []model.TodoItem {
	out := make([]model.TodoItem, 0, len(todos))
	for _, t := range todos {
		if len(t.Attendees) == 0 && Visible(t, ref) {
			out = append(out, t)
		}
	}
	return out
}

// IsOverdue reports whether t's end has passed without being completed.
// It is always evaluated against the wall clock, never the viewed date.
func IsOverdue(t model.TodoItem, now time.Time) bool {
	return !t.IsDone && !t.End.After(now)
}

// Sort orders todos into three bands: open chores in their original order,
// then completed chores with the most recent completion first, then overdue
// chores in their original order. The input is not modified.
func Sort(todos []model.TodoItem, now time.Time) []model.TodoItem {
	var open, done, overdue []model.TodoItem
	for _, t := range todos {
		switch {
		case t.IsDone:
			done = append(done, t)
		case IsOverdue(t, now):
			overdue = append(overdue, t)
		default:
			open = append(open, t)
		}
	}

	sort.SliceStable(done, func(i, j int) bool {
		return completionTime(done[i]).After(completionTime(done[j]))
	})

	out := make([]model.TodoItem, 0, len(todos))
	out = append(out, open...)
	out = append(out, done...)
	return append(out, overdue...)
}

func completionTime(t model.TodoItem) time.Time {
	if t.CompletedAt != nil {
		return *t.CompletedAt
	}
	return t.End
}

// DueLabel is the secondary line shown under a chore's title.
func DueLabel(t model.TodoItem, now time.Time) string {
	if t.IsShared && t.CompletedBy != nil {
		return fmt.Sprintf("Completed by %s", t.CompletedBy.Name)
	}
	if IsOverdue(t, now) {
		return "Chore not completed on time"
	}

	end := t.End.In(now.Location())
	if t.AllDay {
		// All-day ends are exclusive midnights; label the last covered day.
		end = end.Add(-time.Nanosecond)
	}
	today := dates.SameDay(end, now)
	if t.AllDay {
		if today {
			return "Complete by end of day"
		}
		return fmt.Sprintf("Complete by end of %s", end.Format("Jan 2"))
	}
	if today {
		return fmt.Sprintf("Complete by %s", end.Format("3:04 PM"))
	}
	return fmt.Sprintf("Complete by %s at %s", end.Format("Jan 2"), end.Format("3:04 PM"))
}
