package view

import (
	"time"

	"github.com/dukerupert/chorgi/internal/completion"
	"github.com/dukerupert/chorgi/internal/dates"
	"github.com/dukerupert/chorgi/internal/model"
	"github.com/dukerupert/chorgi/internal/todo"
)

// TodoView is a chore as rendered on the kiosk.
type TodoView struct {
	model.TodoItem
	Overdue    bool   `json:"overdue"`
	Label      string `json:"label"`
	Toggleable bool   `json:"toggleable"`
}

type Snapshot struct {
	ChildID      string     `json:"childId"`
	State        State      `json:"state"`
	SelectedDate time.Time  `json:"selectedDate"`
	IsToday      bool       `json:"isToday"`
	CanGoForward bool       `json:"canGoForward"`
	Personal     []TodoView `json:"personal"`
	Shared       []TodoView `json:"shared"`
}

// Snapshot renders the current lists against the wall clock. Overdue flags,
// labels and ordering are recomputed on every call.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	actor := c.child.Completer()
	return Snapshot{
		ChildID:      c.child.ID,
		State:        c.state,
		SelectedDate: c.selected,
		IsToday:      dates.SameDay(c.selected, now),
		CanGoForward: dates.BeforeDay(c.selected, now),
		Personal:     render(completion.Personal, c.personal, actor, c.selected, now),
		Shared:       render(completion.Shared, c.shared, actor, c.selected, now),
	}
}

func render(scope completion.Scope, todos []model.TodoItem, actor model.Completer, viewed, now time.Time) []TodoView {
	sorted := todo.Sort(todos, now)
	out := make([]TodoView, 0, len(sorted))
	for _, t := range sorted {
		out = append(out, TodoView{
			TodoItem:   t,
			Overdue:    todo.IsOverdue(t, now),
			Label:      todo.DueLabel(t, now),
			Toggleable: completion.CanToggle(scope, t, actor, viewed, now) == nil,
		})
	}
	return out
}
