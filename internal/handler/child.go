package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/dukerupert/chorgi/internal/completion"
	"github.com/dukerupert/chorgi/internal/identity"
	"github.com/dukerupert/chorgi/internal/model"
	"github.com/dukerupert/chorgi/internal/view"
)

const (
	msgChildNotFound  = "Child not found"
	msgReauthRequired = "Failed to refresh access token. Please try logging in again."
)

// refreshTimeout bounds how long a request waits for the calendar fetch,
// including waiting for the gateway to become ready.
const refreshTimeout = 20 * time.Second

// CalendarLister lists the calendars an account can read. *calendar.Gateway
// implements it.
type CalendarLister interface {
	ListCalendars(ctx context.Context, ts oauth2.TokenSource) []model.Calendar
}

// Notifier announces home-screen and view changes.
type Notifier interface {
	ChildRemoved(childID string)
	ViewChanged(childID string)
}

type ChildHandler struct {
	identity  *identity.Service
	sessions  *view.Sessions
	calendars CalendarLister
	notifier  Notifier
	logger    *slog.Logger
}

func NewChildHandler(svc *identity.Service, sessions *view.Sessions, calendars CalendarLister, notifier Notifier, logger *slog.Logger) *ChildHandler {
	return &ChildHandler{
		identity:  svc,
		sessions:  sessions,
		calendars: calendars,
		notifier:  notifier,
		logger:    logger.With("component", "child_handler"),
	}
}

// List is the home view.
func (h *ChildHandler) List(w http.ResponseWriter, r *http.Request) {
	children := h.identity.Store().List(r.Context())
	out := make([]model.ChildSummary, 0, len(children))
	for _, c := range children {
		out = append(out, c.Summary())
	}
	writeJSON(w, http.StatusOK, out)
}

// Enter opens the child's screen on today, refreshing the access token if
// needed, and returns the first snapshot.
func (h *ChildHandler) Enter(w http.ResponseWriter, r *http.Request) {
	child, ok := h.enter(w, r, r.PathValue("id"))
	if !ok {
		return
	}

	ctrl, _ := h.sessions.Open(r.Context(), *child)
	ctrl.Today()
	h.refreshAndRespond(w, r, ctrl)
}

// Delete removes a child. It sits behind the admin PIN middleware.
func (h *ChildHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	err := h.identity.Store().Remove(r.Context(), id)
	if errors.Is(err, identity.ErrNotFound) {
		writeError(w, http.StatusNotFound, msgChildNotFound)
		return
	}
	if err != nil {
		h.logger.Error("remove child", "child_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to remove child")
		return
	}

	h.sessions.Close(id)
	if h.notifier != nil {
		h.notifier.ChildRemoved(id)
	}
	h.logger.Info("child removed", "child_id", id)
	w.WriteHeader(http.StatusNoContent)
}

type calendarsResponse struct {
	Calendars []model.Calendar        `json:"calendars"`
	Selection model.CalendarSelection `json:"selection"`
}

func (h *ChildHandler) Calendars(w http.ResponseWriter, r *http.Request) {
	ctrl, child, ok := h.session(w, r)
	if !ok {
		return
	}

	ts := h.identity.TokenSource(r.Context(), child)
	writeJSON(w, http.StatusOK, calendarsResponse{
		Calendars: h.calendars.ListCalendars(r.Context(), ts),
		Selection: ctrl.Selection(),
	})
}

func (h *ChildHandler) SetCalendars(w http.ResponseWriter, r *http.Request) {
	var req model.CalendarSelection
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	ctrl, child, ok := h.session(w, r)
	if !ok {
		return
	}

	if err := ctrl.SetCalendars(r.Context(), req); err != nil {
		h.logger.Error("set calendars", "child_id", child.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save calendars")
		return
	}
	h.viewChanged(child.ID)
	h.refreshAndRespond(w, r, ctrl)
}

// Todos returns the current snapshot, fetching first if nothing has been
// loaded yet.
func (h *ChildHandler) Todos(w http.ResponseWriter, r *http.Request) {
	ctrl, _, ok := h.session(w, r)
	if !ok {
		return
	}
	if ctrl.State() == view.StateIdle {
		h.refreshAndRespond(w, r, ctrl)
		return
	}
	writeJSON(w, http.StatusOK, ctrl.Snapshot())
}

func (h *ChildHandler) Prev(w http.ResponseWriter, r *http.Request) {
	h.navigate(w, r, func(c *view.Controller) bool {
		c.Prev()
		return true
	})
}

func (h *ChildHandler) Next(w http.ResponseWriter, r *http.Request) {
	h.navigate(w, r, func(c *view.Controller) bool {
		_, moved := c.Next()
		return moved
	})
}

func (h *ChildHandler) Today(w http.ResponseWriter, r *http.Request) {
	h.navigate(w, r, func(c *view.Controller) bool {
		before := c.SelectedDate()
		return !c.Today().Equal(before)
	})
}

func (h *ChildHandler) navigate(w http.ResponseWriter, r *http.Request, move func(*view.Controller) bool) {
	ctrl, child, ok := h.session(w, r)
	if !ok {
		return
	}
	if !move(ctrl) {
		writeJSON(w, http.StatusOK, ctrl.Snapshot())
		return
	}
	h.viewChanged(child.ID)
	h.refreshAndRespond(w, r, ctrl)
}

// Toggle flips a chore. Guard refusals are 409 with the reason.
func (h *ChildHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	scope, err := completion.ParseScope(r.URL.Query().Get("scope"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctrl, child, ok := h.session(w, r)
	if !ok {
		return
	}

	todoID := r.PathValue("todoID")
	_, err = ctrl.Toggle(r.Context(), scope, todoID)
	switch {
	case errors.Is(err, completion.ErrNotFound):
		writeError(w, http.StatusNotFound, "Todo not found")
		return
	case errors.Is(err, completion.ErrOverdue),
		errors.Is(err, completion.ErrPastDate),
		errors.Is(err, completion.ErrNotCompleter):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		h.logger.Error("toggle", "child_id", child.ID, "todo_id", todoID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save completion")
		return
	}

	writeJSON(w, http.StatusOK, ctrl.Snapshot())
}

// Touch resets the idle countdown.
func (h *ChildHandler) Touch(w http.ResponseWriter, r *http.Request) {
	if !h.sessions.Touch(r.PathValue("id")) {
		writeError(w, http.StatusNotFound, "no open session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// enter applies the token refresh policy and writes the error response when
// the child cannot be opened.
func (h *ChildHandler) enter(w http.ResponseWriter, r *http.Request, id string) (*model.Child, bool) {
	child, err := h.identity.Enter(r.Context(), id)
	switch {
	case errors.Is(err, identity.ErrNotFound):
		writeError(w, http.StatusNotFound, msgChildNotFound)
		return nil, false
	case errors.Is(err, identity.ErrReauthRequired):
		writeError(w, http.StatusUnauthorized, msgReauthRequired)
		return nil, false
	case err != nil:
		h.logger.Error("enter", "child_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to open child")
		return nil, false
	}
	return child, true
}

// session returns the child's open controller. When none is open, for
// example after an idle expiry, the child is entered again first. Every call
// counts as activity.
func (h *ChildHandler) session(w http.ResponseWriter, r *http.Request) (*view.Controller, model.Child, bool) {
	id := r.PathValue("id")

	if _, open := h.sessions.Get(id); !open {
		child, ok := h.enter(w, r, id)
		if !ok {
			return nil, model.Child{}, false
		}
		ctrl, _ := h.sessions.Open(r.Context(), *child)
		return ctrl, *child, true
	}

	child, err := h.identity.Store().Get(r.Context(), id)
	if errors.Is(err, identity.ErrNotFound) {
		writeError(w, http.StatusNotFound, msgChildNotFound)
		return nil, model.Child{}, false
	}
	if err != nil {
		h.logger.Error("load child", "child_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load child")
		return nil, model.Child{}, false
	}

	ctrl, _ := h.sessions.Open(r.Context(), *child)
	return ctrl, *child, true
}

func (h *ChildHandler) refreshAndRespond(w http.ResponseWriter, r *http.Request, ctrl *view.Controller) {
	ctx, cancel := context.WithTimeout(r.Context(), refreshTimeout)
	defer cancel()

	if err := ctrl.Refresh(ctx); err != nil {
		h.logger.Warn("refresh todos", "error", err)
		writeError(w, http.StatusServiceUnavailable, "calendar is not available yet")
		return
	}
	writeJSON(w, http.StatusOK, ctrl.Snapshot())
}

func (h *ChildHandler) viewChanged(childID string) {
	if h.notifier != nil {
		h.notifier.ViewChanged(childID)
	}
}
