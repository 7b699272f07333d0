package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/dukerupert/chorgi/internal/completion"
	"github.com/dukerupert/chorgi/internal/identity"
	"github.com/dukerupert/chorgi/internal/kv"
	"github.com/dukerupert/chorgi/internal/model"
	"github.com/dukerupert/chorgi/internal/view"
)

var testNow = time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC)

type fixedClock struct{}

func (fixedClock) Now() time.Time { return testNow }

type fakeAuth struct {
	cred        model.Credential
	profile     model.Profile
	exchangeErr error
	refreshErr  error
}

func (f *fakeAuth) Exchange(context.Context, string) (model.Credential, error) {
	return f.cred, f.exchangeErr
}

func (f *fakeAuth) UserInfo(context.Context, model.Credential) (model.Profile, error) {
	return f.profile, nil
}

func (f *fakeAuth) Refresh(_ context.Context, cred model.Credential) (model.Credential, error) {
	if f.refreshErr != nil {
		return model.Credential{}, f.refreshErr
	}
	cred.ExpiryDate = testNow.Add(time.Hour).UnixMilli()
	return cred, nil
}

func (f *fakeAuth) TokenSource(_ context.Context, cred model.Credential) oauth2.TokenSource {
	return oauth2.StaticTokenSource(identity.TokenFromCredential(cred))
}

type fakeCalendar struct {
	mu     sync.Mutex
	events map[string][]model.TodoItem
	calls  int
}

func (f *fakeCalendar) Ready(context.Context) error { return nil }

func (f *fakeCalendar) Events(_ context.Context, _ oauth2.TokenSource, calendarID string, _, _ time.Time) []model.TodoItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return append([]model.TodoItem{}, f.events[calendarID]...)
}

func (f *fakeCalendar) ListCalendars(context.Context, oauth2.TokenSource) []model.Calendar {
	return []model.Calendar{{ID: "family", Summary: "Family", Primary: true}, {ID: "house", Summary: "House"}}
}

func (f *fakeCalendar) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) add(s string) {
	n.mu.Lock()
	n.events = append(n.events, s)
	n.mu.Unlock()
}

func (n *recordingNotifier) ChildAdded(id string)   { n.add("added:" + id) }
func (n *recordingNotifier) ChildRemoved(id string) { n.add("removed:" + id) }
func (n *recordingNotifier) ViewChanged(id string)  { n.add("view:" + id) }
func (n *recordingNotifier) TodoToggled(childID, todoID string, _ completion.Scope, _ bool) {
	n.add("toggled:" + todoID)
}
func (n *recordingNotifier) SessionExpired(id string) { n.add("expired:" + id) }

func (n *recordingNotifier) has(s string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, e := range n.events {
		if e == s {
			return true
		}
	}
	return false
}

var ada = model.Child{
	ID:         "child-ada",
	Name:       "Ada",
	AvatarURL:  "https://img/ada",
	GoogleID:   "g-ada",
	CalendarID: "ada@example.com",
	GoogleToken: model.Credential{
		AccessToken:  "secret-access",
		RefreshToken: "secret-refresh",
		TokenType:    "Bearer",
		ExpiryDate:   testNow.Add(time.Hour).UnixMilli(),
	},
}

type fixture struct {
	mux      *http.ServeMux
	store    *identity.Store
	auth     *fakeAuth
	calendar *fakeCalendar
	notifier *recordingNotifier
	sessions *view.Sessions
}

func setup(t *testing.T) *fixture {
	t.Helper()
	logger := slog.Default()
	mem := kv.NewMemoryStore()
	store := identity.NewStore(mem, logger)
	if err := store.Upsert(context.Background(), ada); err != nil {
		t.Fatalf("seed child: %v", err)
	}
	if err := store.SetPersonalCalendars(context.Background(), ada.ID, []string{"family"}); err != nil {
		t.Fatalf("seed calendars: %v", err)
	}
	if err := store.SetSharedCalendars(context.Background(), ada.ID, []string{"house"}); err != nil {
		t.Fatalf("seed calendars: %v", err)
	}

	auth := &fakeAuth{}
	svc := identity.NewService(store, auth, logger)
	cal := &fakeCalendar{events: map[string][]model.TodoItem{
		"family": {
			{ID: "dishes", Title: "Dishes", Start: testNow.Add(-3 * time.Hour), End: testNow.Add(6 * time.Hour), Attendees: []model.Attendee{{Email: ada.CalendarID}}},
			{ID: "bed", Title: "Make bed", Start: testNow.Add(-4 * time.Hour), End: testNow.Add(-time.Hour), Attendees: []model.Attendee{{Email: ada.CalendarID}}},
		},
		"house": {
			{ID: "trash", Title: "Trash", Start: testNow.Add(-time.Hour), End: testNow.Add(8 * time.Hour), IsShared: true},
		},
	}}
	notifier := &recordingNotifier{}
	sessions := view.NewSessions(view.Deps{
		Gateway:     cal,
		Tokens:      svc,
		Selections:  store,
		Completions: completion.NewStore(mem, logger),
		Notifier:    notifier,
		Clock:       fixedClock{},
		Location:    time.UTC,
		Logger:      logger,
	}, time.Minute)
	t.Cleanup(sessions.CloseAll)

	children := NewChildHandler(svc, sessions, cal, notifier, logger)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/children", children.List)
	mux.HandleFunc("POST /api/children/{id}/enter", children.Enter)
	mux.HandleFunc("DELETE /api/children/{id}", children.Delete)
	mux.HandleFunc("GET /api/children/{id}/calendars", children.Calendars)
	mux.HandleFunc("PUT /api/children/{id}/calendars", children.SetCalendars)
	mux.HandleFunc("GET /api/children/{id}/todos", children.Todos)
	mux.HandleFunc("POST /api/children/{id}/date/prev", children.Prev)
	mux.HandleFunc("POST /api/children/{id}/date/next", children.Next)
	mux.HandleFunc("POST /api/children/{id}/date/today", children.Today)
	mux.HandleFunc("POST /api/children/{id}/todos/{todoID}/toggle", children.Toggle)
	mux.HandleFunc("POST /api/children/{id}/touch", children.Touch)

	return &fixture{mux: mux, store: store, auth: auth, calendar: cal, notifier: notifier, sessions: sessions}
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func decodeSnapshot(t *testing.T, rec *httptest.ResponseRecorder) view.Snapshot {
	t.Helper()
	var snap view.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	return snap
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body["error"]
}

func todoIDs(views []view.TodoView) []string {
	out := []string{}
	for _, v := range views {
		out = append(out, v.ID)
	}
	return out
}

func TestListChildrenOmitsTokens(t *testing.T) {
	f := setup(t)

	rec := f.do(t, "GET", "/api/children", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	body := rec.Body.String()
	if strings.Contains(body, "secret-access") || strings.Contains(body, "secret-refresh") {
		t.Errorf("home view leaks tokens: %s", body)
	}

	var got []model.ChildSummary
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].ID != ada.ID || got[0].Name != "Ada" {
		t.Errorf("children = %+v", got)
	}
}

func TestEnter(t *testing.T) {
	f := setup(t)

	rec := f.do(t, "POST", "/api/children/child-ada/enter", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	snap := decodeSnapshot(t, rec)
	if snap.State != view.StateLoaded || !snap.IsToday {
		t.Errorf("snapshot state = %q, today = %v", snap.State, snap.IsToday)
	}
	if got := todoIDs(snap.Personal); len(got) != 2 || got[0] != "dishes" || got[1] != "bed" {
		t.Errorf("personal = %v, want [dishes bed]", got)
	}
	if got := todoIDs(snap.Shared); len(got) != 1 || got[0] != "trash" {
		t.Errorf("shared = %v, want [trash]", got)
	}
	if f.sessions.Len() != 1 {
		t.Errorf("sessions = %d, want 1", f.sessions.Len())
	}
}

func TestEnterUnknownChild(t *testing.T) {
	f := setup(t)

	rec := f.do(t, "POST", "/api/children/nobody/enter", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if got := errorMessage(t, rec); got != "Child not found" {
		t.Errorf("error = %q, want %q", got, "Child not found")
	}
}

func TestEnterRefreshFailureKeepsChild(t *testing.T) {
	f := setup(t)
	expired := ada
	expired.GoogleToken.ExpiryDate = testNow.Add(-time.Hour).UnixMilli()
	if err := f.store.Upsert(context.Background(), expired); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	f.auth.refreshErr = errors.New("invalid_grant")

	rec := f.do(t, "POST", "/api/children/child-ada/enter", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if got, want := errorMessage(t, rec), "Failed to refresh access token. Please try logging in again."; got != want {
		t.Errorf("error = %q, want %q", got, want)
	}
	if _, err := f.store.Get(context.Background(), ada.ID); err != nil {
		t.Errorf("child should be kept after refresh failure: %v", err)
	}
	if f.sessions.Len() != 0 {
		t.Error("no session should be opened on refresh failure")
	}
}

func TestTodosWithoutSessionAppliesRefreshPolicy(t *testing.T) {
	f := setup(t)
	expired := ada
	expired.GoogleToken.ExpiryDate = testNow.Add(-time.Hour).UnixMilli()
	if err := f.store.Upsert(context.Background(), expired); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	f.auth.refreshErr = errors.New("invalid_grant")

	for _, target := range []string{"/api/children/child-ada/todos", "/api/children/child-ada/calendars"} {
		rec := f.do(t, "GET", target, "")
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("GET %s status = %d, want %d", target, rec.Code, http.StatusUnauthorized)
		}
		if got, want := errorMessage(t, rec), "Failed to refresh access token. Please try logging in again."; got != want {
			t.Errorf("GET %s error = %q, want %q", target, got, want)
		}
	}
	if f.sessions.Len() != 0 {
		t.Error("no session should be opened on refresh failure")
	}
	if n := f.calendar.callCount(); n != 0 {
		t.Errorf("calendar calls = %d, want 0", n)
	}
}

func TestTodosUnknownChild(t *testing.T) {
	f := setup(t)

	rec := f.do(t, "GET", "/api/children/nobody/todos", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if got := errorMessage(t, rec); got != "Child not found" {
		t.Errorf("error = %q, want %q", got, "Child not found")
	}
}

func TestTodosFetchesOnce(t *testing.T) {
	f := setup(t)

	f.do(t, "GET", "/api/children/child-ada/todos", "")
	calls := f.calendar.callCount()
	if calls != 2 {
		t.Fatalf("calendar calls after first load = %d, want 2", calls)
	}

	rec := f.do(t, "GET", "/api/children/child-ada/todos", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := f.calendar.callCount(); got != calls {
		t.Errorf("calendar calls = %d, want %d", got, calls)
	}
}

func TestToggle(t *testing.T) {
	f := setup(t)
	f.do(t, "POST", "/api/children/child-ada/enter", "")

	rec := f.do(t, "POST", "/api/children/child-ada/todos/dishes/toggle?scope=personal", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	snap := decodeSnapshot(t, rec)
	if len(snap.Personal) == 0 || snap.Personal[0].ID != "dishes" || !snap.Personal[0].IsDone {
		t.Errorf("personal = %+v", snap.Personal)
	}
	if !f.notifier.has("toggled:dishes") {
		t.Error("toggle was not broadcast")
	}

	rec = f.do(t, "POST", "/api/children/child-ada/todos/dishes/toggle?scope=personal", "")
	snap = decodeSnapshot(t, rec)
	if snap.Personal[0].IsDone {
		t.Error("second toggle should clear completion")
	}
}

func TestToggleErrors(t *testing.T) {
	f := setup(t)
	f.do(t, "POST", "/api/children/child-ada/enter", "")

	tests := []struct {
		name   string
		target string
		want   int
	}{
		{"overdue", "/api/children/child-ada/todos/bed/toggle?scope=personal", http.StatusConflict},
		{"unknown todo", "/api/children/child-ada/todos/nope/toggle?scope=personal", http.StatusNotFound},
		{"bad scope", "/api/children/child-ada/todos/dishes/toggle?scope=family", http.StatusBadRequest},
		{"wrong scope list", "/api/children/child-ada/todos/dishes/toggle?scope=shared", http.StatusNotFound},
		{"unknown child", "/api/children/nobody/todos/dishes/toggle?scope=personal", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, "POST", tt.target, "")
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestToggleOverdueReason(t *testing.T) {
	f := setup(t)
	f.do(t, "POST", "/api/children/child-ada/enter", "")

	rec := f.do(t, "POST", "/api/children/child-ada/todos/bed/toggle?scope=personal", "")
	if got, want := errorMessage(t, rec), completion.ErrOverdue.Error(); got != want {
		t.Errorf("error = %q, want %q", got, want)
	}
}

func TestNavigation(t *testing.T) {
	f := setup(t)
	f.do(t, "POST", "/api/children/child-ada/enter", "")
	calls := f.calendar.callCount()

	rec := f.do(t, "POST", "/api/children/child-ada/date/next", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("next status = %d", rec.Code)
	}
	if f.calendar.callCount() != calls {
		t.Error("next on today should not refetch")
	}

	rec = f.do(t, "POST", "/api/children/child-ada/date/prev", "")
	snap := decodeSnapshot(t, rec)
	if snap.IsToday || !snap.CanGoForward {
		t.Errorf("after prev: today = %v, canGoForward = %v", snap.IsToday, snap.CanGoForward)
	}
	if f.calendar.callCount() == calls {
		t.Error("prev should refetch")
	}
	if !f.notifier.has("view:child-ada") {
		t.Error("date change was not broadcast")
	}

	rec = f.do(t, "POST", "/api/children/child-ada/date/today", "")
	snap = decodeSnapshot(t, rec)
	if !snap.IsToday {
		t.Error("today should return to the current day")
	}
}

func TestCalendars(t *testing.T) {
	f := setup(t)

	rec := f.do(t, "GET", "/api/children/child-ada/calendars", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var got calendarsResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Calendars) != 2 {
		t.Errorf("calendars = %d, want 2", len(got.Calendars))
	}
	if len(got.Selection.Personal) != 1 || got.Selection.Personal[0] != "family" {
		t.Errorf("selection = %+v", got.Selection)
	}
}

func TestSetCalendars(t *testing.T) {
	f := setup(t)

	rec := f.do(t, "PUT", "/api/children/child-ada/calendars", `{"personal":[],"shared":["house"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	snap := decodeSnapshot(t, rec)
	if len(snap.Personal) != 0 || len(snap.Shared) != 1 {
		t.Errorf("personal = %d, shared = %d, want 0 and 1", len(snap.Personal), len(snap.Shared))
	}

	sel := f.store.Selection(context.Background(), ada.ID)
	if len(sel.Personal) != 0 || len(sel.Shared) != 1 {
		t.Errorf("stored selection = %+v", sel)
	}

	rec = f.do(t, "PUT", "/api/children/child-ada/calendars", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad JSON status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestTouch(t *testing.T) {
	f := setup(t)

	if rec := f.do(t, "POST", "/api/children/child-ada/touch", ""); rec.Code != http.StatusNotFound {
		t.Errorf("touch without session = %d, want %d", rec.Code, http.StatusNotFound)
	}
	f.do(t, "POST", "/api/children/child-ada/enter", "")
	if rec := f.do(t, "POST", "/api/children/child-ada/touch", ""); rec.Code != http.StatusNoContent {
		t.Errorf("touch = %d, want %d", rec.Code, http.StatusNoContent)
	}
}

func TestDelete(t *testing.T) {
	f := setup(t)
	f.do(t, "POST", "/api/children/child-ada/enter", "")

	rec := f.do(t, "DELETE", "/api/children/child-ada", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if got := f.store.List(context.Background()); len(got) != 0 {
		t.Errorf("children = %d, want 0", len(got))
	}
	if f.sessions.Len() != 0 {
		t.Error("session should be closed")
	}
	if !f.notifier.has("removed:child-ada") {
		t.Error("removal was not broadcast")
	}

	rec = f.do(t, "DELETE", "/api/children/child-ada", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

type staticConsent struct{}

func (staticConsent) AuthCodeURL(state string) string {
	return "https://accounts.example.com/o/oauth2/auth?state=" + url.QueryEscape(state)
}

func setupAuth(t *testing.T) (*AuthHandler, *fakeAuth, *identity.Store, *recordingNotifier) {
	t.Helper()
	store := identity.NewStore(kv.NewMemoryStore(), slog.Default())
	auth := &fakeAuth{
		cred:    model.Credential{AccessToken: "a", RefreshToken: "r", TokenType: "Bearer"},
		profile: model.Profile{Subject: "g-bob", Name: "Bob", Email: "bob@example.com"},
	}
	notifier := &recordingNotifier{}
	h := NewAuthHandler(staticConsent{}, identity.NewService(store, auth, slog.Default()), notifier, false, slog.Default())
	return h, auth, store, notifier
}

func startSignIn(t *testing.T, h *AuthHandler) (*http.Cookie, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Start(rec, httptest.NewRequest("GET", "/auth/google/start", nil))

	if rec.Code != http.StatusFound {
		t.Fatalf("start status = %d, want %d", rec.Code, http.StatusFound)
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse location: %v", err)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != stateCookieName {
		t.Fatalf("cookies = %+v", cookies)
	}
	if !cookies[0].HttpOnly {
		t.Error("state cookie should be HttpOnly")
	}
	return cookies[0], loc.Query().Get("state")
}

func callback(h *AuthHandler, cookie *http.Cookie, query string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", "/auth/google/callback?"+query, nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	h.Callback(rec, req)
	return rec
}

func TestSignIn(t *testing.T) {
	h, _, store, notifier := setupAuth(t)
	cookie, state := startSignIn(t, h)
	if state == "" || state != cookie.Value {
		t.Fatalf("state = %q, cookie = %q", state, cookie.Value)
	}

	rec := callback(h, cookie, "state="+state+"&code=abc")
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusCreated, rec.Body.String())
	}
	var got model.ChildSummary
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Name != "Bob" || got.CalendarID != "bob@example.com" {
		t.Errorf("child = %+v", got)
	}
	if children := store.List(context.Background()); len(children) != 1 {
		t.Errorf("children = %d, want 1", len(children))
	}
	if !notifier.has("added:" + got.ID) {
		t.Error("sign-in was not broadcast")
	}
}

func TestSignInFailures(t *testing.T) {
	tests := []struct {
		name    string
		query   func(state string) string
		noState bool
		setup   func(a *fakeAuth)
		wantErr string
	}{
		{
			name:    "provider error",
			query:   func(string) string { return "error=access_denied" },
			wantErr: msgSignInFailed,
		},
		{
			name:    "state mismatch",
			query:   func(string) string { return "state=forged&code=abc" },
			wantErr: "invalid sign-in state",
		},
		{
			name:    "missing cookie",
			query:   func(s string) string { return "state=" + s + "&code=abc" },
			noState: true,
			wantErr: "invalid sign-in state",
		},
		{
			name:    "missing code",
			query:   func(s string) string { return "state=" + s },
			wantErr: "missing authorization code",
		},
		{
			name:    "exchange failure",
			query:   func(s string) string { return "state=" + s + "&code=abc" },
			setup:   func(a *fakeAuth) { a.exchangeErr = errors.New("invalid_grant") },
			wantErr: msgSignInFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, auth, store, _ := setupAuth(t)
			if tt.setup != nil {
				tt.setup(auth)
			}
			cookie, state := startSignIn(t, h)
			if tt.noState {
				cookie = nil
			}

			rec := callback(h, cookie, tt.query(state))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
			if got := errorMessage(t, rec); got != tt.wantErr {
				t.Errorf("error = %q, want %q", got, tt.wantErr)
			}
			if children := store.List(context.Background()); len(children) != 0 {
				t.Errorf("children = %d, want 0", len(children))
			}
		})
	}
}
