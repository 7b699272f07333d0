package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/chorgi/internal/completion"
	"github.com/dukerupert/chorgi/internal/handler"
	"github.com/dukerupert/chorgi/internal/identity"
	"github.com/dukerupert/chorgi/internal/kv"
	"github.com/dukerupert/chorgi/internal/middleware"
	"github.com/dukerupert/chorgi/internal/view"
	ws "github.com/dukerupert/chorgi/internal/websocket"
)

// adminAttempts is how many admin-PIN requests one address may make per
// minute.
const adminAttempts = 10

// Calendar is the calendar backend. *calendar.Gateway implements it.
type Calendar interface {
	view.Gateway
	handler.CalendarLister
}

// Provider is the identity provider. *identity.Provider implements it.
type Provider interface {
	identity.Authenticator
	handler.ConsentURLer
}

type Options struct {
	Store         kv.Store
	Provider      Provider
	Calendar      Calendar
	Location      *time.Location
	AdminPINHash  string
	IdleTimeout   time.Duration
	SecureCookies bool
	Clock         view.Clock
}

type Server struct {
	hub         *ws.Hub
	sessions    *view.Sessions
	identity    *identity.Service
	childH      *handler.ChildHandler
	authH       *handler.AuthHandler
	rateLimiter *middleware.RateLimiter
	adminPIN    string
	logger      *slog.Logger
}

func New(opts Options, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger)
	notifier := ws.HubNotifier{Hub: hub}

	identityStore := identity.NewStore(opts.Store, logger.With("component", "identity_store"))
	identitySvc := identity.NewService(identityStore, opts.Provider, logger.With("component", "identity"))

	sessions := view.NewSessions(view.Deps{
		Gateway:     opts.Calendar,
		Tokens:      identitySvc,
		Selections:  identityStore,
		Completions: completion.NewStore(opts.Store, logger.With("component", "completion")),
		Notifier:    notifier,
		Clock:       opts.Clock,
		Location:    opts.Location,
		Logger:      logger.With("component", "view"),
	}, opts.IdleTimeout)

	return &Server{
		hub:         hub,
		sessions:    sessions,
		identity:    identitySvc,
		childH:      handler.NewChildHandler(identitySvc, sessions, opts.Calendar, notifier, logger),
		authH:       handler.NewAuthHandler(opts.Provider, identitySvc, notifier, opts.SecureCookies, logger),
		rateLimiter: middleware.NewRateLimiter(),
		adminPIN:    opts.AdminPINHash,
		logger:      logger,
	}
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// Sessions returns the open child sessions, for shutdown.
func (s *Server) Sessions() *view.Sessions {
	return s.sessions
}

func (s *Server) Hub() *ws.Hub {
	return s.hub
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler)

	mux.HandleFunc("GET /auth/google/start", s.authH.Start)
	mux.HandleFunc("GET /auth/google/callback", s.authH.Callback)

	mux.HandleFunc("GET /api/children", s.childH.List)
	mux.HandleFunc("POST /api/children/{id}/enter", s.childH.Enter)
	mux.Handle("DELETE /api/children/{id}", s.adminOnly(s.childH.Delete))

	mux.HandleFunc("GET /api/children/{id}/calendars", s.childH.Calendars)
	mux.HandleFunc("PUT /api/children/{id}/calendars", s.childH.SetCalendars)

	mux.HandleFunc("GET /api/children/{id}/todos", s.childH.Todos)
	mux.HandleFunc("POST /api/children/{id}/todos/{todoID}/toggle", s.childH.Toggle)

	mux.HandleFunc("POST /api/children/{id}/date/prev", s.childH.Prev)
	mux.HandleFunc("POST /api/children/{id}/date/next", s.childH.Next)
	mux.HandleFunc("POST /api/children/{id}/date/today", s.childH.Today)

	mux.HandleFunc("POST /api/children/{id}/touch", s.childH.Touch)

	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, s.sessions, s.logger.With("component", "websocket")))

	return middleware.RequestLogger(s.logger)(mux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// adminOnly rate-limits by client address before checking the admin PIN, so
// guessing is throttled.
func (s *Server) adminOnly(h http.HandlerFunc) http.Handler {
	rl := middleware.RateLimit(s.rateLimiter, middleware.RealIP, adminAttempts, time.Minute)
	return rl(middleware.RequireAdminPIN(s.adminPIN)(h))
}
