package handler

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/chorgi/internal/identity"
)

const (
	stateCookieName = "chorgi_oauth_state"
	stateMaxAge     = 10 * 60

	msgSignInFailed = "Failed to connect Google account. Please try again."
)

// ConsentURLer builds the provider's consent URL. *identity.Provider
// implements it.
type ConsentURLer interface {
	AuthCodeURL(state string) string
}

// ChildAnnouncer is told when a sign-in adds or updates a child.
type ChildAnnouncer interface {
	ChildAdded(childID string)
}

type AuthHandler struct {
	consent  ConsentURLer
	identity *identity.Service
	notifier ChildAnnouncer
	secure   bool
	logger   *slog.Logger
}

// NewAuthHandler creates the sign-in handler. secure marks the state cookie
// Secure; set it when the kiosk is served over HTTPS.
func NewAuthHandler(consent ConsentURLer, svc *identity.Service, notifier ChildAnnouncer, secure bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		consent:  consent,
		identity: svc,
		notifier: notifier,
		secure:   secure,
		logger:   logger.With("component", "auth_handler"),
	}
}

// Start redirects to the consent screen with a fresh state value.
func (h *AuthHandler) Start(w http.ResponseWriter, r *http.Request) {
	state, err := newState()
	if err != nil {
		h.logger.Error("generate oauth state", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to start sign-in")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/auth/google",
		MaxAge:   stateMaxAge,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.consent.AuthCodeURL(state), http.StatusFound)
}

// Callback finishes sign-in. Every failure is reported inline and creates
// nothing.
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	h.clearState(w)
	q := r.URL.Query()

	if reason := q.Get("error"); reason != "" {
		h.logger.Warn("sign-in declined", "reason", reason)
		writeError(w, http.StatusBadRequest, msgSignInFailed)
		return
	}

	cookie, err := r.Cookie(stateCookieName)
	if err != nil || cookie.Value == "" || subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(q.Get("state"))) != 1 {
		writeError(w, http.StatusBadRequest, "invalid sign-in state")
		return
	}

	code := q.Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing authorization code")
		return
	}

	child, err := h.identity.SignIn(r.Context(), code)
	if errors.Is(err, identity.ErrSignIn) {
		writeError(w, http.StatusBadRequest, msgSignInFailed)
		return
	}
	if err != nil {
		h.logger.Error("sign-in", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save child")
		return
	}

	if h.notifier != nil {
		h.notifier.ChildAdded(child.ID)
	}
	writeJSON(w, http.StatusCreated, child.Summary())
}

func (h *AuthHandler) clearState(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    "",
		Path:     "/auth/google",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func newState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
