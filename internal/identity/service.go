package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/dukerupert/chorgi/internal/model"
)

// refreshBuffer is how close to expiry a token may get before Enter refreshes it.
const refreshBuffer = 5 * time.Minute

var (
	// ErrSignIn wraps code-exchange and userinfo failures. No child is created.
	ErrSignIn = errors.New("failed to connect Google account")
	// ErrReauthRequired means the stored refresh token no longer works. The
	// child record is kept; signing in again with the same account replaces
	// the token.
	ErrReauthRequired = errors.New("failed to refresh access token")
)

// Authenticator is the identity provider as the service sees it. *Provider
// implements it.
type Authenticator interface {
	Exchange(ctx context.Context, code string) (model.Credential, error)
	UserInfo(ctx context.Context, cred model.Credential) (model.Profile, error)
	Refresh(ctx context.Context, cred model.Credential) (model.Credential, error)
	TokenSource(ctx context.Context, cred model.Credential) oauth2.TokenSource
}

type Service struct {
	store  *Store
	auth   Authenticator
	logger *slog.Logger
	newID  func() string
	now    func() time.Time
}

func NewService(store *Store, auth Authenticator, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		auth:   auth,
		logger: logger,
		newID:  uuid.NewString,
		now:    time.Now,
	}
}

func (s *Service) Store() *Store {
	return s.store
}

// SignIn completes the OAuth flow for an authorization code. Signing in with
// an account that is already registered refreshes that child's profile and
// token instead of adding a duplicate.
func (s *Service) SignIn(ctx context.Context, code string) (*model.Child, error) {
	cred, err := s.auth.Exchange(ctx, code)
	if err != nil {
		s.logger.Error("sign-in code exchange", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrSignIn, err)
	}

	profile, err := s.auth.UserInfo(ctx, cred)
	if err != nil {
		s.logger.Error("sign-in userinfo", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrSignIn, err)
	}

	child := model.Child{
		ID:          s.newID(),
		Name:        profile.Name,
		AvatarURL:   profile.Picture,
		GoogleID:    profile.Subject,
		CalendarID:  profile.Email,
		Birthdate:   profile.Birthdate,
		GoogleToken: cred,
	}

	existing, err := s.store.GetByGoogleID(ctx, profile.Subject)
	switch {
	case err == nil:
		child.ID = existing.ID
		if child.GoogleToken.RefreshToken == "" {
			child.GoogleToken.RefreshToken = existing.GoogleToken.RefreshToken
		}
		if child.Birthdate == "" {
			child.Birthdate = existing.Birthdate
		}
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	if err := s.store.Upsert(ctx, child); err != nil {
		return nil, fmt.Errorf("save child: %w", err)
	}
	s.logger.Info("child signed in", "child_id", child.ID, "name", child.Name)
	return &child, nil
}

// Enter is called when a child is picked on the home screen. It refreshes
// the access token when it is close to expiry.
func (s *Service) Enter(ctx context.Context, id string) (*model.Child, error) {
	child, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if !child.GoogleToken.ExpiresWithin(s.now(), refreshBuffer) {
		return child, nil
	}

	cred, err := s.auth.Refresh(ctx, child.GoogleToken)
	if err != nil {
		s.logger.Warn("token refresh failed", "child_id", id, "error", err)
		return nil, ErrReauthRequired
	}
	if err := s.store.UpdateCredential(ctx, id, cred); err != nil {
		return nil, fmt.Errorf("save refreshed token: %w", err)
	}
	child.GoogleToken = cred
	return child, nil
}

// TokenSource returns the child's token source. Tokens refreshed through it
// are written back to the store.
func (s *Service) TokenSource(ctx context.Context, child model.Child) oauth2.TokenSource {
	return &savingTokenSource{
		ctx:     ctx,
		base:    s.auth.TokenSource(ctx, child.GoogleToken),
		store:   s.store,
		childID: child.ID,
		last:    child.GoogleToken,
		logger:  s.logger,
	}
}

type savingTokenSource struct {
	ctx     context.Context
	base    oauth2.TokenSource
	store   *Store
	childID string
	logger  *slog.Logger

	mu   sync.Mutex
	last model.Credential
}

func (t *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := t.base.Token()
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if tok.AccessToken == t.last.AccessToken {
		return tok, nil
	}

	cred := CredentialFromToken(tok)
	if cred.RefreshToken == "" {
		cred.RefreshToken = t.last.RefreshToken
	}
	t.last = cred
	if err := t.store.UpdateCredential(t.ctx, t.childID, cred); err != nil {
		t.logger.Error("save refreshed token", "child_id", t.childID, "error", err)
	}
	return tok, nil
}
