package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/dukerupert/chorgi/internal/model"
)

const defaultUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"

// Scopes requested at sign-in.
var Scopes = []string{
	"https://www.googleapis.com/auth/calendar.readonly",
	"profile",
	"email",
}

// ProviderConfig holds the OAuth client registration. A zero Endpoint means
// Google's.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Endpoint     oauth2.Endpoint
	UserInfoURL  string
}

// Provider talks to the identity provider: code exchange, userinfo and token
// refresh.
type Provider struct {
	config      *oauth2.Config
	userInfoURL string
	client      *http.Client
}

func NewProvider(cfg ProviderConfig) *Provider {
	endpoint := cfg.Endpoint
	if endpoint.TokenURL == "" {
		endpoint = google.Endpoint
	}
	userInfoURL := cfg.UserInfoURL
	if userInfoURL == "" {
		userInfoURL = defaultUserInfoURL
	}
	return &Provider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       Scopes,
		},
		userInfoURL: userInfoURL,
		client:      &http.Client{Timeout: 10 * time.Second},
	}
}

// AuthCodeURL returns the consent URL. Offline access with a forced prompt
// makes the provider hand out a refresh token every time.
func (p *Provider) AuthCodeURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (p *Provider) Exchange(ctx context.Context, code string) (model.Credential, error) {
	tok, err := p.config.Exchange(p.withClient(ctx), code)
	if err != nil {
		return model.Credential{}, fmt.Errorf("exchange code: %w", err)
	}
	return CredentialFromToken(tok), nil
}

func (p *Provider) UserInfo(ctx context.Context, cred model.Credential) (model.Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return model.Profile{}, fmt.Errorf("build userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return model.Profile{}, fmt.Errorf("userinfo request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.Profile{}, fmt.Errorf("userinfo returned status %d", resp.StatusCode)
	}

	var profile model.Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return model.Profile{}, fmt.Errorf("decode userinfo: %w", err)
	}
	if profile.Subject == "" {
		return model.Profile{}, fmt.Errorf("userinfo missing subject")
	}
	return profile, nil
}

// Refresh trades the refresh token for a new access token. The refresh token
// itself is carried over when the provider does not rotate it.
func (p *Provider) Refresh(ctx context.Context, cred model.Credential) (model.Credential, error) {
	if cred.RefreshToken == "" {
		return model.Credential{}, fmt.Errorf("no refresh token")
	}
	src := p.config.TokenSource(p.withClient(ctx), &oauth2.Token{RefreshToken: cred.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return model.Credential{}, fmt.Errorf("refresh token: %w", err)
	}
	out := CredentialFromToken(tok)
	if out.RefreshToken == "" {
		out.RefreshToken = cred.RefreshToken
	}
	return out, nil
}

// TokenSource returns a source that serves cred until it expires and then
// refreshes it.
func (p *Provider) TokenSource(ctx context.Context, cred model.Credential) oauth2.TokenSource {
	return p.config.TokenSource(p.withClient(ctx), TokenFromCredential(cred))
}

func (p *Provider) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.client)
}

func CredentialFromToken(tok *oauth2.Token) model.Credential {
	cred := model.Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    "Bearer",
	}
	if !tok.Expiry.IsZero() {
		cred.ExpiryDate = tok.Expiry.UnixMilli()
	}
	return cred
}

func TokenFromCredential(cred model.Credential) *oauth2.Token {
	tokenType := cred.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &oauth2.Token{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		TokenType:    tokenType,
		Expiry:       cred.Expiry(),
	}
}
