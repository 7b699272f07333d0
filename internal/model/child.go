package model

import "time"

// Credential is the OAuth token bundle stored with a child. ExpiryDate is a
// unix timestamp in milliseconds.
type Credential struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiryDate   int64  `json:"expiry_date"`
}

// Expiry returns the access token expiry instant, or the zero time if unknown.
func (c Credential) Expiry() time.Time {
	if c.ExpiryDate == 0 {
		return time.Time{}
	}
	return time.UnixMilli(c.ExpiryDate)
}

// ExpiresWithin reports whether the access token expires before now+d.
func (c Credential) ExpiresWithin(now time.Time, d time.Duration) bool {
	exp := c.Expiry()
	if exp.IsZero() {
		return true
	}
	return exp.Before(now.Add(d))
}

type Child struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	AvatarURL   string     `json:"avatarUrl"`
	GoogleID    string     `json:"googleId"`
	CalendarID  string     `json:"calendarId"`
	Birthdate   string     `json:"birthdate,omitempty"`
	GoogleToken Credential `json:"googleToken"`
}

// Completer returns the identity stamped onto chores this child completes.
func (c Child) Completer() Completer {
	return Completer{
		ID:        c.ID,
		Name:      c.Name,
		AvatarURL: c.AvatarURL,
		GoogleID:  c.GoogleID,
	}
}

// ChildSummary is the token-free view of a child used by the home screen.
type ChildSummary struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	AvatarURL  string `json:"avatarUrl"`
	CalendarID string `json:"calendarId"`
	Birthdate  string `json:"birthdate,omitempty"`
}

func (c Child) Summary() ChildSummary {
	return ChildSummary{
		ID:         c.ID,
		Name:       c.Name,
		AvatarURL:  c.AvatarURL,
		CalendarID: c.CalendarID,
		Birthdate:  c.Birthdate,
	}
}

// Profile is the subset of the identity provider's userinfo we keep.
type Profile struct {
	Subject   string `json:"sub"`
	Name      string `json:"name"`
	Picture   string `json:"picture"`
	Email     string `json:"email"`
	Birthdate string `json:"birthdate,omitempty"`
}
