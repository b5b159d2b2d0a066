package models

import "time"

// Account holds the Guesty credentials for one property-management account.
// Accounts are rotated, never deleted.
type Account struct {
	ID            string    `json:"id" yaml:"id"`
	Name          string    `json:"name,omitempty" yaml:"name"`
	ClientID      string    `json:"client_id,omitempty" yaml:"client_id"`
	ClientSecret  string    `json:"-" yaml:"client_secret"`
	WebhookSecret string    `json:"-" yaml:"webhook_secret"`
	AccessToken   string    `json:"-" yaml:"-"`
	TokenExpiry   time.Time `json:"token_expiry,omitempty" yaml:"-"`
	CreatedAt     time.Time `json:"created_at" yaml:"-"`
	UpdatedAt     time.Time `json:"updated_at" yaml:"-"`
}

// HasClientCredentials reports whether an OAuth exchange can be attempted.
func (a *Account) HasClientCredentials() bool {
	return a.ClientID != "" && a.ClientSecret != ""
}

// TokenValidFor reports whether the stored access token outlives now+buffer.
func (a *Account) TokenValidFor(now time.Time, buffer time.Duration) bool {
	return a.AccessToken != "" && a.TokenExpiry.After(now.Add(buffer))
}
