package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/synergy-rentals/srg-stack/webhooks/internal/models"
)

// exchange performs the client-credentials grant for acct.
func (m *Manager) exchange(ctx context.Context, acct *models.Account) (string, time.Time, error) {
	cc := clientcredentials.Config{
		ClientID:     acct.ClientID,
		ClientSecret: acct.ClientSecret,
		TokenURL:     m.cfg.TokenURL,
		Scopes:       m.cfg.Scopes,
		AuthStyle:    oauth2.AuthStyleInParams,
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	tok, err := cc.Token(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", time.Time{}, fmt.Errorf("token exchange for %s: %w", acct.ID, ctxErr)
		}
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			return "", time.Time{}, fmt.Errorf("%w: token exchange for %s: status %d: %s",
				models.ErrConnectivity, acct.ID, re.Response.StatusCode, truncate(string(re.Body), 256))
		}
		return "", time.Time{}, fmt.Errorf("%w: token exchange for %s: %v", models.ErrConnectivity, acct.ID, err)
	}
	if tok.AccessToken == "" {
		return "", time.Time{}, fmt.Errorf("%w: token exchange for %s returned no access token", models.ErrConnectivity, acct.ID)
	}

	return tok.AccessToken, m.tokenExpiry(tok), nil
}

// tokenExpiry prefers expires_in, then the JWT exp claim, then a fixed
// lifetime.
func (m *Manager) tokenExpiry(tok *oauth2.Token) time.Time {
	if !tok.Expiry.IsZero() {
		return tok.Expiry.UTC()
	}
	if exp, ok := jwtExpiry(tok.AccessToken); ok {
		return exp.UTC()
	}
	return m.now().Add(fallbackTokenLifetime).UTC()
}

// jwtExpiry reads exp from an access token without verifying it. The token
// is only inspected for scheduling; Guesty validates it.
func jwtExpiry(accessToken string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
