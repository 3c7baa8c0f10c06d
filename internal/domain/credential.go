package domain

import (
	"context"
	"time"
)

// Credential is a stored OAuth token pair. ExpiresAt is always absolute.
type Credential struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Expired reports whether the credential is unusable at now, treating the last
// skew of its lifetime as already expired.
func (c Credential) Expired(now time.Time, skew time.Duration) bool {
	return !now.Add(skew).Before(c.ExpiresAt)
}

// TokenGrant is an OAuth token endpoint response. ExpiresIn is relative and must
// be converted with Credential before it is stored anywhere.
type TokenGrant struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	ExpiresIn    int      `json:"expires_in"`
	Scope        []string `json:"scope"`
	TokenType    string   `json:"token_type"`
}

// Credential anchors the grant's lifetime at issuedAt.
func (g TokenGrant) Credential(issuedAt time.Time) Credential {
	return Credential{
		AccessToken:  g.AccessToken,
		RefreshToken: g.RefreshToken,
		ExpiresAt:    issuedAt.Add(time.Duration(g.ExpiresIn) * time.Second),
	}
}

// TokenValidation is the result of the token introspection probe.
type TokenValidation struct {
	Valid     bool     `json:"valid"`
	ClientID  string   `json:"client_id,omitempty"`
	Login     string   `json:"login,omitempty"`
	UserID    string   `json:"user_id,omitempty"`
	Scopes    []string `json:"scopes,omitempty"`
	ExpiresIn int      `json:"expires_in,omitempty"`
}

// TokenExchanger performs the OAuth grants against the Twitch identity service.
type TokenExchanger interface {
	ClientCredentials(ctx context.Context) (TokenGrant, error)
	RefreshToken(ctx context.Context, refreshToken string) (TokenGrant, error)
	AuthorizationCode(ctx context.Context, code string) (TokenGrant, error)
	Validate(ctx context.Context, accessToken string) (TokenValidation, error)
}
