package auth

import (
	"time"

	"github.com/stbridge/stbridge-go/pkg/persistence"
)

// Expiry margins.
const (
	// ExpiryMargin is how close to expiry a token is treated as expired.
	ExpiryMargin = 5 * time.Minute

	// RefreshMargin is how close to expiry the proactive refresh kicks in.
	RefreshMargin = 1 * time.Hour
)

// Token is an OAuth token with an absolute expiry instant.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	TokenType    string
	Scope        string
}

// ExpiresWithin reports whether the token expires within d of now.
func (t *Token) ExpiresWithin(now time.Time, d time.Duration) bool {
	return t.ExpiresAt.Sub(now) <= d
}

// toStored converts to the persisted form (expiry as epoch ms).
func (t *Token) toStored() *persistence.Token {
	return &persistence.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		ExpiresAt:    t.ExpiresAt.UnixMilli(),
		TokenType:    t.TokenType,
		Scope:        t.Scope,
	}
}

// tokenFromStored converts from the persisted form.
func tokenFromStored(st *persistence.Token) *Token {
	return &Token{
		AccessToken:  st.AccessToken,
		RefreshToken: st.RefreshToken,
		ExpiresAt:    time.UnixMilli(st.ExpiresAt),
		TokenType:    st.TokenType,
		Scope:        st.Scope,
	}
}
