package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stbridge/stbridge-go/pkg/persistence"
	"github.com/stbridge/stbridge-go/pkg/retry"
)

func fastRetry() retry.Config {
	return retry.Config{MaxRetries: 2, InitialDelay: time.Microsecond, MaxDelay: time.Millisecond, Multiplier: 2}
}

func newTestManager(t *testing.T, tokenURL string) *Manager {
	t.Helper()
	store := persistence.NewTokenStore(filepath.Join(t.TempDir(), "token.json"))
	return NewManager(Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		TokenURL:     tokenURL,
		Retry:        fastRetry(),
	}, store, nil, nil)
}

func TestHasAuth_Margins(t *testing.T) {
	m := newTestManager(t, "http://unused")
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	assert.False(t, m.HasAuth(), "no token")

	m.token = &Token{AccessToken: "a", ExpiresAt: now.Add(4 * time.Minute)}
	assert.False(t, m.HasAuth(), "within 5 minute margin counts as expired")

	m.token = &Token{AccessToken: "a", ExpiresAt: now.Add(5 * time.Minute)}
	assert.False(t, m.HasAuth(), "exactly at margin counts as expired")

	m.token = &Token{AccessToken: "a", ExpiresAt: now.Add(6 * time.Minute)}
	assert.True(t, m.HasAuth())
}

func TestLoad_MissingFileStartsUnauthenticated(t *testing.T) {
	m := newTestManager(t, "http://unused")
	require.NoError(t, m.Load())
	assert.Nil(t, m.Token())
	assert.False(t, m.HasAuth())
}

func TestLoad_ExpiredWithoutRefreshIsDiscarded(t *testing.T) {
	m := newTestManager(t, "http://unused")
	require.NoError(t, m.store.Save(&persistence.Token{
		AccessToken: "stale",
		ExpiresAt:   time.Now().Add(-time.Hour).UnixMilli(),
	}))
	require.NoError(t, m.Load())
	assert.Nil(t, m.Token())
}

func TestLoad_ExpiredWithRefreshIsKeptForRefresh(t *testing.T) {
	m := newTestManager(t, "http://unused")
	require.NoError(t, m.store.Save(&persistence.Token{
		AccessToken:  "stale",
		RefreshToken: "still-good",
		ExpiresAt:    time.Now().Add(-time.Hour).UnixMilli(),
	}))
	require.NoError(t, m.Load())

	tok := m.Token()
	require.NotNil(t, tok)
	assert.Equal(t, "still-good", tok.RefreshToken)
	assert.False(t, m.HasAuth(), "kept token is still unauthenticated until refreshed")
}

func TestRefreshToken_Success(t *testing.T) {
	var gotGrant, gotRefresh string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "client-id", user)
		assert.Equal(t, "client-secret", pass)
		require.NoError(t, r.ParseForm())
		gotGrant = r.PostForm.Get("grant_type")
		gotRefresh = r.PostForm.Get("refresh_token")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "new-access",
			"refresh_token": "new-refresh",
			"expires_in":    3600,
			"token_type":    "Bearer",
			"scope":         "r:devices:*",
		})
	}))
	defer srv.Close()

	m := newTestManager(t, srv.URL)
	m.token = &Token{AccessToken: "old", RefreshToken: "old-refresh", ExpiresAt: time.Now()}

	require.NoError(t, m.RefreshToken(context.Background()))
	assert.Equal(t, "refresh_token", gotGrant)
	assert.Equal(t, "old-refresh", gotRefresh)

	tok := m.Token()
	require.NotNil(t, tok)
	assert.Equal(t, "new-access", tok.AccessToken)
	assert.Equal(t, "new-refresh", tok.RefreshToken)
	assert.True(t, m.HasAuth())

	// Token was persisted.
	stored, err := m.store.Load()
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "new-access", stored.AccessToken)
}

func TestRefreshToken_KeepsOldRefreshSecretWhenOmitted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "new-access",
			"expires_in":   3600,
			"token_type":   "Bearer",
		})
	}))
	defer srv.Close()

	m := newTestManager(t, srv.URL)
	m.token = &Token{AccessToken: "old", RefreshToken: "keep-me", ExpiresAt: time.Now()}

	require.NoError(t, m.RefreshToken(context.Background()))
	assert.Equal(t, "keep-me", m.Token().RefreshToken)
}

func TestRefreshToken_NoRefreshSecret(t *testing.T) {
	m := newTestManager(t, "http://unused")
	assert.ErrorIs(t, m.RefreshToken(context.Background()), ErrNoRefreshToken)
}

func TestRefreshToken_PermanentFailureNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "invalid_grant", http.StatusBadRequest)
	}))
	defer srv.Close()

	m := newTestManager(t, srv.URL)
	m.token = &Token{AccessToken: "old", RefreshToken: "bad", ExpiresAt: time.Now()}

	err := m.RefreshToken(context.Background())
	require.ErrorIs(t, err, ErrRefreshFailed)
	assert.Equal(t, 1, calls)
}

func TestRefreshToken_TransientFailureRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"access_token": "ok", "expires_in": 3600})
	}))
	defer srv.Close()

	m := newTestManager(t, srv.URL)
	m.token = &Token{AccessToken: "old", RefreshToken: "r", ExpiresAt: time.Now()}

	require.NoError(t, m.RefreshToken(context.Background()))
	assert.Equal(t, 3, calls)
}

func TestCheckAndRefreshToken_SkipsWhenFarFromExpiry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no network call expected")
	}))
	defer srv.Close()

	m := newTestManager(t, srv.URL)
	m.token = &Token{AccessToken: "a", RefreshToken: "r", ExpiresAt: time.Now().Add(2 * time.Hour)}

	require.NoError(t, m.CheckAndRefreshToken(context.Background()))
}

func TestCheckAndRefreshToken_RefreshesWithinAnHour(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"access_token": "fresh", "expires_in": 86400})
	}))
	defer srv.Close()

	m := newTestManager(t, srv.URL)
	m.token = &Token{AccessToken: "a", RefreshToken: "r", ExpiresAt: time.Now().Add(30 * time.Minute)}

	require.NoError(t, m.CheckAndRefreshToken(context.Background()))
	assert.Equal(t, "fresh", m.Token().AccessToken)
}

func TestEnsureValidToken_FallsBackToUnauthenticated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	m := newTestManager(t, srv.URL)
	assert.False(t, m.EnsureValidToken(context.Background()), "no token at all")

	m.token = &Token{AccessToken: "a", RefreshToken: "r", ExpiresAt: time.Now()}
	assert.False(t, m.EnsureValidToken(context.Background()), "refresh rejected")
}

func TestEnsureValidToken_UsesExistingToken(t *testing.T) {
	m := newTestManager(t, "http://unused")
	m.token = &Token{AccessToken: "a", ExpiresAt: time.Now().Add(time.Hour)}
	assert.True(t, m.EnsureValidToken(context.Background()))
}

func TestOnChange_FiresOnRefreshAndClear(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"access_token": "n", "expires_in": 3600})
	}))
	defer srv.Close()

	m := newTestManager(t, srv.URL)
	m.token = &Token{AccessToken: "a", RefreshToken: "r", ExpiresAt: time.Now()}

	changes := 0
	m.OnChange(func() { changes++ })

	require.NoError(t, m.RefreshToken(context.Background()))
	require.NoError(t, m.ClearToken())
	assert.Equal(t, 2, changes)
	assert.Nil(t, m.Token())
}
