package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/stbridge/stbridge-go/pkg/log"
	"github.com/stbridge/stbridge-go/pkg/persistence"
	"github.com/stbridge/stbridge-go/pkg/retry"
)

// DefaultTokenURL is the SmartThings OAuth token endpoint.
const DefaultTokenURL = "https://api.smartthings.com/oauth/token"

// Manager errors.
var (
	ErrNoRefreshToken = errors.New("no refresh token available")
	ErrRefreshFailed  = errors.New("token refresh failed")
)

// httpStatusError carries an HTTP status code so the retry classifier
// can distinguish transient endpoint failures from permanent ones.
type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("token endpoint returned %d: %s", e.status, e.body)
}

func (e *httpStatusError) StatusCode() int { return e.status }

// tokenResponse is the token endpoint's JSON response.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
}

// Config holds the OAuth client settings.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string

	// TokenURL overrides the token endpoint. Empty uses DefaultTokenURL.
	TokenURL string

	// Retry overrides the retry policy for token requests.
	Retry retry.Config
}

// Manager owns the OAuth token. All other components read the token via
// accessors; only the Manager mutates it.
type Manager struct {
	mu sync.Mutex

	cfg    Config
	token  *Token
	store  *persistence.TokenStore
	client *http.Client

	logger   *slog.Logger
	eventLog log.Logger

	// onChange is invoked (outside the lock) whenever the token is
	// replaced or cleared, so the cloud client can invalidate itself.
	onChange func()

	// now is replaceable for tests.
	now func() time.Time
}

// NewManager creates a token manager persisting to store.
func NewManager(cfg Config, store *persistence.TokenStore, logger *slog.Logger, eventLog log.Logger) *Manager {
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:      cfg,
		store:    store,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
		eventLog: log.OrNoop(eventLog),
		now:      time.Now,
	}
}

// OnChange registers a callback invoked whenever the token changes.
func (m *Manager) OnChange(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// Load reads the persisted token. A missing file is not an error; the
// bridge starts unauthenticated. An expired token without a refresh
// secret is discarded; one with a refresh secret is kept so the next
// EnsureValidToken can refresh it.
func (m *Manager) Load() error {
	stored, err := m.store.Load()
	if err != nil {
		return fmt.Errorf("load token: %w", err)
	}
	if stored == nil {
		m.logger.Info("no persisted token, starting unauthenticated")
		return nil
	}

	tok := tokenFromStored(stored)
	if tok.ExpiresWithin(m.now(), ExpiryMargin) && tok.RefreshToken == "" {
		m.logger.Warn("persisted token expired with no refresh token, discarding")
		m.eventLog.Log(log.NewAuthEvent("load", false, stored.ExpiresAt))
		return nil
	}

	m.mu.Lock()
	m.token = tok
	m.mu.Unlock()

	m.logger.Info("loaded persisted token", "expires_at", tok.ExpiresAt)
	m.eventLog.Log(log.NewAuthEvent("load", true, stored.ExpiresAt))
	return nil
}

// Token returns a copy of the current token, or nil when unauthenticated.
func (m *Manager) Token() *Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == nil {
		return nil
	}
	tok := *m.token
	return &tok
}

// SetToken replaces the token (used by the consent redirect handler)
// and persists it.
func (m *Manager) SetToken(tok *Token) error {
	m.mu.Lock()
	m.token = tok
	onChange := m.onChange
	m.mu.Unlock()

	if onChange != nil {
		onChange()
	}
	return m.save(tok)
}

// ClearToken forgets the token and removes the token file. Used on logout.
func (m *Manager) ClearToken() error {
	m.mu.Lock()
	m.token = nil
	onChange := m.onChange
	m.mu.Unlock()

	if onChange != nil {
		onChange()
	}
	m.eventLog.Log(log.NewAuthEvent("clear", true, 0))
	return m.store.Clear()
}

// HasAuth reports whether a usable token is present (more than 5 minutes
// from expiry).
func (m *Manager) HasAuth() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token != nil && m.token.AccessToken != "" &&
		!m.token.ExpiresWithin(m.now(), ExpiryMargin)
}

// EnsureValidToken makes sure a usable token exists, refreshing if a
// refresh secret is available. Returns false when the bridge must run
// unauthenticated.
func (m *Manager) EnsureValidToken(ctx context.Context) bool {
	if m.HasAuth() {
		return true
	}

	m.mu.Lock()
	hasRefresh := m.token != nil && m.token.RefreshToken != ""
	m.mu.Unlock()
	if !hasRefresh {
		return false
	}

	if err := m.RefreshToken(ctx); err != nil {
		m.logger.Warn("token refresh failed, continuing unauthenticated", "error", err)
		return false
	}
	return true
}

// CheckAndRefreshToken proactively refreshes the token when it expires
// within the next hour. Succeeds without network traffic otherwise.
func (m *Manager) CheckAndRefreshToken(ctx context.Context) error {
	m.mu.Lock()
	tok := m.token
	var needsRefresh bool
	if tok != nil {
		needsRefresh = tok.ExpiresWithin(m.now(), RefreshMargin) && tok.RefreshToken != ""
	}
	m.mu.Unlock()

	if tok == nil || !needsRefresh {
		return nil
	}
	return m.RefreshToken(ctx)
}

// RefreshToken exchanges the refresh secret at the token endpoint and
// persists the new token. The old refresh secret is kept when the
// response omits one.
func (m *Manager) RefreshToken(ctx context.Context) error {
	m.mu.Lock()
	if m.token == nil || m.token.RefreshToken == "" {
		m.mu.Unlock()
		return ErrNoRefreshToken
	}
	refreshToken := m.token.RefreshToken
	m.mu.Unlock()

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}

	resp, err := retry.Do(ctx, m.logger, "token-refresh", m.cfg.Retry,
		func(ctx context.Context) (*tokenResponse, error) {
			return m.postTokenForm(ctx, form)
		})
	if err != nil {
		m.eventLog.Log(log.NewAuthEvent("refresh", false, 0))
		return fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	return m.adoptResponse(resp, refreshToken, "refresh")
}

// ExchangeAuthCode exchanges an authorization code for a token. Called
// by the consent redirect handler.
func (m *Manager) ExchangeAuthCode(ctx context.Context, code string) error {
	form := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {m.cfg.RedirectURI},
	}

	resp, err := retry.Do(ctx, m.logger, "token-exchange", m.cfg.Retry,
		func(ctx context.Context) (*tokenResponse, error) {
			return m.postTokenForm(ctx, form)
		})
	if err != nil {
		m.eventLog.Log(log.NewAuthEvent("exchange", false, 0))
		return fmt.Errorf("authorization code exchange: %w", err)
	}

	return m.adoptResponse(resp, "", "exchange")
}

// adoptResponse installs a token endpoint response as the current token
// and persists it. fallbackRefresh is used when the response omits a
// refresh token.
func (m *Manager) adoptResponse(resp *tokenResponse, fallbackRefresh, action string) error {
	refresh := resp.RefreshToken
	if refresh == "" {
		refresh = fallbackRefresh
	}
	tok := &Token{
		AccessToken:  resp.AccessToken,
		RefreshToken: refresh,
		ExpiresAt:    m.now().Add(time.Duration(resp.ExpiresIn) * time.Second),
		TokenType:    resp.TokenType,
		Scope:        resp.Scope,
	}

	m.mu.Lock()
	m.token = tok
	onChange := m.onChange
	m.mu.Unlock()

	if onChange != nil {
		onChange()
	}

	m.logger.Info("token updated", "action", action, "expires_at", tok.ExpiresAt)
	m.eventLog.Log(log.NewAuthEvent(action, true, tok.ExpiresAt.UnixMilli()))
	return m.save(tok)
}

// save persists the token. Persistence failure is reported but the
// in-memory token stays authoritative.
func (m *Manager) save(tok *Token) error {
	if err := m.store.Save(tok.toStored()); err != nil {
		m.logger.Error("failed to persist token", "error", err)
		return err
	}
	return nil
}

// postTokenForm performs one Basic-authenticated form POST against the
// token endpoint.
func (m *Manager) postTokenForm(ctx context.Context, form url.Values) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.TokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(m.cfg.ClientID, m.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &httpStatusError{status: resp.StatusCode, body: strings.TrimSpace(string(body))}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, errors.New("token response missing access_token")
	}
	return &tr, nil
}
