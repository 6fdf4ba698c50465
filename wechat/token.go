package wechat

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"wuyrush.io/wxpub/common/logging"
	cst "wuyrush.io/wxpub/constants"
	we "wuyrush.io/wxpub/errors"
)

// leaseSafetyMargin is the minimum remaining lifetime of any credential handed
// to a caller; a token this close to expiry is refreshed instead of returned.
const leaseSafetyMargin = 60 * time.Second

type credential struct {
	token     string
	expiresAt time.Time
}

func (c *credential) within(margin time.Duration) bool {
	return time.Now().Add(margin).After(c.expiresAt)
}

// TokenManager leases, caches and refreshes the short-lived remote credential.
// Reads take the RWMutex only; a separate refresh mutex single-flights the
// slow path so a burst of expired leases triggers exactly one remote call.
type TokenManager struct {
	appID     string
	appSecret string
	baseURL   string
	t         *Transport

	mu   sync.RWMutex // guards cred
	cred *credential

	refreshMu sync.Mutex
}

func NewTokenManager(appID, appSecret, baseURL string, t *Transport) *TokenManager {
	return &TokenManager{
		appID:     appID,
		appSecret: appSecret,
		baseURL:   baseURL,
		t:         t,
	}
}

// Lease returns a credential valid for at least leaseSafetyMargin, refreshing
// it first if needed.
func (m *TokenManager) Lease(ctx context.Context) (string, *we.Err) {
	if tok, ok := m.cached(); ok {
		return tok, nil
	}
	return m.refresh(ctx)
}

// ForceRefresh discards the cached credential and fetches a fresh one. Safe to
// call after the remote service rejected the current token.
func (m *TokenManager) ForceRefresh(ctx context.Context) (string, *we.Err) {
	m.Invalidate()
	return m.refresh(ctx)
}

// Invalidate drops the cached credential; the next Lease refreshes.
func (m *TokenManager) Invalidate() {
	m.mu.Lock()
	m.cred = nil
	m.mu.Unlock()
}

func (m *TokenManager) cached() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cred != nil && !m.cred.within(leaseSafetyMargin) {
		return m.cred.token, true
	}
	return "", false
}

func (m *TokenManager) refresh(ctx context.Context) (string, *we.Err) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()
	// another caller may have refreshed while this one waited on the mutex
	if tok, ok := m.cached(); ok {
		return tok, nil
	}
	clog := logging.WithFuncName()
	clog.Info("refreshing remote access credential")
	target := fmt.Sprintf("%s%s?grant_type=client_credential&appid=%s&secret=%s",
		m.baseURL, cst.PathToken, url.QueryEscape(m.appID), url.QueryEscape(m.appSecret))
	var resp accessTokenResponse
	if err := m.t.GetJSON(ctx, target, &resp); err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", we.NewServiceFailure("credential endpoint returned an empty token")
	}
	cred := &credential{
		token:     resp.AccessToken,
		expiresAt: time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}
	m.mu.Lock()
	m.cred = cred
	m.mu.Unlock()
	clog.WithField("expiresAt", cred.expiresAt).Info("refreshed remote access credential")
	return cred.token, nil
}

// TokenInfo is a debugging snapshot of the cached credential.
type TokenInfo struct {
	ExpiresAt time.Time
	Remaining time.Duration
	Expired   bool
}

// Info reports on the cached credential; the second return is false when no
// credential is cached.
func (m *TokenManager) Info() (TokenInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cred == nil {
		return TokenInfo{}, false
	}
	return TokenInfo{
		ExpiresAt: m.cred.expiresAt,
		Remaining: time.Until(m.cred.expiresAt),
		Expired:   m.cred.within(0),
	}, true
}
