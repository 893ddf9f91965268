package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/10bedicu/care-abdm/internal/platform/cache"
)

const (
	sessionsPath = "/gateway/v3/sessions"
	tokenKey     = "gateway_session_token"

	// invalidTokenCode is the gateway's code for an expired or revoked
	// access token. Seeing it means evict and re-exchange once.
	invalidTokenCode = "900901"
)

type sessionRequest struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	GrantType    string `json:"grantType"`
}

type sessionResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int    `json:"expiresIn"`
	TokenType   string `json:"tokenType"`
}

// tokenSource exchanges client credentials for a gateway session token and
// caches it for the gateway-declared lifetime. Concurrent callers share one
// exchange.
type tokenSource struct {
	mu           sync.Mutex
	baseURL      string
	clientID     string
	clientSecret string
	cache        *cache.Cache
	client       *http.Client
}

func newTokenSource(baseURL, clientID, clientSecret string, c *cache.Cache, hc *http.Client) *tokenSource {
	return &tokenSource{
		baseURL:      baseURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		cache:        c,
		client:       hc,
	}
}

// Token returns a valid session token, exchanging credentials when the
// cached one is absent or expired.
func (ts *tokenSource) Token(ctx context.Context) (string, error) {
	if tok, ok := ts.cache.GetString(tokenKey); ok {
		return tok, nil
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	// Another caller may have refreshed while we waited.
	if tok, ok := ts.cache.GetString(tokenKey); ok {
		return tok, nil
	}

	body, err := json.Marshal(sessionRequest{
		ClientID:     ts.clientID,
		ClientSecret: ts.clientSecret,
		GrantType:    "client_credentials",
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.baseURL+sessionsPath, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("REQUEST-ID", newRequestID())
	req.Header.Set("TIMESTAMP", gatewayTimestamp())

	resp, err := ts.client.Do(req)
	if err != nil {
		return "", &Error{Kind: KindUnavailable, Path: sessionsPath, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		code, msg := extractError(respBody)
		return "", &Error{Kind: KindUpstream, StatusCode: resp.StatusCode, Code: code, Message: msg, Path: sessionsPath}
	}

	var session sessionResponse
	if err := json.Unmarshal(respBody, &session); err != nil {
		return "", fmt.Errorf("decoding session response: %w", err)
	}
	if session.AccessToken == "" {
		return "", fmt.Errorf("session response missing access token")
	}

	ttl := time.Duration(session.ExpiresIn) * time.Second
	if ttl > time.Minute {
		// Refresh slightly early rather than racing expiry.
		ttl -= 30 * time.Second
	}
	ts.cache.Set(tokenKey, session.AccessToken, ttl)
	return session.AccessToken, nil
}

// Invalidate drops the cached token so the next call re-exchanges.
func (ts *tokenSource) Invalidate() {
	ts.cache.Delete(tokenKey)
}
