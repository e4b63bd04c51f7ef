package kis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// tokenManager caches the OAuth access token and refreshes it ahead of
// expiry. KIS issues day-long tokens and throttles the token endpoint, so
// concurrent callers share one in-flight refresh.
type tokenManager struct {
	baseURL    string
	appKey     string
	appSecret  string
	httpClient *http.Client
	logger     *slog.Logger

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// refreshSkew is how long before expiry the token is treated as stale.
const refreshSkew = 5 * time.Minute

func newTokenManager(baseURL, appKey, appSecret string, httpClient *http.Client, logger *slog.Logger) *tokenManager {
	return &tokenManager{
		baseURL:    baseURL,
		appKey:     appKey,
		appSecret:  appSecret,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Token returns a valid access token, refreshing it when missing or stale.
func (t *tokenManager) Token(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.token != "" && time.Until(t.expiresAt) > refreshSkew {
		return t.token, nil
	}

	resp, err := t.fetch(ctx, "/oauth2/tokenP", tokenRequest{
		GrantType: "client_credentials",
		AppKey:    t.appKey,
		AppSecret: t.appSecret,
	})
	if err != nil {
		return "", fmt.Errorf("kis: issue token: %w", err)
	}

	var tok tokenResponse
	if err := json.Unmarshal(resp, &tok); err != nil {
		return "", fmt.Errorf("kis: decode token: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("kis: token response missing access_token")
	}

	t.token = tok.AccessToken
	t.expiresAt = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	t.logger.InfoContext(ctx, "kis: access token refreshed",
		slog.Time("expires_at", t.expiresAt),
	)
	return t.token, nil
}

// ApprovalKey issues the websocket approval key used by the streaming feed.
func (t *tokenManager) ApprovalKey(ctx context.Context) (string, error) {
	resp, err := t.fetch(ctx, "/oauth2/Approval", approvalRequest{
		GrantType: "client_credentials",
		AppKey:    t.appKey,
		SecretKey: t.appSecret,
	})
	if err != nil {
		return "", fmt.Errorf("kis: issue approval key: %w", err)
	}

	var ap approvalResponse
	if err := json.Unmarshal(resp, &ap); err != nil {
		return "", fmt.Errorf("kis: decode approval key: %w", err)
	}
	if ap.ApprovalKey == "" {
		return "", fmt.Errorf("kis: approval response missing approval_key")
	}
	return ap.ApprovalKey, nil
}

// Invalidate drops the cached token so the next call re-issues. Used after a
// 401 from the trading API.
func (t *tokenManager) Invalidate() {
	t.mu.Lock()
	t.token = ""
	t.expiresAt = time.Time{}
	t.mu.Unlock()
}

func (t *tokenManager) fetch(ctx context.Context, path string, reqBody any) ([]byte, error) {
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
