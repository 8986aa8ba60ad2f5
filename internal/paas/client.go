package paas

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Agent is the name this service logs under.
const Agent = "nest-oracle"

// tokenSkew renews the gateway token this long before it expires.
const tokenSkew = 2 * time.Minute

var errUnauthorized = errors.New("paas token rejected")

// Client posts audit records to the PaaS log API. It logs in with an API key
// and renews the bearer token on expiry or on a 401.
type Client struct {
	BaseURL string
	APIKey  string
	// Agent overrides the default agent name on every record.
	Agent string

	HTTP *http.Client

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

type CreateLogRequest struct {
	Agent      string         `json:"agent"`
	Action     string         `json:"action"`
	Level      string         `json:"level"`
	Details    map[string]any `json:"details"`
	SessionKey string         `json:"session_key"`
	Metadata   map[string]any `json:"metadata"`
}

func (c *Client) Login(ctx context.Context) error {
	apiKey := strings.TrimSpace(c.APIKey)
	if apiKey == "" {
		return errors.New("paas api key is empty")
	}
	var out struct {
		Token     string `json:"token"`
		ExpiresAt string `json:"expires_at"`
	}
	if err := c.post(ctx, "/api/v1/auth/login", "", map[string]any{"api_key": apiKey}, &out); err != nil {
		return fmt.Errorf("paas login: %w", err)
	}
	exp, _ := time.Parse(time.RFC3339, strings.TrimSpace(out.ExpiresAt))

	c.mu.Lock()
	c.token = strings.TrimSpace(out.Token)
	c.expiresAt = exp
	c.mu.Unlock()
	return nil
}

func (c *Client) currentToken() (string, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token, c.expiresAt
}

func (c *Client) ensureToken(ctx context.Context) (string, error) {
	tok, exp := c.currentToken()
	if tok != "" && (exp.IsZero() || time.Until(exp) > tokenSkew) {
		return tok, nil
	}
	if err := c.Login(ctx); err != nil {
		return "", err
	}
	tok, _ = c.currentToken()
	return tok, nil
}

// CreateLog writes one audit record. A rejected token triggers a single
// re-login and retry.
func (c *Client) CreateLog(ctx context.Context, req CreateLogRequest) error {
	if strings.TrimSpace(req.Agent) == "" {
		req.Agent = c.agent()
	}
	if req.Details == nil {
		req.Details = map[string]any{}
	}
	if req.Metadata == nil {
		req.Metadata = map[string]any{}
	}
	for attempt := 0; attempt < 2; attempt++ {
		tok, err := c.ensureToken(ctx)
		if err != nil {
			return err
		}
		err = c.post(ctx, "/api/v1/logs", tok, req, nil)
		if !errors.Is(err, errUnauthorized) {
			return err
		}
		c.mu.Lock()
		c.token = ""
		c.mu.Unlock()
	}
	return errUnauthorized
}

func (c *Client) agent() string {
	if a := strings.TrimSpace(c.Agent); a != "" {
		return a
	}
	return Agent
}

func (c *Client) post(ctx context.Context, path, token string, body, out any) error {
	base := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if base == "" {
		return errors.New("paas base url is empty")
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusUnauthorized && token != "" {
		return errUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(b, out)
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{Timeout: 10 * time.Second}
}
