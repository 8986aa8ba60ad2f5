// Package callback tells the application behind an assertion that it was
// disputed or resolved. Recipients are accounts; each maps to a webhook URL.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	KindResolved = "assertion_resolved"
	KindDisputed = "assertion_disputed"
)

var ErrNoWebhook = errors.New("no webhook configured for callback recipient")

type Payload struct {
	Kind        string `json:"kind"`
	Recipient   string `json:"recipient"`
	AssertionID string `json:"assertion_id"`
	// Truthful is only set for KindResolved.
	Truthful *bool     `json:"asserted_truthfully,omitempty"`
	SentAt   time.Time `json:"sent_at"`
}

type Webhook struct {
	URLs   map[string]string
	Token  string
	Logger *zap.Logger

	HTTP *http.Client
}

func (w *Webhook) AssertionResolved(ctx context.Context, recipient, assertionID string, truthful bool) error {
	return w.post(ctx, Payload{Kind: KindResolved, Recipient: recipient, AssertionID: assertionID, Truthful: &truthful})
}

func (w *Webhook) AssertionDisputed(ctx context.Context, recipient, assertionID string) error {
	return w.post(ctx, Payload{Kind: KindDisputed, Recipient: recipient, AssertionID: assertionID})
}

func (w *Webhook) post(ctx context.Context, p Payload) error {
	url := strings.TrimSpace(w.URLs[p.Recipient])
	if url == "" {
		if w.Logger != nil {
			w.Logger.Debug("callback skipped", zap.String("recipient", p.Recipient), zap.String("kind", p.Kind))
		}
		return fmt.Errorf("%w: %s", ErrNoWebhook, p.Recipient)
	}
	p.SentAt = time.Now().UTC()
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Nest-Callback", p.Kind)
	if tok := strings.TrimSpace(w.Token); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := w.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return fmt.Errorf("callback %s http %d: %s", p.Kind, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return nil
}

func (w *Webhook) httpClient() *http.Client {
	if w.HTTP != nil {
		return w.HTTP
	}
	return &http.Client{Timeout: 10 * time.Second}
}
