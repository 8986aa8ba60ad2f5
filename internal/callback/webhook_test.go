package callback

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWebhookPostsResolvedPayload(t *testing.T) {
	var got Payload
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := &Webhook{URLs: map[string]string{"app": srv.URL}, Token: "secret"}
	if err := w.AssertionResolved(context.Background(), "app", "0xabc", true); err != nil {
		t.Fatalf("err=%v", err)
	}
	if got.Kind != KindResolved || got.AssertionID != "0xabc" || got.Truthful == nil || !*got.Truthful {
		t.Fatalf("payload=%+v", got)
	}
	if auth != "Bearer secret" {
		t.Fatalf("auth=%q", auth)
	}
}

func TestWebhookErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	w := &Webhook{URLs: map[string]string{"app": srv.URL}}
	if err := w.AssertionDisputed(context.Background(), "app", "0xabc"); err == nil {
		t.Fatalf("expected error for http 500")
	}
	if err := w.AssertionDisputed(context.Background(), "unknown", "0xabc"); !errors.Is(err, ErrNoWebhook) {
		t.Fatalf("err=%v want=%v", err, ErrNoWebhook)
	}
}
