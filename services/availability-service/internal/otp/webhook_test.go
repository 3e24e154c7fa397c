package otp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestWebhookSender(t *testing.T) {
	var got webhookMessage
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewWebhookSender(srv.URL, "secret")
	if err := s.Send(context.Background(), "+447700900123", "123456", 10*time.Minute); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got.To != "+447700900123" || !strings.Contains(got.Body, "123456") || !strings.Contains(got.Body, "10 minutes") {
		t.Fatalf("unexpected message %+v", got)
	}
	if auth != "Bearer secret" {
		t.Fatalf("expected bearer token, got %q", auth)
	}
}

func TestWebhookSenderNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := NewWebhookSender(srv.URL, "").Send(context.Background(), "5551234567", "000000", time.Minute); err == nil {
		t.Fatal("expected error for 502")
	}
}
