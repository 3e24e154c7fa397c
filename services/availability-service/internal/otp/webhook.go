package otp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// WebhookSender posts the verification text to an SMS gateway webhook.
type WebhookSender struct {
	url   string
	token string
	http  *http.Client
}

func NewWebhookSender(url, token string) *WebhookSender {
	return &WebhookSender{
		url:   strings.TrimSpace(url),
		token: strings.TrimSpace(token),
		http:  &http.Client{Timeout: 5 * time.Second},
	}
}

type webhookMessage struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

func (s *WebhookSender) Send(ctx context.Context, phone, code string, ttl time.Duration) error {
	raw, err := json.Marshal(webhookMessage{
		To:   phone,
		Body: fmt.Sprintf("Your booking verification code is %s. It expires in %d minutes.", code, int(ttl.Round(time.Minute)/time.Minute)),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("sms webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sms webhook returned %d", resp.StatusCode)
	}
	return nil
}
