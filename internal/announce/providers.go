package announce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Provider delivers one announcement to whatever the venue has wired up:
// a PA bridge, a signage webhook, or just the log in development.
type Provider interface {
	Send(ctx context.Context, message string) error
}

// NewProvider maps a config value to a provider. Unknown kinds fall back
// to logging so a misconfigured deployment still shows announcements
// somewhere.
func NewProvider(kind, webhookToken string, log *zap.Logger) Provider {
	switch {
	case kind == "" || kind == "log":
		return logProvider{log: log}
	case kind == "noop":
		return noopProvider{}
	case strings.HasPrefix(kind, "http://") || strings.HasPrefix(kind, "https://"):
		return webhookProvider{url: kind, token: webhookToken}
	default:
		return logProvider{log: log}
	}
}

type logProvider struct {
	log *zap.Logger
}

func (p logProvider) Send(ctx context.Context, message string) error {
	p.log.Info("announce", zap.String("message", message))
	return nil
}

type noopProvider struct{}

func (noopProvider) Send(ctx context.Context, message string) error {
	return nil
}

type webhookProvider struct {
	url   string
	token string
}

func (p webhookProvider) Send(ctx context.Context, message string) error {
	body, err := json.Marshal(map[string]string{"message": message})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errors.New("provider rejected request")
	}
	return nil
}
