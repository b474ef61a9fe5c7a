// Package notification provides alert delivery to external channels
// (Telegram, Discord, webhooks, etc.) for trading events.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier is a simple notifier that logs alerts (useful for development).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// MultiNotifier fans one alert out to several backends. Send errors are
// logged per backend and the first one is returned.
type MultiNotifier struct {
	backends []Notifier
}

// NewMultiNotifier creates a fan-out notifier.
func NewMultiNotifier(backends ...Notifier) *MultiNotifier {
	return &MultiNotifier{backends: backends}
}

func (m *MultiNotifier) Send(ctx context.Context, alert Alert) error {
	var first error
	for _, b := range m.backends {
		if err := b.Send(ctx, alert); err != nil {
			log.Printf("[notify] backend %T failed: %v", b, err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// postJSON marshals payload, POSTs it to url with a JSON content type, and
// returns the response status code. The body is discarded.
func postJSON(ctx context.Context, client *http.Client, url string, payload interface{}) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

// FromEnv builds a notifier from TELEGRAM_BOT_TOKEN / TELEGRAM_CHAT_ID and
// WEBHOOK_URL. The log backend is always included, so alerts are never
// silently lost when no external channel is configured.
func FromEnv(getenv func(string) string) Notifier {
	backends := []Notifier{NewLogNotifier()}
	if token, chat := getenv("TELEGRAM_BOT_TOKEN"), getenv("TELEGRAM_CHAT_ID"); token != "" && chat != "" {
		backends = append(backends, NewTelegramNotifier(token, chat))
	}
	if url := getenv("WEBHOOK_URL"); url != "" {
		backends = append(backends, NewWebhookNotifier(url))
	}
	if len(backends) == 1 {
		return backends[0]
	}
	return NewMultiNotifier(backends...)
}
