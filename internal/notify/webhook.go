package notify

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// WebhookNotifier POSTs events as JSON to a configured URL. An empty event
// filter subscribes to everything.
type WebhookNotifier struct {
	Name   string
	URL    string
	Events []string

	client *http.Client
}

// NewWebhook creates a webhook notifier.
func NewWebhook(name, url string, events []string) *WebhookNotifier {
	return &WebhookNotifier{
		Name:   name,
		URL:    url,
		Events: events,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Notify delivers the event, dropping it silently when filtered out.
// Delivery failures are logged and never propagate.
func (w *WebhookNotifier) Notify(event Event) {
	if !w.wants(event.Type) {
		return
	}

	payload, err := json.Marshal(map[string]string{
		"type":    event.Type,
		"user_id": event.UserID,
		"task_id": event.TaskID,
		"message": event.Message,
	})
	if err != nil {
		return
	}

	resp, err := w.client.Post(w.URL, "application/json", bytes.NewReader(payload))
	if err != nil {
		slog.Warn("webhook delivery failed", "webhook", w.Name, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		slog.Warn("webhook rejected event", "webhook", w.Name, "status", resp.StatusCode)
	}
}

func (w *WebhookNotifier) wants(eventType string) bool {
	if len(w.Events) == 0 {
		return true
	}
	for _, e := range w.Events {
		if e == eventType {
			return true
		}
	}
	return false
}
