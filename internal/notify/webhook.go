package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"maiguru/internal/config"
)

const defaultWebhookTimeout = 5 * time.Second

// WebhookNotifier posts notifications to an HTTP endpoint.
type WebhookNotifier struct {
	hook   config.WebhookConfig
	filter kindFilter
	client *http.Client
}

func NewWebhookNotifier(hook config.WebhookConfig) *WebhookNotifier {
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	return &WebhookNotifier{
		hook:   hook,
		filter: newKindFilter(hook.Events),
		client: &http.Client{Timeout: timeout},
	}
}

func (w *WebhookNotifier) Notify(ctx context.Context, n Notification) error {
	if !w.filter.match(n.Kind) {
		return nil
	}
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Maiguru-Event", string(n.Kind))
	if strings.TrimSpace(w.hook.Secret) != "" {
		req.Header.Set("X-Maiguru-Secret", w.hook.Secret)
	}
	res, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("webhook %s: status %d: %s", w.hook.URL, res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type kindFilter struct {
	all bool
	set map[Kind]struct{}
}

func newKindFilter(kinds []string) kindFilter {
	set := make(map[Kind]struct{}, len(kinds))
	for _, k := range kinds {
		key := strings.TrimSpace(k)
		if key == "" {
			continue
		}
		set[Kind(key)] = struct{}{}
	}
	if len(set) == 0 {
		return kindFilter{all: true}
	}
	return kindFilter{set: set}
}

func (f kindFilter) match(k Kind) bool {
	if f.all {
		return true
	}
	_, ok := f.set[k]
	return ok
}
