package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Discord sends reports via Discord webhook.
type Discord struct {
	client     *http.Client
	webhookURL string
}

// NewDiscord creates a new Discord notifier.
func NewDiscord(webhookURL string) *Discord {
	return &Discord{
		client:     &http.Client{Timeout: 10 * time.Second},
		webhookURL: webhookURL,
	}
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Send(ctx context.Context, r *Report) error {
	var lines []string
	limit := 5
	if len(r.Queries) < limit {
		limit = len(r.Queries)
	}
	for _, q := range r.Queries[:limit] {
		lines = append(lines, "• "+q)
	}
	if extra := len(r.Queries) - limit; extra > 0 {
		lines = append(lines, fmt.Sprintf("… and %d more", extra))
	}

	color := 0x2ECC71
	desc := r.summary()
	if r.Status != StatusSuccess {
		color = 0xE74C3C
		desc = fmt.Sprintf("%s\n**Error:** %s", desc, r.Error)
	}
	if len(lines) > 0 {
		desc = desc + "\n\n" + strings.Join(lines, "\n")
	}

	embed := map[string]any{
		"title":       r.headline(),
		"description": desc,
		"color":       color,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	}

	payload := map[string]any{
		"embeds": []map[string]any{embed},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("send discord webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("discord webhook status %d", resp.StatusCode)
	}

	return nil
}
