// Package alert delivers end-of-run reports to configured webhook
// destinations. Delivery is best effort; a failed notifier never
// changes the run's outcome.
package alert

import (
	"context"
	"errors"
	"fmt"
)

// Run statuses carried in a report.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Report is the data sent to alert destinations after a run.
type Report struct {
	Date      string   `json:"date"`
	Status    string   `json:"status"`
	Generated int      `json:"generated"`
	Skipped   int      `json:"skipped"`
	Failed    int      `json:"failed"`
	Queries   []string `json:"queries,omitempty"`
	Error     string   `json:"error,omitempty"`
}

func (r *Report) headline() string {
	return fmt.Sprintf("Story run %s: %s", r.Date, r.Status)
}

func (r *Report) summary() string {
	return fmt.Sprintf("%d generated, %d skipped, %d failed", r.Generated, r.Skipped, r.Failed)
}

// Notifier delivers reports to a specific destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, r *Report) error
}

// Manager broadcasts reports to all registered notifiers.
type Manager struct {
	notifiers []Notifier
}

// NewManager creates a new alert manager.
func NewManager(notifiers []Notifier) *Manager {
	return &Manager{notifiers: notifiers}
}

// FromSettings builds a manager from the optional destination URLs.
// Empty URLs are skipped.
func FromSettings(webhookURL, webhookSecret, discordURL, slackURL string) *Manager {
	var notifiers []Notifier
	if webhookURL != "" {
		notifiers = append(notifiers, NewWebhook(webhookURL, webhookSecret))
	}
	if discordURL != "" {
		notifiers = append(notifiers, NewDiscord(discordURL))
	}
	if slackURL != "" {
		notifiers = append(notifiers, NewSlack(slackURL))
	}
	return NewManager(notifiers)
}

// HasNotifiers returns true if at least one notifier is configured.
func (m *Manager) HasNotifiers() bool {
	return len(m.notifiers) > 0
}

// Broadcast sends a report to all registered notifiers.
func (m *Manager) Broadcast(ctx context.Context, r *Report) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, r); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
		}
	}
	return errors.Join(errs...)
}
