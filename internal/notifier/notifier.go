// Package notifier provides notification channel implementations.
package notifier

import (
	"context"
	"fmt"

	"github.com/ramboxcrty/GameRMCR/internal/config"
	"github.com/ramboxcrty/GameRMCR/internal/model"
)

// Notifier is the interface for sending session reports to external channels.
type Notifier interface {
	// Send sends the report to the notification channel.
	Send(ctx context.Context, report *model.SessionReport) error

	// Name returns the name of the notifier.
	Name() string
}

// New builds the notifier selected by cfg.Type.
func New(cfg *config.NotifierConfig) (Notifier, error) {
	switch cfg.Type {
	case "", "console":
		return NewConsoleNotifier(nil), nil
	case "webhook":
		return NewWebhookNotifier(cfg)
	}
	return nil, fmt.Errorf("unknown notifier type %q", cfg.Type)
}
