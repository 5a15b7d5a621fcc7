// Package notify dispatches push notifications for lobby activity.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/feelings/internal/config"
)

// ErrPermissionDenied is returned when notifications may not be delivered.
var ErrPermissionDenied = errors.New("notification permission denied")

// Notifier sends a notification with a title and body.
type Notifier interface {
	Dispatch(ctx context.Context, title, body string) error
}

// PermissionRequester is implemented by notifiers that need consent before
// delivering anything.
type PermissionRequester interface {
	RequestPermission(ctx context.Context) error
}

// Log writes notifications to the logger.
type Log struct {
	log *zerolog.Logger
}

// NewLog creates a notifier that logs every dispatch.
func NewLog(logger *zerolog.Logger) *Log {
	return &Log{log: logger}
}

// Dispatch logs the notification.
func (l *Log) Dispatch(_ context.Context, title, body string) error {
	l.log.Info().Str("title", title).Str("body", body).Msg("notification")
	return nil
}

// RequestPermission always succeeds.
func (l *Log) RequestPermission(context.Context) error {
	return nil
}

// Nop drops notifications and refuses permission.
type Nop struct{}

func (Nop) Dispatch(context.Context, string, string) error { return nil }

func (Nop) RequestPermission(context.Context) error { return ErrPermissionDenied }

// FromConfig builds the notifier selected by cfg.Mode.
func FromConfig(cfg config.NotifyConfig, logger *zerolog.Logger) (Notifier, error) {
	switch cfg.Mode {
	case "", "log":
		return NewLog(logger), nil
	case "webhook":
		return NewWebhook(cfg.WebhookURL, &http.Client{Timeout: cfg.Timeout}, logger), nil
	case "none":
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("unknown notify mode %q", cfg.Mode)
	}
}
