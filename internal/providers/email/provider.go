package email

import (
	"context"
	"errors"
)

var ErrNotConfigured = errors.New("email_not_configured")

type Message struct {
	To       []string
	Subject  string
	HTMLBody string
}

type Provider interface {
	Send(ctx context.Context, msg Message) error
	// Render executes an embedded template by name.
	Render(templateName string, data any) (string, error)
}

// NoOpProvider accepts nothing; outbox rows stay pending until SMTP is configured.
type NoOpProvider struct{}

func (NoOpProvider) Send(ctx context.Context, msg Message) error {
	return ErrNotConfigured
}

func (NoOpProvider) Render(templateName string, data any) (string, error) {
	return render(templateName, data)
}
