package mailer

import (
	"context"

	"go.uber.org/zap"

	"github.com/noah-isme/academy-portal-api/pkg/config"
)

// Message is a single outbound mail.
type Message struct {
	ToName    string
	ToAddress string
	Subject   string
	HTMLBody  string
}

// Mailer delivers a message to one recipient. Delivery is best-effort:
// callers log failures and never propagate them into request outcomes.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// New selects a mailer implementation from configuration. Without an
// API key (or with mail disabled) the console mailer is used so that
// development environments still show outbound traffic.
func New(cfg config.MailConfig, logger *zap.Logger) Mailer {
	if cfg.Enabled && cfg.SendgridAPIKey != "" {
		return NewSendgrid(cfg)
	}
	return NewConsole(logger)
}
