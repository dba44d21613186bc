package mailer

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/noah-isme/academy-portal-api/pkg/config"
)

// SendgridMailer delivers mail through the SendGrid v3 API.
type SendgridMailer struct {
	client        *sendgrid.Client
	from          *sgmail.Email
	subjectPrefix string
}

// NewSendgrid constructs a SendGrid-backed mailer.
func NewSendgrid(cfg config.MailConfig) *SendgridMailer {
	return &SendgridMailer{
		client:        sendgrid.NewSendClient(cfg.SendgridAPIKey),
		from:          sgmail.NewEmail(cfg.FromName, cfg.FromAddress),
		subjectPrefix: cfg.SubjectPrefix,
	}
}

// Send delivers a single message.
func (m *SendgridMailer) Send(ctx context.Context, msg Message) error {
	to := sgmail.NewEmail(msg.ToName, msg.ToAddress)
	mail := sgmail.NewSingleEmail(m.from, m.subjectPrefix+msg.Subject, to, "", msg.HTMLBody)

	resp, err := m.client.SendWithContext(ctx, mail)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sendgrid send: status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}
