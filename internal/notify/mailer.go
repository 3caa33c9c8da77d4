package notify

import (
	"context"
	"fmt"

	"github.com/resend/resend-go/v3"

	"github.com/fleetgate/fleetgate-core/internal/infrastructure/config"
	"github.com/fleetgate/fleetgate-core/internal/infrastructure/logging"
)

// Mailer delivers transactional mail. The auth service depends on this
// interface, not on a concrete provider.
type Mailer interface {
	SendPasswordReset(ctx context.Context, to, resetURL string) error
}

// New builds a Mailer from config. Provider "resend" sends real mail;
// anything else returns the log mailer, which only records that a send
// would have happened. Useful for development and tests.
func New(cfg config.MailConfig, logger *logging.Logger) Mailer {
	if cfg.Provider == "resend" {
		return NewResendMailer(cfg.APIKey, cfg.From)
	}
	return &logMailer{logger: logger.With("component", "notify")}
}

// ResendMailer sends mail through the Resend API.
type ResendMailer struct {
	client *resend.Client
	from   string
}

// NewResendMailer creates a Resend-backed mailer. from must be an address
// under a domain verified in the Resend dashboard.
func NewResendMailer(apiKey, from string) *ResendMailer {
	return &ResendMailer{
		client: resend.NewClient(apiKey),
		from:   from,
	}
}

// SendPasswordReset emails a password reset link.
//
// The raw token rides in the link; only its hash is stored server-side,
// so this mail is the sole copy of the credential.
func (m *ResendMailer) SendPasswordReset(ctx context.Context, to, resetURL string) error {
	html := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body style="margin:0;padding:0;font-family:Arial,Helvetica,sans-serif;background-color:#f4f5f7;">
  <table width="100%%" cellpadding="0" cellspacing="0" style="padding:40px 0;">
    <tr>
      <td align="center">
        <table width="480" cellpadding="0" cellspacing="0" style="background-color:#ffffff;border-radius:8px;padding:40px;">
          <tr>
            <td>
              <h1 style="color:#1a202c;font-size:22px;margin:0 0 8px 0;">FleetGate</h1>
              <h2 style="color:#1a202c;font-size:17px;margin:0 0 24px 0;">Password Reset Request</h2>
              <p style="color:#4a5568;font-size:15px;line-height:1.6;margin:0 0 24px 0;">
                We received a request to reset your password. Click the button below to choose a new one.
                If you didn't ask for this, you can safely ignore this email.
              </p>
              <table cellpadding="0" cellspacing="0" style="margin:0 0 24px 0;">
                <tr>
                  <td style="background-color:#2b6cb0;border-radius:6px;padding:12px 32px;">
                    <a href="%s" style="color:#ffffff;font-size:15px;text-decoration:none;">Reset Password</a>
                  </td>
                </tr>
              </table>
              <p style="color:#a0aec0;font-size:13px;line-height:1.5;margin:0;">
                This link expires in one hour and can be used once.
              </p>
            </td>
          </tr>
        </table>
      </td>
    </tr>
  </table>
</body>
</html>`, resetURL)

	params := &resend.SendEmailRequest{
		From:    m.from,
		To:      []string{to},
		Subject: "Reset your password - FleetGate",
		Html:    html,
	}

	if _, err := m.client.Emails.SendWithContext(ctx, params); err != nil {
		return fmt.Errorf("sending password reset email: %w", err)
	}
	return nil
}

// logMailer logs instead of sending. The reset URL itself is not logged;
// it carries a live credential.
type logMailer struct {
	logger *logging.Logger
}

func (m *logMailer) SendPasswordReset(_ context.Context, to, _ string) error {
	m.logger.Info("password reset email suppressed (log mailer)", "to", to)
	return nil
}
