package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/resend/resend-go/v2"
)

// sendViaResend sends one email through the Resend API. Rate limit errors
// are reported with their reset window and not retried.
func (s *Service) sendViaResend(ctx context.Context, to, subject, htmlBody string) error {
	if s.resendClient == nil {
		return fmt.Errorf("resend client not initialized")
	}

	params := &resend.SendEmailRequest{
		From:    s.config.From,
		To:      []string{to},
		Subject: subject,
		Html:    htmlBody,
	}

	sent, err := s.resendClient.Emails.SendWithContext(ctx, params)
	if err != nil {
		var rateLimitErr *resend.RateLimitError
		if errors.As(err, &rateLimitErr) {
			s.logger.Warn("resend rate limit exceeded",
				slog.String("limit", rateLimitErr.Limit),
				slog.String("remaining", rateLimitErr.Remaining),
				slog.String("reset", rateLimitErr.Reset),
			)
			return fmt.Errorf("email rate limit exceeded (limit: %s, resets in: %s seconds): %w",
				rateLimitErr.Limit, rateLimitErr.Reset, err)
		}
		return fmt.Errorf("resend API error: %w", err)
	}

	s.logger.Info("email sent",
		slog.String("email_id", sent.Id),
		slog.String("to", to),
		slog.String("subject", subject),
	)
	return nil
}
