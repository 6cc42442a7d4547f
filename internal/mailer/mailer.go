// Package mailer sends the transactional emails of the auth flows:
// signup verification codes and password reset links.
//
// Delivery goes through Resend. When email is disabled (local development,
// tests) messages are rendered and logged instead of sent, so the code in a
// log line can be used to finish a signup by hand.
package mailer

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/resend/resend-go/v2"

	"github.com/keralariders/server/internal/config"
	"github.com/keralariders/server/internal/logging"
)

//go:embed templates/*.html
var templateFS embed.FS

// Service renders and delivers emails.
type Service struct {
	config       config.EmailConfig
	templates    *template.Template
	resendClient *resend.Client
	logger       *slog.Logger
	codeTTL      time.Duration
}

type verificationData struct {
	Code             string
	ExpiresInMinutes int
	CurrentYear      int
}

type resetData struct {
	Link             string
	ExpiresInMinutes int
	CurrentYear      int
}

// New creates a mail service. codeTTL is only used to tell the recipient
// how long their code or link stays valid.
func New(cfg config.EmailConfig, codeTTL time.Duration, logger *slog.Logger) (*Service, error) {
	if cfg.Enabled {
		if err := validateEmailAddress(cfg.From); err != nil {
			return nil, fmt.Errorf("mailer: invalid sender address: %w", err)
		}
	}

	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("mailer: parsing templates: %w", err)
	}

	s := &Service{
		config:    cfg,
		templates: tmpl,
		logger:    logger.With(slog.String("component", "mailer")),
		codeTTL:   codeTTL,
	}
	if cfg.Enabled {
		s.resendClient = resend.NewClient(cfg.ResendAPIKey)
	}
	return s, nil
}

// SendVerificationCode mails the signup OTP.
func (s *Service) SendVerificationCode(ctx context.Context, to, code string) error {
	body, err := s.render("verification.html", verificationData{
		Code:             code,
		ExpiresInMinutes: int(s.codeTTL.Minutes()),
		CurrentYear:      time.Now().Year(),
	})
	if err != nil {
		return err
	}
	return s.deliver(ctx, to, "Your Kerala Riders verification code", body,
		slog.String("code", logging.MaskToken(code)))
}

// SendPasswordReset mails a link to the reset-password page.
func (s *Service) SendPasswordReset(ctx context.Context, to, link string) error {
	if err := validateLink(link); err != nil {
		return fmt.Errorf("mailer: invalid reset link: %w", err)
	}
	body, err := s.render("password_reset.html", resetData{
		Link:             link,
		ExpiresInMinutes: int(s.codeTTL.Minutes()),
		CurrentYear:      time.Now().Year(),
	})
	if err != nil {
		return err
	}
	return s.deliver(ctx, to, "Reset your Kerala Riders password", body)
}

func (s *Service) deliver(ctx context.Context, to, subject, htmlBody string, attrs ...any) error {
	if err := validateEmailAddress(to); err != nil {
		return fmt.Errorf("mailer: invalid recipient: %w", err)
	}

	if !s.config.Enabled {
		s.logger.Info("email disabled, not sending",
			append([]any{slog.String("to", to), slog.String("subject", subject)}, attrs...)...)
		return nil
	}

	if err := s.sendViaResend(ctx, to, subject, htmlBody); err != nil {
		return fmt.Errorf("mailer: %w", err)
	}
	return nil
}

func (s *Service) render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("mailer: executing template %s: %w", name, err)
	}
	return buf.String(), nil
}

// validateEmailAddress rejects malformed addresses and header injection.
func validateEmailAddress(addr string) error {
	parsed, err := mail.ParseAddress(addr)
	if err != nil {
		return fmt.Errorf("invalid email format: %w", err)
	}
	if strings.ContainsAny(parsed.Address, "\r\n") {
		return fmt.Errorf("invalid email address: contains newline characters")
	}
	return nil
}

// validateLink only lets http(s) URLs with a host into an email body.
func validateLink(link string) error {
	u, err := url.Parse(link)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme: %s", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
