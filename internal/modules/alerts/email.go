package alerts

import (
	"context"
	"fmt"
	"html"
	"net/smtp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stkpulse/stackwatch/internal/metrics"
)

// EmailConfig holds SMTP delivery settings.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// sendFunc matches smtp.SendMail; swapped out in tests.
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailService delivers alert events over SMTP and records the outcome
// on the history entry. There is no retry queue: a failed email marks
// the entry failed and the webhook channel remains the durable path.
type EmailService struct {
	cfg     EmailConfig
	history *Repository
	send    sendFunc
	log     zerolog.Logger
}

// NewEmailService creates an SMTP alert sender.
func NewEmailService(cfg EmailConfig, history *Repository, log zerolog.Logger) *EmailService {
	return &EmailService{
		cfg:     cfg,
		history: history,
		send:    smtp.SendMail,
		log:     log.With().Str("component", "email").Logger(),
	}
}

// Deliver sends the alert email and marks the history entry sent or
// failed.
func (s *EmailService) Deliver(ctx context.Context, event *Event, recipient string) {
	msg := s.buildMessage(event, recipient)

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	if err := s.send(addr, auth, s.cfg.From, []string{recipient}, msg); err != nil {
		s.log.Warn().Err(err).
			Str("alert_id", event.AlertID).
			Msg("Email delivery failed")
		metrics.EmailDeliveriesTotal.WithLabelValues("failed").Inc()
		s.setStatus(ctx, event.HistoryID, "failed")
		return
	}

	metrics.EmailDeliveriesTotal.WithLabelValues("sent").Inc()
	s.setStatus(ctx, event.HistoryID, "sent")
}

func (s *EmailService) setStatus(ctx context.Context, historyID int64, status string) {
	if err := s.history.SetEmailStatus(ctx, historyID, status); err != nil {
		s.log.Warn().Err(err).Int64("history_id", historyID).Msg("Failed to record email status")
	}
}

// buildMessage renders the alert as a small HTML email.
func (s *EmailService) buildMessage(event *Event, recipient string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", recipient)
	fmt.Fprintf(&b, "Subject: Alert: %s\r\n", event.AlertName)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")

	fmt.Fprintf(&b, "<html><body><h2>%s</h2>", html.EscapeString(event.AlertName))
	fmt.Fprintf(&b, "<p><strong>Triggered at:</strong> %s</p>", event.TriggeredAt.Format(time.RFC1123))
	if event.TxID != "" {
		fmt.Fprintf(&b, "<p><strong>Transaction:</strong> <code>%s</code></p>", html.EscapeString(event.TxID))
	}
	if event.BlockHeight > 0 {
		fmt.Fprintf(&b, "<p><strong>Block height:</strong> %d</p>", event.BlockHeight)
	}
	if event.Detail != "" {
		fmt.Fprintf(&b, "<pre>%s</pre>", html.EscapeString(event.Detail))
	}
	b.WriteString("</body></html>\r\n")

	return []byte(b.String())
}
