package smtp

import (
	"fmt"
	"net/smtp"

	"github.com/go-identity-api/internal/config"
)

// Mailer sends templated emails. The payload is the rendered substitution
// body for the named template; the surrounding service owns the templates.
type Mailer interface {
	SendEmail(to, subject, templateID, payload string) error
}

type mailer struct {
	host     string
	port     string
	from     string
	username string
	password string
}

func NewMailer(cfg *config.Config) Mailer {
	return &mailer{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		from:     cfg.SMTPFrom,
		username: cfg.SMTPUsername,
		password: cfg.SMTPPassword,
	}
}

func (m *mailer) SendEmail(to, subject, templateID, payload string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nX-Template-ID: %s\r\n\r\n%s",
		m.from, to, subject, templateID, payload)
	addr := fmt.Sprintf("%s:%s", m.host, m.port)

	var auth smtp.Auth
	if m.username != "" {
		auth = smtp.PlainAuth("", m.username, m.password, m.host)
	}

	return smtp.SendMail(addr, auth, m.from, []string{to}, []byte(msg))
}
