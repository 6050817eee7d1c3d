package transport

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"

	"github.com/badoux/checkmail"
	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
)

type mailer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPTransport delivers the email channel. The generated Message-ID is
// used as the provider id.
type SMTPTransport struct {
	From    string
	Subject string
	Host    string
	dialer  mailer
}

func NewSMTPTransport(host string, port int, username, password, from, subject string) *SMTPTransport {
	dialer := gomail.NewDialer(host, port, username, password)
	dialer.TLSConfig = &tls.Config{ServerName: host}
	return &SMTPTransport{From: from, Subject: subject, Host: host, dialer: dialer}
}

func (t *SMTPTransport) Send(ctx context.Context, to, body string) (SendResult, error) {
	if err := ctx.Err(); err != nil {
		return SendResult{}, err
	}
	if err := checkmail.ValidateFormat(to); err != nil {
		return SendResult{}, fmt.Errorf("%w: %s", ErrInvalidDestination, to)
	}

	id := fmt.Sprintf("<%s@%s>", uuid.NewString(), t.Host)
	m := gomail.NewMessage()
	m.SetHeader("From", t.From)
	m.SetHeader("To", to)
	m.SetHeader("Subject", t.Subject)
	m.SetHeader("Message-ID", id)
	m.SetBody("text/plain", body)

	if err := t.dialer.DialAndSend(m); err != nil {
		return SendResult{}, fmt.Errorf("smtp send: %w", err)
	}

	raw, _ := json.Marshal(map[string]string{"message_id": id, "smtp_host": t.Host})
	return SendResult{ProviderID: id, Raw: raw}, nil
}
