package smtp

import (
	"fmt"
	"io"
	"log/slog"
	"mime"
	"strings"

	"github.com/magabrotheeeer/prepaccess/internal/lib/sl"
)

// Client подмножество методов *smtp.Client, нужное для отправки.
type Client interface {
	Mail(from string) error
	Rcpt(to string) error
	Data() (io.WriteCloser, error)
	Quit() error
	Close() error
}

// Dialer открывает аутентифицированную SMTP-сессию.
type Dialer interface {
	Dial() (Client, error)
	From() string
}

// Sender собирает письмо и отправляет его через транспорт.
type Sender struct {
	dialer Dialer
	log    *slog.Logger
}

func NewSender(dialer Dialer, log *slog.Logger) *Sender {
	return &Sender{dialer: dialer, log: log}
}

// Send отправляет текстовое письмо одному получателю.
func (s *Sender) Send(to, subject, body string) error {
	const op = "smtp.Send"
	from := s.dialer.From()

	msg := strings.Join([]string{
		"From: " + from,
		"To: " + to,
		"Subject: " + mime.QEncoding.Encode("utf-8", subject),
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=\"UTF-8\"",
		"",
		body,
	}, "\r\n")

	client, err := s.dialer.Dial()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			s.log.Debug("smtp client close", sl.Err(err))
		}
	}()

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("%s: mail from: %w", op, err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("%s: rcpt to: %w", op, err)
	}
	wc, err := client.Data()
	if err != nil {
		return fmt.Errorf("%s: data: %w", op, err)
	}
	if _, err := wc.Write([]byte(msg)); err != nil {
		_ = wc.Close()
		return fmt.Errorf("%s: write: %w", op, err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("%s: close data: %w", op, err)
	}
	if err := client.Quit(); err != nil {
		return fmt.Errorf("%s: quit: %w", op, err)
	}

	s.log.Info("email sent", slog.String("to", to))
	return nil
}
