// Package notify delivers execution lifecycle events: started, finished,
// case failed, interrupted. Delivery failures are logged and never affect
// the execution outcome.
package notify

import (
	"fmt"
	"net/smtp"
	"os"

	"case-bench/internal/logging"
)

// Notifier receives one event as a short title and body.
type Notifier interface {
	Notify(title, body string)
}

// LogNotifier writes events to the log. The default when no mail
// configuration is present.
type LogNotifier struct{}

func (LogNotifier) Notify(title, body string) {
	logging.GetLogger().WithField("event", title).Info(body)
}

// SMTPNotifier mails each event.
type SMTPNotifier struct {
	Host     string
	Port     string
	Username string
	Password string
	Sender   string
	Receiver string
}

func (n *SMTPNotifier) Notify(title, body string) {
	message := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		n.Sender, n.Receiver, title, body)
	auth := smtp.PlainAuth("", n.Username, n.Password, n.Host)
	addr := n.Host + ":" + n.Port
	if err := smtp.SendMail(addr, auth, n.Sender, []string{n.Receiver}, []byte(message)); err != nil {
		logging.GetLogger().WithError(err).Warn("Failed to send notification mail")
	}
}

// FromEnv selects the notifier from SMTP_* environment variables, falling
// back to log delivery when the mail host is unset.
func FromEnv() Notifier {
	host := os.Getenv("SMTP_HOST")
	if host == "" {
		return LogNotifier{}
	}
	port := os.Getenv("SMTP_PORT")
	if port == "" {
		port = "587"
	}
	return &SMTPNotifier{
		Host:     host,
		Port:     port,
		Username: os.Getenv("SMTP_USERNAME"),
		Password: os.Getenv("SMTP_PASSWORD"),
		Sender:   os.Getenv("SMTP_SENDER"),
		Receiver: os.Getenv("SMTP_RECEIVER"),
	}
}
