package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"os"
	"strings"

	"github.com/LinkingMx/Law-sub002/internal/config"
)

// MailDispatcher delivers messages over SMTP. Credentials are read from the
// environment variables named in the configuration; when the username is
// empty the connection is unauthenticated (local relay).
type MailDispatcher struct {
	cfg config.MailConfig

	// send is swappable for tests.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewMailDispatcher creates a MailDispatcher from configuration.
func NewMailDispatcher(cfg config.MailConfig) *MailDispatcher {
	return &MailDispatcher{cfg: cfg, send: smtp.SendMail}
}

// Channel implements Dispatcher.
func (d *MailDispatcher) Channel() string { return ChannelMail }

// Send implements Dispatcher.
func (d *MailDispatcher) Send(ctx context.Context, msg Message) error {
	if msg.Recipient == "" {
		return fmt.Errorf("mail: message has no recipient")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", d.cfg.Host, d.cfg.Port)

	var auth smtp.Auth
	if user := os.Getenv(d.cfg.UsernameEnv); user != "" {
		auth = smtp.PlainAuth("", user, os.Getenv(d.cfg.PasswordEnv), d.cfg.Host)
	}

	if err := d.send(addr, auth, d.cfg.From, []string{msg.Recipient}, buildMessage(d.cfg.From, msg)); err != nil {
		return fmt.Errorf("mail: sending to %s: %w", msg.Recipient, err)
	}
	return nil
}

// buildMessage assembles an RFC 5322 message with UTF-8 headers.
func buildMessage(from string, msg Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.Recipient)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)
	return []byte(b.String())
}
