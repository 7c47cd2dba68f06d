package smtpserver

import (
	"bytes"
	"crypto/subtle"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"golang.org/x/crypto/bcrypt"

	"github.com/frank-leitner/smtp4dev/helpers"
	"github.com/frank-leitner/smtp4dev/logger"
	"github.com/frank-leitner/smtp4dev/pkg/metrics"
	"github.com/frank-leitner/smtp4dev/routing"
	"github.com/frank-leitner/smtp4dev/server/idgen"
	"github.com/frank-leitner/smtp4dev/store"
)

// Session is one SMTP connection. go-smtp serializes commands per
// connection, so the fields need no locking.
type Session struct {
	backend       *Backend
	conn          *smtp.Conn
	id            string
	remoteIP      string
	authenticated bool

	sender     string
	recipients []string
}

// Log writes a structured log line tagged with the session identity.
func (s *Session) Log(msg string, args ...any) {
	fields := []any{"session", s.id, "remote", s.remoteIP}
	logger.Info(msg, append(fields, args...)...)
}

func (s *Session) requiresAuth() bool {
	return len(s.backend.users) > 0
}

// AuthMechanisms implements smtp.AuthSession. Only advertised when users
// are configured.
func (s *Session) AuthMechanisms() []string {
	if !s.requiresAuth() {
		return nil
	}
	return []string{sasl.Plain}
}

// Auth implements smtp.AuthSession.
func (s *Session) Auth(mech string) (sasl.Server, error) {
	if mech != sasl.Plain {
		return nil, smtp.ErrAuthUnsupported
	}
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if identity != "" && identity != username {
			return fmt.Errorf("identities not supported")
		}
		if !s.backend.verifyCredentials(username, password) {
			s.Log("authentication failed", "username", username)
			metrics.CommandsTotal.WithLabelValues("AUTH", "failure").Inc()
			return &smtp.SMTPError{
				Code:         535,
				EnhancedCode: smtp.EnhancedCode{5, 7, 8},
				Message:      "Authentication credentials invalid",
			}
		}
		s.authenticated = true
		s.Log("authentication succeeded", "username", username)
		metrics.CommandsTotal.WithLabelValues("AUTH", "success").Inc()
		return nil
	}), nil
}

// verifyCredentials checks a username/password pair against the configured
// users. Stored passwords are bcrypt hashes or plaintext secrets.
func (b *Backend) verifyCredentials(username, password string) bool {
	for _, u := range b.users {
		if u.Username != username {
			continue
		}
		if strings.HasPrefix(u.Password, "$2") {
			return bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)) == nil
		}
		return subtle.ConstantTimeCompare([]byte(u.Password), []byte(password)) == 1
	}
	return false
}

// Mail handles MAIL FROM.
func (s *Session) Mail(from string, opts *smtp.MailOptions) error {
	start := time.Now()
	defer func() {
		metrics.CommandDuration.WithLabelValues("MAIL").Observe(time.Since(start).Seconds())
	}()

	if s.requiresAuth() && !s.authenticated {
		metrics.CommandsTotal.WithLabelValues("MAIL", "failure").Inc()
		return &smtp.SMTPError{
			Code:         530,
			EnhancedCode: smtp.EnhancedCode{5, 7, 0},
			Message:      "Authentication required",
		}
	}

	s.sender = from
	s.recipients = s.recipients[:0]
	if s.backend.debug {
		s.Log("MAIL FROM", "sender", from)
	}
	metrics.CommandsTotal.WithLabelValues("MAIL", "success").Inc()
	return nil
}

// Rcpt handles RCPT TO. Every recipient is accepted; routing happens at
// DATA time once the headers are available.
func (s *Session) Rcpt(to string, opts *smtp.RcptOptions) error {
	start := time.Now()
	defer func() {
		metrics.CommandDuration.WithLabelValues("RCPT").Observe(time.Since(start).Seconds())
	}()

	s.recipients = append(s.recipients, to)
	if s.backend.debug {
		s.Log("RCPT TO", "recipient", to)
	}
	metrics.CommandsTotal.WithLabelValues("RCPT", "success").Inc()
	return nil
}

// Data reads the message body, routes it per recipient and stores every
// matched copy. Recipients without a matching mailbox are dropped silently;
// a development capture server never bounces.
func (s *Session) Data(r io.Reader) error {
	start := time.Now()
	defer func() {
		metrics.CommandDuration.WithLabelValues("DATA").Observe(time.Since(start).Seconds())
	}()

	data, err := io.ReadAll(r)
	if err != nil {
		metrics.CommandsTotal.WithLabelValues("DATA", "failure").Inc()
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 3, 0},
			Message:      "Error reading message data",
		}
	}
	metrics.MessageSizeBytes.Observe(float64(len(data)))

	entity, parseErr := helpers.ParseMessage(bytes.NewReader(data))
	if parseErr != nil {
		// Routing proceeds with no headers; the raw bytes are kept as-is.
		s.Log("failed to parse message, routing without headers", "error", parseErr)
	}
	headers := routing.NewHeaders(helpers.HeaderMap(entity))
	subject, _ := headers.Get("Subject")

	clientHostname := s.conn.Hostname()
	receivedAt := time.Now().UTC()
	contentHash := helpers.HashContent(data)

	stored := 0
	for _, recipient := range s.recipients {
		routeStart := time.Now()
		mailbox := routing.FindMailboxForRecipient(recipient, s.backend.mailboxes, clientHostname, s.remoteIP, headers)
		metrics.RoutingDuration.Observe(time.Since(routeStart).Seconds())

		if mailbox == nil {
			metrics.MessagesUnmatched.Inc()
			s.Log("no mailbox matched, dropping", "recipient", recipient, "client_hostname", clientHostname)
			continue
		}

		msg := &store.Message{
			ID:             idgen.New(),
			Mailbox:        mailbox.Name,
			Sender:         s.sender,
			Recipient:      recipient,
			Subject:        subject,
			ClientHostname: clientHostname,
			ClientIP:       s.remoteIP,
			ReceivedAt:     receivedAt,
			Size:           int64(len(data)),
			ContentHash:    contentHash,
			Data:           data,
		}
		if err := s.backend.store.Save(s.backend.appCtx, msg); err != nil {
			logger.Error("Failed to store message", "session", s.id, "mailbox", mailbox.Name, "error", err)
			metrics.CommandsTotal.WithLabelValues("DATA", "failure").Inc()
			return &smtp.SMTPError{
				Code:         451,
				EnhancedCode: smtp.EnhancedCode{4, 3, 0},
				Message:      "Temporary failure storing message",
			}
		}
		metrics.MessagesRouted.WithLabelValues(mailbox.Name).Inc()
		s.Log("message stored", "id", msg.ID, "mailbox", mailbox.Name, "recipient", recipient, "size", msg.Size)
		stored++
	}

	if stored == 0 && len(s.recipients) > 0 {
		s.Log("message dropped, no recipient matched a mailbox", "sender", s.sender, "recipients", len(s.recipients))
	}
	metrics.CommandsTotal.WithLabelValues("DATA", "success").Inc()
	return nil
}

// Reset clears the current envelope.
func (s *Session) Reset() {
	s.sender = ""
	s.recipients = nil
}

// Logout is called when the connection closes.
func (s *Session) Logout() error {
	s.backend.activeConnections.Add(-1)
	metrics.ConnectionsCurrent.Dec()
	if s.backend.debug {
		s.Log("connection closed")
	}
	return nil
}
