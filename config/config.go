// Package config holds the smtp4dev configuration: server addresses, the
// local message store, logging, and the ordered mailbox list the routing
// engine evaluates. Configuration is read from a TOML file with defaults
// applied first and command-line flags layered on top by the caller.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/frank-leitner/smtp4dev/routing"
)

// Config is the top-level configuration.
type Config struct {
	SMTP    SMTPConfig    `toml:"smtp"`
	API     APIConfig     `toml:"api"`
	Storage StorageConfig `toml:"storage"`
	Logging LoggingConfig `toml:"logging"`

	// Mailboxes is the ordered list of mailbox definitions. Each entry is
	// either the compact legacy form "Name=RecipientPatternExpression" or a
	// JSON object with the fields name, recipients, headerFilters and
	// sourceFilters (field names matched case insensitively). Order
	// matters: the routing engine returns the first match.
	Mailboxes []string `toml:"mailboxes"`
}

// SMTPConfig configures the receiving SMTP server.
type SMTPConfig struct {
	Addr            string       `toml:"addr"`              // listen address, e.g. ":2525"
	Hostname        string       `toml:"hostname"`          // hostname announced in the SMTP banner
	MaxMessageBytes int64        `toml:"max_message_bytes"` // 0 disables the limit
	MaxRecipients   int          `toml:"max_recipients"`
	TLSCertFile     string       `toml:"tls_cert_file"` // enables STARTTLS together with tls_key_file
	TLSKeyFile      string       `toml:"tls_key_file"`
	Users           []UserConfig `toml:"users"` // optional; empty list disables AUTH
	Debug           bool         `toml:"debug"` // log the SMTP dialogue
}

// UserConfig is one credential accepted by the optional AUTH PLAIN support.
// Password is either a plaintext secret or a bcrypt hash ($2a$/$2b$/$2y$
// prefix).
type UserConfig struct {
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// APIConfig configures the HTTP API used to inspect captured messages.
type APIConfig struct {
	Start bool   `toml:"start"`
	Addr  string `toml:"addr"`
}

// StorageConfig configures the local message store.
type StorageConfig struct {
	Path string `toml:"path"` // directory holding the message database

	// MessagesToKeep caps how many messages are retained per mailbox; the
	// oldest messages are pruned when the cap is exceeded. 0 keeps
	// everything.
	MessagesToKeep int `toml:"messages_to_keep"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Output string `toml:"output"` // "stdout", "stderr", "syslog", or a file path
	Format string `toml:"format"` // "console" or "json"
	Level  string `toml:"level"`  // "debug", "info", "warn", "error"
}

// NewDefaultConfig returns the application defaults: a local dev server on
// port 2525 with a single catch-all mailbox.
func NewDefaultConfig() Config {
	return Config{
		SMTP: SMTPConfig{
			Addr:          ":2525",
			Hostname:      "smtp4dev",
			MaxRecipients: 100,
		},
		API: APIConfig{
			Start: true,
			Addr:  ":8080",
		},
		Storage: StorageConfig{
			Path:           "./data",
			MessagesToKeep: 100,
		},
		Logging: LoggingConfig{
			Output: "stderr",
			Format: "console",
			Level:  "info",
		},
		Mailboxes: []string{"Default=*"},
	}
}

// Load reads the TOML file at path over cfg. A missing file is reported via
// the returned bool so the caller can decide whether that is fatal.
func Load(path string, cfg *Config) (found bool, err error) {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if os.IsNotExist(err) {
			return false, err
		}
		return true, fmt.Errorf("parsing configuration file %s: %w", path, err)
	}
	return true, nil
}

// Validate checks the configuration for load-time errors, including every
// mailbox definition. Routing itself never validates; anything malformed
// must be rejected here.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.SMTP.Addr) == "" {
		return fmt.Errorf("smtp.addr must not be empty")
	}
	if c.SMTP.MaxMessageBytes < 0 {
		return fmt.Errorf("smtp.max_message_bytes must not be negative")
	}
	if (c.SMTP.TLSCertFile == "") != (c.SMTP.TLSKeyFile == "") {
		return fmt.Errorf("smtp.tls_cert_file and smtp.tls_key_file must be set together")
	}
	for _, u := range c.SMTP.Users {
		if strings.TrimSpace(u.Username) == "" {
			return fmt.Errorf("smtp.users: username must not be empty")
		}
	}
	if c.API.Start && strings.TrimSpace(c.API.Addr) == "" {
		return fmt.Errorf("api.addr must not be empty when the API is enabled")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("storage.path must not be empty")
	}
	if c.Storage.MessagesToKeep < 0 {
		return fmt.Errorf("storage.messages_to_keep must not be negative")
	}

	if _, err := c.MailboxList(); err != nil {
		return err
	}
	return nil
}

// MailboxList parses the configured mailbox definitions into the immutable
// ordered list consumed by the routing engine.
func (c *Config) MailboxList() ([]routing.Mailbox, error) {
	if len(c.Mailboxes) == 0 {
		return nil, fmt.Errorf("at least one mailbox must be configured")
	}

	mailboxes := make([]routing.Mailbox, 0, len(c.Mailboxes))
	seen := make(map[string]bool, len(c.Mailboxes))
	for i, definition := range c.Mailboxes {
		m, err := ParseMailbox(definition)
		if err != nil {
			return nil, fmt.Errorf("mailbox %d: %w", i+1, err)
		}
		key := strings.ToLower(m.Name)
		if seen[key] {
			return nil, fmt.Errorf("mailbox %d: duplicate name %q", i+1, m.Name)
		}
		seen[key] = true
		mailboxes = append(mailboxes, m)
	}
	return mailboxes, nil
}
