// Package smtpserver implements the receiving SMTP server. Every message
// accepted on the wire is routed per envelope recipient through the routing
// engine and stored in the matched mailbox; recipients that match no
// mailbox are counted and dropped, never bounced.
package smtpserver

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/emersion/go-smtp"

	"github.com/frank-leitner/smtp4dev/config"
	"github.com/frank-leitner/smtp4dev/logger"
	"github.com/frank-leitner/smtp4dev/pkg/metrics"
	"github.com/frank-leitner/smtp4dev/routing"
	"github.com/frank-leitner/smtp4dev/server/idgen"
	"github.com/frank-leitner/smtp4dev/store"
)

// Backend accepts SMTP sessions and dispatches received messages into the
// store. The mailbox list is read-only for the lifetime of the backend.
type Backend struct {
	addr      string
	hostname  string
	appCtx    context.Context
	store     *store.Store
	mailboxes []routing.Mailbox
	users     []config.UserConfig
	server    *smtp.Server
	debug     bool

	totalConnections  atomic.Int64
	activeConnections atomic.Int64
}

// Options holds the tunables of the SMTP server.
type Options struct {
	Debug           bool
	MaxMessageBytes int64
	MaxRecipients   int
	TLSCertFile     string // enables STARTTLS together with TLSKeyFile
	TLSKeyFile      string
	Users           []config.UserConfig // non-empty list requires AUTH PLAIN
}

// New creates the SMTP backend listening on addr once Start is called.
func New(appCtx context.Context, hostname, addr string, st *store.Store, mailboxes []routing.Mailbox, options Options) (*Backend, error) {
	b := &Backend{
		addr:      addr,
		hostname:  hostname,
		appCtx:    appCtx,
		store:     st,
		mailboxes: mailboxes,
		users:     options.Users,
		debug:     options.Debug,
	}

	s := smtp.NewServer(b)
	s.Addr = addr
	s.Domain = hostname
	s.MaxMessageBytes = options.MaxMessageBytes
	s.MaxRecipients = options.MaxRecipients
	s.ReadTimeout = 5 * time.Minute
	s.WriteTimeout = 5 * time.Minute
	// A capture server has no secrets worth protecting; plaintext AUTH on
	// an unencrypted connection is acceptable here.
	s.AllowInsecureAuth = true

	if options.TLSCertFile != "" && options.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(options.TLSCertFile, options.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading TLS certificate: %w", err)
		}
		s.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
			ServerName:   hostname,
		}
	}

	b.server = s
	return b, nil
}

// Start runs the server until ctx is canceled; it reports fatal listen
// errors on errChan.
func (b *Backend) Start(ctx context.Context, errChan chan<- error) {
	go func() {
		<-ctx.Done()
		logger.Info("Shutting down SMTP server")
		if err := b.server.Close(); err != nil {
			logger.Error("Error closing SMTP server", "error", err)
		}
	}()

	logger.Info("SMTP server listening", "addr", b.addr, "hostname", b.hostname)
	if err := b.server.ListenAndServe(); err != nil && !errors.Is(err, smtp.ErrServerClosed) && ctx.Err() == nil {
		errChan <- fmt.Errorf("SMTP server failed: %w", err)
	}
}

// Serve accepts connections on an existing listener; used by tests.
func (b *Backend) Serve(l net.Listener) error {
	return b.server.Serve(l)
}

// Close shuts the server down immediately.
func (b *Backend) Close() error {
	return b.server.Close()
}

// NewSession implements smtp.Backend.
func (b *Backend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	b.totalConnections.Add(1)
	b.activeConnections.Add(1)
	metrics.ConnectionsTotal.Inc()
	metrics.ConnectionsCurrent.Inc()

	remoteIP := ""
	if addr := c.Conn().RemoteAddr(); addr != nil {
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			remoteIP = addr.String()
		} else {
			remoteIP = host
		}
	}

	session := &Session{
		backend:  b,
		conn:     c,
		id:       idgen.New(),
		remoteIP: remoteIP,
	}
	session.Log("connection accepted")
	return session, nil
}

// GetTotalConnections returns the number of connections accepted so far.
func (b *Backend) GetTotalConnections() int64 {
	return b.totalConnections.Load()
}

// GetActiveConnections returns the number of currently open connections.
func (b *Backend) GetActiveConnections() int64 {
	return b.activeConnections.Load()
}
