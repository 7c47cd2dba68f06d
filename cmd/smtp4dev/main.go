// Command smtp4dev runs a development SMTP capture server. It accepts mail
// from applications under test, routes every recipient into a configured
// mailbox and exposes the captured messages over an HTTP API.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/frank-leitner/smtp4dev/config"
	"github.com/frank-leitner/smtp4dev/logger"
	"github.com/frank-leitner/smtp4dev/server/httpapi"
	"github.com/frank-leitner/smtp4dev/server/smtpserver"
	"github.com/frank-leitner/smtp4dev/store"
)

func main() {
	// Initialize with application defaults; the TOML file overrides them and
	// explicitly set command-line flags override both.
	cfg := config.NewDefaultConfig()

	configPath := flag.String("config", "smtp4dev.toml", "Path to TOML configuration file")

	fSMTPAddr := flag.String("smtpaddr", cfg.SMTP.Addr, "SMTP listen address (overrides config)")
	fHostname := flag.String("hostname", cfg.SMTP.Hostname, "Hostname announced in the SMTP banner (overrides config)")
	fMaxMessageBytes := flag.Int64("maxmessagebytes", cfg.SMTP.MaxMessageBytes, "Maximum message size in bytes, 0 for unlimited (overrides config)")
	fTLSCert := flag.String("tlscert", cfg.SMTP.TLSCertFile, "TLS certificate enabling STARTTLS (overrides config)")
	fTLSKey := flag.String("tlskey", cfg.SMTP.TLSKeyFile, "TLS key enabling STARTTLS (overrides config)")
	fDebug := flag.Bool("debug", cfg.SMTP.Debug, "Log the SMTP dialogue (overrides config)")

	fStartAPI := flag.Bool("api", cfg.API.Start, "Start the HTTP API server (overrides config)")
	fAPIAddr := flag.String("apiaddr", cfg.API.Addr, "HTTP API listen address (overrides config)")

	fStoragePath := flag.String("storagepath", cfg.Storage.Path, "Directory holding the message database (overrides config)")
	fMessagesToKeep := flag.Int("messagestokeep", cfg.Storage.MessagesToKeep, "Messages retained per mailbox, 0 for unlimited (overrides config)")

	fLogOutput := flag.String("logoutput", cfg.Logging.Output, "Log output: 'stdout', 'stderr', 'syslog' or a file path (overrides config)")
	fLogFormat := flag.String("logformat", cfg.Logging.Format, "Log format: 'console' or 'json' (overrides config)")
	fLogLevel := flag.String("loglevel", cfg.Logging.Level, "Log level: 'debug', 'info', 'warn', 'error' (overrides config)")

	flag.Parse()

	if found, err := config.Load(*configPath, &cfg); err != nil {
		if !found {
			if isFlagSet("config") {
				log.Fatalf("Specified configuration file '%s' not found: %v", *configPath, err)
			}
			log.Printf("WARNING: Default configuration file '%s' not found. Using application defaults and command-line flags.", *configPath)
		} else {
			log.Fatalf("Error loading configuration: %v", err)
		}
	} else {
		log.Printf("Loaded configuration from %s", *configPath)
	}

	// Explicit flags win over the config file.
	if isFlagSet("smtpaddr") {
		cfg.SMTP.Addr = *fSMTPAddr
	}
	if isFlagSet("hostname") {
		cfg.SMTP.Hostname = *fHostname
	}
	if isFlagSet("maxmessagebytes") {
		cfg.SMTP.MaxMessageBytes = *fMaxMessageBytes
	}
	if isFlagSet("tlscert") {
		cfg.SMTP.TLSCertFile = *fTLSCert
	}
	if isFlagSet("tlskey") {
		cfg.SMTP.TLSKeyFile = *fTLSKey
	}
	if isFlagSet("debug") {
		cfg.SMTP.Debug = *fDebug
	}
	if isFlagSet("api") {
		cfg.API.Start = *fStartAPI
	}
	if isFlagSet("apiaddr") {
		cfg.API.Addr = *fAPIAddr
	}
	if isFlagSet("storagepath") {
		cfg.Storage.Path = *fStoragePath
	}
	if isFlagSet("messagestokeep") {
		cfg.Storage.MessagesToKeep = *fMessagesToKeep
	}
	if isFlagSet("logoutput") {
		cfg.Logging.Output = *fLogOutput
	}
	if isFlagSet("logformat") {
		cfg.Logging.Format = *fLogFormat
	}
	if isFlagSet("loglevel") {
		cfg.Logging.Level = *fLogLevel
	}

	logFile, err := logger.Initialize(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", "error", err)
	}
	mailboxes, err := cfg.MailboxList()
	if err != nil {
		logger.Fatal("Invalid mailbox configuration", "error", err)
	}
	logger.Info("Mailboxes configured", "count", len(mailboxes))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle SIGINT and SIGTERM for graceful shutdown.
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-signalChan
		logger.Info("Received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	st, err := store.Open(cfg.Storage.Path, cfg.Storage.MessagesToKeep)
	if err != nil {
		logger.Fatal("Failed to open message store", "path", cfg.Storage.Path, "error", err)
	}
	defer st.Close()

	backend, err := smtpserver.New(ctx, cfg.SMTP.Hostname, cfg.SMTP.Addr, st, mailboxes, smtpserver.Options{
		Debug:           cfg.SMTP.Debug,
		MaxMessageBytes: cfg.SMTP.MaxMessageBytes,
		MaxRecipients:   cfg.SMTP.MaxRecipients,
		TLSCertFile:     cfg.SMTP.TLSCertFile,
		TLSKeyFile:      cfg.SMTP.TLSKeyFile,
		Users:           cfg.SMTP.Users,
	})
	if err != nil {
		logger.Fatal("Failed to create SMTP server", "error", err)
	}

	errChan := make(chan error, 1)
	go backend.Start(ctx, errChan)

	if cfg.API.Start {
		go httpapi.Start(ctx, st, httpapi.ServerOptions{
			Addr:      cfg.API.Addr,
			Mailboxes: mailboxes,
			Stats:     backend,
		}, errChan)
	}

	select {
	case err := <-errChan:
		logger.Fatal("Server error", "error", err)
	case <-ctx.Done():
		logger.Info("Shutdown complete")
	}
}

func isFlagSet(name string) bool {
	isSet := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			isSet = true
		}
	})
	return isSet
}
