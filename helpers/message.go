// Package helpers contains message handling utilities shared by the SMTP
// server and the HTTP API.
package helpers

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	"github.com/k3a/html2text"
	"lukechampine.com/blake3"

	"github.com/frank-leitner/smtp4dev/logger"
)

// ParseMessage reads and parses an email message. Messages with malformed
// MIME headers get a fallback entity that preserves degraded access instead
// of failing outright; a dev server has to accept whatever clients produce.
func ParseMessage(r io.Reader) (*message.Entity, error) {
	m, err := message.Read(r)
	if message.IsUnknownCharset(err) {
		logger.Debug("Unknown charset in message", "error", err)
	} else if err != nil {
		if strings.Contains(err.Error(), "malformed MIME header") {
			logger.Warn("Malformed MIME header, using fallback entity", "error", err)
			return fallbackEntity(err), nil
		}
		return nil, fmt.Errorf("failed to read message: %w", err)
	}
	return m, nil
}

// fallbackEntity builds a minimal plain-text entity describing the parse
// failure so the message can still be listed and inspected.
func fallbackEntity(parseErr error) *message.Entity {
	var buf bytes.Buffer
	buf.WriteString("X-Smtp4dev-Parse-Error: ")
	buf.WriteString(parseErr.Error())
	buf.WriteString("\r\n")
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString("[Message could not be parsed due to malformed MIME headers]\r\n")

	entity, err := message.Read(bufio.NewReader(&buf))
	if err != nil {
		logger.Error("Failed to create fallback entity", "error", err)
		return nil
	}
	return entity
}

// HeaderMap flattens an entity's headers into a single-valued map as the
// routing engine expects: for duplicate header names the first occurrence
// in the message wins. go-message iterates fields topmost-first, so the
// first value seen per key is kept.
func HeaderMap(entity *message.Entity) map[string]string {
	if entity == nil {
		return nil
	}
	headers := make(map[string]string)
	fields := entity.Header.Fields()
	for fields.Next() {
		key := strings.ToLower(fields.Key())
		if _, ok := headers[key]; !ok {
			headers[key] = fields.Value()
		}
	}
	return headers
}

// HashContent returns the hex-encoded BLAKE3 hash of the given content.
func HashContent(content []byte) string {
	hash := blake3.Sum256(content)
	return hex.EncodeToString(hash[:])
}

// PlainTextBody extracts a plain-text rendering of the message body. It
// prefers a text/plain part; an HTML-only message is converted with
// html2text. Returns an empty string when the message has no text content.
func PlainTextBody(entity *message.Entity) (string, error) {
	var plain, html string

	var walk func(e *message.Entity) error
	walk = func(e *message.Entity) error {
		mediaType, _, _ := e.Header.ContentType()
		if strings.HasPrefix(mediaType, "multipart/") {
			mr := e.MultipartReader()
			if mr == nil {
				return nil
			}
			for {
				part, err := mr.NextPart()
				if err == io.EOF {
					return nil
				}
				if err != nil {
					return err
				}
				if err := walk(part); err != nil {
					return err
				}
			}
		}

		body, err := io.ReadAll(e.Body)
		if err != nil {
			return err
		}
		switch {
		case mediaType == "text/plain" || mediaType == "":
			if plain == "" {
				plain = string(body)
			}
		case mediaType == "text/html":
			if html == "" {
				html = string(body)
			}
		}
		return nil
	}

	if err := walk(entity); err != nil {
		return "", fmt.Errorf("extracting text body: %w", err)
	}

	if plain != "" {
		return plain, nil
	}
	if html != "" {
		return html2text.HTML2Text(html), nil
	}
	return "", nil
}
