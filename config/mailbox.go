package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/frank-leitner/smtp4dev/routing"
)

// mailboxDefinition is the structured JSON shape of a mailbox. Field names
// are matched case insensitively by encoding/json, so "Name", "name" and
// "NAME" are all accepted.
type mailboxDefinition struct {
	Name          string                 `json:"name"`
	Recipients    string                 `json:"recipients"`
	HeaderFilters []headerFilterEncoding `json:"headerFilters"`
	SourceFilters []sourceFilterEncoding `json:"sourceFilters"`
}

type headerFilterEncoding struct {
	Header  string `json:"header"`
	Pattern string `json:"pattern"`
}

type sourceFilterEncoding struct {
	Pattern string `json:"pattern"`
}

// ParseMailbox turns one textual mailbox definition into a routing mailbox.
// Two encodings are accepted:
//
//   - legacy:     Sales=*@sales.com
//   - structured: {"name":"Sales","recipients":"*@sales.com",...}
//
// Anything else is a configuration error; routing never sees malformed
// definitions.
func ParseMailbox(definition string) (routing.Mailbox, error) {
	trimmed := strings.TrimSpace(definition)
	if trimmed == "" {
		return routing.Mailbox{}, fmt.Errorf("empty mailbox definition")
	}

	if strings.HasPrefix(trimmed, "{") {
		return parseStructured(trimmed)
	}
	return parseLegacy(trimmed)
}

func parseLegacy(definition string) (routing.Mailbox, error) {
	name, recipients, found := strings.Cut(definition, "=")
	if !found {
		return routing.Mailbox{}, fmt.Errorf("invalid mailbox definition %q: expected Name=RecipientPatterns", definition)
	}
	m := routing.Mailbox{
		Name:       strings.TrimSpace(name),
		Recipients: strings.TrimSpace(recipients),
	}
	if m.Name == "" {
		return routing.Mailbox{}, fmt.Errorf("invalid mailbox definition %q: name must not be empty", definition)
	}
	return m, nil
}

func parseStructured(definition string) (routing.Mailbox, error) {
	var enc mailboxDefinition
	decoder := json.NewDecoder(strings.NewReader(definition))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&enc); err != nil {
		return routing.Mailbox{}, fmt.Errorf("invalid mailbox definition: %w", err)
	}
	if strings.TrimSpace(enc.Name) == "" {
		return routing.Mailbox{}, fmt.Errorf("invalid mailbox definition: name must not be empty")
	}

	m := routing.Mailbox{
		Name:       strings.TrimSpace(enc.Name),
		Recipients: strings.TrimSpace(enc.Recipients),
	}
	for _, f := range enc.HeaderFilters {
		if strings.TrimSpace(f.Header) == "" {
			return routing.Mailbox{}, fmt.Errorf("mailbox %q: header filter needs a header name", m.Name)
		}
		m.HeaderFilters = append(m.HeaderFilters, routing.HeaderFilter{
			Header:  strings.TrimSpace(f.Header),
			Pattern: f.Pattern,
		})
	}
	for _, f := range enc.SourceFilters {
		m.SourceFilters = append(m.SourceFilters, routing.SourceFilter{Pattern: f.Pattern})
	}
	return m, nil
}
