package routing

import "strings"

// Mailbox is one configured destination for inbound mail. Definitions are
// built by the configuration loader at startup and never mutated afterwards;
// the router only reads them.
type Mailbox struct {
	// Name identifies the mailbox; the configuration loader guarantees it
	// is non-empty and unique within the list.
	Name string

	// Recipients is the pattern expression envelope recipients are matched
	// against. A mailbox with an empty expression never matches.
	Recipients string

	// HeaderFilters must all match the message headers for the mailbox to
	// be eligible. An empty list is vacuously satisfied.
	HeaderFilters []HeaderFilter

	// SourceFilters must all match the sending client's identity. An empty
	// list is vacuously satisfied.
	SourceFilters []SourceFilter
}

// HeaderFilter matches one message header. Header names are compared case
// insensitively. An empty Pattern means the header merely has to be
// present, whatever its value.
type HeaderFilter struct {
	Header  string
	Pattern string
}

// SourceFilter matches the sending client's identity: the client hostname
// is tested first, and the client IP address is tried when the hostname
// does not match.
type SourceFilter struct {
	Pattern string
}

// Headers is a single-valued view of message headers with case-insensitive
// lookup. Keys are stored lower-cased; duplicate header names must be
// resolved by the caller before the map is built.
type Headers map[string]string

// NewHeaders builds a Headers map from raw name/value pairs. When two names
// collide case insensitively the first one wins.
func NewHeaders(raw map[string]string) Headers {
	if raw == nil {
		return nil
	}
	h := make(Headers, len(raw))
	for name, value := range raw {
		key := strings.ToLower(name)
		if _, exists := h[key]; !exists {
			h[key] = value
		}
	}
	return h
}

// Get returns the value stored for name, looked up case insensitively.
func (h Headers) Get(name string) (string, bool) {
	value, ok := h[strings.ToLower(name)]
	return value, ok
}

// FindMailboxForRecipient returns the first mailbox, in list order, whose
// source filters, header filters, and recipient pattern all match. It
// returns nil when the recipient is empty or no mailbox matches; it never
// fabricates a default destination.
//
// The decision is a pure function of its inputs: concurrent calls over the
// same mailbox list are safe without coordination.
func FindMailboxForRecipient(recipient string, mailboxes []Mailbox, clientHostname, clientIP string, headers Headers) *Mailbox {
	if strings.TrimSpace(recipient) == "" {
		return nil
	}

	for i := range mailboxes {
		m := &mailboxes[i]
		if !sourceFiltersMatch(m.SourceFilters, clientHostname, clientIP) {
			continue
		}
		if !headerFiltersMatch(m.HeaderFilters, headers) {
			continue
		}
		if !Matches(recipient, m.Recipients) {
			continue
		}
		return m
	}
	return nil
}

func sourceFiltersMatch(filters []SourceFilter, clientHostname, clientIP string) bool {
	for _, f := range filters {
		if Matches(clientHostname, f.Pattern) {
			continue
		}
		if Matches(clientIP, f.Pattern) {
			continue
		}
		return false
	}
	return true
}

func headerFiltersMatch(filters []HeaderFilter, headers Headers) bool {
	for _, f := range filters {
		value, present := headers.Get(f.Header)
		if !present {
			return false
		}
		// An empty filter pattern is a pure existence check; the empty
		// expression never matches on its own, so it is special-cased here
		// rather than in the matcher.
		if strings.TrimSpace(f.Pattern) == "" {
			continue
		}
		if !Matches(value, f.Pattern) {
			return false
		}
	}
	return true
}
