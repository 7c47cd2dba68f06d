package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindMailboxForRecipientOrder(t *testing.T) {
	mailboxes := []Mailbox{
		{Name: "Sales", Recipients: "*@sales.com"},
		{Name: "Default", Recipients: "*"},
	}

	tests := []struct {
		name      string
		recipient string
		want      string
	}{
		{"specific mailbox wins", "user@sales.com", "Sales"},
		{"falls through to catch-all", "user@other.com", "Default"},
		{"case insensitive recipient", "USER@SALES.COM", "Sales"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := FindMailboxForRecipient(tt.recipient, mailboxes, "", "", nil)
			require.NotNil(t, m)
			assert.Equal(t, tt.want, m.Name)
		})
	}
}

func TestFindMailboxFirstMatchWins(t *testing.T) {
	// Two mailboxes both satisfied by the recipient; the earlier one must
	// win and evaluation must not continue looking for a "better" match.
	mailboxes := []Mailbox{
		{Name: "First", Recipients: "*@example.com"},
		{Name: "Second", Recipients: "user@example.com"},
	}

	m := FindMailboxForRecipient("user@example.com", mailboxes, "", "", nil)
	require.NotNil(t, m)
	assert.Equal(t, "First", m.Name)
}

func TestFindMailboxEmptyRecipient(t *testing.T) {
	mailboxes := []Mailbox{
		{Name: "CatchAll", Recipients: "*"},
	}

	for _, recipient := range []string{"", "   ", "\t "} {
		m := FindMailboxForRecipient(recipient, mailboxes, "", "", nil)
		assert.Nil(t, m, "recipient %q must not match", recipient)
	}
}

func TestFindMailboxNoMatch(t *testing.T) {
	mailboxes := []Mailbox{
		{Name: "Sales", Recipients: "*@sales.com"},
	}

	assert.Nil(t, FindMailboxForRecipient("user@other.com", mailboxes, "", "", nil))
	assert.Nil(t, FindMailboxForRecipient("user@other.com", nil, "", "", nil))
}

func TestFindMailboxEmptyRecipientsExpression(t *testing.T) {
	// A mailbox without an effective recipient expression never matches.
	mailboxes := []Mailbox{
		{Name: "Broken", Recipients: ""},
		{Name: "Default", Recipients: "*"},
	}

	m := FindMailboxForRecipient("user@example.com", mailboxes, "", "", nil)
	require.NotNil(t, m)
	assert.Equal(t, "Default", m.Name)
}

func TestSourceFilterHostnameThenIP(t *testing.T) {
	mailboxes := []Mailbox{
		{
			Name:          "Internal",
			Recipients:    "*",
			SourceFilters: []SourceFilter{{Pattern: "*.dev.example.org, 10.0.0.*"}},
		},
	}

	tests := []struct {
		name     string
		hostname string
		ip       string
		want     bool
	}{
		{"hostname matches", "legacy.dev.example.org", "192.168.1.5", true},
		{"hostname fails, ip matches", "unknown.example.net", "10.0.0.7", true},
		{"both fail", "unknown.example.net", "192.168.1.5", false},
		{"empty identity fails", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := FindMailboxForRecipient("user@example.com", mailboxes, tt.hostname, tt.ip, nil)
			if tt.want {
				require.NotNil(t, m)
			} else {
				assert.Nil(t, m)
			}
		})
	}
}

func TestSourceFiltersAreConjunctive(t *testing.T) {
	mailboxes := []Mailbox{
		{
			Name:       "Strict",
			Recipients: "*",
			SourceFilters: []SourceFilter{
				{Pattern: "*.example.org"},
				{Pattern: "smtp-*"},
			},
		},
		{Name: "Default", Recipients: "*"},
	}

	m := FindMailboxForRecipient("user@example.com", mailboxes, "smtp-01.example.org", "", nil)
	require.NotNil(t, m)
	assert.Equal(t, "Strict", m.Name)

	// One of the two source filters failing skips the mailbox entirely.
	m = FindMailboxForRecipient("user@example.com", mailboxes, "relay.example.org", "", nil)
	require.NotNil(t, m)
	assert.Equal(t, "Default", m.Name)
}

func TestHeaderFilterSemantics(t *testing.T) {
	headers := NewHeaders(map[string]string{
		"X-Application": "app1",
		"Subject":       "hello",
	})

	tests := []struct {
		name   string
		filter HeaderFilter
		want   bool
	}{
		{"value pattern matches", HeaderFilter{Header: "X-Application", Pattern: "app1"}, true},
		{"value pattern mismatch", HeaderFilter{Header: "X-Application", Pattern: "app2"}, false},
		{"name is case insensitive", HeaderFilter{Header: "x-application", Pattern: "app1"}, true},
		{"empty pattern means presence", HeaderFilter{Header: "Subject", Pattern: ""}, true},
		{"whitespace pattern means presence", HeaderFilter{Header: "Subject", Pattern: "  "}, true},
		{"absent header fails presence check", HeaderFilter{Header: "X-Missing", Pattern: ""}, false},
		{"absent header fails value check", HeaderFilter{Header: "X-Missing", Pattern: "app1"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mailboxes := []Mailbox{
				{Name: "Filtered", Recipients: "*", HeaderFilters: []HeaderFilter{tt.filter}},
			}
			m := FindMailboxForRecipient("user@example.com", mailboxes, "", "", headers)
			if tt.want {
				require.NotNil(t, m)
			} else {
				assert.Nil(t, m)
			}
		})
	}
}

func TestHeaderFilterNilHeaderMap(t *testing.T) {
	mailboxes := []Mailbox{
		{Name: "Filtered", Recipients: "*", HeaderFilters: []HeaderFilter{{Header: "Subject"}}},
		{Name: "Default", Recipients: "*"},
	}

	// No headers at all: any existence-based filter fails, without error.
	m := FindMailboxForRecipient("user@example.com", mailboxes, "", "", nil)
	require.NotNil(t, m)
	assert.Equal(t, "Default", m.Name)
}

func TestLayeredFiltersEndToEnd(t *testing.T) {
	mailboxes := []Mailbox{
		{
			Name:          "Filtered",
			Recipients:    "*@sales.com",
			SourceFilters: []SourceFilter{{Pattern: "legacy.dev.example.org"}},
			HeaderFilters: []HeaderFilter{{Header: "X-Application", Pattern: "app1"}},
		},
		{Name: "Default", Recipients: "*"},
	}

	match := func(hostname, headerValue string) string {
		headers := NewHeaders(map[string]string{"X-Application": headerValue})
		m := FindMailboxForRecipient("user@sales.com", mailboxes, hostname, "203.0.113.9", headers)
		require.NotNil(t, m)
		return m.Name
	}

	assert.Equal(t, "Filtered", match("legacy.dev.example.org", "app1"))
	// Changing only the header value falls through to the catch-all.
	assert.Equal(t, "Default", match("legacy.dev.example.org", "app2"))
	// Changing only the source hostname falls through as well, even though
	// header and recipient filters would have matched.
	assert.Equal(t, "Default", match("other.dev.example.net", "app1"))
}

func TestNewHeaders(t *testing.T) {
	h := NewHeaders(map[string]string{"Subject": "hi"})
	v, ok := h.Get("SUBJECT")
	assert.True(t, ok)
	assert.Equal(t, "hi", v)

	_, ok = h.Get("From")
	assert.False(t, ok)

	assert.Nil(t, NewHeaders(nil))

	// Lookups on a nil map are safe non-matches.
	_, ok = Headers(nil).Get("Subject")
	assert.False(t, ok)
}
