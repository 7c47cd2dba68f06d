package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frank-leitner/smtp4dev/routing"
)

func TestParseMailboxLegacy(t *testing.T) {
	m, err := ParseMailbox("Sales=*@sales.com, *@support.com")
	require.NoError(t, err)
	assert.Equal(t, "Sales", m.Name)
	assert.Equal(t, "*@sales.com, *@support.com", m.Recipients)
	assert.Empty(t, m.HeaderFilters)
	assert.Empty(t, m.SourceFilters)
}

func TestParseMailboxLegacyTrimsWhitespace(t *testing.T) {
	m, err := ParseMailbox("  Sales = *@sales.com ")
	require.NoError(t, err)
	assert.Equal(t, "Sales", m.Name)
	assert.Equal(t, "*@sales.com", m.Recipients)
}

func TestParseMailboxLegacyErrors(t *testing.T) {
	for _, definition := range []string{"", "   ", "NoEqualsSign", "=*@sales.com"} {
		_, err := ParseMailbox(definition)
		assert.Error(t, err, "definition %q", definition)
	}
}

func TestParseMailboxStructured(t *testing.T) {
	m, err := ParseMailbox(`{
		"name": "Filtered",
		"recipients": "*@sales.com",
		"headerFilters": [{"header": "X-Application", "pattern": "app1"}],
		"sourceFilters": [{"pattern": "legacy.dev.example.org"}]
	}`)
	require.NoError(t, err)
	assert.Equal(t, "Filtered", m.Name)
	assert.Equal(t, "*@sales.com", m.Recipients)
	require.Len(t, m.HeaderFilters, 1)
	assert.Equal(t, routing.HeaderFilter{Header: "X-Application", Pattern: "app1"}, m.HeaderFilters[0])
	require.Len(t, m.SourceFilters, 1)
	assert.Equal(t, routing.SourceFilter{Pattern: "legacy.dev.example.org"}, m.SourceFilters[0])
}

func TestParseMailboxStructuredCaseInsensitiveFields(t *testing.T) {
	m, err := ParseMailbox(`{"NAME": "Sales", "Recipients": "*@sales.com", "HEADERFILTERS": [{"HEADER": "Subject"}]}`)
	require.NoError(t, err)
	assert.Equal(t, "Sales", m.Name)
	assert.Equal(t, "*@sales.com", m.Recipients)
	require.Len(t, m.HeaderFilters, 1)
	assert.Equal(t, "Subject", m.HeaderFilters[0].Header)
	assert.Empty(t, m.HeaderFilters[0].Pattern)
}

func TestParseMailboxStructuredErrors(t *testing.T) {
	tests := []struct {
		name       string
		definition string
	}{
		{"truncated object", `{"name": "Sales"`},
		{"missing name", `{"recipients": "*"}`},
		{"unknown field", `{"name": "Sales", "recipient": "*"}`},
		{"header filter without name", `{"name": "Sales", "headerFilters": [{"pattern": "x"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMailbox(tt.definition)
			assert.Error(t, err)
		})
	}
}

func TestMailboxListOrderAndDuplicates(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Mailboxes = []string{"Sales=*@sales.com", "Default=*"}

	list, err := cfg.MailboxList()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Sales", list[0].Name)
	assert.Equal(t, "Default", list[1].Name)

	cfg.Mailboxes = []string{"Sales=*@sales.com", "sales=*"}
	_, err = cfg.MailboxList()
	assert.ErrorContains(t, err, "duplicate name")

	cfg.Mailboxes = nil
	_, err = cfg.MailboxList()
	assert.Error(t, err)
}
