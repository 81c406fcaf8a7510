package pii

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	email = "jane.doe@example.com"
	phone = "+1 555-123-4567"
	ssn   = "123-45-6789"
	card  = "4111111111111111"
)

var sample = "Contact " + email + " or " + phone + ", SSN " + ssn + ", card " + card + "."

func TestEmbeddedRulesOrder(t *testing.T) {
	g, err := New()
	require.NoError(t, err)
	assert.Equal(t, []string{"email", "phone", "ssn", "credit_card"}, g.Rules())
}

func TestDetectFindsOneMatchPerCategory(t *testing.T) {
	g := MustNew()

	matches := g.Detect(sample)
	require.Len(t, matches, 4)

	byLabel := make(map[string]Match)
	for _, m := range matches {
		byLabel[m.Label] = m
		assert.Equal(t, m.Value, sample[m.Start:m.End])
	}

	assert.Equal(t, email, byLabel["email"].Value)
	assert.Equal(t, strings.TrimPrefix(phone, "+"), byLabel["phone"].Value)
	assert.Equal(t, ssn, byLabel["ssn"].Value)
	assert.Equal(t, card, byLabel["credit_card"].Value)

	assert.Equal(t, []string{"email", "phone", "ssn", "credit_card"}, g.Labels(sample))
}

func TestDetectReportsOverlappingCategories(t *testing.T) {
	g := MustNew()

	// A separated 16 digit card also contains a phone-shaped prefix; both are kept.
	matches := g.Detect("pay with 12 345 678 9012 3456 today")
	labels := make(map[string]int)
	for _, m := range matches {
		labels[m.Label]++
	}
	require.Len(t, matches, 2)
	assert.Equal(t, 1, labels["phone"])
	assert.Equal(t, 1, labels["credit_card"])
	assert.Equal(t, "12 345 678 9012", matches[0].Value)
}

func TestRedactRemovesEveryMatchedSpan(t *testing.T) {
	g := MustNew()

	redacted := g.Redact(sample)
	for _, raw := range []string{email, "555-123-4567", ssn, card} {
		assert.NotContains(t, redacted, raw)
	}

	assert.Equal(t,
		"Contact [EMAIL REDACTED] or +[PHONE REDACTED], SSN [SSN REDACTED], card [CREDIT_CARD REDACTED].",
		redacted,
	)
	assert.Empty(t, g.Detect(redacted))
}

func TestRedactIsIdempotent(t *testing.T) {
	g := MustNew()

	inputs := []string{
		sample,
		"mail ops@corp.io twice: ops@corp.io",
		"card 5500-0000-0000-0004 and id 987-65-4321",
		"call 44 (020) 555 0199 after 5pm",
	}
	for _, in := range inputs {
		once := g.Redact(in)
		assert.Equal(t, once, g.Redact(once), "input %q", in)
	}
}

func TestUnmatchedTextPassesThrough(t *testing.T) {
	g := MustNew()
	text := "Summarise the quarterly roadmap in three bullet points."

	assert.Empty(t, g.Detect(text))
	assert.Equal(t, text, g.Redact(text))
	assert.Equal(t, text, g.SanitizeForEmbeddings(text))
	assert.Equal(t, text, g.Annotate(text))
}

func TestSanitizeForEmbeddingsMatchesRedact(t *testing.T) {
	g := MustNew()
	assert.Equal(t, g.Redact(sample), g.SanitizeForEmbeddings(sample))
}

func TestAnnotateListsSortedUniqueLabels(t *testing.T) {
	g := MustNew()

	got := g.Annotate("a@b.io and c@d.io, ssn 123-45-6789")
	assert.Equal(t, "[EMAIL REDACTED] and [EMAIL REDACTED], ssn [SSN REDACTED] [PII:email,ssn]", got)
}

func TestNewFromYAMLValidation(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{name: "empty rule set", doc: "rules: []", wantErr: "must not be empty"},
		{name: "missing label", doc: "rules:\n  - pattern: 'x'", wantErr: "has no label"},
		{name: "duplicate label", doc: "rules:\n  - {label: a, pattern: 'x'}\n  - {label: a, pattern: 'y'}", wantErr: "duplicate"},
		{name: "invalid regex", doc: "rules:\n  - {label: a, pattern: '('}", wantErr: "compile pii rule"},
		{name: "marker matched by rule", doc: "rules:\n  - {label: secret, pattern: 'REDACTED'}", wantErr: "is matched by rule"},
		{name: "malformed yaml", doc: "rules: [", wantErr: "unmarshal pii rules"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFromYAML([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMarker(t *testing.T) {
	assert.Equal(t, "[CREDIT_CARD REDACTED]", Marker("credit_card"))
}
