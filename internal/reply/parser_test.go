package reply

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseGoldenCases(t *testing.T) {
	tests := []struct {
		input      string
		intent     Intent
		confidence Confidence
	}{
		{"yes", IntentConfirm, ConfidenceHigh},
		{"YES", IntentConfirm, ConfidenceHigh},
		{"Yes!", IntentConfirm, ConfidenceHigh},
		{"tamam", IntentConfirm, ConfidenceHigh},
		{"👍", IntentConfirm, ConfidenceHigh},

		{"no", IntentReject, ConfidenceHigh},
		{"hayir", IntentReject, ConfidenceHigh},
		{"❌", IntentReject, ConfidenceHigh},

		{"what time?", IntentNeedMoreInfo, ConfidenceMedium},

		{"maybe", IntentRequiresHuman, ConfidenceLow},
		{"asdf", IntentRequiresHuman, ConfidenceLow},
		{"...", IntentRequiresHuman, ConfidenceLow},
	}

	parser := NewParser()
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := parser.Parse(tt.input, "trace-golden")
			assert.Equal(t, tt.intent, result.Intent)
			assert.Equal(t, tt.confidence, result.Confidence)
			assert.Equal(t, tt.input, result.RawInput)
		})
	}
}

func TestParseLocaleVariants(t *testing.T) {
	parser := NewParser()

	// Diacritics fold to the same classification as the plain spelling.
	assert.Equal(t, IntentReject, parser.Parse("Hayır", "t-1").Intent)
	assert.Equal(t, IntentReject, parser.Parse("hayir", "t-1").Intent)
	assert.Equal(t, IntentConfirm, parser.Parse("Sí", "t-2").Intent)
	assert.Equal(t, IntentReject, parser.Parse("olmaz", "t-3").Intent)
	assert.Equal(t, IntentConfirm, parser.Parse("evet", "t-4").Intent)
}

func TestParseDoubledLetterTolerance(t *testing.T) {
	parser := NewParser()

	for _, input := range []string{"yess", "yesss", "okk", "tamamm", "noo", "nooo"} {
		result := parser.Parse(input, "t-typo")
		assert.NotEqual(t, IntentRequiresHuman, result.Intent, "typo %q should still classify", input)
		assert.Equal(t, ConfidenceHigh, result.Confidence)
	}
}

func TestParseQuestionsAreMediumConfidence(t *testing.T) {
	parser := NewParser()

	for _, input := range []string{"when should I come?", "ne zaman?", "can you send more details", "how much"} {
		result := parser.Parse(input, "t-q")
		assert.Equal(t, IntentNeedMoreInfo, result.Intent, "input %q", input)
		assert.Equal(t, ConfidenceMedium, result.Confidence)
	}
}

func TestParseAmbiguityEscalates(t *testing.T) {
	parser := NewParser()

	// Mixed or unclear signals must never guess a confirm or reject.
	for _, input := range []string{"yes but actually no", "let me check", "🤔", "", "   "} {
		result := parser.Parse(input, "t-ambiguous")
		assert.Equal(t, IntentRequiresHuman, result.Intent, "input %q", input)
		assert.Equal(t, ConfidenceLow, result.Confidence)
	}
}

func TestParseRecordsMatchedPattern(t *testing.T) {
	parser := NewParser()

	assert.Equal(t, "affirmation", parser.Parse("yes", "t-p").MatchedPattern)
	assert.Equal(t, "negation_tr", parser.Parse("hayir", "t-p").MatchedPattern)
	assert.Empty(t, parser.Parse("asdf", "t-p").MatchedPattern)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"  YES  ", "yes"},
		{"Tamam!!", "tamam"},
		{"what   time?", "what time?"},
		{"Hayır.", "hayir"},
		{"olur...", "olur"},
		{"Sí, claro", "si, claro"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.raw), "raw %q", tt.raw)
	}
}
