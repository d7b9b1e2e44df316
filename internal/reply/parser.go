// Package reply classifies free-text vendor replies into a small intent
// set with a confidence tier. It is a deterministic rule engine, not a
// statistical classifier; anything ambiguous degrades to human
// escalation rather than a guessed confirm or reject.
package reply

import (
	"regexp"
	"strings"

	"concierge-go/internal/logger"
)

// Intent is the resolved classification of one reply.
type Intent string

const (
	IntentConfirm       Intent = "confirm"
	IntentReject        Intent = "reject"
	IntentNeedMoreInfo  Intent = "need_more_info"
	IntentRequiresHuman Intent = "requires_human"
)

// Confidence is the tier attached to a classification.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// ParseResult is attached to whatever decision consumes the reply; the
// raw and normalized forms plus the matched rule make every
// classification auditable offline.
type ParseResult struct {
	Intent          Intent     `json:"intent"`
	Confidence      Confidence `json:"confidence"`
	RawInput        string     `json:"raw_input"`
	NormalizedInput string     `json:"normalized_input"`
	MatchedPattern  string     `json:"matched_pattern,omitempty"`
}

// rule is one named pattern in the ordered matching table.
type rule struct {
	name string
	re   *regexp.Regexp
}

// Confirmation patterns. Doubled trailing letters ("yess", "okk",
// "tamamm") are tolerated because they are common on mobile keyboards.
var confirmRules = []rule{
	{"affirmation", regexp.MustCompile(`^(yes+|yep+|yeah+|yup+|ok+|okay+|sure|of course|absolutely|confirmed?|sounds good|will do)$`)},
	{"ready", regexp.MustCompile(`^(ready|done|on it|i'?m on it|all set|accept(ed)?|approved?|got it)$`)},
	{"affirmation_tr", regexp.MustCompile(`^(tamam+|evet+|olur+|tabii?|peki|kabul|hazir(im)?|oldu)$`)},
	{"affirmation_es", regexp.MustCompile(`^(si+|claro|vale|dale|listo|de acuerdo|por supuesto)$`)},
	{"emoji_confirm", regexp.MustCompile(`^(👍|👌|✅|✔️|🆗)+$`)},
}

// Rejection patterns.
var rejectRules = []rule{
	{"negation", regexp.MustCompile(`^(no+|nope+|nah+|can'?t|cannot|won'?t|not (now|today|possible)|too busy|busy)$`)},
	{"cancellation", regexp.MustCompile(`^(cancel(led)?|stop|reject(ed)?|declined?|never ?mind)$`)},
	{"negation_tr", regexp.MustCompile(`^(hayir+|yok+|olmaz+|iptal|istemiyorum|yapamam|musait degilim)$`)},
	{"negation_es", regexp.MustCompile(`^(no puedo|imposible|cancelar?|rechazado)$`)},
	{"emoji_reject", regexp.MustCompile(`^(❌|👎|🚫|✖️)+$`)},
}

// Information-request patterns. Medium confidence only; a question is a
// weaker signal than an explicit yes or no.
var infoRules = []rule{
	{"question_word", regexp.MustCompile(`^(what|when|where|who|which|how|why|ne|nerede|ne zaman|kac|hangi|nasil|cuando|donde|que|como)\b`)},
	{"question_mark", regexp.MustCompile(`\?$`)},
	{"more_info", regexp.MustCompile(`\b(more (info|information|details?)|detay|daha fazla bilgi|mas informacion)\b`)},
}

// diacriticFold maps the accented characters seen in Turkish and Spanish
// traffic to their base Latin letters, so "hayır" and "hayir" classify
// identically.
var diacriticFold = strings.NewReplacer(
	"ı", "i", "İ", "i", "ş", "s", "Ş", "s", "ç", "c", "Ç", "c",
	"ğ", "g", "Ğ", "g", "ü", "u", "Ü", "u", "ö", "o", "Ö", "o",
	"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ñ", "n",
	"â", "a", "î", "i", "û", "u",
)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	// Trailing punctuation is noise except the question mark, which is a
	// classification signal in its own right.
	trailingPunct = regexp.MustCompile(`[.,!;:…]+$`)
)

// Parser classifies vendor replies.
type Parser struct{}

// NewParser creates a reply parser.
func NewParser() *Parser {
	return &Parser{}
}

// Normalize lowers, trims, collapses whitespace, strips trailing
// punctuation other than "?" and folds diacritics.
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.ToLower(s)
	s = diacriticFold.Replace(s)
	s = whitespaceRun.ReplaceAllString(s, " ")
	s = trailingPunct.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// Parse classifies one raw reply. First match wins; rules are evaluated
// against both the raw and the normalized forms to tolerate casing or
// punctuation the normalizer did not anticipate. No match escalates to a
// human, never to a guessed confirm or reject.
func (p *Parser) Parse(rawInput, traceID string) ParseResult {
	normalized := Normalize(rawInput)

	result := ParseResult{
		Intent:          IntentRequiresHuman,
		Confidence:      ConfidenceLow,
		RawInput:        rawInput,
		NormalizedInput: normalized,
	}

	if name, ok := matchAny(confirmRules, rawInput, normalized); ok {
		result.Intent = IntentConfirm
		result.Confidence = ConfidenceHigh
		result.MatchedPattern = name
	} else if name, ok := matchAny(rejectRules, rawInput, normalized); ok {
		result.Intent = IntentReject
		result.Confidence = ConfidenceHigh
		result.MatchedPattern = name
	} else if name, ok := matchAny(infoRules, rawInput, normalized); ok {
		result.Intent = IntentNeedMoreInfo
		result.Confidence = ConfidenceMedium
		result.MatchedPattern = name
	}

	// Every parse is logged, matched or not, so the pattern table can be
	// curated from real traffic.
	logger.Info().
		Str("trace_id", traceID).
		Str("raw_input", rawInput).
		Str("normalized_input", normalized).
		Str("intent", string(result.Intent)).
		Str("confidence", string(result.Confidence)).
		Str("matched_pattern", result.MatchedPattern).
		Msg("vendor reply parsed")

	return result
}

func matchAny(rules []rule, raw, normalized string) (string, bool) {
	for _, r := range rules {
		if r.re.MatchString(normalized) || r.re.MatchString(strings.TrimSpace(raw)) {
			return r.name, true
		}
	}
	return "", false
}
