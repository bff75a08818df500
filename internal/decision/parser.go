package decision

import (
	"regexp"
	"strconv"
	"strings"
)

// Parse turns free model text into a recommendation fragment. It is total:
// it never fails and never panics, and ambiguity only shows up in Note.
//
// Rules apply in a fixed order, matching case-insensitively:
//
//  1. defaults: HOLD, confidence 0.5, reasoning is the whole text
//  2. an explicit "recommendation:" label decides the action
//  3. without a label, keywordRules decide it, first match wins
//  4. confidencePatterns, first match wins, value/100 clamped to [0,1]
//  5. a "reasoning:" section, if present, replaces the reasoning
//
// New heuristics belong in keywordRules or confidencePatterns at an explicit
// position; the label always wins over keywords.
func Parse(text string) Fragment {
	if strings.TrimSpace(text) == "" {
		return Fragment{Recommendation: Hold, Confidence: defaultConfidence, Note: noteEmpty}
	}
	out := Fragment{Recommendation: Hold, Confidence: defaultConfidence, Reasoning: text}
	lower := strings.ToLower(text)
	var notes []string

	if strings.Contains(lower, recommendationLabel) {
		if m := recommendationRe.FindStringSubmatch(lower); m != nil {
			out.Recommendation = Recommendation(strings.ToUpper(m[1]))
		} else {
			notes = append(notes, noteBadLabel)
		}
	} else {
		out.Recommendation = keywordRecommendation(lower)
		notes = append(notes, noteKeyword)
	}

	if c, ok := extractConfidence(lower); ok {
		out.Confidence = c
	} else {
		notes = append(notes, noteNoConfidence)
	}

	if m := reasoningRe.FindStringSubmatch(text); m != nil {
		out.Reasoning = strings.TrimSpace(m[1])
	}
	out.Note = strings.Join(notes, "; ")
	return out
}

const (
	defaultConfidence   = 0.5
	recommendationLabel = "recommendation:"

	noteEmpty        = "empty response; defaults used"
	noteBadLabel     = "recommendation label without buy/sell/hold; default HOLD"
	noteKeyword      = "no recommendation label; keyword heuristic used"
	noteNoConfidence = "no confidence found; default 0.5"
)

var (
	recommendationRe = regexp.MustCompile(`recommendation:\s*(buy|sell|hold)`)
	reasoningRe      = regexp.MustCompile(`(?is)reasoning:(.*?)(?:recommendation:|confidence:|$)`)

	confidencePatterns = []*regexp.Regexp{
		regexp.MustCompile(`confidence[:\s]*(\d+)%`),
		regexp.MustCompile(`confidence[:\s]*(\d+)`),
		regexp.MustCompile(`(\d+)%\s*confidence`),
		regexp.MustCompile(`(\d+)\s*percent\s*confidence`),
	}
)

type keywordRule struct {
	rec   Recommendation
	match func(lower string) bool
}

// Negation is a literal substring check: "don't buy" suppresses BUY but
// "won't buy" or "would not buy" do not.
var keywordRules = []keywordRule{
	{Buy, func(s string) bool {
		return strings.Contains(s, "strong buy") || (strings.Contains(s, "buy") && !strings.Contains(s, "don't buy"))
	}},
	{Sell, func(s string) bool {
		return strings.Contains(s, "strong sell") || (strings.Contains(s, "sell") && !strings.Contains(s, "don't sell"))
	}},
}

func keywordRecommendation(lower string) Recommendation {
	for _, rule := range keywordRules {
		if rule.match(lower) {
			return rule.rec
		}
	}
	return Hold
}

func extractConfidence(lower string) (float64, bool) {
	for _, re := range confidencePatterns {
		m := re.FindStringSubmatch(lower)
		if m == nil {
			continue
		}
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		return clamp01(v / 100), true
	}
	return 0, false
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
