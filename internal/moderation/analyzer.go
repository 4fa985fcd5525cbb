package moderation

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultThreshold is the confidence at or above which a message is blocked.
const DefaultThreshold = 0.6

// Action is what a Verdict asks for.
type Action string

const (
	ActionNone   Action = "none"
	ActionDelete Action = "delete+mute"
)

const (
	ReasonNone     = "no violation detected"
	ReasonLink     = "forbidden link or spam"
	ReasonHate     = "hateful content or threats"
	ReasonMentions = "mention spam"
	ReasonCaps     = "all-caps spam"
	ReasonAbuse    = "inappropriate content"
)

const (
	factorHigh      = "high_risk"
	factorMedium    = "medium_risk"
	factorLow       = "low_risk"
	factorReducer   = "reducer"
	factorAllCaps   = "all_caps_long"
	factorMentions  = "multiple_mentions"
	factorRepeating = "repeated_chars"
)

// Verdict is the outcome of analysing one message.
type Verdict struct {
	Action     Action   `json:"action"`
	Reason     string   `json:"reason"`
	Confidence float64  `json:"confidence"`
	Factors    []string `json:"factors,omitempty"`
	QuickBlock bool     `json:"quick_block,omitempty"`
}

func (v Verdict) Blocked() bool { return v.Action == ActionDelete }

type weighted struct {
	re     *regexp.Regexp
	weight float64
}

var quickBlock = []*regexp.Regexp{
	regexp.MustCompile(`(?i)discord\.gg/[\w-]+`),
	regexp.MustCompile(`(?i)\.gg/[\w-]+`),
	regexp.MustCompile(`(?i)https?://`),
	regexp.MustCompile(`(?i)google\.com`),
	regexp.MustCompile(`(?i)bit\.ly`),
	regexp.MustCompile(`(?i)tinyurl\.com`),
	regexp.MustCompile(`(?i)t\.me/[\w+-]+`),
}

var highRisk = []weighted{
	{regexp.MustCompile(`(?i)\b(n[i1]gg[ae]r|n[e3]gr[o0])\b`), 0.9},
	{regexp.MustCompile(`(?i)\b(f[a4]gg[o0]t|p[e3]d[o0])\b`), 0.9},
	{regexp.MustCompile(`(?i)\b(kill yourself|kys|suicide|die|mort)\b`), 0.8},
	{regexp.MustCompile(`(?i)\b(bomb|terrorist|attack)\b`), 0.7},
}

var mediumRisk = []weighted{
	{regexp.MustCompile(`(?i)\b(connard|salope|putain de merde)\b`), 0.5},
	{regexp.MustCompile(`(?i)\b(fuck you|shit on you)\b`), 0.5},
	{regexp.MustCompile(`[A-Z\s]{50,}`), 0.4},
}

// repeatWeight scores a run of 11 or more identical characters.
const repeatWeight = 0.6

var lowRisk = []weighted{
	{regexp.MustCompile(`(?i)\bmerde\b`), 0.2},
	{regexp.MustCompile(`(?i)\bputain\b`), 0.2},
	{regexp.MustCompile(`(?i)\bcon\b`), 0.2},
	{regexp.MustCompile(`(?i)\bfuck\b`), 0.3},
	{regexp.MustCompile(`(?i)\bshit\b`), 0.2},
}

var reducers = []weighted{
	{regexp.MustCompile(`(?i)😂|🤣|😅|lol|mdr|xd`), 0.3},
	{regexp.MustCompile(`\?$`), 0.1},
	{regexp.MustCompile(`(?i)\b(just|question|juste|demande)\b`), 0.1},
}

var mentionRe = regexp.MustCompile(`(^|\s)@\w{3,}`)

// Analyzer scores messages. The zero value uses DefaultThreshold.
type Analyzer struct {
	Threshold float64
}

func (a Analyzer) threshold() float64 {
	if a.Threshold <= 0 || a.Threshold > 1 {
		return DefaultThreshold
	}
	return a.Threshold
}

// QuickBlock reports the first link pattern matching text.
func QuickBlock(text string) (pattern string, ok bool) {
	for _, re := range quickBlock {
		if re.MatchString(text) {
			return re.String(), true
		}
	}
	return "", false
}

// Analyze returns the verdict for text. entityMentions is the number of
// mention entities the transport reported; when zero, @handles in the
// text are counted instead.
func (a Analyzer) Analyze(text string, entityMentions int) Verdict {
	if p, ok := QuickBlock(text); ok {
		return Verdict{
			Action:     ActionDelete,
			Reason:     ReasonLink,
			Confidence: 1,
			Factors:    []string{"quick_block: " + p},
			QuickBlock: true,
		}
	}

	var (
		score   float64
		factors []string
	)
	add := func(kind string, ws []weighted) {
		for _, w := range ws {
			if w.re.MatchString(text) {
				score += w.weight
				factors = append(factors, kind+": "+w.re.String())
			}
		}
	}
	add(factorHigh, highRisk)
	add(factorMedium, mediumRisk)
	if longestRun(text) > 10 {
		score += repeatWeight
		factors = append(factors, factorMedium+": "+factorRepeating)
	}
	add(factorLow, lowRisk)

	for _, r := range reducers {
		if r.re.MatchString(text) {
			score = math.Max(0, score-r.weight)
			factors = append(factors, factorReducer+": "+r.re.String())
		}
	}

	if utf8.RuneCountInString(text) > 200 && text == strings.ToUpper(text) {
		score += 0.2
		factors = append(factors, factorAllCaps)
	}

	mentions := entityMentions
	if mentions == 0 {
		mentions = len(mentionRe.FindAllStringIndex(text, -1))
	}
	if mentions > 3 {
		score += 0.15 * float64(mentions)
		factors = append(factors, fmt.Sprintf("%s: %d", factorMentions, mentions))
	}

	v := Verdict{
		Action:     ActionNone,
		Reason:     ReasonNone,
		Confidence: math.Min(1, score),
		Factors:    factors,
	}
	if v.Confidence >= a.threshold() {
		v.Action = ActionDelete
		v.Reason = reasonFor(factors)
	}
	return v
}

func reasonFor(factors []string) string {
	has := func(s string) bool {
		for _, f := range factors {
			if strings.Contains(f, s) {
				return true
			}
		}
		return false
	}
	switch {
	case has(factorHigh):
		return ReasonHate
	case has(factorMentions):
		return ReasonMentions
	case has("all_caps"):
		return ReasonCaps
	default:
		return ReasonAbuse
	}
}

// longestRun is the length of the longest run of one repeated rune,
// compared case-insensitively.
func longestRun(s string) int {
	best, cur := 0, 0
	var prev rune = -1
	for _, r := range strings.ToLower(s) {
		if r == prev {
			cur++
		} else {
			prev, cur = r, 1
		}
		best = max(best, cur)
	}
	return best
}
