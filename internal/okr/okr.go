// Package okr turns free-text success criteria into key results and scores them.
//
// Criteria are written one per line as "-" bullets. Each bullet becomes a key result
// whose target is read from the first comparison operator found, or, failing that,
// from an "increases by N" / "reduces by N" phrase. Nothing here keeps state: parsing
// the same text twice returns equal results.
package okr

import (
	"math"
	"regexp"
	"strings"

	"decisionos/internal/domain"
)

// VerdictThreshold is the achievement rate at which a cycle counts as validated.
const VerdictThreshold = 70

// Operators are tried in this order; the first one contained in a line wins.
var Operators = []string{"≥", ">=", "≤", "<=", ">", "<", "="}

var (
	bulletPrefix  = regexp.MustCompile(`^-\s*`)
	baselineRe    = regexp.MustCompile(`(?i)\(.*?baseline.*?(\d+\.?\d*%?)\)`)
	increaseVerbs = regexp.MustCompile(`(?i)(increases?|improves?|grows?)\s+(?:by\s+)?(\d+\.?\d*%?)`)
	decreaseVerbs = regexp.MustCompile(`(?i)(reduces?|decreases?|drops?)\s+(?:by\s+)?(\d+\.?\d*%?)`)
)

// ParseSuccessCriteria returns one key result per bullet line, in order.
func ParseSuccessCriteria(text string) []domain.KeyResult {
	res := []domain.KeyResult{}
	for _, line := range strings.Split(text, "\n") {
		// Trim first: an indented "  - x" yields metric "x", not "- x".
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "-") {
			continue
		}
		res = append(res, parseLine(trimmed))
	}
	return res
}

func parseLine(line string) domain.KeyResult {
	cleaned := strings.TrimSpace(bulletPrefix.ReplaceAllString(line, ""))
	kr := domain.KeyResult{Metric: cleaned}
	target := ""
	for _, op := range Operators {
		if !strings.Contains(cleaned, op) {
			continue
		}
		parts := strings.Split(cleaned, op)
		kr.Metric = strings.TrimSpace(parts[0])
		rhs, _, _ := strings.Cut(parts[1], "(")
		target = op + " " + strings.TrimSpace(rhs)
		if m := baselineRe.FindStringSubmatch(cleaned); m != nil {
			baseline := m[1]
			kr.Baseline = &baseline
		}
		break
	}
	if target == "" {
		if m := increaseVerbs.FindStringSubmatch(cleaned); m != nil {
			target = "+" + m[2]
		} else if m := decreaseVerbs.FindStringSubmatch(cleaned); m != nil {
			target = "-" + m[2]
		}
	}
	kr.Target = target
	return kr
}

// ApplyMarks copies krs and sets Achieved from marks keyed by key result index.
func ApplyMarks(krs []domain.KeyResult, marks map[int]int) []domain.KeyResult {
	out := make([]domain.KeyResult, len(krs))
	copy(out, krs)
	for idx, achieved := range marks {
		if idx < 0 || idx >= len(out) {
			continue
		}
		v := achieved
		out[idx].Achieved = &v
	}
	return out
}

// AchievementRate is the share of key results marked fully achieved, as a rounded percent.
func AchievementRate(krs []domain.KeyResult) int {
	if len(krs) == 0 {
		return 0
	}
	achieved := 0
	for _, kr := range krs {
		if kr.Achieved != nil && *kr.Achieved == 100 {
			achieved++
		}
	}
	return int(math.Floor(float64(achieved)*100/float64(len(krs)) + 0.5))
}

// Verdict applies the fixed threshold to an achievement rate.
func Verdict(rate int) domain.Verdict {
	if rate >= VerdictThreshold {
		return domain.VerdictValidated
	}
	return domain.VerdictNotValidated
}

// Assessment is the scored view of a cycle's key results.
type Assessment struct {
	KeyResults       []domain.KeyResult `json:"key_results"`
	AchievementRate  int                `json:"achievement_rate"`
	SuggestedVerdict domain.Verdict     `json:"suggested_verdict" enum:"VALIDATED,NOT_VALIDATED"`
}

// Assess parses criteria, applies marks and derives the suggested verdict.
func Assess(criteria string, marks map[int]int) Assessment {
	krs := ApplyMarks(ParseSuccessCriteria(criteria), marks)
	rate := AchievementRate(krs)
	return Assessment{
		KeyResults:       krs,
		AchievementRate:  rate,
		SuggestedVerdict: Verdict(rate),
	}
}
