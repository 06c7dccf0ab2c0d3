// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package review

import (
	"regexp"
	"strings"

	"github.com/pdiddy/novel-engine/pkg/types"
)

// CheckHardState runs the deterministic checks a model is not trusted
// with: hard-rule violations, style bans, and protagonist name drift.
//
// A hard rule whose value is false forbids the behavior its violation
// keywords describe. The rule fires only when the draft mentions a
// keyword AND frames it as succeeding: success wording present, failure
// wording absent. A failed attempt is legitimate drama, not a violation.
func CheckHardState(draft string, canon types.Canon) []types.Issue {
	var issues []types.Issue

	for _, rule := range canon.HardRules {
		forbidden, ok := rule.Value.(bool)
		if !ok || forbidden || len(rule.ViolationKeywords) == 0 {
			continue
		}
		trigger := containsAny(draft, rule.ViolationKeywords)
		success := containsAny(draft, rule.SuccessKeywords)
		failure := containsAny(draft, rule.FailureKeywords)
		if trigger && success && !failure {
			issues = append(issues, types.Issue{
				Type:              types.IssueStateViolation,
				Severity:          types.SeverityBlocker,
				Evidence:          []types.Evidence{{Quote: findQuote(draft, rule.ViolationKeywords), ChapterPos: "unknown"}},
				RelatedMemoryKeys: []string{rule.Key},
				FixSuggestion:     "Add an unlock event or rewrite the attempt as a failure.",
				RewriteScope:      types.ScopeParagraph,
			})
		}
	}

	for _, ban := range canon.StyleBans {
		re, err := regexp.Compile(ban)
		if err != nil {
			// Invalid pattern degrades to a literal match.
			if !strings.Contains(draft, ban) {
				continue
			}
		} else if !re.MatchString(draft) {
			continue
		}
		issues = append(issues, types.Issue{
			Type:          types.IssueStyleMeta,
			Severity:      types.SeverityMajor,
			Evidence:      []types.Evidence{{Quote: ban, ChapterPos: "unknown"}},
			FixSuggestion: "Convey this through action, dialogue, and detail instead of itemized analysis.",
			RewriteScope:  types.ScopeParagraph,
		})
		break
	}

	if canonical := canon.SoftString(types.CanonProtagonistName); canonical != "" {
		var aliasHit string
		for _, alias := range canon.SoftStrings(types.CanonProtagonistAliases) {
			if alias != "" && strings.Contains(draft, alias) {
				aliasHit = alias
				break
			}
		}
		if aliasHit != "" && !strings.Contains(draft, canonical) {
			issues = append(issues, types.Issue{
				Type:              types.IssueNameDrift,
				Severity:          types.SeverityMajor,
				Evidence:          []types.Evidence{{Quote: aliasHit, ChapterPos: "unknown"}},
				RelatedMemoryKeys: []string{types.CanonProtagonistName},
				FixSuggestion:     "Narrate with the canonical name; aliases belong in dialogue or epithets with their relationship made clear.",
				RewriteScope:      types.ScopeParagraph,
			})
		}
	}

	return issues
}

// outlineMarkers are structural phrases that betray a plan rather than
// prose.
var outlineMarkers = []string{
	"Chapter goal",
	"Writing notes",
	"Scene plan",
	"Basic information",
	"Key points",
}

// LooksLikeOutline reports whether text reads as a plan instead of
// narrative: outline marker phrases, bullet lists, or checkboxes.
func LooksLikeOutline(text string) bool {
	for _, marker := range outlineMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	if strings.Contains(text, "\n- ") || strings.Contains(text, "\n* ") {
		return true
	}
	return strings.Contains(text, "[ ]") || strings.Contains(text, "[x]")
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if k != "" && strings.Contains(text, k) {
			return true
		}
	}
	return false
}

// findQuote returns the first draft line containing a keyword, capped at
// 200 runes.
func findQuote(text string, keywords []string) string {
	for _, line := range strings.Split(text, "\n") {
		for _, k := range keywords {
			if k != "" && strings.Contains(line, k) {
				trimmed := strings.TrimSpace(line)
				runes := []rune(trimmed)
				if len(runes) > 200 {
					runes = runes[:200]
				}
				return string(runes)
			}
		}
	}
	if len(keywords) > 0 {
		return keywords[0]
	}
	return ""
}
