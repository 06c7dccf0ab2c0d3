// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package review merges critic findings into a single actionable issue
// list and runs the deterministic hard-state and style checks that do not
// need a model. See docs/ARCHITECTURE § Review.
package review

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pdiddy/novel-engine/pkg/types"
)

// Arbiter resolves a group of conflicting findings to one issue and a
// reason. Usually model-backed; nil falls back to highest severity.
type Arbiter func(ctx context.Context, conflicting []types.Issue) (types.Issue, string, error)

// Decision records how one conflicting group was resolved.
type Decision struct {
	IssueKey         string   `json:"issue_key"`
	Providers        []string `json:"providers"`
	SelectedProvider string   `json:"selected_provider"`
	Reason           string   `json:"reason"`
}

// MergeResult is the merged issue list plus the audit trail of group
// decisions.
type MergeResult struct {
	Merged    []types.Issue `json:"merged"`
	Decisions []Decision    `json:"decisions"`
}

// MergeIssues deduplicates findings across providers. Issues sharing a
// key (type, related memory keys, normalized first quote) collapse to one:
// the highest severity wins, or the arbiter decides when providers
// disagree on severity or fix. Evidence from all group members is kept,
// capped at five quotes.
func MergeIssues(ctx context.Context, issuesByProvider map[string][]types.Issue, arbiter Arbiter) (MergeResult, error) {
	type member struct {
		provider string
		issue    types.Issue
	}
	grouped := make(map[string][]member)

	providers := make([]string, 0, len(issuesByProvider))
	for provider := range issuesByProvider {
		providers = append(providers, provider)
	}
	sort.Strings(providers)
	for _, provider := range providers {
		for _, issue := range issuesByProvider[provider] {
			key := issueKey(issue)
			grouped[key] = append(grouped[key], member{provider: provider, issue: issue})
		}
	}

	keys := make([]string, 0, len(grouped))
	for key := range grouped {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var result MergeResult
	for _, key := range keys {
		members := grouped[key]

		severities := make(map[types.Severity]bool)
		suggestions := make(map[string]bool)
		for _, m := range members {
			severities[m.issue.Severity] = true
			suggestions[strings.TrimSpace(m.issue.FixSuggestion)] = true
		}
		conflict := len(severities) > 1 || len(suggestions) > 1

		var (
			best         types.Issue
			bestProvider string
			reason       string
		)
		if arbiter != nil && conflict {
			conflicting := make([]types.Issue, len(members))
			for i, m := range members {
				conflicting[i] = m.issue
			}
			chosen, why, err := arbiter(ctx, conflicting)
			if err != nil {
				return MergeResult{}, fmt.Errorf("arbitrating issue group %s: %w", key, err)
			}
			best, bestProvider, reason = chosen, "arbiter", why
		} else {
			reason = "selected highest severity"
			for i, m := range members {
				if i == 0 || m.issue.Severity.Rank() > best.Severity.Rank() {
					best = m.issue
					bestProvider = m.provider
				}
			}
		}

		var evidence []types.Evidence
		for _, m := range members {
			evidence = append(evidence, m.issue.Evidence...)
		}
		if len(evidence) > 5 {
			evidence = evidence[:5]
		}
		best.Evidence = evidence

		result.Merged = append(result.Merged, best)
		if len(members) > 1 {
			providerNames := make([]string, len(members))
			for i, m := range members {
				providerNames[i] = m.provider
			}
			result.Decisions = append(result.Decisions, Decision{
				IssueKey:         key,
				Providers:        providerNames,
				SelectedProvider: bestProvider,
				Reason:           reason,
			})
		}
	}

	return result, nil
}

// issueKey fingerprints an issue for cross-provider grouping.
func issueKey(issue types.Issue) string {
	keys := append([]string(nil), issue.RelatedMemoryKeys...)
	sort.Strings(keys)

	quote := ""
	if len(issue.Evidence) > 0 {
		quote = issue.Evidence[0].Quote
	}
	return fmt.Sprintf("%s|%s|%s", issue.Type, strings.Join(keys, ","), normalizeText(quote))
}

// normalizeText strips whitespace, lowercases, and caps at 200 runes so
// near-identical quotes fingerprint the same.
func normalizeText(text string) string {
	stripped := strings.Join(strings.Fields(text), "")
	runes := []rune(strings.ToLower(stripped))
	if len(runes) > 200 {
		runes = runes[:200]
	}
	return string(runes)
}

// WriteOutputs persists the merged list and decision trail to dir.
func WriteOutputs(result MergeResult, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating review output dir: %w", err)
	}
	merged := result.Merged
	if merged == nil {
		merged = []types.Issue{}
	}
	decisions := result.Decisions
	if decisions == nil {
		decisions = []Decision{}
	}
	for name, payload := range map[string]any{
		"issues_merged.json":    merged,
		"issues_decisions.json": decisions,
	} {
		data, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding %s: %w", name, err)
		}
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
	}
	return nil
}
