// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package review

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pdiddy/novel-engine/pkg/types"
)

func issue(t types.IssueType, sev types.Severity, quote, fix string, keys ...string) types.Issue {
	return types.Issue{
		Type:              t,
		Severity:          sev,
		Evidence:          []types.Evidence{{Quote: quote}},
		RelatedMemoryKeys: keys,
		FixSuggestion:     fix,
		RewriteScope:      types.ScopeParagraph,
	}
}

func TestMergeIssuesDeduplicates(t *testing.T) {
	byProvider := map[string][]types.Issue{
		"kimi": {issue(types.IssueContinuity, types.SeverityMinor, "The Sword  Reappeared", "cut it")},
		"glm":  {issue(types.IssueContinuity, types.SeverityMajor, "the sword reappeared", "cut it")},
	}

	result, err := MergeIssues(context.Background(), byProvider, nil)
	if err != nil {
		t.Fatalf("MergeIssues: %v", err)
	}
	if len(result.Merged) != 1 {
		t.Fatalf("got %d merged issues, want 1", len(result.Merged))
	}
	if result.Merged[0].Severity != types.SeverityMajor {
		t.Errorf("severity = %s, want major", result.Merged[0].Severity)
	}
	if len(result.Merged[0].Evidence) != 2 {
		t.Errorf("evidence entries = %d, want 2", len(result.Merged[0].Evidence))
	}
	if len(result.Decisions) != 1 {
		t.Fatalf("got %d decisions, want 1", len(result.Decisions))
	}
	if result.Decisions[0].SelectedProvider != "glm" {
		t.Errorf("selected provider = %s, want glm", result.Decisions[0].SelectedProvider)
	}
}

func TestMergeIssuesDistinctKeysStaySeparate(t *testing.T) {
	byProvider := map[string][]types.Issue{
		"kimi": {
			issue(types.IssueContinuity, types.SeverityMinor, "quote one", "fix"),
			issue(types.IssueTimeline, types.SeverityMinor, "quote one", "fix"),
		},
	}
	result, err := MergeIssues(context.Background(), byProvider, nil)
	if err != nil {
		t.Fatalf("MergeIssues: %v", err)
	}
	if len(result.Merged) != 2 {
		t.Errorf("got %d merged issues, want 2", len(result.Merged))
	}
	if len(result.Decisions) != 0 {
		t.Errorf("single-provider groups produced decisions: %+v", result.Decisions)
	}
}

func TestMergeIssuesArbiter(t *testing.T) {
	byProvider := map[string][]types.Issue{
		"kimi": {issue(types.IssueContinuity, types.SeverityMinor, "same quote", "fix A")},
		"glm":  {issue(types.IssueContinuity, types.SeverityMinor, "same quote", "fix B")},
	}

	arbiter := func(_ context.Context, conflicting []types.Issue) (types.Issue, string, error) {
		for _, c := range conflicting {
			if c.FixSuggestion == "fix B" {
				return c, "fix B is more specific", nil
			}
		}
		return conflicting[0], "fallback", nil
	}

	result, err := MergeIssues(context.Background(), byProvider, arbiter)
	if err != nil {
		t.Fatalf("MergeIssues: %v", err)
	}
	if result.Merged[0].FixSuggestion != "fix B" {
		t.Errorf("arbiter choice ignored: %q", result.Merged[0].FixSuggestion)
	}
	if result.Decisions[0].SelectedProvider != "arbiter" {
		t.Errorf("selected provider = %s, want arbiter", result.Decisions[0].SelectedProvider)
	}
}

func TestMergeEvidenceCap(t *testing.T) {
	many := issue(types.IssueRedundancy, types.SeverityMinor, "q", "fix")
	many.Evidence = []types.Evidence{{Quote: "q"}, {Quote: "a"}, {Quote: "b"}, {Quote: "c"}}
	byProvider := map[string][]types.Issue{
		"kimi": {many},
		"glm":  {issue(types.IssueRedundancy, types.SeverityMinor, "q", "fix")},
	}
	result, err := MergeIssues(context.Background(), byProvider, nil)
	if err != nil {
		t.Fatalf("MergeIssues: %v", err)
	}
	if len(result.Merged[0].Evidence) != 5 {
		t.Errorf("evidence = %d, want cap of 5", len(result.Merged[0].Evidence))
	}
}

func TestWriteOutputs(t *testing.T) {
	dir := t.TempDir()
	if err := WriteOutputs(MergeResult{}, dir); err != nil {
		t.Fatalf("WriteOutputs: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "issues_merged.json"))
	if err != nil {
		t.Fatalf("reading issues_merged.json: %v", err)
	}
	var merged []types.Issue
	if err := json.Unmarshal(data, &merged); err != nil {
		t.Errorf("issues_merged.json not a JSON array: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "issues_decisions.json")); err != nil {
		t.Errorf("issues_decisions.json missing: %v", err)
	}
}

func hardCanon() types.Canon {
	return types.Canon{
		HardRules: []types.HardRule{{
			Key:               "system.warehouse.accessible",
			Value:             false,
			ViolationKeywords: []string{"warehouse"},
			SuccessKeywords:   []string{"opened", "retrieved"},
			FailureKeywords:   []string{"refused", "failed"},
		}},
		SoftFacts: []types.SoftFact{
			{Key: types.CanonProtagonistName, Value: "Lin Fan"},
			{Key: types.CanonProtagonistAliases, Value: []any{"Ash"}},
		},
		StyleBans: []string{`status panel`, `pros and cons`},
	}
}

func TestCheckHardState(t *testing.T) {
	tests := []struct {
		name     string
		draft    string
		wantType types.IssueType
		wantNone bool
	}{
		{
			name:     "successful forbidden access",
			draft:    "Lin Fan reached into the warehouse and retrieved the blade.",
			wantType: types.IssueStateViolation,
		},
		{
			name:     "failed attempt is fine",
			draft:    "Lin Fan clawed at the warehouse seal, but it refused him again.",
			wantNone: true,
		},
		{
			name:     "mention without success is fine",
			draft:    "Lin Fan stared at the sealed warehouse from across the square.",
			wantNone: true,
		},
		{
			name:     "style ban",
			draft:    "Lin Fan weighed the pros and cons of the duel.",
			wantType: types.IssueStyleMeta,
		},
		{
			name:     "name drift",
			draft:    "Ash walked into the sect hall alone.",
			wantType: types.IssueNameDrift,
		},
		{
			name:     "alias with canonical present is fine",
			draft:    `Lin Fan, whom the slum children called Ash, walked on.`,
			wantNone: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issues := CheckHardState(tt.draft, hardCanon())
			if tt.wantNone {
				if len(issues) != 0 {
					t.Fatalf("unexpected issues: %+v", issues)
				}
				return
			}
			if len(issues) != 1 {
				t.Fatalf("got %d issues, want 1: %+v", len(issues), issues)
			}
			if issues[0].Type != tt.wantType {
				t.Errorf("type = %s, want %s", issues[0].Type, tt.wantType)
			}
		})
	}
}

func TestCheckHardStateViolationDetails(t *testing.T) {
	issues := CheckHardState("He opened the warehouse without resistance.", hardCanon())
	if len(issues) != 1 {
		t.Fatalf("got %d issues, want 1", len(issues))
	}
	if issues[0].Severity != types.SeverityBlocker {
		t.Errorf("severity = %s, want blocker", issues[0].Severity)
	}
	if !strings.Contains(issues[0].Evidence[0].Quote, "warehouse") {
		t.Errorf("evidence quote missing keyword line: %q", issues[0].Evidence[0].Quote)
	}
	if issues[0].RelatedMemoryKeys[0] != "system.warehouse.accessible" {
		t.Errorf("related key = %s", issues[0].RelatedMemoryKeys[0])
	}
}

func TestLooksLikeOutline(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"marker phrase", "Chapter goal: introduce the antagonist", true},
		{"bullet list", "Some intro.\n- first beat\n- second beat", true},
		{"checkbox", "tasks: [ ] write duel", true},
		{"plain prose", "The rain had not stopped for three days.", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LooksLikeOutline(tt.text); got != tt.want {
				t.Errorf("LooksLikeOutline = %v, want %v", got, tt.want)
			}
		})
	}
}
