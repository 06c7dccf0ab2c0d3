// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdiddy/novel-engine/internal/critic"
	"github.com/pdiddy/novel-engine/internal/llm"
	"github.com/pdiddy/novel-engine/internal/memory"
	"github.com/pdiddy/novel-engine/internal/review"
	"github.com/pdiddy/novel-engine/pkg/types"
)

// loadOrGenerateOutline returns the L3 chapter outline, generating and
// persisting one from the catalog entry when none exists.
func (p *Pipeline) loadOrGenerateOutline(ctx context.Context, chapterNum int, info types.ChapterInfo, chapterDir string) (string, error) {
	volume := p.project.Catalog.Volume
	if outline, ok := p.project.ChapterOutline(volume, chapterNum); ok {
		return outline, nil
	}

	var upper strings.Builder
	if v := p.project.VolumeOutline(volume); v != "" {
		upper.WriteString("## Volume outline\n" + truncateRunes(v, 1500) + "\n\n")
	}
	if part := p.project.PartOutline(volume, chapterNum); part != "" {
		upper.WriteString("## Part outline\n" + truncateRunes(part, 1500) + "\n\n")
	}
	if constitution := p.project.Doc("constitution.md"); constitution != "" {
		upper.WriteString("## Story constitution\n" + truncateRunes(constitution, 1500) + "\n\n")
	}

	system := "You are a professional serial-fiction story editor."
	prompt := fmt.Sprintf(`You are a story planning editor. Produce a concise outline for chapter %d.
%sTitle: %s
Summary: %s
Output structure: a scene list with each scene's goal.`, chapterNum, upper.String(), info.Title, info.Summary)

	if err := savePrompt(filepath.Join(chapterDir, "prompt_outline.txt"), system, prompt); err != nil {
		return "", err
	}
	outline, err := p.writer.Chat(ctx, []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: prompt},
	}, llm.ChatOptions{})
	if err != nil {
		return "", fmt.Errorf("generating outline for chapter %d: %w", chapterNum, err)
	}
	if err := p.project.SaveChapterOutline(volume, chapterNum, outline); err != nil {
		return "", err
	}
	return outline, nil
}

// buildContext assembles the writing context: hard state, memory bank
// excerpt, story state, semantic recall, and the outline.
func (p *Pipeline) buildContext(ctx context.Context, chapterNum int, outline string, snapshot types.Snapshot) (string, error) {
	hardState, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding snapshot: %w", err)
	}

	core := p.bank.ReadCore()
	bankExcerpt := truncateRunes(core["world_and_characters.md"]+"\n"+core["activeContext.md"], 2000)

	worldbook := "(none)"
	if wb, err := p.project.LoadWorldbook(); err != nil {
		return "", err
	} else if len(wb.Rules) > 0 {
		rules, err := json.MarshalIndent(wb.Rules, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encoding worldbook rules: %w", err)
		}
		worldbook = truncateRunes(string(rules), 1500)
	}

	recall := "(none)"
	if p.mem != nil {
		entries, err := p.mem.QueryContext(ctx, fmt.Sprintf("important events before chapter %d", chapterNum), chapterNum)
		if err != nil {
			return "", fmt.Errorf("querying semantic memory: %w", err)
		}
		if formatted := memory.FormatContext(entries); formatted != "" {
			recall = formatted
		}
	}

	stateContext := p.state.WritingContext(chapterNum, "")

	return "# HardState Snapshot\n" + string(hardState) +
		"\n\n# Worldbook Rules\n" + worldbook +
		"\n\n# MemoryBank Excerpt\n" + bankExcerpt +
		"\n\n# Story State\n" + stateContext +
		"\n\n# Memory Recall\n" + recall +
		"\n\n# Outline\n" + outline, nil
}

// writeDraft produces the chapter prose plus its trailing state diff.
func (p *Pipeline) writeDraft(ctx context.Context, chapterNum int, title, writingContext, chapterDir string) (string, error) {
	system := "You are a top-tier serial fiction writer."
	prompt := fmt.Sprintf(`Write the prose for chapter %d.

## Context
%s

## Requirements
- Output only the prose plus a trailing State Diff
- Wrap the State Diff as JSON in a `+"```json"+` code block, for example:
{"facts": [{"subject": "system.warehouse", "predicate": "accessible", "value": true, "hard": true, "reason": "unlocked"}], "rename_events": [{"canonical_name": "Alan North", "new_name": "Lin Yuan", "reason": "past identity revealed"}]}
- Nothing may contradict the HardState snapshot; a change must be explained in the story and declared in the State Diff
- Narrate with the canonical name; aliases appear only in dialogue or as epithets, and a rename must be registered in the State Diff
- No itemized pro/con analysis
- No outline or meta content such as scene plans, writing notes, chapter goals, or basic information blocks
- No markdown headings or scene subtitles; write continuous narrative prose
- Every number, resource, and progression value must match the HardState; changes need an in-story explanation and a State Diff entry
- Target length: about %d words

## Title
%s`, chapterNum, writingContext, p.project.Config.Writing.TargetWords, title)

	if err := savePrompt(filepath.Join(chapterDir, "prompt_draft.txt"), system, prompt); err != nil {
		return "", err
	}
	draft, err := p.writer.Chat(ctx, []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: prompt},
	}, llm.ChatOptions{})
	if err != nil {
		return "", fmt.Errorf("drafting chapter %d: %w", chapterNum, err)
	}
	return draft, nil
}

// Outline returns a chapter's outline, generating one when none exists.
// It is the load-or-generate stage exposed for the CLI.
func (p *Pipeline) Outline(ctx context.Context, chapterNum int) (string, error) {
	info, err := p.project.Catalog.Info(chapterNum)
	if err != nil {
		return "", err
	}
	chapterDir, err := p.project.PipelineDir(chapterNum)
	if err != nil {
		return "", err
	}
	return p.loadOrGenerateOutline(ctx, chapterNum, info, chapterDir)
}

// Review runs the full review stage against arbitrary chapter text and
// returns the issues, writing the usual artifacts under the chapter's
// pipeline directory with the "manual" stage name.
func (p *Pipeline) Review(ctx context.Context, chapterNum int, text string) ([]types.Issue, error) {
	chapterDir, err := p.project.PipelineDir(chapterNum)
	if err != nil {
		return nil, err
	}
	snapshot, err := p.facts.Snapshot(ctx, chapterNum-1)
	if err != nil {
		return nil, err
	}
	return p.review(ctx, chapterNum, chapterDir, text, snapshot, p.state.WritingContext(chapterNum, ""), "manual")
}

// review collects issues from the deterministic checkers and the critic
// fan-out, writing issues_<stage>.json alongside the per-provider and
// merged artifacts.
func (p *Pipeline) review(ctx context.Context, chapterNum int, chapterDir, draft string, snapshot types.Snapshot, writingContext, stage string) ([]types.Issue, error) {
	var issues []types.Issue
	reviewText, _, _ := ExtractFinal(draft)

	if *p.project.Config.Review.UseHardChecker {
		issues = append(issues, review.CheckHardState(reviewText, p.project.Canon)...)
	}

	if *p.project.Config.Review.UseConsistencyChecker {
		for _, problem := range p.state.CheckConsistency(chapterNum, reviewText) {
			issues = append(issues, types.Issue{
				Type:          types.IssueStateViolation,
				Severity:      types.SeverityMajor,
				Evidence:      []types.Evidence{{Quote: problem, ChapterPos: "unknown"}},
				FixSuggestion: "Add an in-story explanation or rewrite the offending passage.",
				RewriteScope:  types.ScopeParagraph,
			})
		}
	}

	if len(p.critics) > 0 {
		canonSummary, err := json.Marshal(p.project.Canon)
		if err != nil {
			return nil, fmt.Errorf("encoding canon summary: %w", err)
		}
		results, err := critic.Run(ctx, critic.Input{
			Draft:          reviewText,
			CanonSummary:   string(canonSummary),
			StateSnapshot:  snapshot,
			ContextExcerpt: truncateRunes(writingContext, 1200),
			StyleBans:      p.project.Canon.StyleBans,
		}, p.critics, p.project.Config.Critics.MaxWorkers, chapterDir)
		if err != nil {
			return nil, err
		}

		byProvider := make(map[string][]types.Issue, len(results))
		for _, result := range results {
			byProvider[result.Provider] = result.Issues
		}
		merged, err := review.MergeIssues(ctx, byProvider, p.arbitrate)
		if err != nil {
			return nil, err
		}
		if err := review.WriteOutputs(merged, chapterDir); err != nil {
			return nil, err
		}
		issues = append(issues, merged.Merged...)
	}

	if len(issues) == 0 && review.LooksLikeOutline(reviewText) {
		issues = append(issues, types.Issue{
			Type:          types.IssueStyleMeta,
			Severity:      types.SeverityMajor,
			Evidence:      []types.Evidence{{Quote: "text reads as an outline or plan", ChapterPos: "unknown"}},
			FixSuggestion: "Rewrite as continuous narrative prose; remove headings, lists, and notes.",
			RewriteScope:  types.ScopeScene,
		})
	}

	if issues == nil {
		issues = []types.Issue{}
	}
	if err := writeJSON(filepath.Join(chapterDir, fmt.Sprintf("issues_%s.json", stage)), issues); err != nil {
		return nil, err
	}
	return issues, nil
}

// revise asks for a minimal fix pass against the issue list.
func (p *Pipeline) revise(ctx context.Context, draft string, issues []types.Issue, writingContext, chapterDir string) (string, error) {
	issuesJSON, err := json.MarshalIndent(issues, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding issues: %w", err)
	}

	system := "You are a fiction revision editor. Make only minimal changes."
	prompt := fmt.Sprintf(`Revise the prose minimally against the issues below. Do not rewrite the whole chapter.

## Context
%s

## Draft
%s

## Issues
%s

Output the revised prose plus a trailing State Diff JSON code block.
Where an issue concerns headings, outlines, or lists, delete that structure entirely and replace it with continuous narrative.
The revised prose must contain no numbered or bulleted lists.
Where an issue concerns conflicting numbers (resources, stages), match the HardState or add an acquisition/consumption beat and record it in the State Diff.`, writingContext, draft, issuesJSON)

	if err := savePrompt(filepath.Join(chapterDir, "prompt_revise.txt"), system, prompt); err != nil {
		return "", err
	}
	revised, err := p.writer.Chat(ctx, []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: prompt},
	}, llm.ChatOptions{})
	if err != nil {
		return "", fmt.Errorf("revising chapter: %w", err)
	}
	return revised, nil
}

// reviseStrict is the last-chance pass: every issue must be resolved, and
// numeric overrides from the snapshot are stated outright.
func (p *Pipeline) reviseStrict(ctx context.Context, draft string, issues []types.Issue, writingContext string, snapshot types.Snapshot, chapterDir string) (string, error) {
	issuesJSON, err := json.MarshalIndent(issues, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding issues: %w", err)
	}

	var extra strings.Builder
	if overrides := numericOverrides(issues, snapshot); len(overrides) > 0 {
		extra.WriteString("These values are fixed and must appear exactly:\n")
		for _, item := range overrides {
			fmt.Fprintf(&extra, "- %s\n", item)
		}
	}

	system := "You are a strict revision editor. Every issue must be resolved."
	prompt := fmt.Sprintf(`This is a strict revision. Resolve every issue below; none may remain.

## Context
%s

## Draft
%s

## Issues
%s

Output the revised prose plus a trailing State Diff JSON code block.
Where a forbidden capability is involved, the prose must not depict it succeeding; rewrite to a real-world source or an outright failure.
No markdown headings or lists of any kind.
%s`, writingContext, draft, issuesJSON, extra.String())

	if err := savePrompt(filepath.Join(chapterDir, "prompt_revise_strict.txt"), system, prompt); err != nil {
		return "", err
	}
	revised, err := p.writer.Chat(ctx, []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: prompt},
	}, llm.ChatOptions{})
	if err != nil {
		return "", fmt.Errorf("strict-revising chapter: %w", err)
	}
	return revised, nil
}

// arbitrate resolves a conflicting issue group with the writer model,
// falling back to the first issue when the model fails.
func (p *Pipeline) arbitrate(ctx context.Context, conflicting []types.Issue) (types.Issue, string, error) {
	issuesJSON, err := json.Marshal(conflicting)
	if err != nil {
		return conflicting[0], "arbiter_failed_fallback", nil
	}

	promptText := fmt.Sprintf(`The findings below describe the same problem. Pick the single most actionable one and explain why.

Issues:
%s

Output JSON: {"issue": {...}, "reason": "..."}`, truncateRunes(string(issuesJSON), 3000))

	raw, err := p.writer.Chat(ctx, []llm.Message{
		{Role: "system", Content: "You are a review referee. Choose, never rewrite."},
		{Role: "user", Content: promptText},
	}, llm.ChatOptions{JSONMode: true})
	if err != nil {
		return conflicting[0], "arbiter_failed_fallback", nil
	}

	var decision struct {
		Issue  *types.Issue `json:"issue"`
		Reason string       `json:"reason"`
	}
	if err := llm.ExtractJSON(raw, &decision); err != nil || decision.Issue == nil {
		return conflicting[0], "arbiter_failed_fallback", nil
	}
	if decision.Reason == "" {
		decision.Reason = "arbiter_selected"
	}
	return *decision.Issue, decision.Reason, nil
}

// numericOverrides extracts hard numeric values referenced by issues so
// the strict pass can state them verbatim.
func numericOverrides(issues []types.Issue, snapshot types.Snapshot) []string {
	var overrides []string
	for subject, preds := range snapshot {
		for predicate, value := range preds {
			num, ok := value.(float64)
			if !ok {
				continue
			}
			key := subject + "." + predicate
			for _, issue := range issues {
				blob := issue.Description + " " + issue.FixSuggestion
				if strings.Contains(blob, predicate) || containsKey(issue.RelatedMemoryKeys, key) {
					overrides = append(overrides, fmt.Sprintf("%s must be %v", key, num))
					break
				}
			}
		}
	}
	return overrides
}

func containsKey(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

// savePrompt persists the exact prompt a stage sent, for audit.
func savePrompt(path, system, user string) error {
	payload := fmt.Sprintf("SYSTEM:\n%s\n\nUSER:\n%s\n", system, user)
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		return fmt.Errorf("writing prompt artifact: %w", err)
	}
	return nil
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
