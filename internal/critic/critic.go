// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package critic fans a chapter draft out to several reviewer models in
// parallel and collects structured issue lists. A failed critic degrades
// to an empty result instead of blocking the pipeline. See
// docs/ARCHITECTURE § Review.
package critic

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/novel-engine/internal/llm"
	"github.com/pdiddy/novel-engine/pkg/types"
)

// retryDelay is the base wait between rate-limited attempts. Tests shorten it.
var retryDelay = 10 * time.Second

const maxAttempts = 3

// Result is one critic's output. Err is set when the critic failed after
// retries; its issue list is then empty.
type Result struct {
	Provider string        `json:"provider"`
	Issues   []types.Issue `json:"issues"`
	RawText  string        `json:"-"`
	Err      string        `json:"error,omitempty"`
}

// Input carries everything a critic needs to review a draft.
type Input struct {
	Draft          string
	CanonSummary   string
	StateSnapshot  types.Snapshot
	ContextExcerpt string
	StyleBans      []string
}

// Run reviews the draft with every backend concurrently, at most
// maxWorkers at a time. When outputDir is non-empty each critic's raw
// result is written to issues_raw_<provider>.json. Results come back
// sorted by provider name so artifacts are stable across runs.
func Run(ctx context.Context, input Input, backends map[string]llm.Backend, maxWorkers int, outputDir string) ([]Result, error) {
	if len(backends) == 0 {
		return nil, nil
	}
	if maxWorkers <= 0 {
		maxWorkers = len(backends)
	}

	messages := buildPrompt(input)

	results := make([]Result, 0, len(backends))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxWorkers)

	for name, backend := range backends {
		name, backend := name, backend
		g.Go(func() error {
			result := runSingle(gctx, name, backend, messages)
			mu.Lock()
			results = append(results, result)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Provider < results[j].Provider })

	if outputDir != "" {
		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating critic output dir: %w", err)
		}
		for _, result := range results {
			data, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return nil, fmt.Errorf("encoding critic result %s: %w", result.Provider, err)
			}
			path := filepath.Join(outputDir, fmt.Sprintf("issues_raw_%s.json", result.Provider))
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return nil, fmt.Errorf("writing %s: %w", path, err)
			}
		}
	}

	return results, nil
}

func runSingle(ctx context.Context, name string, backend llm.Backend, messages []llm.Message) Result {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		raw, err := backend.Chat(ctx, messages, llm.ChatOptions{JSONMode: true})
		if err != nil {
			msg := err.Error()
			if attempt < maxAttempts-1 && isRateLimited(msg) {
				select {
				case <-time.After(retryDelay * time.Duration(attempt+1)):
					continue
				case <-ctx.Done():
					return Result{Provider: name, Err: ctx.Err().Error()}
				}
			}
			return Result{Provider: name, Err: msg}
		}

		var payload struct {
			Issues []types.Issue `json:"issues"`
		}
		if err := llm.ExtractJSON(raw, &payload); err != nil {
			return Result{Provider: name, RawText: raw, Err: fmt.Sprintf("parsing issues: %v", err)}
		}
		return Result{Provider: name, Issues: SanitizeIssues(payload.Issues), RawText: raw}
	}
	return Result{Provider: name, Err: "retries exhausted"}
}

func isRateLimited(msg string) bool {
	return strings.Contains(msg, "429") || strings.Contains(strings.ToLower(msg), "rate limit")
}

// SanitizeIssues drops issues a downstream stage cannot act on: unknown
// types and issues with no evidence quote. An unknown severity degrades
// to minor rather than discarding the finding.
func SanitizeIssues(issues []types.Issue) []types.Issue {
	var clean []types.Issue
	for _, issue := range issues {
		if !types.ValidIssueTypes[issue.Type] {
			continue
		}
		if len(issue.Evidence) == 0 || issue.Evidence[0].Quote == "" {
			continue
		}
		if !issue.Severity.Valid() {
			issue.Severity = types.SeverityMinor
		}
		clean = append(clean, issue)
	}
	return clean
}

func buildPrompt(input Input) []llm.Message {
	snapshotJSON, _ := json.MarshalIndent(input.StateSnapshot, "", "  ")

	var sb strings.Builder
	sb.WriteString("Review the chapter draft below and output an issues JSON.\n\n")
	fmt.Fprintf(&sb, "## Canon summary\n%s\n\n", input.CanonSummary)
	fmt.Fprintf(&sb, "## Hard state snapshot\n%s\n\n", snapshotJSON)
	fmt.Fprintf(&sb, "## Context excerpt\n%s\n\n", input.ContextExcerpt)
	fmt.Fprintf(&sb, "## Chapter draft\n%s\n\n", input.Draft)
	sb.WriteString(`Output requirements:
- Strict JSON in the form {"issues": [ ... ]}
- Every issue must carry evidence with a quote
- severity must be one of blocker/major/minor/nit
- type must be one of continuity/state_violation/timeline/character_voice/style_meta/plot_hole/redundancy/name_drift
- fix_suggestion gives the minimal fix
- requires_rewrite_scope must be one of line/paragraph/scene
- If the prose contains outline-like structure (bullet plans, scene lists, writing notes), emit a style_meta issue with severity major
- The trailing State Diff JSON code block is required by the system and is not an issue
- If the prose contains markdown headings (#, ##, ###) or scene-number subtitles, emit a style_meta issue (severity major); the fix is to remove headings and write continuous narrative, never to add more
`)
	if len(input.StyleBans) > 0 {
		fmt.Fprintf(&sb, "- Treat any of the following phrasings as style_meta violations: %s\n", strings.Join(input.StyleBans, ", "))
	}

	return []llm.Message{
		{Role: "system", Content: "You are an exacting fiction reviewer. Output JSON only, no commentary."},
		{Role: "user", Content: sb.String()},
	}
}
