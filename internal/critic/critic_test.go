// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package critic

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pdiddy/novel-engine/internal/llm"
	"github.com/pdiddy/novel-engine/pkg/types"
)

func TestMain(m *testing.M) {
	retryDelay = time.Millisecond
	os.Exit(m.Run())
}

type fakeBackend struct {
	calls    atomic.Int32
	response string
	errs     []error
}

func (b *fakeBackend) Chat(_ context.Context, _ []llm.Message, _ llm.ChatOptions) (string, error) {
	n := int(b.calls.Add(1)) - 1
	if n < len(b.errs) && b.errs[n] != nil {
		return "", b.errs[n]
	}
	return b.response, nil
}

func issuesJSON(issues ...types.Issue) string {
	data, _ := json.Marshal(map[string]any{"issues": issues})
	return string(data)
}

func TestRunCollectsAllProviders(t *testing.T) {
	kimi := &fakeBackend{response: issuesJSON(types.Issue{
		Type:          types.IssueContinuity,
		Severity:      types.SeverityMajor,
		Evidence:      []types.Evidence{{Quote: "the sword reappeared"}},
		FixSuggestion: "drop the sword mention",
		RewriteScope:  types.ScopeParagraph,
	})}
	glm := &fakeBackend{response: issuesJSON()}

	outputDir := t.TempDir()
	results, err := Run(context.Background(), Input{Draft: "text"}, map[string]llm.Backend{
		"kimi": kimi,
		"glm":  glm,
	}, 2, outputDir)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Provider != "glm" || results[1].Provider != "kimi" {
		t.Errorf("results not sorted by provider: %s, %s", results[0].Provider, results[1].Provider)
	}
	if len(results[1].Issues) != 1 {
		t.Errorf("kimi issues = %d, want 1", len(results[1].Issues))
	}

	for _, provider := range []string{"kimi", "glm"} {
		path := filepath.Join(outputDir, "issues_raw_"+provider+".json")
		if _, err := os.Stat(path); err != nil {
			t.Errorf("missing artifact for %s: %v", provider, err)
		}
	}
}

func TestRunRetriesRateLimit(t *testing.T) {
	backend := &fakeBackend{
		errs:     []error{errors.New("status 429 from upstream"), errors.New("rate limit hit")},
		response: issuesJSON(),
	}

	results, err := Run(context.Background(), Input{Draft: "text"}, map[string]llm.Backend{"kimi": backend}, 1, "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if results[0].Err != "" {
		t.Errorf("unexpected error after retries: %s", results[0].Err)
	}
	if got := backend.calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestRunFailedCriticDegrades(t *testing.T) {
	failing := &fakeBackend{errs: []error{errors.New("connection refused")}}
	healthy := &fakeBackend{response: issuesJSON()}

	results, err := Run(context.Background(), Input{Draft: "text"}, map[string]llm.Backend{
		"kimi": failing,
		"glm":  healthy,
	}, 2, "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	byProvider := map[string]Result{}
	for _, r := range results {
		byProvider[r.Provider] = r
	}
	if byProvider["kimi"].Err == "" {
		t.Error("failing critic reported no error")
	}
	if len(byProvider["kimi"].Issues) != 0 {
		t.Error("failing critic reported issues")
	}
	if byProvider["glm"].Err != "" {
		t.Errorf("healthy critic reported error: %s", byProvider["glm"].Err)
	}
	// Non-retryable error fails fast.
	if got := failing.calls.Load(); got != 1 {
		t.Errorf("failing critic calls = %d, want 1", got)
	}
}

func TestSanitizeIssues(t *testing.T) {
	evidence := []types.Evidence{{Quote: "q"}}
	issues := SanitizeIssues([]types.Issue{
		{Type: types.IssueContinuity, Severity: types.SeverityMajor, Evidence: evidence},
		{Type: "vibes", Severity: types.SeverityMajor, Evidence: evidence},
		{Type: types.IssueTimeline, Severity: types.SeverityMinor},
		{Type: types.IssuePlotHole, Severity: "catastrophic", Evidence: evidence},
	})

	if len(issues) != 2 {
		t.Fatalf("got %d issues, want 2: %+v", len(issues), issues)
	}
	if issues[1].Severity != types.SeverityMinor {
		t.Errorf("unknown severity not degraded to minor: %s", issues[1].Severity)
	}
}

func TestBuildPromptIncludesStyleBans(t *testing.T) {
	messages := buildPrompt(Input{
		Draft:     "draft text",
		StyleBans: []string{"pros and cons", "status panel"},
	})
	if len(messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(messages))
	}
	if !strings.Contains(messages[1].Content, "status panel") {
		t.Error("style bans not injected into prompt")
	}
	if !strings.Contains(messages[1].Content, `{"issues": [ ... ]}`) {
		t.Error("output format instruction missing")
	}
}
