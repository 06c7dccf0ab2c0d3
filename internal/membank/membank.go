// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package membank maintains the project's markdown memory bank. Updates
// arrive as patch proposals that pass through validation (allow-listed
// files, append-only ops, required evidence, alias normalization) before
// they touch disk, so a misbehaving model can only ever append vetted
// lines. See docs/ARCHITECTURE § Memory Bank.
package membank

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pdiddy/novel-engine/internal/llm"
	"github.com/pdiddy/novel-engine/pkg/types"
)

// CoreFiles are the memory bank files read into writing context, in the
// order they are injected into prompts.
var CoreFiles = []string{
	"projectbrief.md",
	"story_structure.md",
	"world_and_characters.md",
	"activeContext.md",
	"progress.md",
}

// allowedFiles is the patch target allow-list.
var allowedFiles = map[string]bool{
	"Core/projectbrief.md":         true,
	"Core/story_structure.md":      true,
	"Core/world_and_characters.md": true,
	"Core/activeContext.md":        true,
	"Core/progress.md":             true,
}

// Manager owns one project's memory bank directory.
type Manager struct {
	bankDir  string
	patchDir string
	canon    types.Canon
}

// NewManager opens the memory bank under projectDir, creating the patches
// directory if needed.
func NewManager(projectDir string, canon types.Canon) (*Manager, error) {
	bankDir := filepath.Join(projectDir, "memory_bank")
	patchDir := filepath.Join(bankDir, "patches")
	if err := os.MkdirAll(patchDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating patch directory: %w", err)
	}
	return &Manager{bankDir: bankDir, patchDir: patchDir, canon: canon}, nil
}

// ReadCore returns the contents of the core files that exist, keyed by
// file name.
func (m *Manager) ReadCore() map[string]string {
	contents := make(map[string]string)
	for _, name := range CoreFiles {
		data, err := os.ReadFile(filepath.Join(m.bankDir, "Core", name))
		if err != nil {
			continue
		}
		contents[name] = string(data)
	}
	return contents
}

// UpdateFromOutline records that a chapter has been planned. Returns the
// raw proposal and the validated ops that were applied.
func (m *Manager) UpdateFromOutline(chapterNum int, outlineText string) (types.PatchProposal, types.PatchProposal, error) {
	summary := simpleSummary(outlineText)
	proposal := types.PatchProposal{Ops: []types.PatchOp{{
		Op:      "append",
		File:    "Core/progress.md",
		Content: fmt.Sprintf("- Chapter %d planned: %s", chapterNum, summary),
		Evidence: types.Evidence{
			Quote:      summary,
			ChapterPos: "outline",
		},
	}}}

	if err := m.WritePatch(proposal, fmt.Sprintf("outline_%03d", chapterNum)); err != nil {
		return proposal, types.PatchProposal{}, err
	}
	applied := m.ValidatePatch(proposal)
	if err := m.ApplyPatch(applied); err != nil {
		return proposal, applied, err
	}
	return proposal, applied, nil
}

// UpdateFromChapter records an established chapter. With a backend the
// proposal comes from the model; without one a deterministic summary is
// used. Either way the proposal passes validation before being applied.
func (m *Manager) UpdateFromChapter(ctx context.Context, chapterNum int, chapterText string, backend llm.Backend) (types.PatchProposal, types.PatchProposal, error) {
	var proposal types.PatchProposal
	if backend != nil {
		p, err := m.proposePatch(ctx, chapterNum, chapterText, backend)
		if err != nil {
			return types.PatchProposal{}, types.PatchProposal{}, err
		}
		proposal = p
	} else {
		summary := simpleSummary(chapterText)
		pos := fmt.Sprintf("chapter_%03d", chapterNum)
		proposal = types.PatchProposal{Ops: []types.PatchOp{
			{
				Op:       "append",
				File:     "Core/progress.md",
				Content:  fmt.Sprintf("- Chapter %d established: %s", chapterNum, summary),
				Evidence: types.Evidence{Quote: summary, ChapterPos: pos},
			},
			{
				Op:       "append",
				File:     "Core/activeContext.md",
				Content:  fmt.Sprintf("- Current: Chapter %d", chapterNum),
				Evidence: types.Evidence{Quote: summary, ChapterPos: pos},
			},
		}}
	}

	if err := m.WritePatch(proposal, fmt.Sprintf("chapter_%03d", chapterNum)); err != nil {
		return proposal, types.PatchProposal{}, err
	}
	applied := m.ValidatePatch(proposal)
	if err := m.ApplyPatch(applied); err != nil {
		return proposal, applied, err
	}
	return proposal, applied, nil
}

// ValidatePatch filters a proposal down to the ops that may be applied:
// append-only, allow-listed target, non-empty content, evidence present.
// Alias mentions of the protagonist are normalized to the canonical name.
func (m *Manager) ValidatePatch(proposal types.PatchProposal) types.PatchProposal {
	var valid []types.PatchOp
	for _, op := range proposal.Ops {
		if op.Op != "append" || !allowedFiles[op.File] {
			continue
		}
		content := strings.TrimSpace(op.Content)
		if content == "" || op.Evidence == (types.Evidence{}) {
			continue
		}
		op.Content = m.normalizeNames(content)
		valid = append(valid, op)
	}
	return types.PatchProposal{Ops: valid}
}

// ApplyPatch appends validated ops to their target files. A "- Current:"
// line targeting activeContext replaces the previous one instead of
// stacking.
func (m *Manager) ApplyPatch(proposal types.PatchProposal) error {
	for _, op := range proposal.Ops {
		if op.Op != "append" {
			continue
		}
		content := strings.TrimSpace(op.Content)
		if op.File == "" || content == "" {
			continue
		}

		path := filepath.Join(m.bankDir, filepath.FromSlash(op.File))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
		}

		existing := ""
		if data, err := os.ReadFile(path); err == nil {
			existing = string(data)
		}

		var updated string
		if op.File == "Core/activeContext.md" && strings.HasPrefix(content, "- Current:") {
			var kept []string
			for _, line := range strings.Split(existing, "\n") {
				if strings.HasPrefix(strings.TrimSpace(line), "- Current:") {
					continue
				}
				kept = append(kept, line)
			}
			updated = strings.TrimRight(strings.Join(kept, "\n"), "\n") + "\n" + content + "\n"
			updated = strings.TrimLeft(updated, "\n")
		} else {
			updated = strings.TrimLeft(strings.TrimRight(existing, "\n")+"\n"+content+"\n", "\n")
		}

		if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", op.File, err)
		}
	}
	return nil
}

// WritePatch persists a proposal to the patches directory for audit.
func (m *Manager) WritePatch(proposal types.PatchProposal, name string) error {
	data, err := json.MarshalIndent(proposal, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding patch %s: %w", name, err)
	}
	path := filepath.Join(m.patchDir, fmt.Sprintf("memory_patch_%s.json", name))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing patch %s: %w", name, err)
	}
	return nil
}

var birthplaceLine = regexp.MustCompile(`(?i)^-\s*(.+?):\s.*birthplace[:：]\s*(.+)$`)

// ConsistencyAudit scans world_and_characters.md for characters recorded
// with conflicting birthplaces.
func (m *Manager) ConsistencyAudit() []string {
	data, err := os.ReadFile(filepath.Join(m.bankDir, "Core", "world_and_characters.md"))
	if err != nil {
		return nil
	}

	var issues []string
	seen := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		match := birthplaceLine.FindStringSubmatch(strings.TrimSpace(line))
		if match == nil {
			continue
		}
		name := strings.TrimSpace(match[1])
		birthplace := strings.TrimSpace(match[2])
		if prev, ok := seen[name]; ok && prev != birthplace {
			issues = append(issues, fmt.Sprintf("%s birthplace conflict: %s vs %s", name, prev, birthplace))
		}
		seen[name] = birthplace
	}
	return issues
}

func (m *Manager) proposePatch(ctx context.Context, chapterNum int, chapterText string, backend llm.Backend) (types.PatchProposal, error) {
	prompt := fmt.Sprintf(`Based on the chapter content, output a JSON patch proposal (do not rewrite files directly).

Target files:
- Core/progress.md: append one line summarizing this chapter
- Core/activeContext.md: update the current chapter marker

Output JSON structure: {"ops": [{"op": "append", "file": "Core/progress.md", "content": "...", "evidence": {"quote": "...", "chapter_pos": "..."}}, {"op": "append", "file": "Core/activeContext.md", "content": "- Current: Chapter %d", "evidence": {"quote": "...", "chapter_pos": "..."}}]}

Chapter content (truncated):
%s`, chapterNum, truncateRunes(chapterText, 3000))

	raw, err := backend.Chat(ctx, []llm.Message{
		{Role: "system", Content: "You are a story records assistant. Output JSON only."},
		{Role: "user", Content: prompt},
	}, llm.ChatOptions{JSONMode: true})
	if err != nil {
		return types.PatchProposal{}, fmt.Errorf("proposing memory patch for chapter %d: %w", chapterNum, err)
	}

	var proposal types.PatchProposal
	if err := llm.ExtractJSON(raw, &proposal); err != nil {
		return types.PatchProposal{}, fmt.Errorf("parsing memory patch for chapter %d: %w", chapterNum, err)
	}
	return proposal, nil
}

// normalizeNames rewrites protagonist aliases to the canonical name when
// the canonical name is absent from the text.
func (m *Manager) normalizeNames(text string) string {
	canonical := m.canon.SoftString(types.CanonProtagonistName)
	if canonical == "" {
		return text
	}
	for _, alias := range m.canon.SoftStrings(types.CanonProtagonistAliases) {
		if alias != "" && strings.Contains(text, alias) && !strings.Contains(text, canonical) {
			text = strings.ReplaceAll(text, alias, canonical)
		}
	}
	return text
}

var sentenceEnd = regexp.MustCompile(`[.!?。！？]\s*`)

// simpleSummary takes the first two sentences, capped at 120 runes.
func simpleSummary(text string) string {
	parts := sentenceEnd.Split(strings.TrimSpace(text), -1)
	var sentences []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			sentences = append(sentences, p)
		}
		if len(sentences) == 2 {
			break
		}
	}
	return truncateRunes(strings.Join(sentences, " / "), 120)
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
