// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pipeline drives a chapter through the full writing loop:
// outline, state snapshot, context assembly, draft, review, bounded
// revision, finalization, and commit. Every stage leaves an artifact
// under pipeline/chapters/cNNN so a run can be audited after the fact.
// See docs/ARCHITECTURE § Chapter Pipeline.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pdiddy/novel-engine/internal/factstore"
	"github.com/pdiddy/novel-engine/internal/llm"
	"github.com/pdiddy/novel-engine/internal/membank"
	"github.com/pdiddy/novel-engine/internal/memory"
	"github.com/pdiddy/novel-engine/internal/project"
	"github.com/pdiddy/novel-engine/internal/storystate"
	"github.com/pdiddy/novel-engine/pkg/types"
)

// Pipeline wires the stores and model backends for one project.
type Pipeline struct {
	project *project.Project
	writer  llm.Backend
	critics map[string]llm.Backend

	facts *factstore.Store
	bank  *membank.Manager
	state *storystate.Manager
	mem   *memory.Store // nil when semantic memory is disabled
}

// New assembles a pipeline. mem may be nil; every other component is
// required. Canon hard rules are seeded into the fact store so chapter 1
// already has a snapshot to honor.
func New(proj *project.Project, writer llm.Backend, critics map[string]llm.Backend, facts *factstore.Store, bank *membank.Manager, state *storystate.Manager, mem *memory.Store) (*Pipeline, error) {
	if err := facts.SeedFromCanon(context.Background(), proj.Canon); err != nil {
		return nil, fmt.Errorf("seeding canon facts: %w", err)
	}
	return &Pipeline{
		project: proj,
		writer:  writer,
		critics: critics,
		facts:   facts,
		bank:    bank,
		state:   state,
		mem:     mem,
	}, nil
}

// Run writes one chapter end to end. It returns false when blocking
// issues survive the strict revision pass; the chapter is then left
// unfinalized with its artifacts in place for inspection.
func (p *Pipeline) Run(ctx context.Context, chapterNum int, out io.Writer) (bool, error) {
	info, err := p.project.Catalog.Info(chapterNum)
	if err != nil {
		return false, err
	}
	chapterDir, err := p.project.PipelineDir(chapterNum)
	if err != nil {
		return false, err
	}

	fmt.Fprintf(out, "chapter %d: %s\n", chapterNum, info.Title)

	outline, err := p.loadOrGenerateOutline(ctx, chapterNum, info, chapterDir)
	if err != nil {
		return false, err
	}

	snapshot, err := p.facts.Snapshot(ctx, chapterNum-1)
	if err != nil {
		return false, err
	}
	if err := writeJSON(filepath.Join(chapterDir, fmt.Sprintf("state_snapshot_%03d.json", chapterNum)), snapshot); err != nil {
		return false, err
	}

	writingContext, err := p.buildContext(ctx, chapterNum, outline, snapshot)
	if err != nil {
		return false, err
	}

	draft, err := p.writeDraft(ctx, chapterNum, info.Title, writingContext, chapterDir)
	if err != nil {
		return false, err
	}
	if err := os.WriteFile(filepath.Join(chapterDir, "draft.txt"), []byte(draft), 0o644); err != nil {
		return false, err
	}

	issues, err := p.review(ctx, chapterNum, chapterDir, draft, snapshot, writingContext, "draft")
	if err != nil {
		return false, err
	}
	if types.HasBlocker(issues) {
		fmt.Fprintf(out, "chapter %d: %d blocking issues, revising\n", chapterNum, len(issues))
		revised, err := p.revise(ctx, draft, issues, writingContext, chapterDir)
		if err != nil {
			return false, err
		}
		if err := os.WriteFile(filepath.Join(chapterDir, "revised.txt"), []byte(revised), 0o644); err != nil {
			return false, err
		}
		issues, err = p.review(ctx, chapterNum, chapterDir, revised, snapshot, writingContext, "revise")
		if err != nil {
			return false, err
		}
		draft = revised

		if types.HasBlocker(issues) {
			fmt.Fprintf(out, "chapter %d: issues persist, strict revision\n", chapterNum)
			strict, err := p.reviseStrict(ctx, revised, issues, writingContext, snapshot, chapterDir)
			if err != nil {
				return false, err
			}
			if err := os.WriteFile(filepath.Join(chapterDir, "revised_strict.txt"), []byte(strict), 0o644); err != nil {
				return false, err
			}
			issues, err = p.review(ctx, chapterNum, chapterDir, strict, snapshot, writingContext, "revise2")
			if err != nil {
				return false, err
			}
			if types.HasBlocker(issues) {
				fmt.Fprintf(out, "chapter %d: blocked after strict revision\n", chapterNum)
				return false, nil
			}
			draft = strict
		}
	}

	finalText, stateDiff, hasDiff := ExtractFinal(draft)
	if !hasDiff {
		if err := writeJSON(filepath.Join(chapterDir, "state_diff_missing.json"), map[string]string{"warning": "missing_state_diff"}); err != nil {
			return false, err
		}
	}
	if err := os.WriteFile(filepath.Join(chapterDir, "final.txt"), []byte(finalText), 0o644); err != nil {
		return false, err
	}
	if err := writeJSON(filepath.Join(chapterDir, "state_diff.json"), stateDiff); err != nil {
		return false, err
	}

	if err := p.commit(ctx, chapterNum, info.Title, finalText, stateDiff, chapterDir); err != nil {
		return false, err
	}
	if err := p.project.SaveChapter(p.project.Catalog.Volume, chapterNum, info.Title, finalText); err != nil {
		return false, err
	}

	fmt.Fprintf(out, "chapter %d: finalized\n", chapterNum)
	return true, nil
}

// BatchSummary tallies a multi-chapter run.
type BatchSummary struct {
	Written int
	Blocked int
	Failed  int
}

// RunRange writes chapters in order. Chapters run sequentially: each
// snapshot depends on the facts its predecessors committed, so there is
// no safe parallelism across chapters. A blocked or failed chapter does
// not stop the batch.
func (p *Pipeline) RunRange(ctx context.Context, chapters []int, out io.Writer) (BatchSummary, error) {
	var summary BatchSummary
	for _, chapterNum := range chapters {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		ok, err := p.Run(ctx, chapterNum, out)
		switch {
		case err != nil:
			summary.Failed++
			fmt.Fprintf(out, "chapter %d: failed: %v\n", chapterNum, err)
		case !ok:
			summary.Blocked++
		default:
			summary.Written++
		}
	}
	return summary, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return nil
}
