// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pdiddy/novel-engine/internal/llm"
	"github.com/pdiddy/novel-engine/internal/storystate"
	"github.com/pdiddy/novel-engine/pkg/types"
)

var stateDiffFence = regexp.MustCompile("```json\\s*([\\s\\S]*?)\\s*```")

// ExtractFinal splits a draft into prose and its trailing state diff.
// The diff is the first ```json fence; everything before it is the final
// text. hasDiff is false when no parseable fence exists, in which case
// the diff is empty rather than nil.
func ExtractFinal(draft string) (string, types.StateDiff, bool) {
	diff := types.StateDiff{Facts: []types.FactChange{}, RenameEvents: []types.RenameEvent{}}

	loc := stateDiffFence.FindStringIndex(draft)
	if loc == nil {
		return strings.TrimSpace(draft), diff, false
	}

	finalText := strings.TrimSpace(draft[:loc[0]])
	var parsed types.StateDiff
	if err := llm.ExtractJSON(draft[loc[0]:loc[1]], &parsed); err != nil {
		return finalText, diff, false
	}
	if parsed.Facts == nil {
		parsed.Facts = []types.FactChange{}
	}
	if parsed.RenameEvents == nil {
		parsed.RenameEvents = []types.RenameEvent{}
	}
	return finalText, parsed, true
}

// commitRecord is one entry in memory_commits/: an immutable snapshot of
// what a finalized chapter established, chained to the version it
// replaced.
type commitRecord struct {
	Chapter    int             `json:"chapter"`
	Hash       string          `json:"hash"`
	Replaced   string          `json:"replaced,omitempty"`
	ReplacedBy string          `json:"replaced_by,omitempty"`
	StateDiff  types.StateDiff `json:"state_diff"`
	Active     bool            `json:"active"`
}

// commit makes a finalized chapter durable: facts and renames go into the
// fact store, the memory bank and story state absorb the chapter, and a
// content-hashed commit record lands in memory_commits/.
func (p *Pipeline) commit(ctx context.Context, chapterNum int, title, finalText string, stateDiff types.StateDiff, chapterDir string) error {
	chapterHash := fmt.Sprintf("%x", sha256.Sum256([]byte(finalText)))[:12]
	if err := os.WriteFile(filepath.Join(chapterDir, "chapter_hash.txt"), []byte(chapterHash), 0o644); err != nil {
		return fmt.Errorf("writing chapter hash: %w", err)
	}

	facts := make([]types.Fact, 0, len(stateDiff.Facts))
	for _, change := range stateDiff.Facts {
		facts = append(facts, types.Fact{
			Subject:    change.Subject,
			Predicate:  change.Predicate,
			Value:      change.Value,
			Qualifiers: map[string]any{"reason": change.Reason},
			Hard:       change.Hard,
		})
	}
	if err := p.facts.UpsertFacts(ctx, chapterNum, facts); err != nil {
		return err
	}

	for _, event := range stateDiff.RenameEvents {
		if event.CanonicalName == "" {
			event.CanonicalName = p.project.Canon.SoftString(types.CanonProtagonistName)
		}
		if event.CanonicalName == "" || event.NewName == "" {
			continue
		}
		event.Chapter = chapterNum
		if err := p.facts.AddRenameEvent(ctx, event); err != nil {
			return err
		}
	}

	proposal, applied, err := p.bank.UpdateFromChapter(ctx, chapterNum, finalText, nil)
	if err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(chapterDir, "memory_patch_proposal.json"), proposal); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(chapterDir, "memory_patch_applied.json"), applied); err != nil {
		return err
	}

	if err := p.updateCommitLedger(chapterNum, chapterHash, stateDiff); err != nil {
		return err
	}

	changes, err := p.extractStateChanges(ctx, chapterNum, finalText)
	if err != nil {
		return err
	}
	if err := p.state.ApplyChanges(chapterNum, changes); err != nil {
		return err
	}

	if p.mem != nil {
		if err := p.mem.AddChapter(ctx, chapterNum, title, finalText); err != nil {
			return err
		}
	}
	return nil
}

// updateCommitLedger maintains memory_index.json (chapter → active hash)
// and the per-version commit files, marking the replaced version inactive.
func (p *Pipeline) updateCommitLedger(chapterNum int, chapterHash string, stateDiff types.StateDiff) error {
	commitsDir, err := p.project.CommitsDir()
	if err != nil {
		return err
	}

	indexPath := filepath.Join(commitsDir, "memory_index.json")
	index := make(map[string]string)
	if data, err := os.ReadFile(indexPath); err == nil {
		if err := json.Unmarshal(data, &index); err != nil {
			return fmt.Errorf("parsing memory index: %w", err)
		}
	}
	chapterKey := fmt.Sprintf("%d", chapterNum)
	previous := index[chapterKey]
	index[chapterKey] = chapterHash
	if err := writeJSON(indexPath, index); err != nil {
		return err
	}

	record := commitRecord{
		Chapter:   chapterNum,
		Hash:      chapterHash,
		Replaced:  previous,
		StateDiff: stateDiff,
		Active:    true,
	}
	commitPath := filepath.Join(commitsDir, fmt.Sprintf("Chapter_%03d_%s.json", chapterNum, chapterHash))
	if err := writeJSON(commitPath, record); err != nil {
		return err
	}

	if previous != "" && previous != chapterHash {
		previousPath := filepath.Join(commitsDir, fmt.Sprintf("Chapter_%03d_%s.json", chapterNum, previous))
		if data, err := os.ReadFile(previousPath); err == nil {
			var old commitRecord
			if err := json.Unmarshal(data, &old); err != nil {
				return fmt.Errorf("parsing previous commit: %w", err)
			}
			old.ReplacedBy = chapterHash
			old.Active = false
			if err := writeJSON(previousPath, old); err != nil {
				return err
			}
		}
	}
	return nil
}

// extractStateChanges runs the model-backed delta extraction. The delta
// is skipped, not failed, when the consistency checker is disabled.
func (p *Pipeline) extractStateChanges(ctx context.Context, chapterNum int, finalText string) (storystate.Changes, error) {
	if !*p.project.Config.Review.UseConsistencyChecker {
		return storystate.Changes{}, nil
	}
	return storystate.ExtractChanges(ctx, p.writer, chapterNum, finalText)
}
