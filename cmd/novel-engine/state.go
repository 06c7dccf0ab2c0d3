// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pdiddy/novel-engine/internal/project"
	"github.com/pdiddy/novel-engine/pkg/types"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect and rebuild the story state",
}

var stateShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the dynamic story state",
	Long: `Show prints worldbook/dynamic/story_state.json. With --context it renders
the writing context the next chapter's draft prompt would receive, which is
the quickest way to see what the writer model is told about the world.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd, false)
		if err != nil {
			return err
		}
		defer a.Close()

		if render, _ := cmd.Flags().GetBool("context"); render {
			fmt.Println(a.state.WritingContext(a.state.State.Meta.CurrentChapter+1, ""))
			return nil
		}

		data, err := json.MarshalIndent(a.state.State, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}

var stateSnapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Print the hard-fact snapshot as of a chapter",
	Long: `Snapshot prints the hard facts valid after the given chapter committed,
exactly as the next chapter's draft prompt would see them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd, false)
		if err != nil {
			return err
		}
		defer a.Close()

		chapter, _ := cmd.Flags().GetInt("chapter")
		snapshot, err := a.facts.Snapshot(cmd.Context(), chapter)
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(snapshot, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}

var stateRebuildCmd = &cobra.Command{
	Use:   "rebuild <chapters>",
	Short: "Re-apply committed state diffs to the fact store",
	Long: `Rebuild replays the state_diff.json artifacts of already-written chapters
into the fact store in chapter order. Use it after hand-editing the fact
database or restoring a project from chapter files alone.`,
	Args: cobra.ExactArgs(1),
	RunE: runStateRebuild,
}

func init() {
	stateShowCmd.Flags().Bool("context", false, "render the writing context instead of raw JSON")
	stateSnapshotCmd.Flags().Int("chapter", 0, "snapshot as of this chapter (0 = canon seed only)")

	stateCmd.AddCommand(stateShowCmd)
	stateCmd.AddCommand(stateSnapshotCmd)
	stateCmd.AddCommand(stateRebuildCmd)
	rootCmd.AddCommand(stateCmd)
}

func runStateRebuild(cmd *cobra.Command, args []string) error {
	chapters, err := project.ParseChapterRange(args[0])
	if err != nil {
		return err
	}

	a, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	for _, chapter := range chapters {
		path := filepath.Join(a.proj.Dir, "pipeline", "chapters", fmt.Sprintf("c%03d", chapter), "state_diff.json")
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Printf("chapter %d: no state diff, skipped\n", chapter)
				continue
			}
			return err
		}
		var diff types.StateDiff
		if err := json.Unmarshal(data, &diff); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}

		facts := make([]types.Fact, 0, len(diff.Facts))
		for _, change := range diff.Facts {
			facts = append(facts, types.Fact{
				Subject:    change.Subject,
				Predicate:  change.Predicate,
				Value:      change.Value,
				Qualifiers: map[string]any{"reason": change.Reason},
				Hard:       change.Hard,
			})
		}
		if err := a.facts.UpsertFacts(cmd.Context(), chapter, facts); err != nil {
			return fmt.Errorf("replaying chapter %d: %w", chapter, err)
		}
		for _, event := range diff.RenameEvents {
			if event.CanonicalName == "" || event.NewName == "" {
				continue
			}
			event.Chapter = chapter
			if err := a.facts.AddRenameEvent(cmd.Context(), event); err != nil {
				return fmt.Errorf("replaying chapter %d renames: %w", chapter, err)
			}
		}
		fmt.Printf("chapter %d: %d fact(s), %d rename(s)\n", chapter, len(facts), len(diff.RenameEvents))
	}
	return nil
}
