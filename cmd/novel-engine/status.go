// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pdiddy/novel-engine/internal/memory"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show catalog progress for the project",
	Long: `Status compares the catalog against the chapter files on disk and
reports which planned chapters are written, which are pending, and where
the story state currently stands.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	volume := a.proj.Catalog.Volume
	written, err := a.proj.WrittenChapters(volume)
	if err != nil {
		return err
	}

	done := 0
	for _, info := range a.proj.Catalog.Chapters {
		mark := " "
		if _, ok := written[info.Chapter]; ok {
			mark = "x"
			done++
		}
		fmt.Printf("[%s] %3d  %s\n", mark, info.Chapter, info.Title)
	}
	fmt.Printf("\nvolume %d: %d/%d chapters written\n", volume, done, len(a.proj.Catalog.Chapters))

	if current := a.state.State.Meta.CurrentChapter; current > 0 {
		fmt.Printf("story state at chapter %d (%s)\n", current, a.state.State.Meta.StoryTime)
	}

	if a.proj.Config.Writing.UseMemory {
		stats, err := memory.ReadStats(a.proj.MemoryDir())
		if err != nil {
			return err
		}
		fmt.Printf("memory: %d chapters indexed, %d segments\n", stats.Chapters, stats.Documents)
	}
	return nil
}
