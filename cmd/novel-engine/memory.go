// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pdiddy/novel-engine/internal/project"
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect and maintain the semantic chapter memory",
}

var memoryStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print memory collection size",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openMemoryApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		stats := a.mem.Stats()
		fmt.Printf("chapters:  %d\n", stats.Chapters)
		fmt.Printf("documents: %d\n", stats.Documents)
		return nil
	},
}

var memoryQueryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Retrieve the chapter segments most relevant to a query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openMemoryApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		before, _ := cmd.Flags().GetInt("before")
		if before <= 0 {
			before = a.proj.Catalog.Max() + 1
		}

		entries, err := a.mem.QueryContext(cmd.Context(), args[0], before)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("no matches")
			return nil
		}
		for _, entry := range entries {
			fmt.Printf("chapter %d seg %d (%s) score %.3f\n  %s\n", entry.Chapter, entry.Segment, entry.Title, entry.Score, entry.Text)
		}
		return nil
	},
}

var memoryImportCmd = &cobra.Command{
	Use:   "import [chapters]",
	Short: "Embed written chapter files into memory",
	Long: `Import re-embeds written chapters into the memory collection, all of them
by default or just the given range. Indexing is idempotent per chapter, so
rerunning it after editing chapter files on disk brings memory back in line
with the text.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openMemoryApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		volume := a.proj.Catalog.Volume
		nums, err := a.proj.WrittenChapterNumbers(volume)
		if err != nil {
			return err
		}
		if len(args) == 1 {
			requested, err := project.ParseChapterRange(args[0])
			if err != nil {
				return err
			}
			written := make(map[int]bool, len(nums))
			for _, n := range nums {
				written[n] = true
			}
			nums = nums[:0]
			for _, n := range requested {
				if written[n] {
					nums = append(nums, n)
				}
			}
		}
		for _, num := range nums {
			body, ok := a.proj.LoadChapter(volume, num)
			if !ok {
				continue
			}
			title := ""
			if info, err := a.proj.Catalog.Info(num); err == nil {
				title = info.Title
			}
			if err := a.mem.AddChapter(cmd.Context(), num, title, body); err != nil {
				return fmt.Errorf("indexing chapter %d: %w", num, err)
			}
			fmt.Fprintf(os.Stdout, "indexed chapter %d\n", num)
		}
		return nil
	},
}

func init() {
	memoryQueryCmd.Flags().Int("before", 0, "only return segments from chapters before this one (default: whole catalog)")

	memoryCmd.AddCommand(memoryStatsCmd)
	memoryCmd.AddCommand(memoryQueryCmd)
	memoryCmd.AddCommand(memoryImportCmd)
	rootCmd.AddCommand(memoryCmd)
}

// openMemoryApp opens the app with models and insists semantic memory is
// actually configured.
func openMemoryApp(cmd *cobra.Command) (*app, error) {
	a, err := openApp(cmd, true)
	if err != nil {
		return nil, err
	}
	if a.mem == nil {
		a.Close()
		return nil, fmt.Errorf("semantic memory is disabled; set writing.use_memory and memory.embedding_model in config.yaml")
	}
	return a, nil
}
