// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pdiddy/novel-engine/internal/project"
)

var writeCmd = &cobra.Command{
	Use:   "write <chapters>",
	Short: "Write chapters through the full pipeline",
	Long: `Write runs each requested chapter through outline, state snapshot, draft,
review, bounded revision, and commit. Chapters run in catalog order; a
blocked or failed chapter leaves its artifacts under pipeline/chapters/ and
does not stop the batch.

Chapter selections are a single number (12), a range (4-7), or a
comma-separated list (3,7,9).`,
	Args: cobra.ExactArgs(1),
	RunE: runWrite,
}

func init() {
	rootCmd.AddCommand(writeCmd)
}

func runWrite(cmd *cobra.Command, args []string) error {
	chapters, err := project.ParseChapterRange(args[0])
	if err != nil {
		return err
	}

	a, err := openApp(cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	summary, err := a.pipe.RunRange(cmd.Context(), chapters, os.Stdout)
	if err != nil {
		return err
	}

	fmt.Printf("written %d, blocked %d, failed %d\n", summary.Written, summary.Blocked, summary.Failed)
	if summary.Failed > 0 {
		return fmt.Errorf("%d chapter(s) failed", summary.Failed)
	}
	return nil
}
