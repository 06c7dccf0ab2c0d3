// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
)

var reviewCmd = &cobra.Command{
	Use:   "review <chapter>",
	Short: "Re-run the review stage against a chapter's text",
	Long: `Review runs the hard-state checker, the consistency checker, and the
critic fan-out against a chapter's current text and prints the merged
issues. By default it reviews the chapter's latest pipeline artifact
(final.txt, falling back to draft.txt); --file reviews an arbitrary file
instead. Artifacts are written with the "manual" stage name.`,
	Args: cobra.ExactArgs(1),
	RunE: runReview,
}

func init() {
	reviewCmd.Flags().String("file", "", "review this file instead of the pipeline artifact")

	rootCmd.AddCommand(reviewCmd)
}

func runReview(cmd *cobra.Command, args []string) error {
	chapter, err := strconv.Atoi(args[0])
	if err != nil || chapter < 1 {
		return fmt.Errorf("invalid chapter number %q", args[0])
	}

	a, err := openApp(cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	text, err := reviewText(cmd, a, chapter)
	if err != nil {
		return err
	}

	issues, err := a.pipe.Review(cmd.Context(), chapter, text)
	if err != nil {
		return err
	}

	if len(issues) == 0 {
		fmt.Println("no issues found")
		return nil
	}
	for _, issue := range issues {
		fmt.Printf("[%s] %s: %s\n", issue.Severity, issue.Type, issue.Description)
		for _, ev := range issue.Evidence {
			fmt.Printf("    > %s\n", ev.Quote)
		}
		if issue.FixSuggestion != "" {
			fmt.Printf("    fix: %s\n", issue.FixSuggestion)
		}
	}
	return fmt.Errorf("%d issue(s) found", len(issues))
}

func reviewText(cmd *cobra.Command, a *app, chapter int) (string, error) {
	if file, _ := cmd.Flags().GetString("file"); file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	chapterDir, err := a.proj.PipelineDir(chapter)
	if err != nil {
		return "", err
	}
	for _, name := range []string{"final.txt", "revised_strict.txt", "revised.txt", "draft.txt"} {
		if data, err := os.ReadFile(filepath.Join(chapterDir, name)); err == nil {
			return string(data), nil
		}
	}
	return "", fmt.Errorf("no pipeline artifact for chapter %d; run write first or pass --file", chapter)
}
