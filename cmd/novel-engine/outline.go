// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var outlineCmd = &cobra.Command{
	Use:   "outline <chapter>",
	Short: "Show or generate a chapter outline",
	Long: `Outline prints the chapter's outline, generating and persisting one from
the catalog entry when none exists yet. The generated outline lands under
outline/L3-chapters/ so the write command picks it up unchanged.`,
	Args: cobra.ExactArgs(1),
	RunE: runOutline,
}

func init() {
	rootCmd.AddCommand(outlineCmd)
}

func runOutline(cmd *cobra.Command, args []string) error {
	chapter, err := strconv.Atoi(args[0])
	if err != nil || chapter < 1 {
		return fmt.Errorf("invalid chapter number %q", args[0])
	}

	a, err := openApp(cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	outline, err := a.pipe.Outline(cmd.Context(), chapter)
	if err != nil {
		return err
	}
	fmt.Println(outline)
	return nil
}
