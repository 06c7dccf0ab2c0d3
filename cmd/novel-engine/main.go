// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the novel-engine CLI.
// See docs/ARCHITECTURE § Chapter Pipeline, § Project Structure.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/novel-engine/internal/secrets"
)

// version is set at build time via ldflags.
var version = "dev"

// rootCmd is the base command for the novel-engine CLI.
var rootCmd = &cobra.Command{
	Use:   "novel-engine",
	Short: "LLM-driven long-form fiction pipeline",
	Long: `novel-engine writes serial fiction chapter by chapter. Each chapter runs
through outline, state snapshot, draft, multi-model review, bounded revision,
and commit; a temporal fact store, a memory bank, and semantic chapter memory
keep hundreds of chapters consistent with each other.

Each stage is reachable as a subcommand: write, outline, review, state,
memory, and status. All commands operate on the project named by --project.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		projectDir, _ := cmd.Flags().GetString("project")
		s, err := secrets.Load(filepath.Join(projectDir, ".secrets"))
		if err != nil {
			return err
		}
		if len(s) > 0 {
			keys := make([]string, 0, len(s))
			for k := range s {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			fmt.Fprintf(os.Stderr, "Loaded secrets: %v\n", keys)
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("project", ".", "novel project directory")
	rootCmd.PersistentFlags().String("config", "", "config file (default: ./novel-engine.yaml or ~/.config/novel-engine/config.yaml)")
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("novel-engine")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "novel-engine"))
		}
	}

	viper.SetEnvPrefix("NOVEL_ENGINE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
