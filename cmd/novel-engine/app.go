// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/philippgille/chromem-go"
	"github.com/spf13/cobra"

	"github.com/pdiddy/novel-engine/internal/factstore"
	"github.com/pdiddy/novel-engine/internal/llm"
	"github.com/pdiddy/novel-engine/internal/membank"
	"github.com/pdiddy/novel-engine/internal/memory"
	"github.com/pdiddy/novel-engine/internal/pipeline"
	"github.com/pdiddy/novel-engine/internal/project"
	"github.com/pdiddy/novel-engine/internal/storystate"
)

// app bundles the loaded project and its stores for one CLI invocation.
type app struct {
	proj    *project.Project
	facts   *factstore.Store
	bank    *membank.Manager
	state   *storystate.Manager
	mem     *memory.Store
	writer  llm.Backend
	critics map[string]llm.Backend
	pipe    *pipeline.Pipeline
}

// openApp loads the project and opens its stores. With withModels set it
// also resolves provider configs into live clients and assembles the
// pipeline; commands that only read local state leave it false so they
// work without any API keys.
func openApp(cmd *cobra.Command, withModels bool) (*app, error) {
	projectDir, _ := cmd.Flags().GetString("project")

	proj, err := project.Load(projectDir)
	if err != nil {
		return nil, err
	}

	facts, err := factstore.Open(proj.FactDBPath())
	if err != nil {
		return nil, err
	}
	bank, err := membank.NewManager(projectDir, proj.Canon)
	if err != nil {
		facts.Close()
		return nil, err
	}
	state, err := storystate.Load(projectDir)
	if err != nil {
		facts.Close()
		return nil, err
	}

	a := &app{proj: proj, facts: facts, bank: bank, state: state}
	if !withModels {
		return a, nil
	}

	providers, err := llm.LoadProviders(projectDir)
	if err != nil {
		facts.Close()
		return nil, err
	}

	writerConfig, ok := providers[proj.Config.Writing.Provider]
	if !ok {
		facts.Close()
		return nil, fmt.Errorf("writer provider %q has no usable config in configs/providers.yaml", proj.Config.Writing.Provider)
	}
	writerClient := llm.NewClient(writerConfig.ForRole("writer"))
	a.writer = writerClient

	a.critics = make(map[string]llm.Backend)
	if *proj.Config.Critics.Enabled {
		for _, name := range proj.Config.Critics.Providers {
			config, ok := providers[name]
			if !ok {
				fmt.Fprintf(os.Stderr, "critic %s skipped: no usable provider config\n", name)
				continue
			}
			a.critics[name] = llm.NewClient(config.ForRole("critic"))
		}
	}

	if proj.Config.Writing.UseMemory {
		if proj.Config.Memory.EmbeddingModel == "" {
			fmt.Fprintln(os.Stderr, "semantic memory disabled: no embedding_model configured")
		} else {
			mem, err := memory.Open(proj.MemoryDir(), proj.Config.Memory, embeddingFunc(writerClient, proj.Config.Memory.EmbeddingModel))
			if err != nil {
				facts.Close()
				return nil, err
			}
			a.mem = mem
		}
	}

	pipe, err := pipeline.New(proj, a.writer, a.critics, facts, bank, state, a.mem)
	if err != nil {
		facts.Close()
		return nil, err
	}
	a.pipe = pipe
	return a, nil
}

// Close releases the fact store connection.
func (a *app) Close() error {
	return a.facts.Close()
}

// embeddingFunc adapts a provider's embeddings endpoint to chromem's
// per-text callback.
func embeddingFunc(client *llm.Client, model string) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		vectors, err := client.Embeddings(ctx, model, []string{text})
		if err != nil {
			return nil, err
		}
		return vectors[0], nil
	}
}
