// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/novel-engine/internal/secrets"
	"github.com/pdiddy/novel-engine/pkg/types"
)

// ProviderConfig identifies one OpenAI-compatible endpoint and the model
// settings to use against it.
type ProviderConfig struct {
	Name         string
	BaseURL      string
	APIKey       string
	Model        string
	Temperature  float64
	MaxTokens    int
	ThinkingMode bool

	types.HTTPConfig

	// Models maps a role (writer, critic, embedding) to a model override.
	Models map[string]string
}

// ForRole returns a copy of the config with the model switched to the
// role-specific override when one exists.
func (p ProviderConfig) ForRole(role string) ProviderConfig {
	if m, ok := p.Models[role]; ok && m != "" {
		p.Model = m
	}
	return p
}

// providersFile mirrors configs/providers.yaml.
type providersFile struct {
	Providers map[string]providerEntry `yaml:"providers"`
}

type providerEntry struct {
	BaseURL      string            `yaml:"base_url"`
	APIKey       string            `yaml:"api_key"`
	APIKeyPath   string            `yaml:"api_key_path"`
	Models       map[string]string `yaml:"models"`
	Temperature  *float64          `yaml:"temperature"`
	MaxTokens    int               `yaml:"max_tokens"`
	ThinkingMode bool              `yaml:"thinking_mode"`
}

// LoadProviders reads configs/providers.yaml under projectDir and resolves
// one ProviderConfig per entry with a usable API key. Keys resolve in order:
// inline api_key, the file at api_key_path (relative to the configs dir,
// then the project root), then .secrets/<name>-api-key. Entries with no key
// are skipped so a project can list providers it is not currently using.
func LoadProviders(projectDir string) (map[string]ProviderConfig, error) {
	path := filepath.Join(projectDir, "configs", "providers.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading providers config: %w", err)
	}

	var file providersFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing providers config: %w", err)
	}

	loaded, err := secrets.Load(filepath.Join(projectDir, ".secrets"))
	if err != nil {
		return nil, err
	}

	configs := make(map[string]ProviderConfig)
	for name, entry := range file.Providers {
		key := resolveKey(entry, name, projectDir, loaded)
		if key == "" {
			continue
		}

		model := entry.Models["writer"]
		if model == "" {
			model = entry.Models["critic"]
		}

		temperature := 0.7
		if entry.Temperature != nil {
			temperature = *entry.Temperature
		}
		maxTokens := entry.MaxTokens
		if maxTokens <= 0 {
			maxTokens = 4096
		}

		configs[name] = ProviderConfig{
			Name:         name,
			BaseURL:      entry.BaseURL,
			APIKey:       key,
			Model:        model,
			Temperature:  temperature,
			MaxTokens:    maxTokens,
			ThinkingMode: entry.ThinkingMode,
			HTTPConfig:   types.HTTPConfig{UserAgent: "novel-engine"},
			Models:       entry.Models,
		}
	}

	return configs, nil
}

func resolveKey(entry providerEntry, name, projectDir string, loaded map[string]string) string {
	if entry.APIKey != "" {
		return entry.APIKey
	}

	if entry.APIKeyPath != "" {
		candidates := []string{
			filepath.Join(projectDir, "configs", entry.APIKeyPath),
			filepath.Join(projectDir, entry.APIKeyPath),
		}
		for _, candidate := range candidates {
			if data, err := os.ReadFile(candidate); err == nil {
				if key := strings.TrimSpace(string(data)); key != "" {
					return key
				}
			}
		}
	}

	return loaded[secrets.ProviderKey(name)]
}
