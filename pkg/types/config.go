// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types holds the configuration structs and domain entities shared
// across pipeline stages. See docs/ARCHITECTURE § Data Model.
package types

import "time"

// HTTPConfig holds shared HTTP settings for stages that call provider APIs.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// UserAgent is the User-Agent header sent with requests
	// (e.g. "novel-engine/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent"`
}

// WritingConfig selects the writer model and its behavior.
type WritingConfig struct {
	// Provider names the entry in configs/providers.yaml used for drafting,
	// outlining, revision and arbitration (default "deepseek").
	Provider string `json:"provider" yaml:"provider"`

	// UseMemory enables semantic recall from the chapter memory store when
	// building the writing context.
	UseMemory bool `json:"use_memory" yaml:"use_memory"`

	// TargetWords is the per-chapter length target passed to the writer.
	TargetWords int `json:"target_words" yaml:"target_words"`

	// ContextChapters is how many preceding chapters feed the context
	// excerpt (default 3).
	ContextChapters int `json:"context_chapters" yaml:"context_chapters"`
}

// CriticsConfig controls the parallel review stage.
type CriticsConfig struct {
	// Enabled turns the critic fan-out on or off. A pointer so an absent
	// key defaults to on; only an explicit false disables critics.
	Enabled *bool `json:"enabled" yaml:"enabled"`

	// Providers lists critic provider names (default ["kimi", "glm"]).
	Providers []string `json:"providers" yaml:"providers"`

	// MaxWorkers bounds concurrent critic calls (default 2).
	MaxWorkers int `json:"max_workers" yaml:"max_workers"`
}

// ReviewConfig toggles the deterministic checkers that run alongside
// critics. Both default to on; a config must say false to skip a checker.
type ReviewConfig struct {
	// UseHardChecker enables the canon hard-rule scan.
	UseHardChecker *bool `json:"use_hard_checker" yaml:"use_hard_checker"`

	// UseConsistencyChecker enables the soft story-state scan.
	UseConsistencyChecker *bool `json:"use_consistency_checker" yaml:"use_consistency_checker"`
}

// MemoryConfig holds settings for the semantic chapter memory.
type MemoryConfig struct {
	// Collection is the chromem collection name (default "story_memory").
	// Separate collections keep projects isolated in a shared data dir.
	Collection string `json:"collection" yaml:"collection"`

	// EmbeddingModel is the model identifier sent to the embeddings
	// endpoint (e.g. "text-embedding-3-small").
	EmbeddingModel string `json:"embedding_model" yaml:"embedding_model"`

	// SegmentRunes caps the size of stored chapter segments (default 2000).
	SegmentRunes int `json:"segment_runes" yaml:"segment_runes"`

	// MaxEntries is the default recall size for context queries (default 10).
	MaxEntries int `json:"max_entries" yaml:"max_entries"`
}

// ProjectConfig is the parsed config.yaml at a project root.
type ProjectConfig struct {
	Writing WritingConfig `json:"writing" yaml:"writing"`
	Critics CriticsConfig `json:"critics" yaml:"critics"`
	Review  ReviewConfig  `json:"review" yaml:"review"`
	Memory  MemoryConfig  `json:"memory" yaml:"memory"`
}

// ApplyDefaults fills unset fields with the documented defaults.
func (c *ProjectConfig) ApplyDefaults() {
	if c.Writing.Provider == "" {
		c.Writing.Provider = "deepseek"
	}
	if c.Writing.ContextChapters <= 0 {
		c.Writing.ContextChapters = 3
	}
	if c.Writing.TargetWords <= 0 {
		c.Writing.TargetWords = 3000
	}
	if c.Critics.Enabled == nil {
		c.Critics.Enabled = boolPtr(true)
	}
	if c.Review.UseHardChecker == nil {
		c.Review.UseHardChecker = boolPtr(true)
	}
	if c.Review.UseConsistencyChecker == nil {
		c.Review.UseConsistencyChecker = boolPtr(true)
	}
	if len(c.Critics.Providers) == 0 {
		c.Critics.Providers = []string{"kimi", "glm"}
	}
	if c.Critics.MaxWorkers <= 0 {
		c.Critics.MaxWorkers = 2
	}
	if c.Memory.Collection == "" {
		c.Memory.Collection = "story_memory"
	}
	if c.Memory.SegmentRunes <= 0 {
		c.Memory.SegmentRunes = 2000
	}
	if c.Memory.MaxEntries <= 0 {
		c.Memory.MaxEntries = 10
	}
}

func boolPtr(b bool) *bool {
	return &b
}
