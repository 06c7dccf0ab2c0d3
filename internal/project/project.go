// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package project loads and addresses a novel project directory: the
// config, canon, catalog, outlines, worldbook, and chapter files that the
// pipeline reads and writes. See docs/ARCHITECTURE § Project Structure.
package project

import (
	"fmt"
	"os"
	"path/filepath"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/novel-engine/pkg/types"
)

const (
	configFile  = "config.yaml"
	canonFile   = "canon.yaml"
	catalogFile = "catalog.yaml"
)

// Project is a loaded novel project.
type Project struct {
	Dir     string
	Config  types.ProjectConfig
	Canon   types.Canon
	Catalog types.Catalog
}

// Load reads config.yaml, canon.yaml and catalog.yaml from projectDir.
// canon.yaml and catalog.yaml are optional; config.yaml is required.
func Load(projectDir string) (*Project, error) {
	p := &Project{Dir: projectDir}

	data, err := os.ReadFile(filepath.Join(projectDir, configFile))
	if err != nil {
		return nil, fmt.Errorf("reading project config: %w", err)
	}
	if err := yaml.Unmarshal(data, &p.Config); err != nil {
		return nil, fmt.Errorf("parsing project config: %w", err)
	}
	p.Config.ApplyDefaults()

	if data, err := os.ReadFile(filepath.Join(projectDir, canonFile)); err == nil {
		if err := yaml.Unmarshal(data, &p.Canon); err != nil {
			return nil, fmt.Errorf("parsing canon: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading canon: %w", err)
	}

	if data, err := os.ReadFile(filepath.Join(projectDir, catalogFile)); err == nil {
		if err := yaml.Unmarshal(data, &p.Catalog); err != nil {
			return nil, fmt.Errorf("parsing catalog: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	if p.Catalog.Volume == 0 {
		p.Catalog.Volume = 1
	}

	return p, nil
}

// PipelineDir returns the artifact directory for one chapter,
// pipeline/chapters/cNNN, creating it if needed.
func (p *Project) PipelineDir(chapter int) (string, error) {
	dir := filepath.Join(p.Dir, "pipeline", "chapters", fmt.Sprintf("c%03d", chapter))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating pipeline directory: %w", err)
	}
	return dir, nil
}

// CommitsDir returns memory_commits/, creating it if needed.
func (p *Project) CommitsDir() (string, error) {
	dir := filepath.Join(p.Dir, "memory_commits")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating commits directory: %w", err)
	}
	return dir, nil
}

// FactDBPath returns the temporal fact store location, data/facts.db.
func (p *Project) FactDBPath() string {
	return filepath.Join(p.Dir, "data", "facts.db")
}

// MemoryDir returns the semantic memory location, data/memory.
func (p *Project) MemoryDir() string {
	return filepath.Join(p.Dir, "data", "memory")
}

// Doc reads an optional project document (constitution.md,
// specification.md); a missing file yields "".
func (p *Project) Doc(name string) string {
	data, err := os.ReadFile(filepath.Join(p.Dir, name))
	if err != nil {
		return ""
	}
	return string(data)
}
