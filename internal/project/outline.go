// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package project

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Outline files form a three-level hierarchy: volume (L1), part (L2),
// chapter (L3). Chapter outlines are the only ones the pipeline writes;
// the upper levels are authored by hand and feed outline generation.

// chaptersPerPart groups chapters into parts for L2 lookup.
const chaptersPerPart = 30

// VolumeOutline reads outline/L1-volumes/vNN.md, or "" when absent.
func (p *Project) VolumeOutline(volume int) string {
	return readOptional(filepath.Join(p.Dir, "outline", "L1-volumes", fmt.Sprintf("v%02d.md", volume)))
}

// PartOutline reads outline/L2-parts/vNN-pNN.md for the part containing
// chapter, or "" when absent.
func (p *Project) PartOutline(volume, chapter int) string {
	part := (chapter-1)/chaptersPerPart + 1
	return readOptional(filepath.Join(p.Dir, "outline", "L2-parts", fmt.Sprintf("v%02d-p%02d.md", volume, part)))
}

// ChapterOutlinePath returns outline/L3-chapters/vNN-cNNN.md.
func (p *Project) ChapterOutlinePath(volume, chapter int) string {
	return filepath.Join(p.Dir, "outline", "L3-chapters", fmt.Sprintf("v%02d-c%03d.md", volume, chapter))
}

// ChapterOutline reads the L3 outline for a chapter; ok is false when the
// outline has not been generated yet.
func (p *Project) ChapterOutline(volume, chapter int) (string, bool) {
	data, err := os.ReadFile(p.ChapterOutlinePath(volume, chapter))
	if err != nil {
		return "", false
	}
	return string(data), true
}

// SaveChapterOutline persists a generated L3 outline.
func (p *Project) SaveChapterOutline(volume, chapter int, text string) error {
	path := p.ChapterOutlinePath(volume, chapter)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating outline directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("writing chapter outline: %w", err)
	}
	return nil
}

// OutlineTitle extracts the first "# " heading from an outline, or "".
func OutlineTitle(outline string) string {
	for _, line := range strings.Split(outline, "\n") {
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(line[2:])
		}
	}
	return ""
}

func readOptional(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}
