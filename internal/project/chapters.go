// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package project

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// chapterFilePattern matches finished chapter files: NNN-slug.md.
var chapterFilePattern = regexp.MustCompile(`^(\d{3})-.*\.md$`)

// slugUnsafe matches characters stripped from chapter-title slugs.
var slugUnsafe = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// ChaptersDir returns the finished-chapter directory for a volume,
// chapters/vNN.
func (p *Project) ChaptersDir(volume int) string {
	return filepath.Join(p.Dir, "chapters", fmt.Sprintf("v%02d", volume))
}

// ChapterPath returns the finished chapter file path for a chapter number
// and title, chapters/vNN/NNN-<slug>.md.
func (p *Project) ChapterPath(volume, chapter int, title string) string {
	return filepath.Join(p.ChaptersDir(volume), fmt.Sprintf("%03d-%s.md", chapter, Slug(title)))
}

// SaveChapter writes the finished chapter with a title heading. Any
// leading markdown headings in the body are stripped; the body must be
// continuous prose by the time it gets here.
func (p *Project) SaveChapter(volume, chapter int, title, body string) error {
	dir := p.ChaptersDir(volume)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating chapters directory: %w", err)
	}

	content := fmt.Sprintf("# Chapter %d: %s\n\n%s\n", chapter, title, stripLeadingHeadings(body))
	path := p.ChapterPath(volume, chapter, title)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing chapter %d: %w", chapter, err)
	}
	return nil
}

// LoadChapter reads a finished chapter's text by number, regardless of its
// title slug. ok is false when the chapter has not been written.
func (p *Project) LoadChapter(volume, chapter int) (string, bool) {
	chapters, err := p.WrittenChapters(volume)
	if err != nil {
		return "", false
	}
	path, ok := chapters[chapter]
	if !ok {
		return "", false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	return string(data), true
}

// WrittenChapters maps chapter numbers to file paths for a volume.
func (p *Project) WrittenChapters(volume int) (map[int]string, error) {
	dir := p.ChaptersDir(volume)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[int]string{}, nil
		}
		return nil, fmt.Errorf("reading chapters directory: %w", err)
	}

	chapters := make(map[int]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := chapterFilePattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		num, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		chapters[num] = filepath.Join(dir, entry.Name())
	}
	return chapters, nil
}

// WrittenChapterNumbers returns the sorted chapter numbers present for a
// volume.
func (p *Project) WrittenChapterNumbers(volume int) ([]int, error) {
	chapters, err := p.WrittenChapters(volume)
	if err != nil {
		return nil, err
	}
	nums := make([]int, 0, len(chapters))
	for n := range chapters {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums, nil
}

// Slug lowercases a title and replaces runs of non-alphanumerics with
// hyphens, keeping chapter filenames filesystem-safe.
func Slug(title string) string {
	s := slugUnsafe.ReplaceAllString(strings.ToLower(title), "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "untitled"
	}
	return s
}

func stripLeadingHeadings(text string) string {
	lines := strings.Split(text, "\n")
	for len(lines) > 0 {
		trimmed := strings.TrimSpace(lines[0])
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			lines = lines[1:]
			continue
		}
		break
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}
