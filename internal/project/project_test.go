// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package project

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	configYAML := `writing:
  provider: deepseek
  use_memory: true
critics:
  enabled: true
  providers: [kimi, glm]
  max_workers: 3
review:
  use_hard_checker: true
  use_consistency_checker: true
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(configYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	canonYAML := `HARD_RULE:
  - key: system.vault.accessible
    value: false
    violation_keywords: [vault]
SOFT_FACT:
  - key: protagonist.canonical_name
    value: Alan North
  - key: protagonist.aliases
    value: [Lin Yuan]
`
	if err := os.WriteFile(filepath.Join(dir, "canon.yaml"), []byte(canonYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	catalogYAML := `volume: 1
chapters:
  - chapter: 1
    title: A New Spring
    summary: Spring arrives and the year is planned.
  - chapter: 2
    title: The Caravan Returns
    summary: Marcus brings news and supplies.
`
	if err := os.WriteFile(filepath.Join(dir, "catalog.yaml"), []byte(catalogYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	return dir
}

func TestLoad(t *testing.T) {
	p, err := Load(writeProject(t))
	if err != nil {
		t.Fatal(err)
	}

	if p.Config.Writing.Provider != "deepseek" || !p.Config.Writing.UseMemory {
		t.Errorf("writing config = %+v", p.Config.Writing)
	}
	if p.Config.Critics.MaxWorkers != 3 {
		t.Errorf("max workers = %d", p.Config.Critics.MaxWorkers)
	}
	// Defaults fill unset fields.
	if p.Config.Writing.ContextChapters != 3 || p.Config.Memory.Collection != "story_memory" {
		t.Errorf("defaults not applied: %+v", p.Config)
	}

	if got := p.Canon.SoftString("protagonist.canonical_name"); got != "Alan North" {
		t.Errorf("canonical name = %q", got)
	}
	if got := p.Canon.SoftStrings("protagonist.aliases"); !reflect.DeepEqual(got, []string{"Lin Yuan"}) {
		t.Errorf("aliases = %v", got)
	}

	info, err := p.Catalog.Info(2)
	if err != nil {
		t.Fatal(err)
	}
	if info.Title != "The Caravan Returns" {
		t.Errorf("title = %q", info.Title)
	}
	if _, err := p.Catalog.Info(99); err == nil {
		t.Error("expected error for missing chapter")
	}
}

func TestLoadMissingConfig(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatal("expected error for missing config.yaml")
	}
}

func TestParseChapterRange(t *testing.T) {
	tests := []struct {
		in      string
		want    []int
		wantErr bool
	}{
		{in: "4-7", want: []int{4, 5, 6, 7}},
		{in: "3,7,9", want: []int{3, 7, 9}},
		{in: "9,3,3,7", want: []int{3, 7, 9}},
		{in: "5", want: []int{5}},
		{in: " 1 - 3 ", want: []int{1, 2, 3}},
		{in: "7-4", wantErr: true},
		{in: "0-3", wantErr: true},
		{in: "a-b", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseChapterRange(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestChapterRoundTrip(t *testing.T) {
	p := &Project{Dir: t.TempDir()}

	body := "## Scene 1\n\nAlan crossed the courtyard.\n"
	if err := p.SaveChapter(1, 5, "The Caravan Returns", body); err != nil {
		t.Fatal(err)
	}

	got, ok := p.LoadChapter(1, 5)
	if !ok {
		t.Fatal("chapter not found")
	}
	if want := "# Chapter 5: The Caravan Returns\n\nAlan crossed the courtyard.\n"; got != want {
		t.Errorf("chapter = %q, want %q", got, want)
	}

	nums, err := p.WrittenChapterNumbers(1)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(nums, []int{5}) {
		t.Errorf("written chapters = %v", nums)
	}
}

func TestSlug(t *testing.T) {
	tests := []struct{ in, want string }{
		{"The Caravan Returns", "the-caravan-returns"},
		{"What?! A Vault/Door", "what-a-vault-door"},
		{"  ", "untitled"},
	}
	for _, tt := range tests {
		if got := Slug(tt.in); got != tt.want {
			t.Errorf("Slug(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestOutlineRoundTrip(t *testing.T) {
	p := &Project{Dir: t.TempDir()}

	if _, ok := p.ChapterOutline(1, 12); ok {
		t.Fatal("outline should be absent")
	}

	text := "# Chapter 12: Border Alarm\n\nScenes...\n"
	if err := p.SaveChapterOutline(1, 12, text); err != nil {
		t.Fatal(err)
	}

	got, ok := p.ChapterOutline(1, 12)
	if !ok || got != text {
		t.Errorf("outline = %q, ok = %v", got, ok)
	}
	if title := OutlineTitle(got); title != "Chapter 12: Border Alarm" {
		t.Errorf("title = %q", title)
	}
}
