// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package storystate tracks the living story state: protagonist, territory,
// characters, open plot threads, and the timeline. The state feeds the
// writing context for each chapter and is updated from finalized prose via
// model extraction. See docs/ARCHITECTURE § Story State.
package storystate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Meta carries bookkeeping for the state file.
type Meta struct {
	CurrentChapter int    `json:"current_chapter"`
	StoryTime      string `json:"story_time"`
	LastUpdated    string `json:"last_updated,omitempty"`
}

// Realm is the protagonist's advancement stage.
type Realm struct {
	Current             string `json:"current"`
	Level               string `json:"level,omitempty"`
	BreakthroughChapter int    `json:"breakthrough_chapter,omitempty"`
}

// Skill is one learned ability.
type Skill struct {
	Name   string `json:"name"`
	Level  string `json:"level,omitempty"`
	Source string `json:"source,omitempty"`
}

// Protagonist is the lead character's tracked state.
type Protagonist struct {
	Name     string  `json:"name"`
	Realm    Realm   `json:"realm"`
	Location string  `json:"location,omitempty"`
	Skills   []Skill `json:"skills,omitempty"`
}

// Facility is one territory structure.
type Facility struct {
	Name         string `json:"name"`
	BuiltChapter int    `json:"built_chapter,omitempty"`
}

// Military summarizes territory forces.
type Military struct {
	PatrolTeam int `json:"patrol_team,omitempty"`
	Militia    int `json:"militia,omitempty"`
}

// Territory is the protagonist's holding, if the story has one.
type Territory struct {
	Population int        `json:"population,omitempty"`
	Facilities []Facility `json:"facilities,omitempty"`
	Military   Military   `json:"military,omitempty"`
}

// Character is a tracked supporting character.
type Character struct {
	Role     string `json:"role,omitempty"`
	Location string `json:"location,omitempty"`
	Status   string `json:"status,omitempty"`
}

// Thread is an unresolved plot hook awaiting payoff.
type Thread struct {
	Thread          string `json:"thread"`
	Urgency         string `json:"urgency,omitempty"`
	ExpectedChapter string `json:"expected_chapter,omitempty"`
}

// Forbidden lists things the prose must not contain.
type Forbidden struct {
	ModernTerms     []string `json:"modern_terms,omitempty"`
	DeadCharacters  []string `json:"dead_characters,omitempty"`
	ResolvedThreads []string `json:"resolved_threads,omitempty"`
}

// TimelineEntry anchors a key event to a chapter and story time.
type TimelineEntry struct {
	Chapter int    `json:"chapter"`
	Event   string `json:"event"`
	Time    string `json:"time,omitempty"`
}

// State is the full story_state.json document. RealmLadder orders the
// advancement stages lowest first; consistency checks use it to catch
// stage drift.
type State struct {
	Meta              Meta                 `json:"meta"`
	Protagonist       Protagonist          `json:"protagonist"`
	Territory         Territory            `json:"territory,omitempty"`
	Characters        map[string]Character `json:"characters,omitempty"`
	RecentEvents      []string             `json:"recent_events,omitempty"`
	PendingThreads    []Thread             `json:"pending_threads,omitempty"`
	ForbiddenElements Forbidden            `json:"forbidden_elements,omitempty"`
	Timeline          []TimelineEntry      `json:"timeline,omitempty"`
	RealmLadder       []string             `json:"realm_ladder,omitempty"`
}

// Manager owns one project's story state file.
type Manager struct {
	path  string
	State State
}

// statePath is story_state.json under worldbook/dynamic.
func statePath(projectDir string) string {
	return filepath.Join(projectDir, "worldbook", "dynamic", "story_state.json")
}

// Load reads the state for projectDir. A missing file yields an empty
// state, which Save will create.
func Load(projectDir string) (*Manager, error) {
	m := &Manager{path: statePath(projectDir)}
	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading story state: %w", err)
	}
	if err := json.Unmarshal(data, &m.State); err != nil {
		return nil, fmt.Errorf("parsing story state: %w", err)
	}
	return m, nil
}

// Save writes the state back, stamping last_updated.
func (m *Manager) Save() error {
	m.State.Meta.LastUpdated = time.Now().Format("2006-01-02")
	data, err := json.MarshalIndent(m.State, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding story state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	if err := os.WriteFile(m.path, data, 0o644); err != nil {
		return fmt.Errorf("writing story state: %w", err)
	}
	return nil
}

// WritingContext renders the state as the prompt block injected before
// drafting chapterNum. memoryContext, when non-empty, is appended as a
// semantic-memory section.
func (m *Manager) WritingContext(chapterNum int, memoryContext string) string {
	s := m.State
	var sb strings.Builder

	fmt.Fprintf(&sb, "## Current story state (for chapter %d)\n\n", chapterNum)
	sb.WriteString("### Time\n")
	fmt.Fprintf(&sb, "- Story time: %s\n", orUnknown(s.Meta.StoryTime))
	fmt.Fprintf(&sb, "- Current chapter: %d\n\n", chapterNum)

	sb.WriteString("### Protagonist\n")
	fmt.Fprintf(&sb, "- Name: %s\n", orUnknown(s.Protagonist.Name))
	fmt.Fprintf(&sb, "- Stage: %s %s\n", orUnknown(s.Protagonist.Realm.Current), s.Protagonist.Realm.Level)
	fmt.Fprintf(&sb, "- Location: %s\n", orUnknown(s.Protagonist.Location))
	skills := make([]string, 0, len(s.Protagonist.Skills))
	for _, skill := range s.Protagonist.Skills {
		skills = append(skills, skill.Name)
	}
	fmt.Fprintf(&sb, "- Skills: %s\n\n", strings.Join(skills, ", "))

	if s.Territory.Population > 0 || len(s.Territory.Facilities) > 0 {
		sb.WriteString("### Territory\n")
		fmt.Fprintf(&sb, "- Population: %d\n", s.Territory.Population)
		facilities := make([]string, 0, len(s.Territory.Facilities))
		for _, f := range s.Territory.Facilities {
			facilities = append(facilities, f.Name)
		}
		fmt.Fprintf(&sb, "- Facilities: %s\n", strings.Join(facilities, ", "))
		fmt.Fprintf(&sb, "- Military: patrol %d, militia %d\n\n", s.Territory.Military.PatrolTeam, s.Territory.Military.Militia)
	}

	sb.WriteString("### Key characters\n")
	for _, name := range sortedCharacterNames(s.Characters) {
		info := s.Characters[name]
		if info.Status != "" && info.Status != "healthy" {
			continue
		}
		fmt.Fprintf(&sb, "- %s: %s, %s\n", name, info.Role, info.Location)
	}

	sb.WriteString("\n### Recent events\n")
	events := s.RecentEvents
	if len(events) > 3 {
		events = events[len(events)-3:]
	}
	for _, event := range events {
		fmt.Fprintf(&sb, "- %s\n", event)
	}

	sb.WriteString("\n### Open threads awaiting payoff\n")
	threads := s.PendingThreads
	if len(threads) > 3 {
		threads = threads[:3]
	}
	for _, thread := range threads {
		fmt.Fprintf(&sb, "- %s (expected chapter: %s)\n", thread.Thread, thread.ExpectedChapter)
	}

	sb.WriteString("\n### Forbidden\n")
	terms := s.ForbiddenElements.ModernTerms
	if len(terms) > 5 {
		terms = terms[:5]
	}
	fmt.Fprintf(&sb, "- Modern vocabulary: %s\n", strings.Join(terms, ", "))
	sb.WriteString("- Resolved problems must not be re-raised\n")

	if len(s.RealmLadder) > 0 {
		sb.WriteString("\n### Advancement ladder (important)\n")
		fmt.Fprintf(&sb, "%s\n", strings.Join(s.RealmLadder, " → "))
		fmt.Fprintf(&sb, "- Protagonist currently: %s\n", s.Protagonist.Realm.Current)
	}

	if memoryContext != "" {
		fmt.Fprintf(&sb, "\n### Semantic memory (from earlier chapters)\n%s\n", memoryContext)
	}

	return sb.String()
}

func sortedCharacterNames(characters map[string]Character) []string {
	names := make([]string, 0, len(characters))
	for name := range characters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
