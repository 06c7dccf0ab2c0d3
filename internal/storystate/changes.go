// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package storystate

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pdiddy/novel-engine/internal/llm"
)

// Changes is the state delta extracted from a finalized chapter. Empty
// fields mean no change.
type Changes struct {
	RealmChange            string            `json:"realm_change,omitempty"`
	LocationChange         string            `json:"location_change,omitempty"`
	NewCharacters          []string          `json:"new_characters,omitempty"`
	CharacterStatusChanges map[string]string `json:"character_status_changes,omitempty"`
	NewSkills              []string          `json:"new_skills,omitempty"`
	NewFacilities          []string          `json:"new_facilities,omitempty"`
	PopulationChange       any               `json:"population_change,omitempty"`
	KeyEvents              []string          `json:"key_events,omitempty"`
	NewThreads             []string          `json:"new_threads,omitempty"`
	ResolvedThreads        []string          `json:"resolved_threads,omitempty"`
	TimeProgression        string            `json:"time_progression,omitempty"`
}

// ExtractChanges asks the model to read the chapter and emit a state
// delta against the known schema.
func ExtractChanges(ctx context.Context, backend llm.Backend, chapterNum int, content string) (Changes, error) {
	prompt := fmt.Sprintf(`Analyze the chapter %d content below and extract the state changes it establishes.

## Chapter content
%s

## What to extract
Output the following changes as JSON. Leave fields out when nothing changed:

`+"```json"+`
{
  "realm_change": null,
  "location_change": null,
  "new_characters": [],
  "character_status_changes": {},
  "new_skills": [],
  "new_facilities": [],
  "population_change": null,
  "key_events": [],
  "new_threads": [],
  "resolved_threads": [],
  "time_progression": null
}
`+"```"+`

Output JSON only, nothing else:`, chapterNum, truncateRunes(content, 6000))

	raw, err := backend.Chat(ctx, []llm.Message{
		{Role: "system", Content: "You are a fiction state analyst. Extract state changes from the chapter precisely and output JSON."},
		{Role: "user", Content: prompt},
	}, llm.ChatOptions{JSONMode: true})
	if err != nil {
		return Changes{}, fmt.Errorf("extracting state changes for chapter %d: %w", chapterNum, err)
	}

	var changes Changes
	if err := llm.ExtractJSON(raw, &changes); err != nil {
		return Changes{}, fmt.Errorf("parsing state changes for chapter %d: %w", chapterNum, err)
	}
	return changes, nil
}

// ApplyChanges folds a chapter's delta into the state and saves it.
func (m *Manager) ApplyChanges(chapterNum int, changes Changes) error {
	s := &m.State
	s.Meta.CurrentChapter = chapterNum

	if changes.RealmChange != "" {
		s.Protagonist.Realm.Current = changes.RealmChange
		s.Protagonist.Realm.Level = "early"
		s.Protagonist.Realm.BreakthroughChapter = chapterNum
	}
	if changes.LocationChange != "" {
		s.Protagonist.Location = changes.LocationChange
	}
	for _, skill := range changes.NewSkills {
		s.Protagonist.Skills = append(s.Protagonist.Skills, Skill{
			Name:   skill,
			Level:  "basic",
			Source: fmt.Sprintf("gained in chapter %d", chapterNum),
		})
	}
	for _, facility := range changes.NewFacilities {
		s.Territory.Facilities = append(s.Territory.Facilities, Facility{
			Name:         facility,
			BuiltChapter: chapterNum,
		})
	}
	if delta, ok := asInt(changes.PopulationChange); ok {
		s.Territory.Population += delta
	}
	for name, status := range changes.CharacterStatusChanges {
		if s.Characters == nil {
			s.Characters = make(map[string]Character)
		}
		character := s.Characters[name]
		character.Status = status
		s.Characters[name] = character
		if status == "dead" {
			s.ForbiddenElements.DeadCharacters = appendUnique(s.ForbiddenElements.DeadCharacters, name)
		}
	}

	for _, event := range changes.KeyEvents {
		entry := fmt.Sprintf("Chapter %d: %s", chapterNum, event)
		s.RecentEvents = appendUnique(s.RecentEvents, entry)
	}
	if len(s.RecentEvents) > 10 {
		s.RecentEvents = s.RecentEvents[len(s.RecentEvents)-10:]
	}

	for _, thread := range changes.NewThreads {
		s.PendingThreads = append(s.PendingThreads, Thread{
			Thread:          thread,
			Urgency:         "medium",
			ExpectedChapter: fmt.Sprintf("%d+", chapterNum+5),
		})
	}
	for _, resolved := range changes.ResolvedThreads {
		kept := s.PendingThreads[:0]
		for _, t := range s.PendingThreads {
			if !strings.Contains(strings.ToLower(t.Thread), strings.ToLower(resolved)) {
				kept = append(kept, t)
			}
		}
		s.PendingThreads = kept
		s.ForbiddenElements.ResolvedThreads = appendUnique(s.ForbiddenElements.ResolvedThreads, resolved)
	}

	if changes.TimeProgression != "" {
		s.Meta.StoryTime += fmt.Sprintf(" (%s)", changes.TimeProgression)
	}
	if len(changes.KeyEvents) > 0 {
		s.Timeline = append(s.Timeline, TimelineEntry{
			Chapter: chapterNum,
			Event:   changes.KeyEvents[0],
			Time:    s.Meta.StoryTime,
		})
	}

	return m.Save()
}

// CheckConsistency scans finalized prose against the state: advancement
// stage drift, forbidden modern vocabulary, dead characters appearing
// outside an opening flashback.
func (m *Manager) CheckConsistency(chapterNum int, content string) []string {
	var problems []string
	s := m.State

	current := s.Protagonist.Realm.Current
	name := s.Protagonist.Name
	if current != "" && name != "" {
		for _, realm := range s.RealmLadder {
			if realm == current {
				continue
			}
			if strings.Contains(content, name+" is a "+realm) ||
				strings.Contains(content, name+" was already a "+realm) ||
				strings.Contains(content, "already a "+realm) {
				problems = append(problems, fmt.Sprintf(
					"stage drift: protagonist should be %s, prose says %s", current, realm))
			}
		}
	}

	for _, term := range s.ForbiddenElements.ModernTerms {
		if term != "" && strings.Contains(content, term) {
			problems = append(problems, fmt.Sprintf("modern vocabulary: found %q", term))
		}
	}

	opening := truncateRunes(content, 500)
	flashback := strings.Contains(opening, "flashback") || strings.Contains(opening, "remembered")
	for _, dead := range s.ForbiddenElements.DeadCharacters {
		if dead != "" && strings.Contains(content, dead) && !flashback {
			problems = append(problems, fmt.Sprintf("character error: %s is dead and must not appear", dead))
		}
	}

	return problems
}

// asInt coerces the loosely-typed population delta the model returns.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, false
		}
		return parsed, true
	}
	return 0, false
}

func appendUnique(list []string, item string) []string {
	for _, existing := range list {
		if existing == item {
			return list
		}
	}
	return append(list, item)
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
