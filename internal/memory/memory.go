// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package memory maintains the long-range story memory: finalized chapters
// are segmented and embedded into a persistent vector collection, and the
// writer queries it for scenes relevant to the chapter being drafted. See
// docs/ARCHITECTURE § Story Memory.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/philippgille/chromem-go"

	"github.com/pdiddy/novel-engine/pkg/types"
)

// Entry is one retrieved memory segment.
type Entry struct {
	Chapter int     `json:"chapter"`
	Segment int     `json:"segment"`
	Title   string  `json:"title"`
	Text    string  `json:"text"`
	Score   float32 `json:"score"`
}

// Stats summarizes the collection: how many segments are indexed and how
// many distinct chapters they came from.
type Stats struct {
	Documents int `json:"documents"`
	Chapters  int `json:"chapters"`
}

// chaptersFile is a sidecar index mapping chapter number to segment count.
// The vector collection has no enumeration API, so this is what lets stats
// be read without embedding models loaded.
const chaptersFile = "chapters.json"

// Store is a persistent chapter-memory collection.
type Store struct {
	db         *chromem.DB
	collection *chromem.Collection
	config     types.MemoryConfig
	dir        string
}

// Open loads or creates the memory collection under dir. The embedding
// function turns text into vectors; both indexing and querying use it.
func Open(dir string, config types.MemoryConfig, embed chromem.EmbeddingFunc) (*Store, error) {
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("opening memory db at %s: %w", dir, err)
	}
	collection, err := db.GetOrCreateCollection(config.Collection, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("opening collection %q: %w", config.Collection, err)
	}
	return &Store{db: db, collection: collection, config: config, dir: dir}, nil
}

// AddChapter segments a finalized chapter and indexes the segments. A
// chapter already in the collection is replaced, so re-finalizing after a
// rewrite stays idempotent.
func (s *Store) AddChapter(ctx context.Context, chapter int, title, body string) error {
	chapterKey := strconv.Itoa(chapter)
	if err := s.collection.Delete(ctx, map[string]string{"chapter": chapterKey}, nil); err != nil {
		return fmt.Errorf("clearing chapter %d segments: %w", chapter, err)
	}

	segments := segment(body, s.config.SegmentRunes)
	docs := make([]chromem.Document, 0, len(segments))
	for i, text := range segments {
		docs = append(docs, chromem.Document{
			ID:      fmt.Sprintf("c%03d-s%02d", chapter, i),
			Content: text,
			Metadata: map[string]string{
				"chapter": chapterKey,
				"segment": strconv.Itoa(i),
				"title":   title,
			},
		})
	}
	if len(docs) > 0 {
		if err := s.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
			return fmt.Errorf("indexing chapter %d: %w", chapter, err)
		}
	}
	return s.updateIndex(chapter, len(segments))
}

// updateIndex records chapter's segment count in the sidecar index.
func (s *Store) updateIndex(chapter, segments int) error {
	idx, err := readIndex(s.dir)
	if err != nil {
		return err
	}
	key := strconv.Itoa(chapter)
	if segments == 0 {
		delete(idx, key)
	} else {
		idx[key] = segments
	}
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dir, chaptersFile), data, 0o644)
}

func readIndex(dir string) (map[string]int, error) {
	data, err := os.ReadFile(filepath.Join(dir, chaptersFile))
	if os.IsNotExist(err) {
		return map[string]int{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading memory index: %w", err)
	}
	var idx map[string]int
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("parsing memory index: %w", err)
	}
	if idx == nil {
		idx = map[string]int{}
	}
	return idx, nil
}

// QueryContext retrieves the segments most relevant to query, restricted to
// chapters strictly before beforeChapter so a draft never sees its own
// future. Results come back best match first, capped at MaxEntries.
func (s *Store) QueryContext(ctx context.Context, query string, beforeChapter int) ([]Entry, error) {
	count := s.collection.Count()
	if count == 0 {
		return nil, nil
	}

	// Metadata filters are exact-match only, so over-fetch and apply the
	// chapter cutoff here.
	n := s.config.MaxEntries * 4
	if n > count {
		n = count
	}
	docs, err := s.collection.Query(ctx, query, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying memory: %w", err)
	}

	var entries []Entry
	for _, doc := range docs {
		chapter, err := strconv.Atoi(doc.Metadata["chapter"])
		if err != nil || chapter >= beforeChapter {
			continue
		}
		segment, _ := strconv.Atoi(doc.Metadata["segment"])
		entries = append(entries, Entry{
			Chapter: chapter,
			Segment: segment,
			Title:   doc.Metadata["title"],
			Text:    doc.Content,
			Score:   doc.Similarity,
		})
		if len(entries) >= s.config.MaxEntries {
			break
		}
	}
	return entries, nil
}

// Stats reports collection size and distinct chapters indexed.
func (s *Store) Stats() Stats {
	idx, err := readIndex(s.dir)
	if err != nil {
		idx = nil
	}
	return Stats{Documents: s.collection.Count(), Chapters: len(idx)}
}

// ReadStats reads stats from the sidecar index alone, so callers without
// embedding credentials (the status command) can still report them.
func ReadStats(dir string) (Stats, error) {
	idx, err := readIndex(dir)
	if err != nil {
		return Stats{}, err
	}
	var docs int
	for _, n := range idx {
		docs += n
	}
	return Stats{Documents: docs, Chapters: len(idx)}, nil
}

// FormatContext renders retrieved entries as a markdown block for prompt
// injection, ordered by chapter so the model reads them chronologically.
func FormatContext(entries []Entry) string {
	if len(entries) == 0 {
		return ""
	}
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Chapter != sorted[j].Chapter {
			return sorted[i].Chapter < sorted[j].Chapter
		}
		return sorted[i].Segment < sorted[j].Segment
	})

	var sb strings.Builder
	sb.WriteString("## Relevant earlier scenes\n\n")
	for _, e := range sorted {
		fmt.Fprintf(&sb, "### Chapter %d: %s\n\n%s\n\n", e.Chapter, e.Title, strings.TrimSpace(e.Text))
	}
	return sb.String()
}

// segment splits text into chunks of roughly maxRunes, breaking on
// paragraph boundaries. A single oversized paragraph becomes its own
// segment rather than being split mid-sentence.
func segment(text string, maxRunes int) []string {
	if maxRunes <= 0 {
		maxRunes = 2000
	}

	paragraphs := strings.Split(text, "\n\n")
	var segments []string
	var current strings.Builder
	currentRunes := 0

	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		runes := len([]rune(p))
		if currentRunes > 0 && currentRunes+runes > maxRunes {
			segments = append(segments, current.String())
			current.Reset()
			currentRunes = 0
		}
		if currentRunes > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(p)
		currentRunes += runes
	}
	if currentRunes > 0 {
		segments = append(segments, current.String())
	}
	return segments
}
