// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// Fact is a subject/predicate/value triple with a chapter validity window.
// Hard facts participate in hard-state snapshots and block contradicting
// prose; soft facts are advisory context.
type Fact struct {
	ID         int64          `json:"fact_id,omitempty" yaml:"fact_id,omitempty"`
	Subject    string         `json:"subject" yaml:"subject"`
	Predicate  string         `json:"predicate" yaml:"predicate"`
	Value      any            `json:"value" yaml:"value"`
	Qualifiers map[string]any `json:"qualifiers,omitempty" yaml:"qualifiers,omitempty"`

	// ValidFrom is the first chapter the fact holds in. ValidTo is the
	// chapter it was superseded in; zero means still open.
	ValidFrom int `json:"valid_from_chapter" yaml:"valid_from_chapter"`
	ValidTo   int `json:"valid_to_chapter,omitempty" yaml:"valid_to_chapter,omitempty"`

	SourceChapter int     `json:"source_chapter" yaml:"source_chapter"`
	Confidence    float64 `json:"confidence" yaml:"confidence"`
	Hard          bool    `json:"hard" yaml:"hard"`
}

// Snapshot is the hard state visible at one chapter:
// subject → predicate → value.
type Snapshot map[string]map[string]any

// Get returns the value for subject.predicate, or nil when absent.
func (s Snapshot) Get(subject, predicate string) any {
	if preds, ok := s[subject]; ok {
		return preds[predicate]
	}
	return nil
}

// FactChange is one fact assertion inside a chapter's state diff.
type FactChange struct {
	Subject   string `json:"subject" yaml:"subject"`
	Predicate string `json:"predicate" yaml:"predicate"`
	Value     any    `json:"value" yaml:"value"`
	Hard      bool   `json:"hard" yaml:"hard"`
	Reason    string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// RenameEvent records a character taking a new name mid-story.
type RenameEvent struct {
	CanonicalName string `json:"canonical_name" yaml:"canonical_name"`
	NewName       string `json:"new_name" yaml:"new_name"`
	Reason        string `json:"reason,omitempty" yaml:"reason,omitempty"`
	Chapter       int    `json:"chapter,omitempty" yaml:"chapter,omitempty"`
}

// StateDiff is the structured trailer the writer appends to each chapter:
// the facts the chapter establishes and any rename events.
type StateDiff struct {
	Facts        []FactChange  `json:"facts"`
	RenameEvents []RenameEvent `json:"rename_events"`
}

// Empty reports whether the diff carries no changes.
func (d StateDiff) Empty() bool {
	return len(d.Facts) == 0 && len(d.RenameEvents) == 0
}
