// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// IssueType classifies a review finding.
type IssueType string

const (
	IssueContinuity     IssueType = "continuity"
	IssueStateViolation IssueType = "state_violation"
	IssueTimeline       IssueType = "timeline"
	IssueCharacterVoice IssueType = "character_voice"
	IssueStyleMeta      IssueType = "style_meta"
	IssuePlotHole       IssueType = "plot_hole"
	IssueRedundancy     IssueType = "redundancy"
	IssueNameDrift      IssueType = "name_drift"
)

// ValidIssueTypes is the accepted set for critic output validation.
var ValidIssueTypes = map[IssueType]bool{
	IssueContinuity:     true,
	IssueStateViolation: true,
	IssueTimeline:       true,
	IssueCharacterVoice: true,
	IssueStyleMeta:      true,
	IssuePlotHole:       true,
	IssueRedundancy:     true,
	IssueNameDrift:      true,
}

// Severity ranks a review finding.
type Severity string

const (
	SeverityBlocker Severity = "blocker"
	SeverityMajor   Severity = "major"
	SeverityMinor   Severity = "minor"
	SeverityNit     Severity = "nit"
)

// severityOrder ranks severities for merge selection; unknown values rank 0.
var severityOrder = map[Severity]int{
	SeverityBlocker: 4,
	SeverityMajor:   3,
	SeverityMinor:   2,
	SeverityNit:     1,
}

// Rank returns the numeric ordering of s (blocker highest).
func (s Severity) Rank() int {
	return severityOrder[s]
}

// Valid reports whether s is one of the four known severities.
func (s Severity) Valid() bool {
	return severityOrder[s] > 0
}

// RewriteScope bounds the fix a finding demands.
type RewriteScope string

const (
	ScopeLine      RewriteScope = "line"
	ScopeParagraph RewriteScope = "paragraph"
	ScopeScene     RewriteScope = "scene"
)

// Evidence anchors a finding to a quote from the draft.
type Evidence struct {
	Quote      string `json:"quote" yaml:"quote"`
	ChapterPos string `json:"chapter_pos,omitempty" yaml:"chapter_pos,omitempty"`
}

// Issue is a single review finding, produced by critics or checkers and
// consumed by the revise stages.
type Issue struct {
	ID                string       `json:"id,omitempty" yaml:"id,omitempty"`
	Type              IssueType    `json:"type" yaml:"type"`
	Severity          Severity     `json:"severity" yaml:"severity"`
	Description       string       `json:"description,omitempty" yaml:"description,omitempty"`
	Evidence          []Evidence   `json:"evidence" yaml:"evidence"`
	RelatedMemoryKeys []string     `json:"related_memory_keys,omitempty" yaml:"related_memory_keys,omitempty"`
	FixSuggestion     string       `json:"fix_suggestion" yaml:"fix_suggestion"`
	RewriteScope      RewriteScope `json:"requires_rewrite_scope" yaml:"requires_rewrite_scope"`
}

// HasBlocker reports whether any issue blocks finalization. Major findings
// block as well: they force at least one revision pass.
func HasBlocker(issues []Issue) bool {
	for _, issue := range issues {
		if issue.Severity == SeverityBlocker || issue.Severity == SeverityMajor {
			return true
		}
	}
	return false
}
