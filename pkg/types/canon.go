// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// HardRule is a canon invariant the prose must not contradict. The checker
// scans drafts for ViolationKeywords when the rule's value forbids the
// behavior they describe.
type HardRule struct {
	Key               string   `json:"key" yaml:"key"`
	Value             any      `json:"value" yaml:"value"`
	ViolationKeywords []string `json:"violation_keywords,omitempty" yaml:"violation_keywords,omitempty"`

	// SuccessKeywords and FailureKeywords disambiguate a keyword hit:
	// a violation needs success wording without failure wording nearby.
	SuccessKeywords []string `json:"success_keywords,omitempty" yaml:"success_keywords,omitempty"`
	FailureKeywords []string `json:"failure_keywords,omitempty" yaml:"failure_keywords,omitempty"`
}

// SoftFact is a canon data point (names, aliases, banned wording) that
// checkers and the memory bank consult but do not enforce as hard state.
type SoftFact struct {
	Key   string `json:"key" yaml:"key"`
	Value any    `json:"value" yaml:"value"`
}

// Canon is the parsed canon.yaml at a project root.
type Canon struct {
	HardRules []HardRule `json:"HARD_RULE" yaml:"HARD_RULE"`
	SoftFacts []SoftFact `json:"SOFT_FACT" yaml:"SOFT_FACT"`

	// StyleBans lists wording that marks analytical, non-narrative prose.
	StyleBans []string `json:"STYLE_BAN,omitempty" yaml:"STYLE_BAN,omitempty"`
}

// SoftValue returns the value of the named soft fact, or nil.
func (c Canon) SoftValue(key string) any {
	for _, f := range c.SoftFacts {
		if f.Key == key {
			return f.Value
		}
	}
	return nil
}

// SoftString returns the named soft fact as a string, or "".
func (c Canon) SoftString(key string) string {
	if v, ok := c.SoftValue(key).(string); ok {
		return v
	}
	return ""
}

// SoftStrings returns the named soft fact as a string list. YAML lists
// decode as []any, so both representations are accepted.
func (c Canon) SoftStrings(key string) []string {
	switch v := c.SoftValue(key).(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Canonical soft-fact keys used across the pipeline.
const (
	CanonProtagonistName    = "protagonist.canonical_name"
	CanonProtagonistAliases = "protagonist.aliases"
)
