// ABOUTME: Prefix-based model routing for inbound messages
// ABOUTME: Maps a raw message to a target model, optional system prompt, and cleaned body

package routing

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Rule maps a literal message prefix to a target model and an optional
// system prompt. Rules are static configuration; ordering is significant.
type Rule struct {
	Prefix       string `toml:"prefix" json:"prefix"`
	Model        string `toml:"model" json:"model"`
	SystemPrompt string `toml:"system_prompt" json:"system_prompt,omitempty"`
}

// Decision is the result of routing a raw message.
type Decision struct {
	Model        string
	SystemPrompt string
	Cleaned      string
	Matched      bool
}

// Table holds an ordered set of routing rules plus the fallback model.
// A Table is immutable after construction and safe for concurrent use.
type Table struct {
	defaultModel string
	rules        []Rule
}

// tableFile is the on-disk TOML shape of a routing table.
type tableFile struct {
	DefaultModel string `toml:"default_model"`
	Rules        []Rule `toml:"rules"`
}

// NewTable builds a routing table from an ordered rule list. The default
// model is used when no rule matches and must be non-empty.
func NewTable(defaultModel string, rules []Rule) (*Table, error) {
	if defaultModel == "" {
		return nil, fmt.Errorf("default model is required")
	}
	for i, r := range rules {
		if r.Prefix == "" {
			return nil, fmt.Errorf("rule %d: prefix is required", i)
		}
		if r.Model == "" {
			return nil, fmt.Errorf("rule %d (%q): model is required", i, r.Prefix)
		}
	}

	copied := make([]Rule, len(rules))
	copy(copied, rules)
	return &Table{defaultModel: defaultModel, rules: copied}, nil
}

// LoadTable reads a routing table from a TOML file. The file's default_model
// overrides fallbackModel when set.
func LoadTable(path, fallbackModel string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading routing rules: %w", err)
	}

	var file tableFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing routing rules: %w", err)
	}

	defaultModel := file.DefaultModel
	if defaultModel == "" {
		defaultModel = fallbackModel
	}

	return NewTable(defaultModel, file.Rules)
}

// DefaultModel returns the fallback model for unmatched messages.
func (t *Table) DefaultModel() string {
	return t.defaultModel
}

// Rules returns a copy of the configured rules in evaluation order.
func (t *Table) Rules() []Rule {
	rules := make([]Rule, len(t.rules))
	copy(rules, t.rules)
	return rules
}

// Route maps a raw message to a model decision. Matching is case-insensitive
// against the start of the message; the first rule whose prefix matches wins.
// On a match the prefix is stripped from the original message (preserving the
// remainder's casing) and surrounding whitespace is trimmed. With no match
// the message passes through untouched under the default model.
func (t *Table) Route(raw string) Decision {
	lowered := strings.ToLower(raw)

	for _, rule := range t.rules {
		if strings.HasPrefix(lowered, strings.ToLower(rule.Prefix)) {
			return Decision{
				Model:        rule.Model,
				SystemPrompt: rule.SystemPrompt,
				Cleaned:      strings.TrimSpace(raw[len(rule.Prefix):]),
				Matched:      true,
			}
		}
	}

	return Decision{
		Model:   t.defaultModel,
		Cleaned: raw,
	}
}
