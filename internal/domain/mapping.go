package domain

import (
	"encoding/json"
	"time"
)

// MergeRule joins several source columns into one target field.
type MergeRule struct {
	SourceColumns []string `json:"source_columns"`
	TargetField   string   `json:"target_field"`
	Separator     string   `json:"separator"`
}

// ColumnMapping is the accepted assignment of uploaded columns to CRM fields.
type ColumnMapping struct {
	Mappings       map[string]string `json:"mappings"`
	MergeRules     []MergeRule       `json:"merge_rules"`
	IgnoredColumns []string          `json:"ignored_columns"`
}

// MappingSubmission is the caller's proposed mapping for a session.
type MappingSubmission struct {
	Mappings       map[string]string `json:"mappings"`
	MergeRules     []MergeRule       `json:"merge_rules"`
	IgnoredColumns []string          `json:"ignored_columns"`
	SaveAsTemplate bool              `json:"save_as_template"`
	TemplateName   *string           `json:"template_name,omitempty"`
}

// Mapping returns the column mapping portion of the submission.
func (s MappingSubmission) Mapping() ColumnMapping {
	mapping := ColumnMapping{
		Mappings:       make(map[string]string, len(s.Mappings)),
		MergeRules:     make([]MergeRule, 0, len(s.MergeRules)),
		IgnoredColumns: append([]string{}, s.IgnoredColumns...),
	}
	for column, field := range s.Mappings {
		mapping.Mappings[column] = field
	}
	for _, rule := range s.MergeRules {
		mapping.MergeRules = append(mapping.MergeRules, MergeRule{
			SourceColumns: append([]string{}, rule.SourceColumns...),
			TargetField:   rule.TargetField,
			Separator:     rule.Separator,
		})
	}
	return mapping
}

// MappingTemplate is a named, reusable column mapping.
type MappingTemplate struct {
	ID        int64         `json:"id"`
	Name      string        `json:"name"`
	Mapping   ColumnMapping `json:"mapping"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// MappingsToJSON marshals the direct mappings for JSONB storage.
func (m ColumnMapping) MappingsToJSON() (json.RawMessage, error) {
	mappings := m.Mappings
	if mappings == nil {
		mappings = map[string]string{}
	}
	return json.Marshal(mappings)
}

// MergeRulesToJSON marshals merge rules for JSONB storage.
func (m ColumnMapping) MergeRulesToJSON() (json.RawMessage, error) {
	rules := m.MergeRules
	if rules == nil {
		rules = []MergeRule{}
	}
	return json.Marshal(rules)
}

// IgnoredToJSON marshals the ignored column set for JSONB storage.
func (m ColumnMapping) IgnoredToJSON() (json.RawMessage, error) {
	ignored := m.IgnoredColumns
	if ignored == nil {
		ignored = []string{}
	}
	return json.Marshal(ignored)
}

// ColumnMappingFromJSON rebuilds a mapping from its persisted JSONB parts.
func ColumnMappingFromJSON(mappings, mergeRules, ignored []byte) (ColumnMapping, error) {
	out := ColumnMapping{
		Mappings:       map[string]string{},
		MergeRules:     []MergeRule{},
		IgnoredColumns: []string{},
	}
	if len(mappings) > 0 {
		if err := json.Unmarshal(mappings, &out.Mappings); err != nil {
			return ColumnMapping{}, err
		}
	}
	if len(mergeRules) > 0 {
		if err := json.Unmarshal(mergeRules, &out.MergeRules); err != nil {
			return ColumnMapping{}, err
		}
	}
	if len(ignored) > 0 {
		if err := json.Unmarshal(ignored, &out.IgnoredColumns); err != nil {
			return ColumnMapping{}, err
		}
	}
	return out, nil
}
