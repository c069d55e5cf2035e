// Package mapping proposes and validates column-to-field mappings for uploads.
package mapping

import (
	"sort"

	"github.com/rpattn/crmimport/internal/domain"
	"github.com/rpattn/crmimport/internal/matching"
)

// FuzzyThreshold is the minimum Jaro-Winkler similarity for a fuzzy header suggestion.
const FuzzyThreshold = 0.88

var knownLabels = fieldLabels()

// Suggest proposes a CRM field for detected columns. Exact alias hits are
// assigned first, then remaining columns are matched by label similarity.
// Each field is suggested at most once and earlier columns win.
func Suggest(columns []string) map[string]string {
	suggestions := make(map[string]string)
	taken := make(map[string]bool)

	for _, column := range columns {
		field, ok := headerAliases[matching.FoldLabel(column)]
		if !ok || taken[field] {
			continue
		}
		suggestions[column] = field
		taken[field] = true
	}

	for _, column := range columns {
		if _, done := suggestions[column]; done {
			continue
		}
		folded := matching.FoldLabel(column)
		if folded == "" {
			continue
		}

		bestField, bestScore := "", 0.0
		for _, field := range domain.CRMFields {
			if taken[field] {
				continue
			}
			for _, label := range knownLabels[field] {
				if score := matching.JaroWinkler(folded, label); score > bestScore {
					bestField, bestScore = field, score
				}
			}
		}
		if bestField != "" && bestScore >= FuzzyThreshold {
			suggestions[column] = bestField
			taken[bestField] = true
		}
	}

	return suggestions
}

// FromTemplate projects a saved mapping onto the detected columns. Direct
// mappings and ignored columns are kept when their column exists in the
// upload; merge rules are kept only when every source column exists.
func FromTemplate(columns []string, template domain.ColumnMapping) domain.ColumnMapping {
	present := make(map[string]bool, len(columns))
	for _, column := range columns {
		present[column] = true
	}

	projected := domain.ColumnMapping{Mappings: make(map[string]string)}
	keys := make([]string, 0, len(template.Mappings))
	for column := range template.Mappings {
		keys = append(keys, column)
	}
	sort.Strings(keys)
	for _, column := range keys {
		if present[column] && domain.IsCRMField(template.Mappings[column]) {
			projected.Mappings[column] = template.Mappings[column]
		}
	}

	for _, rule := range template.MergeRules {
		if len(rule.SourceColumns) == 0 || !domain.IsCRMField(rule.TargetField) {
			continue
		}
		complete := true
		for _, column := range rule.SourceColumns {
			if !present[column] {
				complete = false
				break
			}
		}
		if complete {
			projected.MergeRules = append(projected.MergeRules, domain.MergeRule{
				SourceColumns: append([]string{}, rule.SourceColumns...),
				TargetField:   rule.TargetField,
				Separator:     rule.Separator,
			})
		}
	}

	for _, column := range template.IgnoredColumns {
		if present[column] {
			projected.IgnoredColumns = append(projected.IgnoredColumns, column)
		}
	}
	return projected
}
