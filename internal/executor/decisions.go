package executor

import (
	"sort"

	"github.com/rpattn/crmimport/internal/domain"
)

// ValidateDecisions checks that decisions cover exactly the keys of report
// with supported actions.
func ValidateDecisions(report domain.DuplicateReport, decisions map[string]domain.DuplicateAction) error {
	required := make(map[string]bool, report.TotalDuplicates)
	for _, key := range report.Keys() {
		required[key] = true
	}

	var fieldErrors []domain.FieldError
	for _, key := range report.Keys() {
		if _, ok := decisions[key]; !ok {
			fieldErrors = append(fieldErrors, domain.FieldError{Field: key, Message: "decision is required"})
		}
	}

	given := make([]string, 0, len(decisions))
	for key := range decisions {
		given = append(given, key)
	}
	sort.Strings(given)
	for _, key := range given {
		if !required[key] {
			fieldErrors = append(fieldErrors, domain.FieldError{Field: key, Message: "no reported duplicate has this key"})
			continue
		}
		if !decisions[key].Valid() {
			fieldErrors = append(fieldErrors, domain.FieldError{Field: key, Message: "action must be one of skip, update, create"})
		}
	}

	if len(fieldErrors) > 0 {
		return domain.NewRequestError("duplicate_decisions must cover every reported duplicate", fieldErrors...)
	}
	return nil
}
