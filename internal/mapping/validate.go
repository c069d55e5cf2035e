package mapping

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rpattn/crmimport/internal/domain"
)

type reference struct {
	kind  string
	index int
}

func (r reference) String() string {
	switch r.kind {
	case "merge_rules":
		return fmt.Sprintf("merge_rules[%d]", r.index)
	default:
		return r.kind
	}
}

// Accept validates a submitted mapping against the detected columns and returns
// the mapping to store. Columns the submission leaves out are added to the
// ignored set, so every detected column ends up in exactly one place.
func Accept(columns []string, submission domain.MappingSubmission) (domain.ColumnMapping, error) {
	detected := make(map[string]bool, len(columns))
	for _, column := range columns {
		detected[column] = true
	}

	var fieldErrors []domain.FieldError
	refs := make(map[string][]reference)

	mappedColumns := make([]string, 0, len(submission.Mappings))
	for column := range submission.Mappings {
		mappedColumns = append(mappedColumns, column)
	}
	sort.Strings(mappedColumns)

	directTargets := make(map[string]bool)
	for _, column := range mappedColumns {
		field := submission.Mappings[column]
		refs[column] = append(refs[column], reference{kind: "mappings"})
		if !detected[column] {
			fieldErrors = append(fieldErrors, domain.FieldError{Field: column, Message: "column is not present in the uploaded file"})
		}
		if !domain.IsCRMField(field) {
			fieldErrors = append(fieldErrors, domain.FieldError{
				Field:   "mappings." + column,
				Message: fmt.Sprintf("unknown CRM field %q", field),
			})
			continue
		}
		directTargets[field] = true
	}

	ruleTargets := make(map[string]int)
	for i, rule := range submission.MergeRules {
		prefix := fmt.Sprintf("merge_rules[%d]", i)
		if len(rule.SourceColumns) == 0 {
			fieldErrors = append(fieldErrors, domain.FieldError{Field: prefix + ".source_columns", Message: "at least one source column is required"})
		}
		if rule.Separator == "" {
			fieldErrors = append(fieldErrors, domain.FieldError{Field: prefix + ".separator", Message: "separator is required"})
		}
		switch {
		case !domain.IsCRMField(rule.TargetField):
			fieldErrors = append(fieldErrors, domain.FieldError{
				Field:   prefix + ".target_field",
				Message: fmt.Sprintf("unknown CRM field %q", rule.TargetField),
			})
		case directTargets[rule.TargetField]:
			fieldErrors = append(fieldErrors, domain.FieldError{
				Field:   prefix + ".target_field",
				Message: fmt.Sprintf("field %q is already a direct mapping target", rule.TargetField),
			})
		default:
			if previous, dup := ruleTargets[rule.TargetField]; dup {
				fieldErrors = append(fieldErrors, domain.FieldError{
					Field:   prefix + ".target_field",
					Message: fmt.Sprintf("field %q is already the target of merge_rules[%d]", rule.TargetField, previous),
				})
			} else {
				ruleTargets[rule.TargetField] = i
			}
		}
		for _, column := range rule.SourceColumns {
			refs[column] = append(refs[column], reference{kind: "merge_rules", index: i})
			if !detected[column] {
				fieldErrors = append(fieldErrors, domain.FieldError{Field: column, Message: "column is not present in the uploaded file"})
			}
		}
	}

	for _, column := range submission.IgnoredColumns {
		refs[column] = append(refs[column], reference{kind: "ignored_columns"})
		if !detected[column] {
			fieldErrors = append(fieldErrors, domain.FieldError{Field: column, Message: "column is not present in the uploaded file"})
		}
	}

	referenced := make([]string, 0, len(refs))
	for column := range refs {
		referenced = append(referenced, column)
	}
	sort.Strings(referenced)
	for _, column := range referenced {
		if len(refs[column]) < 2 {
			continue
		}
		places := make([]string, 0, len(refs[column]))
		for _, ref := range refs[column] {
			places = append(places, ref.String())
		}
		fieldErrors = append(fieldErrors, domain.FieldError{
			Field:   column,
			Message: fmt.Sprintf("column %q is referenced more than once (%s)", column, strings.Join(places, ", ")),
		})
	}

	if submission.SaveAsTemplate && (submission.TemplateName == nil || strings.TrimSpace(*submission.TemplateName) == "") {
		fieldErrors = append(fieldErrors, domain.FieldError{Field: "template_name", Message: "template_name is required when save_as_template is set"})
	}

	if len(fieldErrors) > 0 {
		return domain.ColumnMapping{}, domain.NewRequestError("invalid column mapping", fieldErrors...)
	}

	accepted := submission.Mapping()
	accepted.IgnoredColumns = accepted.IgnoredColumns[:0]
	for _, column := range columns {
		if _, mapped := submission.Mappings[column]; mapped {
			continue
		}
		if inMergeRule(submission.MergeRules, column) {
			continue
		}
		accepted.IgnoredColumns = append(accepted.IgnoredColumns, column)
	}
	return accepted, nil
}

func inMergeRule(rules []domain.MergeRule, column string) bool {
	for _, rule := range rules {
		for _, source := range rule.SourceColumns {
			if source == column {
				return true
			}
		}
	}
	return false
}
