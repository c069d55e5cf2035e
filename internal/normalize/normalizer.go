// Package normalize turns raw upload rows into canonical leads using an
// accepted column mapping.
package normalize

import (
	"strings"

	"github.com/rpattn/crmimport/internal/domain"
	"github.com/rpattn/crmimport/internal/ingestion"
	"github.com/rpattn/crmimport/pkg/validator"
)

// DefaultSampleSize bounds sample_normalized in preview responses.
const DefaultSampleSize = 10

var leadFields = []validator.FieldDefinition{
	{Name: domain.FieldFullName, Required: true},
	{Name: domain.FieldEmail, Required: true, Format: validator.FormatEmail},
}

// Result is the outcome of normalizing a whole table.
type Result struct {
	Preview domain.PreviewResult
	// Valid holds every row without validation errors, in row order.
	Valid []domain.NormalizedRow
}

// Normalizer applies a mapping to rows and validates the outcome.
type Normalizer struct {
	validator  *validator.FieldValidator
	sampleSize int
}

// NewNormalizer builds a normalizer. A non-positive sampleSize uses DefaultSampleSize.
func NewNormalizer(fieldValidator *validator.FieldValidator, sampleSize int) *Normalizer {
	if fieldValidator == nil {
		fieldValidator = validator.NewFieldValidator()
	}
	if sampleSize <= 0 {
		sampleSize = DefaultSampleSize
	}
	return &Normalizer{validator: fieldValidator, sampleSize: sampleSize}
}

// Run normalizes every row of table. The result depends only on its inputs.
func (n *Normalizer) Run(table ingestion.Table, mapping domain.ColumnMapping) Result {
	result := Result{
		Preview: domain.PreviewResult{
			TotalRows:        len(table.Rows),
			ValidationErrors: []domain.ValidationError{},
			SampleNormalized: []domain.NormalizedLead{},
		},
		Valid: make([]domain.NormalizedRow, 0, len(table.Rows)),
	}

	for row := 1; row <= len(table.Rows); row++ {
		lead, errs := n.Row(table.Columns, table.Record(row), mapping)
		if len(errs) > 0 {
			for _, validationErr := range errs {
				validationErr.Row = row
				result.Preview.ValidationErrors = append(result.Preview.ValidationErrors, validationErr)
			}
			result.Preview.InvalidCount++
			continue
		}
		result.Valid = append(result.Valid, domain.NormalizedRow{Row: row, Lead: lead})
		if len(result.Preview.SampleNormalized) < n.sampleSize {
			result.Preview.SampleNormalized = append(result.Preview.SampleNormalized, lead)
		}
	}

	result.Preview.ValidRows = len(result.Valid)
	return result
}

// Row maps one record to a lead and returns its validation errors with Row unset.
func (n *Normalizer) Row(columns []string, record map[string]string, mapping domain.ColumnMapping) (domain.NormalizedLead, []domain.ValidationError) {
	values := Values(columns, record, mapping)

	check := n.validator.ValidateFields(values, leadFields)
	var errs []domain.ValidationError
	for _, fieldErr := range check.Errors {
		errs = append(errs, domain.ValidationError{Field: fieldErr.Field, Error: fieldErr.Message})
	}

	lead := domain.NormalizedLead{
		FullName: values[domain.FieldFullName],
		Email:    domain.CanonicalEmail(values[domain.FieldEmail]),
		Phone:    optional(values[domain.FieldPhone]),
		Source:   optional(values[domain.FieldSource]),
	}
	return lead, errs
}

// Values resolves each CRM field of record. Direct mappings are applied in
// column order, first non-empty value wins; merge rules then join their
// non-empty source values with the rule separator.
func Values(columns []string, record map[string]string, mapping domain.ColumnMapping) map[string]string {
	values := make(map[string]string, len(domain.CRMFields))

	for _, column := range columns {
		field, ok := mapping.Mappings[column]
		if !ok || values[field] != "" {
			continue
		}
		values[field] = strings.TrimSpace(record[column])
	}

	for _, rule := range mapping.MergeRules {
		parts := make([]string, 0, len(rule.SourceColumns))
		for _, column := range rule.SourceColumns {
			if value := strings.TrimSpace(record[column]); value != "" {
				parts = append(parts, value)
			}
		}
		values[rule.TargetField] = strings.Join(parts, rule.Separator)
	}

	return values
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
