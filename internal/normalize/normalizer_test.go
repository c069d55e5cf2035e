package normalize

import (
	"testing"

	"github.com/rpattn/crmimport/internal/domain"
	"github.com/rpattn/crmimport/internal/ingestion"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func threeRowTable() ingestion.Table {
	return ingestion.Table{
		Columns: []string{"Name", "Email"},
		Rows: [][]string{
			{"Ada Lovelace", "a@x.com"},
			{"Bob Stone", "bad"},
			{"Ada L.", "A@X.com "},
		},
	}
}

func nameEmailMapping() domain.ColumnMapping {
	return domain.ColumnMapping{Mappings: map[string]string{"Name": domain.FieldFullName, "Email": domain.FieldEmail}}
}

func TestRunCountsAndErrors(t *testing.T) {
	result := NewNormalizer(nil, 0).Run(threeRowTable(), nameEmailMapping())

	assert.Equal(t, 3, result.Preview.TotalRows)
	assert.Equal(t, 2, result.Preview.ValidRows)
	assert.Equal(t, 1, result.Preview.InvalidCount)
	assert.Equal(t, result.Preview.TotalRows, result.Preview.ValidRows+result.Preview.InvalidCount)
	assert.Equal(t, []domain.ValidationError{{Row: 2, Field: "email", Error: `invalid email address "bad"`}}, result.Preview.ValidationErrors)

	require.Len(t, result.Valid, 2)
	assert.Equal(t, 3, result.Valid[1].Row)
	assert.Equal(t, "a@x.com", result.Valid[1].Lead.Email)
}

func TestRunIsDeterministic(t *testing.T) {
	normalizer := NewNormalizer(nil, 1)
	first := normalizer.Run(threeRowTable(), nameEmailMapping())
	second := normalizer.Run(threeRowTable(), nameEmailMapping())

	assert.Equal(t, first, second)
	assert.Len(t, first.Preview.SampleNormalized, 1)
}

func TestRowFlagsEveryMissingField(t *testing.T) {
	_, errs := NewNormalizer(nil, 0).Row([]string{"Name", "Email"}, map[string]string{"Name": "  ", "Email": ""}, nameEmailMapping())

	assert.Equal(t, []domain.ValidationError{
		{Field: "full_name", Error: "full_name is required"},
		{Field: "email", Error: "email is required"},
	}, errs)
}

func TestValuesMergeRulesSkipEmptySources(t *testing.T) {
	columns := []string{"First", "Middle", "Last", "Email", "Alt Email", "Phone"}
	record := map[string]string{"First": "Ada", "Middle": "", "Last": "Lovelace", "Email": "", "Alt Email": "ada@x.com", "Phone": " 555 "}
	mapping := domain.ColumnMapping{
		Mappings: map[string]string{"Email": domain.FieldEmail, "Alt Email": domain.FieldEmail, "Phone": domain.FieldPhone},
		MergeRules: []domain.MergeRule{
			{SourceColumns: []string{"First", "Middle", "Last"}, TargetField: domain.FieldFullName, Separator: " "},
		},
	}

	values := Values(columns, record, mapping)

	assert.Equal(t, "Ada Lovelace", values[domain.FieldFullName])
	assert.Equal(t, "ada@x.com", values[domain.FieldEmail])
	assert.Equal(t, "555", values[domain.FieldPhone])
}

func TestRowKeepsOptionalFieldsAsIs(t *testing.T) {
	mapping := domain.ColumnMapping{Mappings: map[string]string{
		"Name": domain.FieldFullName, "Email": domain.FieldEmail, "Phone": domain.FieldPhone, "Source": domain.FieldSource,
	}}
	lead, errs := NewNormalizer(nil, 0).Row(
		[]string{"Name", "Email", "Phone", "Source"},
		map[string]string{"Name": "Ada", "Email": "Ada@X.com", "Phone": "not a number", "Source": ""},
		mapping,
	)

	require.Empty(t, errs)
	assert.Equal(t, "ada@x.com", lead.Email)
	require.NotNil(t, lead.Phone)
	assert.Equal(t, "not a number", *lead.Phone)
	assert.Nil(t, lead.Source)
}
