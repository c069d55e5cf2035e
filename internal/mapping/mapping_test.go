package mapping

import (
	"errors"
	"testing"

	"github.com/rpattn/crmimport/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuggestUsesAliasesThenFuzzyFallback(t *testing.T) {
	columns := []string{"Full Name", "E-mail", "Phone #", "Lead Source", "Notes"}

	suggestions := Suggest(columns)

	assert.Equal(t, map[string]string{
		"Full Name":   domain.FieldFullName,
		"E-mail":      domain.FieldEmail,
		"Phone #":     domain.FieldPhone,
		"Lead Source": domain.FieldSource,
	}, suggestions)
}

func TestSuggestAssignsEachFieldOnce(t *testing.T) {
	suggestions := Suggest([]string{"Email", "Work Email", "Emial"})

	assert.Equal(t, map[string]string{"Email": domain.FieldEmail}, suggestions)
}

func TestSuggestFuzzyMatchesMisspelledHeader(t *testing.T) {
	suggestions := Suggest([]string{"Name", "Emial"})

	assert.Equal(t, domain.FieldEmail, suggestions["Emial"])
}

func TestFromTemplateKeepsDetectedColumnsOnly(t *testing.T) {
	template := domain.ColumnMapping{
		Mappings: map[string]string{"Mail": "email", "Gone": "phone"},
		MergeRules: []domain.MergeRule{
			{SourceColumns: []string{"First", "Last"}, TargetField: domain.FieldFullName, Separator: " "},
			{SourceColumns: []string{"Street", "City"}, TargetField: domain.FieldSource, Separator: ", "},
		},
		IgnoredColumns: []string{"Notes", "Missing"},
	}

	projected := FromTemplate([]string{"First", "Last", "Mail", "Notes", "City"}, template)

	assert.Equal(t, map[string]string{"Mail": "email"}, projected.Mappings)
	assert.Equal(t, []domain.MergeRule{
		{SourceColumns: []string{"First", "Last"}, TargetField: domain.FieldFullName, Separator: " "},
	}, projected.MergeRules)
	assert.Equal(t, []string{"Notes"}, projected.IgnoredColumns)
}

func TestAcceptAddsUnreferencedColumnsToIgnored(t *testing.T) {
	columns := []string{"First", "Last", "Email", "Notes", "Extra"}
	submission := domain.MappingSubmission{
		Mappings:       map[string]string{"Email": domain.FieldEmail},
		MergeRules:     []domain.MergeRule{{SourceColumns: []string{"First", "Last"}, TargetField: domain.FieldFullName, Separator: " "}},
		IgnoredColumns: []string{"Notes"},
	}

	accepted, err := Accept(columns, submission)
	require.NoError(t, err)

	assert.Equal(t, []string{"Notes", "Extra"}, accepted.IgnoredColumns)
	assert.Equal(t, map[string]string{"Email": domain.FieldEmail}, accepted.Mappings)
	require.Len(t, accepted.MergeRules, 1)
}

func TestAcceptRejectsColumnReferencedTwice(t *testing.T) {
	columns := []string{"First", "Last", "Email"}
	submission := domain.MappingSubmission{
		Mappings:   map[string]string{"First": domain.FieldFullName, "Email": domain.FieldEmail},
		MergeRules: []domain.MergeRule{{SourceColumns: []string{"First", "Last"}, TargetField: domain.FieldSource, Separator: " "}},
	}

	_, err := Accept(columns, submission)

	var reqErr *domain.RequestError
	require.True(t, errors.As(err, &reqErr))
	require.Len(t, reqErr.Fields, 1)
	assert.Equal(t, "First", reqErr.Fields[0].Field)
	assert.Contains(t, reqErr.Fields[0].Message, "mappings, merge_rules[0]")
}

func TestAcceptRejectsBadRules(t *testing.T) {
	columns := []string{"First", "Last", "Email", "Alt"}
	submission := domain.MappingSubmission{
		Mappings: map[string]string{"Email": domain.FieldEmail, "Alt": "company"},
		MergeRules: []domain.MergeRule{
			{SourceColumns: []string{"First", "Last"}, TargetField: domain.FieldEmail, Separator: ""},
			{SourceColumns: []string{"Missing"}, TargetField: domain.FieldFullName, Separator: " "},
		},
		SaveAsTemplate: true,
	}

	_, err := Accept(columns, submission)

	var reqErr *domain.RequestError
	require.True(t, errors.As(err, &reqErr))
	fields := make([]string, 0, len(reqErr.Fields))
	for _, fieldErr := range reqErr.Fields {
		fields = append(fields, fieldErr.Field)
	}
	assert.ElementsMatch(t, []string{
		"mappings.Alt",
		"merge_rules[0].separator",
		"merge_rules[0].target_field",
		"Missing",
		"template_name",
	}, fields)
}

func TestAcceptAllowsSharedDirectTargets(t *testing.T) {
	columns := []string{"Email", "Backup Email"}
	submission := domain.MappingSubmission{
		Mappings: map[string]string{"Email": domain.FieldEmail, "Backup Email": domain.FieldEmail},
	}

	accepted, err := Accept(columns, submission)
	require.NoError(t, err)
	assert.Empty(t, accepted.IgnoredColumns)
}
