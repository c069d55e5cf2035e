package domain

// ValidationError flags one field of one import row.
type ValidationError struct {
	Row   int    `json:"row"`
	Field string `json:"field"`
	Error string `json:"error"`
}

// NormalizedRow pairs an import row index with its normalized lead.
type NormalizedRow struct {
	Row  int            `json:"row"`
	Lead NormalizedLead `json:"lead"`
}

// PreviewResult is the preview response for a mapped session.
type PreviewResult struct {
	TotalRows        int               `json:"total_rows"`
	ValidRows        int               `json:"valid_rows"`
	InvalidCount     int               `json:"invalid_count"`
	ValidationErrors []ValidationError `json:"validation_errors"`
	SampleNormalized []NormalizedLead  `json:"sample_normalized"`
}

// UploadAnalysis is returned once an uploaded file has been analyzed.
// Merge rules and ignored columns are only suggested when the upload named
// a saved template.
type UploadAnalysis struct {
	SessionID               int64               `json:"session_id"`
	DetectedColumns         []string            `json:"detected_columns"`
	SuggestedMappings       map[string]string   `json:"suggested_mappings"`
	SuggestedMergeRules     []MergeRule         `json:"suggested_merge_rules,omitempty"`
	SuggestedIgnoredColumns []string            `json:"suggested_ignored_columns,omitempty"`
	SampleRows              []map[string]string `json:"sample_rows"`
	AvailableCRMFields      []string            `json:"available_crm_fields"`
}

// SuggestedSubmission turns the analysis suggestions into a mapping submission.
func (a UploadAnalysis) SuggestedSubmission() MappingSubmission {
	submission := MappingSubmission{
		Mappings:       make(map[string]string, len(a.SuggestedMappings)),
		IgnoredColumns: append([]string{}, a.SuggestedIgnoredColumns...),
	}
	for column, field := range a.SuggestedMappings {
		submission.Mappings[column] = field
	}
	for _, rule := range a.SuggestedMergeRules {
		submission.MergeRules = append(submission.MergeRules, MergeRule{
			SourceColumns: append([]string{}, rule.SourceColumns...),
			TargetField:   rule.TargetField,
			Separator:     rule.Separator,
		})
	}
	return submission
}
