package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// DuplicateAction is the caller's decision for one reported duplicate.
type DuplicateAction string

const (
	DuplicateActionSkip   DuplicateAction = "skip"
	DuplicateActionUpdate DuplicateAction = "update"
	DuplicateActionCreate DuplicateAction = "create"
)

// Valid reports whether a is a supported action.
func (a DuplicateAction) Valid() bool {
	return a == DuplicateActionSkip || a == DuplicateActionUpdate || a == DuplicateActionCreate
}

// Match key prefixes.
const (
	MatchKindExisting = "existing"
	MatchKindSmart    = "smart"
	MatchKindInFile   = "in_file"
)

// MatchKey builds the decision key for a match of the given kind anchored at row.
func MatchKey(kind string, row int) string {
	return kind + ":" + strconv.Itoa(row)
}

// ParseMatchKey splits a decision key into its kind and anchor row.
func ParseMatchKey(key string) (string, int, error) {
	kind, rawRow, ok := strings.Cut(key, ":")
	if !ok {
		return "", 0, fmt.Errorf("match key %q must look like <kind>:<row>", key)
	}
	switch kind {
	case MatchKindExisting, MatchKindSmart, MatchKindInFile:
	default:
		return "", 0, fmt.Errorf("match key %q has unknown kind %q", key, kind)
	}
	row, err := strconv.Atoi(rawRow)
	if err != nil || row < 1 {
		return "", 0, fmt.Errorf("match key %q has invalid row", key)
	}
	return kind, row, nil
}

// ImportData is the identity of an import row shown next to its match.
type ImportData struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
}

// DuplicateMatch pairs an import row with an existing lead sharing its email.
type DuplicateMatch struct {
	MatchKey     string     `json:"match_key"`
	ImportRow    int        `json:"import_row"`
	ExistingLead LeadRef    `json:"existing_lead"`
	ImportData   ImportData `json:"import_data"`
}

// SmartMatch is a fuzzy duplicate with its similarity score in [0,1].
type SmartMatch struct {
	DuplicateMatch
	SimilarityScore float64 `json:"similarity_score"`
}

// InFileGroup lists rows of the upload sharing one canonical email.
type InFileGroup struct {
	MatchKey string `json:"match_key"`
	Email    string `json:"email"`
	Rows     []int  `json:"rows"`
}

// DuplicateReport is the duplicates response for a session.
type DuplicateReport struct {
	TotalDuplicates    int              `json:"total_duplicates"`
	ExistingDuplicates []DuplicateMatch `json:"existing_duplicates"`
	SmartMatches       []SmartMatch     `json:"smart_matches"`
	InFileDuplicates   []InFileGroup    `json:"in_file_duplicates"`
}

// Keys returns every decision key the report requires, sorted.
func (r DuplicateReport) Keys() []string {
	keys := make([]string, 0, r.TotalDuplicates)
	for _, match := range r.ExistingDuplicates {
		keys = append(keys, match.MatchKey)
	}
	for _, match := range r.SmartMatches {
		keys = append(keys, match.MatchKey)
	}
	for _, group := range r.InFileDuplicates {
		keys = append(keys, group.MatchKey)
	}
	sort.Strings(keys)
	return keys
}

// ExecuteRequest carries the caller's duplicate decisions.
type ExecuteRequest struct {
	DuplicateDecisions map[string]DuplicateAction `json:"duplicate_decisions"`
}
