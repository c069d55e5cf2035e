package dedupe

import (
	"context"
	"errors"
	"testing"

	"github.com/rpattn/crmimport/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLookup struct {
	leads []domain.Lead
	err   error
	calls [][]string
}

func (s *stubLookup) LookupEmails(_ context.Context, emails []string) (map[string][]domain.Lead, error) {
	s.calls = append(s.calls, emails)
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string][]domain.Lead)
	for _, email := range emails {
		for _, lead := range s.leads {
			if domain.CanonicalEmail(lead.Email) == email {
				out[email] = append(out[email], lead)
			}
		}
	}
	return out, nil
}

type stubSimilar struct {
	leads []domain.Lead
	err   error
	seen  []string
}

func (s *stubSimilar) FindSimilar(_ context.Context, fullName, _ string, limit int) ([]domain.Lead, error) {
	s.seen = append(s.seen, fullName)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.leads) > limit {
		return s.leads[:limit], nil
	}
	return s.leads, nil
}

func row(n int, name, email string) domain.NormalizedRow {
	return domain.NormalizedRow{Row: n, Lead: domain.NormalizedLead{FullName: name, Email: email}}
}

func TestDetectInFileGroupFromThreeRowUpload(t *testing.T) {
	rows := []domain.NormalizedRow{row(1, "Ada Lovelace", "a@x.com"), row(3, "Ada L", "a@x.com")}

	report, err := NewDetector(nil, Options{}, nil).Detect(context.Background(), &stubLookup{}, rows)
	require.NoError(t, err)

	require.Len(t, report.InFileDuplicates, 1)
	assert.Equal(t, domain.InFileGroup{MatchKey: "in_file:1", Email: "a@x.com", Rows: []int{1, 3}}, report.InFileDuplicates[0])
	assert.Equal(t, 1, report.TotalDuplicates)
	assert.Equal(t, []string{"in_file:1"}, report.Keys())
}

func TestDetectExactTakesPrecedenceOverSmart(t *testing.T) {
	lookup := &stubLookup{leads: []domain.Lead{
		{ID: 5, FullName: "Ada Lovelace", Email: "ADA@x.com"},
		{ID: 2, FullName: "Ada King", Email: "ada@x.com"},
	}}
	similar := &stubSimilar{leads: []domain.Lead{{ID: 9, FullName: "Ada Lovelace", Email: "ada@y.com"}}}
	rows := []domain.NormalizedRow{row(1, "Ada Lovelace", "ada@x.com"), row(2, "Ada Lovelace", "ada@z.com")}

	report, err := NewDetector(similar, Options{}, nil).Detect(context.Background(), lookup, rows)
	require.NoError(t, err)

	require.Len(t, report.ExistingDuplicates, 1)
	assert.Equal(t, "existing:1", report.ExistingDuplicates[0].MatchKey)
	assert.Equal(t, int64(2), report.ExistingDuplicates[0].ExistingLead.ID)

	require.Len(t, report.SmartMatches, 1)
	assert.Equal(t, 2, report.SmartMatches[0].ImportRow)
	assert.Equal(t, "smart:2", report.SmartMatches[0].MatchKey)
	for _, smart := range report.SmartMatches {
		assert.NotEqual(t, 1, smart.ImportRow)
	}
	assert.Equal(t, []string{"Ada Lovelace"}, similar.seen)
	assert.Equal(t, 2, report.TotalDuplicates)
}

func TestDetectSmartMatchesRankedByScoreThenRow(t *testing.T) {
	similar := &stubSimilar{leads: []domain.Lead{
		{ID: 7, FullName: "Grace Hopper", Email: "grace@navy.mil"},
		{ID: 3, FullName: "Grace Hopper", Email: "grace@navy.mil"},
	}}
	rows := []domain.NormalizedRow{
		row(1, "Grace Hoper", "grace@navy.mi"),
		row(2, "Grace Hopper", "grace@navy.org"),
		row(3, "Grace Hoper", "grace@navy.mi"),
		row(4, "Someone Else", "other@example.com"),
	}

	report, err := NewDetector(similar, Options{Threshold: 0.85}, nil).Detect(context.Background(), &stubLookup{}, rows)
	require.NoError(t, err)

	require.Len(t, report.SmartMatches, 3)
	for i := 1; i < len(report.SmartMatches); i++ {
		prev, cur := report.SmartMatches[i-1], report.SmartMatches[i]
		assert.True(t, prev.SimilarityScore > cur.SimilarityScore ||
			(prev.SimilarityScore == cur.SimilarityScore && prev.ImportRow < cur.ImportRow))
	}
	for _, match := range report.SmartMatches {
		assert.Equal(t, int64(3), match.ExistingLead.ID, "ties go to the lower lead id")
		assert.GreaterOrEqual(t, match.SimilarityScore, 0.85)
		assert.LessOrEqual(t, match.SimilarityScore, 1.0)
	}
}

func TestInFileGroupsAreExhaustive(t *testing.T) {
	rows := []domain.NormalizedRow{
		row(1, "A", "a@x.com"), row(2, "B", "b@x.com"), row(3, "A2", "A@x.com"),
		row(4, "C", "c@x.com"), row(5, "B2", "b@x.com"), row(6, "B3", "b@x.com"),
	}

	groups := InFileGroups(rows)

	require.Len(t, groups, 2)
	assert.Equal(t, []int{1, 3}, groups[0].Rows)
	assert.Equal(t, []int{2, 5, 6}, groups[1].Rows)
	assert.Equal(t, "in_file:2", groups[1].MatchKey)
}

func TestDetectPropagatesLookupErrors(t *testing.T) {
	boom := errors.New("connection refused")

	_, err := NewDetector(nil, Options{}, nil).Detect(context.Background(), &stubLookup{err: boom}, []domain.NormalizedRow{row(1, "A", "a@x.com")})
	assert.ErrorIs(t, err, boom)

	_, err = NewDetector(&stubSimilar{err: boom}, Options{}, nil).Detect(context.Background(), &stubLookup{}, []domain.NormalizedRow{row(1, "A", "a@x.com")})
	assert.ErrorIs(t, err, boom)
}

func TestScore(t *testing.T) {
	assert.Equal(t, 1.0, Score("Ada Lovelace", "ada@x.com", "ada  lovelace", "ADA@x.com"))
	assert.Equal(t, 1.0, Score("José Núñez", "j@x.com", "Jose Nunez", "j@x.com"))
	assert.Less(t, Score("Ada Lovelace", "ada@x.com", "Zed Quill", "zq@other.org"), 0.6)
}
