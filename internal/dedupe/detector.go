// Package dedupe finds import rows that duplicate stored leads or each other.
package dedupe

import (
	"context"
	"fmt"
	"sort"

	"github.com/rpattn/crmimport/internal/domain"

	"go.uber.org/zap"
)

const (
	// DefaultThreshold is the minimum score for a smart match.
	DefaultThreshold = 0.85
	// DefaultCandidates bounds the stored leads scored per import row.
	DefaultCandidates = 5
)

// EmailLookup resolves canonical emails to the stored leads that carry them.
type EmailLookup interface {
	LookupEmails(ctx context.Context, emails []string) (map[string][]domain.Lead, error)
}

// SimilarFinder returns stored leads resembling an identity.
type SimilarFinder interface {
	FindSimilar(ctx context.Context, fullName, email string, limit int) ([]domain.Lead, error)
}

// Options tunes the fuzzy pass.
type Options struct {
	Threshold  float64
	Candidates int
}

// Detector runs the exact, fuzzy, and in-file passes over normalized rows.
type Detector struct {
	similar    SimilarFinder
	threshold  float64
	candidates int
	logger     *zap.Logger
}

// NewDetector builds a detector. Zero options fall back to the defaults.
func NewDetector(similar SimilarFinder, opts Options, logger *zap.Logger) *Detector {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Candidates <= 0 {
		opts.Candidates = DefaultCandidates
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{similar: similar, threshold: opts.Threshold, candidates: opts.Candidates, logger: logger}
}

// Detect builds the duplicate report for rows. A row matched exactly is never
// also a smart match; any row may additionally belong to an in-file group.
func (d *Detector) Detect(ctx context.Context, lookup EmailLookup, rows []domain.NormalizedRow) (domain.DuplicateReport, error) {
	report := domain.DuplicateReport{
		ExistingDuplicates: []domain.DuplicateMatch{},
		SmartMatches:       []domain.SmartMatch{},
		InFileDuplicates:   InFileGroups(rows),
	}

	emails := uniqueEmails(rows)
	existing, err := lookup.LookupEmails(ctx, emails)
	if err != nil {
		return domain.DuplicateReport{}, fmt.Errorf("look up existing leads: %w", err)
	}

	for _, row := range rows {
		canonical := domain.CanonicalEmail(row.Lead.Email)
		if leads := existing[canonical]; len(leads) > 0 {
			report.ExistingDuplicates = append(report.ExistingDuplicates, domain.DuplicateMatch{
				MatchKey:     domain.MatchKey(domain.MatchKindExisting, row.Row),
				ImportRow:    row.Row,
				ExistingLead: lowestID(leads).Ref(),
				ImportData:   importData(row),
			})
			continue
		}

		match, ok, err := d.bestSmartMatch(ctx, row)
		if err != nil {
			return domain.DuplicateReport{}, err
		}
		if ok {
			report.SmartMatches = append(report.SmartMatches, match)
		}
	}

	sort.SliceStable(report.ExistingDuplicates, func(i, j int) bool {
		return report.ExistingDuplicates[i].ImportRow < report.ExistingDuplicates[j].ImportRow
	})
	sort.SliceStable(report.SmartMatches, func(i, j int) bool {
		a, b := report.SmartMatches[i], report.SmartMatches[j]
		if a.SimilarityScore != b.SimilarityScore {
			return a.SimilarityScore > b.SimilarityScore
		}
		return a.ImportRow < b.ImportRow
	})

	report.TotalDuplicates = len(report.ExistingDuplicates) + len(report.SmartMatches) + len(report.InFileDuplicates)
	d.logger.Debug("duplicate detection finished",
		zap.Int("rows", len(rows)),
		zap.Int("existing", len(report.ExistingDuplicates)),
		zap.Int("smart", len(report.SmartMatches)),
		zap.Int("in_file_groups", len(report.InFileDuplicates)),
	)
	return report, nil
}

func (d *Detector) bestSmartMatch(ctx context.Context, row domain.NormalizedRow) (domain.SmartMatch, bool, error) {
	if d.similar == nil {
		return domain.SmartMatch{}, false, nil
	}
	candidates, err := d.similar.FindSimilar(ctx, row.Lead.FullName, domain.CanonicalEmail(row.Lead.Email), d.candidates)
	if err != nil {
		return domain.SmartMatch{}, false, fmt.Errorf("find similar leads for row %d: %w", row.Row, err)
	}

	var (
		best      domain.Lead
		bestScore = -1.0
	)
	for _, candidate := range candidates {
		score := Score(row.Lead.FullName, row.Lead.Email, candidate.FullName, candidate.Email)
		if score > bestScore || (score == bestScore && candidate.ID < best.ID) {
			best, bestScore = candidate, score
		}
	}
	if bestScore < d.threshold {
		return domain.SmartMatch{}, false, nil
	}

	return domain.SmartMatch{
		DuplicateMatch: domain.DuplicateMatch{
			MatchKey:     domain.MatchKey(domain.MatchKindSmart, row.Row),
			ImportRow:    row.Row,
			ExistingLead: best.Ref(),
			ImportData:   importData(row),
		},
		SimilarityScore: bestScore,
	}, true, nil
}

// InFileGroups groups rows by canonical email and returns every group with
// more than one member, ordered by first row.
func InFileGroups(rows []domain.NormalizedRow) []domain.InFileGroup {
	byEmail := make(map[string][]int)
	order := make([]string, 0)
	for _, row := range rows {
		canonical := domain.CanonicalEmail(row.Lead.Email)
		if canonical == "" {
			continue
		}
		if _, seen := byEmail[canonical]; !seen {
			order = append(order, canonical)
		}
		byEmail[canonical] = append(byEmail[canonical], row.Row)
	}

	groups := []domain.InFileGroup{}
	for _, email := range order {
		members := byEmail[email]
		if len(members) < 2 {
			continue
		}
		sort.Ints(members)
		groups = append(groups, domain.InFileGroup{
			MatchKey: domain.MatchKey(domain.MatchKindInFile, members[0]),
			Email:    email,
			Rows:     members,
		})
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].Rows[0] < groups[j].Rows[0] })
	return groups
}

func uniqueEmails(rows []domain.NormalizedRow) []string {
	seen := make(map[string]bool, len(rows))
	emails := make([]string, 0, len(rows))
	for _, row := range rows {
		canonical := domain.CanonicalEmail(row.Lead.Email)
		if canonical == "" || seen[canonical] {
			continue
		}
		seen[canonical] = true
		emails = append(emails, canonical)
	}
	return emails
}

func lowestID(leads []domain.Lead) domain.Lead {
	best := leads[0]
	for _, lead := range leads[1:] {
		if lead.ID < best.ID {
			best = lead
		}
	}
	return best
}

func importData(row domain.NormalizedRow) domain.ImportData {
	return domain.ImportData{FullName: row.Lead.FullName, Email: row.Lead.Email}
}
