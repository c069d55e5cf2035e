package leadloader

import (
	"context"
	"time"

	"github.com/rpattn/crmimport/internal/domain"
	"github.com/rpattn/crmimport/internal/repository"

	"github.com/graph-gophers/dataloader"
)

// EmailFinder is the slice of the lead repository the loader needs.
type EmailFinder interface {
	FindByEmails(ctx context.Context, emails []string) ([]domain.Lead, error)
}

var _ EmailFinder = (repository.LeadRepository)(nil)

// LeadLoader batches lookups of stored leads keyed by canonical email.
type LeadLoader struct {
	Loader *dataloader.Loader
}

// NewLeadLoader builds a loader over repo. Each key resolves to the
// []domain.Lead sharing that canonical email, possibly empty.
func NewLeadLoader(repo EmailFinder) *LeadLoader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		emails := keys.Keys()

		leads, err := repo.FindByEmails(ctx, emails)
		if err != nil {
			results := make([]*dataloader.Result, len(keys))
			for i := range results {
				results[i] = &dataloader.Result{Error: err}
			}
			return results
		}

		byEmail := make(map[string][]domain.Lead, len(emails))
		for _, lead := range leads {
			canonical := domain.CanonicalEmail(lead.Email)
			byEmail[canonical] = append(byEmail[canonical], lead)
		}

		results := make([]*dataloader.Result, len(keys))
		for i, email := range emails {
			matches := byEmail[email]
			if matches == nil {
				matches = []domain.Lead{}
			}
			results[i] = &dataloader.Result{Data: matches}
		}
		return results
	}

	loader := dataloader.NewBatchedLoader(batchFn,
		dataloader.WithWait(5*time.Millisecond),
		dataloader.WithBatchCapacity(500),
	)

	return &LeadLoader{Loader: loader}
}

// LookupEmails resolves every canonical email through the batch loader.
func (l *LeadLoader) LookupEmails(ctx context.Context, emails []string) (map[string][]domain.Lead, error) {
	out := make(map[string][]domain.Lead, len(emails))
	if len(emails) == 0 {
		return out, nil
	}

	thunk := l.Loader.LoadMany(ctx, dataloader.NewKeysFromStrings(emails))
	values, errs := thunk()
	for i, email := range emails {
		if i < len(errs) && errs[i] != nil {
			return nil, errs[i]
		}
		if i >= len(values) {
			continue
		}
		if leads, ok := values[i].([]domain.Lead); ok && len(leads) > 0 {
			out[email] = leads
		}
	}
	return out, nil
}
