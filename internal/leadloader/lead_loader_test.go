package leadloader

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rpattn/crmimport/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingFinder struct {
	mu      sync.Mutex
	batches [][]string
	leads   []domain.Lead
	err     error
}

func (f *recordingFinder) FindByEmails(_ context.Context, emails []string) ([]domain.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, append([]string{}, emails...))
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.Lead
	for _, lead := range f.leads {
		for _, email := range emails {
			if domain.CanonicalEmail(lead.Email) == email {
				out = append(out, lead)
			}
		}
	}
	return out, nil
}

func TestLookupEmailsBatchesIntoOneQuery(t *testing.T) {
	finder := &recordingFinder{leads: []domain.Lead{
		{ID: 1, Email: "Ada@x.com"},
		{ID: 4, Email: "ada@x.com"},
		{ID: 2, Email: "bob@x.com"},
	}}
	loader := NewLeadLoader(finder)

	found, err := loader.LookupEmails(context.Background(), []string{"ada@x.com", "bob@x.com", "nobody@x.com"})
	require.NoError(t, err)

	assert.Len(t, found["ada@x.com"], 2)
	assert.Len(t, found["bob@x.com"], 1)
	_, ok := found["nobody@x.com"]
	assert.False(t, ok)
	require.Len(t, finder.batches, 1)
	assert.ElementsMatch(t, []string{"ada@x.com", "bob@x.com", "nobody@x.com"}, finder.batches[0])
}

func TestLookupEmailsSurfacesRepositoryErrors(t *testing.T) {
	boom := errors.New("storage unavailable")
	loader := NewLeadLoader(&recordingFinder{err: boom})

	_, err := loader.LookupEmails(context.Background(), []string{"a@x.com"})
	assert.ErrorIs(t, err, boom)
}

func TestLookupEmailsEmptyInput(t *testing.T) {
	finder := &recordingFinder{}
	found, err := NewLeadLoader(finder).LookupEmails(context.Background(), nil)

	require.NoError(t, err)
	assert.Empty(t, found)
	assert.Empty(t, finder.batches)
}
