package dedupe

import (
	"math"

	"github.com/rpattn/crmimport/internal/domain"
	"github.com/rpattn/crmimport/internal/matching"
)

const (
	nameWeight  = 0.6
	emailWeight = 0.4
)

// Score rates how likely two (name, email) identities describe the same person.
// Names are compared with Jaro-Winkler after folding, emails with normalized
// Levenshtein similarity. The result is in [0,1], rounded to 4 decimals.
func Score(nameA, emailA, nameB, emailB string) float64 {
	nameScore := matching.JaroWinkler(matching.FoldName(nameA), matching.FoldName(nameB))
	emailScore := matching.Levenshtein(domain.CanonicalEmail(emailA), domain.CanonicalEmail(emailB))
	score := nameWeight*nameScore + emailWeight*emailScore
	return math.Round(score*10000) / 10000
}
