package match

import (
	"fmt"
	"sort"

	"github.com/semlink/semlink/internal/pkg/errs"
	"github.com/semlink/semlink/internal/platform/logger"
)

// CoarseMatcher retrieves candidate triples by cosine similarity between the
// section embedding and every pool triple embedding. Linear in pool size.
type CoarseMatcher struct {
	log *logger.Logger
}

func NewCoarseMatcher(log *logger.Logger) *CoarseMatcher {
	return &CoarseMatcher{log: log.With("component", "CoarseMatcher")}
}

// Shortlist returns candidates scoring at or above threshold, best first,
// truncated to topK. Ties are broken by triple identity so reruns are
// deterministic. A degenerate section vector yields an empty shortlist with
// a warning; a dimension mismatch is a configuration error.
func (m *CoarseMatcher) Shortlist(sectionVec []float32, pool *Pool, docCtx DocContext, threshold float64, topK int) ([]Candidate, error) {
	if pool == nil {
		return nil, fmt.Errorf("coarse matcher: %w", errs.ErrUnavailable)
	}
	if len(sectionVec) == 0 || isZeroVector(sectionVec) {
		m.log.Warn("section embedding is empty or zero, skipping coarse match")
		return nil, nil
	}
	if pool.Dim > 0 && len(sectionVec) != pool.Dim {
		return nil, fmt.Errorf("%w: section embedding dim %d does not match pool dim %d (model %s)",
			errs.ErrInvalidArgument, len(sectionVec), pool.Dim, pool.ModelVersion)
	}

	candidates := pool.CandidatesFor(docCtx)
	shortlist := make([]Candidate, 0, topK)
	for _, t := range candidates {
		score := cosineSim(sectionVec, t.Embedding)
		if score < threshold {
			continue
		}
		shortlist = append(shortlist, Candidate{Triple: t, Coarse: score})
	}

	sort.Slice(shortlist, func(i, j int) bool {
		if shortlist[i].Coarse != shortlist[j].Coarse {
			return shortlist[i].Coarse > shortlist[j].Coarse
		}
		return shortlist[i].Triple.Identity() < shortlist[j].Triple.Identity()
	})
	if topK > 0 && len(shortlist) > topK {
		shortlist = shortlist[:topK]
	}
	return shortlist, nil
}
