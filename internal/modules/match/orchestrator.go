package match

import (
	"context"
	"fmt"
	"sort"

	"github.com/semlink/semlink/internal/data/repos/assoc"
	types "github.com/semlink/semlink/internal/domain"
	"github.com/semlink/semlink/internal/pkg/errs"
	"github.com/semlink/semlink/internal/platform/dbctx"
	"github.com/semlink/semlink/internal/platform/logger"
)

// SectionRunResult is the terminal state of one section's run.
type SectionRunResult struct {
	Status         RunStatus
	Persisted      int
	Skipped        int
	Failed         int
	Degraded       bool
	DegradedEvents int
	Warning        string
}

// Orchestrator drives one association-generation run for a section:
// coarse retrieval, optional fine judgment, merge, dedupe, cutoff, persist.
type Orchestrator struct {
	log    *logger.Logger
	coarse *CoarseMatcher
	fine   *FineMatcher
	store  assoc.AssociationRepo
	runs   assoc.RunRepo
}

func NewOrchestrator(log *logger.Logger, coarse *CoarseMatcher, fine *FineMatcher, store assoc.AssociationRepo, runs assoc.RunRepo) *Orchestrator {
	return &Orchestrator{
		log:    log.With("component", "HybridOrchestrator"),
		coarse: coarse,
		fine:   fine,
		store:  store,
		runs:   runs,
	}
}

// RunSection executes the full pipeline for one section. Total fine-stage
// failure degrades the run to embedding-only results; only input/configuration
// errors return a non-nil error.
func (o *Orchestrator) RunSection(ctx context.Context, dbc dbctx.Context, section *types.Section, pool *Pool, docCtx DocContext, cfg RunConfig) (*SectionRunResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	res := &SectionRunResult{Status: StatusPending}
	log := o.log.With("section_id", section.ID)

	sectionVec, ok := section.EmbeddingVector()
	if !ok {
		log.Warn("section has no embedding, skipping")
		res.Status = StatusSkippedEmpty
		o.recordRun(dbc, section, cfg, res)
		return res, nil
	}
	if section.EmbedModel != "" && pool.ModelVersion != "" && section.EmbedModel != pool.ModelVersion {
		res.Status = StatusFailed
		err := fmt.Errorf("%w: section embedded with %q but pool uses %q",
			errs.ErrInvalidArgument, section.EmbedModel, pool.ModelVersion)
		o.recordRun(dbc, section, cfg, res)
		return res, err
	}

	shortlist, err := o.coarse.Shortlist(sectionVec, pool, docCtx, cfg.CoarseThreshold, cfg.TopK)
	if err != nil {
		res.Status = StatusFailed
		o.recordRun(dbc, section, cfg, res)
		return res, err
	}
	if len(shortlist) == 0 {
		res.Status = StatusSkippedEmpty
		log.Debug("no coarse candidates at threshold", "threshold", cfg.CoarseThreshold)
		o.recordRun(dbc, section, cfg, res)
		return res, nil
	}
	res.Status = StatusCoarseMatched

	fineRan := false
	if cfg.Mode == ModeLLM || cfg.Mode == ModeHybrid {
		outcomes, stats, fineErr := o.fine.Judge(ctx, section.Text, shortlist, docCtx)
		res.DegradedEvents += stats.Dropped
		if fineErr != nil {
			// Whole stage unavailable: the run degrades to coarse-only
			// results instead of aborting.
			res.Degraded = true
			res.Warning = fineErr.Error()
			log.Warn("fine-grained stage unavailable, degrading to embedding-only", "error", fineErr)
		} else {
			fineRan = true
			switch {
			case stats.FailedChunks > 0:
				res.Degraded = true
				res.Warning = fmt.Sprintf("%d of %d fine-grained chunks failed", stats.FailedChunks, stats.Chunks)
				log.Warn("fine-grained stage partially unavailable",
					"failed_chunks", stats.FailedChunks,
					"chunks", stats.Chunks,
				)
			case stats.Dropped > 0:
				res.Degraded = true
				res.Warning = fmt.Sprintf("%d fine-grained judgments dropped", stats.Dropped)
			}
			for i := range shortlist {
				if out, ok := outcomes[shortlist[i].Triple.Identity()]; ok {
					score := out.Score
					shortlist[i].Fine = &score
					shortlist[i].Explanation = out.Explanation
				}
			}
		}
	}
	res.Status = StatusFineGradedOrSkipped

	finalists := normalize(shortlist, fineRan, cfg.FinalThreshold)
	res.Status = StatusNormalized

	rows := make([]*types.Association, 0, len(finalists))
	for _, c := range finalists {
		rows = append(rows, &types.Association{
			SectionID:     section.ID,
			Subject:       c.Triple.Subject,
			Predicate:     c.Triple.Predicate,
			Object:        c.Triple.Object,
			Score:         clamp01(c.FinalScore()),
			Method:        methodFor(c, fineRan),
			Explanation:   c.Explanation,
			KnowledgeBase: c.Triple.KnowledgeBase,
		})
	}

	up, err := o.store.Upsert(dbc, rows, cfg.Force)
	if err != nil {
		res.Status = StatusFailed
		o.recordRun(dbc, section, cfg, res)
		return res, err
	}
	res.Persisted = up.Persisted
	res.Skipped = up.Skipped
	res.Failed = up.Failed
	res.Status = StatusPersisted

	o.recordRun(dbc, section, cfg, res)
	log.Info("section run complete",
		"status", string(res.Status),
		"shortlist", len(shortlist),
		"persisted", res.Persisted,
		"degraded", res.Degraded,
	)
	return res, nil
}

// methodFor records provenance: a fine score makes the association an llm
// judgment; a fine stage that ran but left this candidate unscored falls
// back to the coarse score; a fine stage that never ran (embedding mode, or
// total fine failure) leaves pure embedding provenance.
func methodFor(c Candidate, fineRan bool) string {
	switch {
	case c.Fine != nil:
		return types.MethodLLM
	case fineRan:
		return types.MethodHybridFallback
	default:
		return types.MethodEmbedding
	}
}

// normalize dedupes by triple identity (highest score wins, method precedence
// breaks ties), applies the final cutoff, and orders best-first.
func normalize(cands []Candidate, fineRan bool, finalThreshold float64) []Candidate {
	best := make(map[string]Candidate, len(cands))
	for _, c := range cands {
		id := c.Triple.Identity()
		prev, ok := best[id]
		if !ok {
			best[id] = c
			continue
		}
		cs, ps := c.FinalScore(), prev.FinalScore()
		if cs > ps {
			best[id] = c
			continue
		}
		if cs == ps &&
			types.MethodPrecedence(methodFor(c, fineRan)) > types.MethodPrecedence(methodFor(prev, fineRan)) {
			best[id] = c
		}
	}

	out := make([]Candidate, 0, len(best))
	for _, c := range best {
		if c.FinalScore() >= finalThreshold {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		si, sj := out[i].FinalScore(), out[j].FinalScore()
		if si != sj {
			return si > sj
		}
		return out[i].Triple.Identity() < out[j].Triple.Identity()
	})
	return out
}

func (o *Orchestrator) recordRun(dbc dbctx.Context, section *types.Section, cfg RunConfig, res *SectionRunResult) {
	if o.runs == nil {
		return
	}
	run := &types.AssociationRun{
		SectionID: section.ID,
		Mode:      string(cfg.Mode),
		Status:    string(res.Status),
		Persisted: res.Persisted,
		Degraded:  res.Degraded,
		Warning:   res.Warning,
	}
	if err := o.runs.Create(dbc, run); err != nil {
		o.log.Warn("failed to record association run", "section_id", section.ID, "error", err)
	}
}
