package match

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/semlink/semlink/internal/data/repos/docs"
	types "github.com/semlink/semlink/internal/domain"
	"github.com/semlink/semlink/internal/platform/dbctx"
	"github.com/semlink/semlink/internal/platform/envutil"
	"github.com/semlink/semlink/internal/platform/logger"
)

// Runner processes every section of a document through the orchestrator with
// a bounded worker pool. Per-section failures are isolated; the batch always
// finishes with a summary.
type Runner struct {
	log      *logger.Logger
	docsRepo docs.DocumentRepo
	sections docs.SectionRepo
	orch     *Orchestrator
	pools    *PoolManager
	embedder EmbeddingProvider
	workers  int
}

func NewRunner(log *logger.Logger, docsRepo docs.DocumentRepo, sections docs.SectionRepo, orch *Orchestrator, pools *PoolManager, embedder EmbeddingProvider) *Runner {
	workers := envutil.GetEnvAsInt("SEMLINK_WORKERS", 4, log)
	if workers < 1 {
		workers = 1
	}
	return &Runner{
		log:      log.With("component", "AssociationRunner"),
		docsRepo: docsRepo,
		sections: sections,
		orch:     orch,
		pools:    pools,
		embedder: embedder,
		workers:  workers,
	}
}

// Generate runs association generation for a whole document. Only
// configuration errors and a missing pool abort the batch.
func (r *Runner) Generate(ctx context.Context, documentID uuid.UUID, cfg RunConfig) (*RunSummary, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	pool, err := r.pools.Current()
	if err != nil {
		return nil, err
	}
	dbc := dbctx.Context{Ctx: ctx}

	doc, err := r.docsRepo.GetByID(dbc, documentID)
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", documentID, err)
	}
	sections, err := r.sections.GetByDocumentID(dbc, documentID)
	if err != nil {
		return nil, fmt.Errorf("load sections for %s: %w", documentID, err)
	}

	summary := &RunSummary{Sections: len(sections)}
	if len(sections) == 0 {
		return summary, nil
	}

	r.ensureEmbeddings(ctx, sections, pool, summary)

	var mu sync.Mutex
	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(r.workers)

	for i, section := range sections {
		i, section := i, section
		eg.Go(func() error {
			docCtx := DocContext{
				DocumentTitle: doc.Title,
				SectionKind:   section.Kind,
			}
			if i+1 < len(sections) {
				docCtx.NeighborKind = sections[i+1].Kind
			}

			res, runErr := r.orch.RunSection(egctx, dbctx.Context{Ctx: egctx}, section, pool, docCtx, cfg)

			mu.Lock()
			defer mu.Unlock()
			if runErr != nil {
				summary.Failed++
				summary.Warnings = append(summary.Warnings,
					fmt.Sprintf("section %s: %v", section.ID, runErr))
				return nil // isolate the failure, keep the batch going
			}
			switch res.Status {
			case StatusSkippedEmpty:
				summary.SkippedEmpty++
			case StatusPersisted:
				summary.Persisted += res.Persisted
			}
			if res.Degraded {
				summary.Degraded++
				if res.Warning != "" {
					summary.Warnings = append(summary.Warnings,
						fmt.Sprintf("section %s: %s", section.ID, res.Warning))
				}
			}
			summary.FailedRows += res.Failed
			return nil
		})
	}
	_ = eg.Wait()

	r.log.Info("document run complete",
		"document_id", documentID,
		"sections", summary.Sections,
		"persisted", summary.Persisted,
		"skipped_empty", summary.SkippedEmpty,
		"degraded", summary.Degraded,
		"failed", summary.Failed,
		"failed_rows", summary.FailedRows,
	)
	return summary, nil
}

// ensureEmbeddings backfills missing section vectors before matching. A
// section whose embedding cannot be computed keeps a nil vector and will be
// skipped by the coarse stage with a warning.
func (r *Runner) ensureEmbeddings(ctx context.Context, sections []*types.Section, pool *Pool, summary *RunSummary) {
	var missing []*types.Section
	for _, s := range sections {
		if _, ok := s.EmbeddingVector(); !ok {
			missing = append(missing, s)
		}
	}
	if len(missing) == 0 {
		return
	}

	texts := make([]string, len(missing))
	for i, s := range missing {
		texts[i] = s.Text
	}
	vecs, err := r.embedder.Embed(ctx, texts)
	if err != nil {
		r.log.Warn("section embedding backfill failed", "sections", len(missing), "error", err)
		summary.Warnings = append(summary.Warnings,
			fmt.Sprintf("embedding backfill failed for %d sections: %v", len(missing), err))
		return
	}

	dbc := dbctx.Context{Ctx: ctx}
	for i, s := range missing {
		if i >= len(vecs) || len(vecs[i]) == 0 {
			continue
		}
		s.Embedding = types.EncodeEmbedding(vecs[i])
		s.EmbedModel = pool.ModelVersion
		if err := r.sections.UpdateEmbedding(dbc, s.ID, vecs[i], pool.ModelVersion); err != nil {
			r.log.Warn("persisting section embedding failed", "section_id", s.ID, "error", err)
		}
	}
}
