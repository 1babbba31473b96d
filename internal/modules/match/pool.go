package match

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/semlink/semlink/internal/kb"
	"github.com/semlink/semlink/internal/pkg/errs"
	"github.com/semlink/semlink/internal/platform/envutil"
	"github.com/semlink/semlink/internal/platform/logger"
	"github.com/semlink/semlink/internal/platform/rediscache"
)

// Pool is an immutable snapshot of one knowledge-base version: every triple
// carries an embedding of dimension Dim produced by ModelVersion. Snapshots
// are safe for unsynchronized concurrent reads; reload builds a fresh one.
type Pool struct {
	Version      string
	ModelVersion string
	Dim          int

	triples []kb.Triple
}

func (p *Pool) Size() int {
	if p == nil {
		return 0
	}
	return len(p.triples)
}

// CandidatesFor returns the triples eligible for a run, pre-filtered by
// topical namespace when the context names any.
func (p *Pool) CandidatesFor(docCtx DocContext) []kb.Triple {
	if p == nil {
		return nil
	}
	if len(docCtx.Namespaces) == 0 {
		return p.triples
	}
	wanted := make(map[string]bool, len(docCtx.Namespaces))
	for _, ns := range docCtx.Namespaces {
		wanted[ns] = true
	}
	out := make([]kb.Triple, 0, len(p.triples))
	for _, t := range p.triples {
		if t.Namespace == "" || wanted[t.Namespace] {
			out = append(out, t)
		}
	}
	return out
}

// PoolManager owns the published pool snapshot. Load builds a new snapshot
// and swaps it in atomically; in-flight readers keep the one they grabbed.
type PoolManager struct {
	log      *logger.Logger
	loader   kb.TripleLoader
	embedder EmbeddingProvider
	cache    *rediscache.EmbeddingCache

	cur atomic.Pointer[Pool]

	loadMu sync.Mutex
}

func NewPoolManager(log *logger.Logger, loader kb.TripleLoader, embedder EmbeddingProvider, cache *rediscache.EmbeddingCache) *PoolManager {
	return &PoolManager{
		log:      log.With("component", "CandidatePool"),
		loader:   loader,
		embedder: embedder,
		cache:    cache,
	}
}

// Current returns the published snapshot, or an error when no load has
// succeeded yet.
func (m *PoolManager) Current() (*Pool, error) {
	p := m.cur.Load()
	if p == nil {
		return nil, fmt.Errorf("candidate pool not loaded: %w", errs.ErrUnavailable)
	}
	return p, nil
}

// Load builds a snapshot for the registry's knowledge bases and publishes it.
// Triples whose embeddings cannot be computed are excluded with a warning,
// never a fatal error.
func (m *PoolManager) Load(ctx context.Context, reg *kb.Registry) (*Pool, error) {
	if reg == nil {
		return nil, fmt.Errorf("%w: nil registry", errs.ErrInvalidArgument)
	}
	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	triples, err := m.loader.Load(ctx, reg.IDs())
	if err != nil {
		return nil, fmt.Errorf("load triples: %w", err)
	}

	pool, err := m.build(ctx, reg.Version(), triples)
	if err != nil {
		return nil, err
	}
	m.cur.Store(pool)
	m.log.Info("candidate pool published",
		"version", pool.Version,
		"triples", pool.Size(),
		"dim", pool.Dim,
		"embed_model", pool.ModelVersion,
	)
	return pool, nil
}

func (m *PoolManager) build(ctx context.Context, version string, triples []kb.Triple) (*Pool, error) {
	modelVersion := m.embedder.EmbedModelVersion()

	// Resolve cached or precomputed embeddings first; batch-embed the rest.
	var missing []int
	for i := range triples {
		if len(triples[i].Embedding) > 0 {
			continue
		}
		if vec, ok := m.cache.Get(ctx, rediscache.Key(modelVersion, triples[i].EmbeddingText())); ok {
			triples[i].Embedding = vec
			continue
		}
		missing = append(missing, i)
	}

	batchSize := envutil.GetEnvAsInt("SEMLINK_EMBED_BATCH_SIZE", 64, m.log)
	if batchSize < 1 {
		batchSize = 1
	}
	excluded := 0
	for start := 0; start < len(missing); start += batchSize {
		end := start + batchSize
		if end > len(missing) {
			end = len(missing)
		}
		batch := missing[start:end]
		texts := make([]string, len(batch))
		for j, idx := range batch {
			texts[j] = triples[idx].EmbeddingText()
		}

		vecs, err := m.embedder.Embed(ctx, texts)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			m.log.Warn("embedding batch failed, excluding triples from pool",
				"batch_size", len(batch),
				"error", err,
			)
			excluded += len(batch)
			continue
		}
		for j, idx := range batch {
			if j >= len(vecs) || len(vecs[j]) == 0 {
				excluded++
				continue
			}
			triples[idx].Embedding = vecs[j]
			m.cache.Set(ctx, rediscache.Key(modelVersion, texts[j]), vecs[j])
		}
	}

	// Keep only triples with a consistent, usable vector.
	dim := 0
	kept := make([]kb.Triple, 0, len(triples))
	for _, t := range triples {
		if len(t.Embedding) == 0 || isZeroVector(t.Embedding) {
			excluded++
			continue
		}
		if dim == 0 {
			dim = len(t.Embedding)
		}
		if len(t.Embedding) != dim {
			m.log.Warn("triple embedding dimension mismatch, excluding",
				"subject", t.Subject,
				"predicate", t.Predicate,
				"got", len(t.Embedding),
				"want", dim,
			)
			excluded++
			continue
		}
		kept = append(kept, t)
	}
	if excluded > 0 {
		m.log.Warn("triples excluded from candidate pool", "excluded", excluded, "kept", len(kept))
	}

	return &Pool{
		Version:      version,
		ModelVersion: modelVersion,
		Dim:          dim,
		triples:      kept,
	}, nil
}
