package match

import (
	"context"
	"fmt"
	"time"

	"github.com/semlink/semlink/internal/kb"
	"github.com/semlink/semlink/internal/pkg/errs"
	"github.com/semlink/semlink/internal/pkg/httpx"
	"github.com/semlink/semlink/internal/platform/envutil"
	"github.com/semlink/semlink/internal/platform/logger"
)

// FineConfig bounds the fine-grained stage: chunk token budget and the retry
// policy for transient reasoning-service failures.
type FineConfig struct {
	TokenBudget int
	MaxAttempts int
	BaseDelay   time.Duration
}

func DefaultFineConfig(log *logger.Logger) FineConfig {
	return FineConfig{
		TokenBudget: envutil.GetEnvAsInt("SEMLINK_FINE_TOKEN_BUDGET", 2000, log),
		MaxAttempts: envutil.GetEnvAsInt("SEMLINK_FINE_MAX_ATTEMPTS", 3, log),
		BaseDelay:   time.Duration(envutil.GetEnvAsInt("SEMLINK_FINE_BASE_DELAY_MS", 500, log)) * time.Millisecond,
	}
}

// FineOutcome is one candidate's fine-grained verdict, merged across chunks.
type FineOutcome struct {
	Score       float64
	Explanation string
}

// FineStats counts quality-degrading events in one fine-grained pass. Any
// non-zero FailedChunks or Dropped means the outcomes are incomplete and the
// run should be marked degraded.
type FineStats struct {
	Chunks       int
	FailedChunks int
	Dropped      int
}

// FineMatcher runs the LLM judgment stage. It never fails a run for a single
// bad candidate: it returns partial outcomes plus a degraded-event count, and
// an ErrUnavailable-wrapped error only when the whole stage produced nothing.
type FineMatcher struct {
	log *logger.Logger
	svc ReasoningService
	cfg FineConfig

	sleep func(time.Duration) // test seam
}

func NewFineMatcher(log *logger.Logger, svc ReasoningService, cfg FineConfig) *FineMatcher {
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = 2000
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	return &FineMatcher{
		log:   log.With("component", "FineGrainedMatcher"),
		svc:   svc,
		cfg:   cfg,
		sleep: time.Sleep,
	}
}

// Judge scores candidates against the section text. Outcomes are keyed by
// triple identity; chunk results for the same triple merge by max score.
// The returned stats count degraded-quality events: chunks that exhausted
// their retries and judgments dropped because they could not be coerced into
// the expected shape.
func (m *FineMatcher) Judge(ctx context.Context, text string, cands []Candidate, docCtx DocContext) (map[string]FineOutcome, FineStats, error) {
	var stats FineStats
	if len(cands) == 0 {
		return nil, stats, nil
	}

	triples := make([]kb.Triple, len(cands))
	known := make(map[string]bool, len(cands))
	for i, c := range cands {
		triples[i] = c.Triple
		known[c.Triple.Identity()] = true
	}

	chunks := chunkByTokenBudget(text, m.cfg.TokenBudget)
	if len(chunks) == 0 {
		return nil, stats, nil
	}
	stats.Chunks = len(chunks)

	outcomes := map[string]FineOutcome{}
	var lastErr error

	for ci, chunk := range chunks {
		judgments, err := m.judgeWithRetry(ctx, chunk, triples, docCtx)
		if err != nil {
			stats.FailedChunks++
			lastErr = err
			m.log.Warn("fine-grained chunk failed",
				"chunk", ci,
				"chunks", len(chunks),
				"error", err,
			)
			if ctx.Err() != nil {
				break
			}
			continue
		}

		for _, j := range judgments {
			if !known[j.TripleID] || j.Score < 0 || j.Score > 1 {
				stats.Dropped++
				m.log.Warn("dropping uncoercible judgment",
					"triple_id", j.TripleID,
					"score", j.Score,
				)
				continue
			}
			prev, ok := outcomes[j.TripleID]
			if !ok || j.Score > prev.Score {
				outcomes[j.TripleID] = FineOutcome{Score: j.Score, Explanation: j.Explanation}
			}
		}
	}

	if stats.FailedChunks == len(chunks) {
		return nil, stats, fmt.Errorf("fine-grained matcher unavailable: %w (last: %v)", errs.ErrUnavailable, lastErr)
	}
	return outcomes, stats, nil
}

func (m *FineMatcher) judgeWithRetry(ctx context.Context, chunk string, triples []kb.Triple, docCtx DocContext) ([]Judgment, error) {
	delay := m.cfg.BaseDelay
	var lastErr error

	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		judgments, err := m.svc.Judge(ctx, chunk, triples, docCtx)
		if err == nil {
			return judgments, nil
		}
		lastErr = err
		if !errs.IsRetryable(err) || attempt == m.cfg.MaxAttempts {
			return nil, err
		}
		sleepFor := httpx.Jitter(delay)
		m.log.Warn("reasoning call retrying",
			"attempt", attempt,
			"max_attempts", m.cfg.MaxAttempts,
			"sleep", sleepFor.String(),
			"error", err,
		)
		m.sleep(sleepFor)
		delay *= 2
	}
	return nil, lastErr
}
