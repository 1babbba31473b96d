package match

import (
	"context"
	"fmt"

	"github.com/semlink/semlink/internal/kb"
	"github.com/semlink/semlink/internal/pkg/errs"
	"github.com/semlink/semlink/internal/platform/envutil"
	"github.com/semlink/semlink/internal/platform/logger"
)

// Mode selects which matching stages run.
type Mode string

const (
	ModeEmbedding Mode = "embedding"
	ModeLLM       Mode = "llm"
	ModeHybrid    Mode = "hybrid"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeEmbedding, ModeLLM, ModeHybrid:
		return Mode(s), nil
	case "":
		return ModeHybrid, nil
	default:
		return "", fmt.Errorf("%w: unknown mode %q", errs.ErrInvalidArgument, s)
	}
}

// RunStatus tracks one section's run through the pipeline.
type RunStatus string

const (
	StatusPending             RunStatus = "pending"
	StatusCoarseMatched       RunStatus = "coarse_matched"
	StatusFineGradedOrSkipped RunStatus = "fine_graded_or_skipped"
	StatusNormalized          RunStatus = "normalized"
	StatusPersisted           RunStatus = "persisted"
	StatusSkippedEmpty        RunStatus = "skipped_empty"
	StatusFailed              RunStatus = "failed"
)

// Candidate pairs a section with a pool triple during one run. It never
// outlives the run; what survives is the persisted Association.
type Candidate struct {
	Triple kb.Triple

	Coarse float64

	// Fine is set when the reasoning service scored this candidate.
	Fine        *float64
	Explanation string
}

// FinalScore prefers the fine judgment over the coarse similarity.
func (c Candidate) FinalScore() float64 {
	if c.Fine != nil {
		return *c.Fine
	}
	return c.Coarse
}

// DocContext carries document-level context into the fine-grained stage.
type DocContext struct {
	DocumentTitle string
	SectionKind   string
	NeighborKind  string
	Namespaces    []string
}

// EmbeddingProvider is the black-box embedding model.
type EmbeddingProvider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedModelVersion() string
}

// Judgment is one strictly-typed verdict from the reasoning service.
type Judgment struct {
	TripleID    string // kb.Triple identity
	Score       float64
	Explanation string
}

// ReasoningService judges the relevance of candidate triples against one
// section chunk. Implementations must classify failures as errs.ServiceError.
type ReasoningService interface {
	Judge(ctx context.Context, chunk string, candidates []kb.Triple, docCtx DocContext) ([]Judgment, error)
}

// RunConfig is the per-run tuning surface. The coarse threshold trades recall
// against precision (0.5-0.6 are both reasonable operating points); it is
// configuration, never hardcoded at call sites.
type RunConfig struct {
	Mode            Mode
	CoarseThreshold float64
	FinalThreshold  float64
	TopK            int
	Force           bool
}

// DefaultRunConfig reads tunables from the environment.
func DefaultRunConfig(log *logger.Logger) RunConfig {
	return RunConfig{
		Mode:            ModeHybrid,
		CoarseThreshold: envutil.GetEnvAsFloat("SEMLINK_COARSE_THRESHOLD", 0.6, log),
		FinalThreshold:  envutil.GetEnvAsFloat("SEMLINK_FINAL_THRESHOLD", 0.5, log),
		TopK:            envutil.GetEnvAsInt("SEMLINK_TOP_K", 20, log),
	}
}

func (c RunConfig) Validate() error {
	if _, err := ParseMode(string(c.Mode)); err != nil {
		return err
	}
	if c.CoarseThreshold < 0 || c.CoarseThreshold > 1 {
		return fmt.Errorf("%w: coarse threshold %v outside [0,1]", errs.ErrInvalidArgument, c.CoarseThreshold)
	}
	if c.FinalThreshold < 0 || c.FinalThreshold > 1 {
		return fmt.Errorf("%w: final threshold %v outside [0,1]", errs.ErrInvalidArgument, c.FinalThreshold)
	}
	if c.TopK <= 0 {
		return fmt.Errorf("%w: top-k must be positive, got %d", errs.ErrInvalidArgument, c.TopK)
	}
	return nil
}

// RunSummary is what a batch run always returns, partial failures included.
// Failed counts sections whose run errored; FailedRows counts individual
// association rows rejected during persistence.
type RunSummary struct {
	Sections     int      `json:"sections"`
	Persisted    int      `json:"persisted"`
	SkippedEmpty int      `json:"skipped_empty"`
	Degraded     int      `json:"degraded"`
	Failed       int      `json:"failed"`
	FailedRows   int      `json:"failed_rows"`
	Warnings     []string `json:"warnings,omitempty"`
}
