package match

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/semlink/semlink/internal/data/repos/assoc"
	"github.com/semlink/semlink/internal/data/repos/testutil"
	types "github.com/semlink/semlink/internal/domain"
	"github.com/semlink/semlink/internal/kb"
	"github.com/semlink/semlink/internal/pkg/errs"
	"github.com/semlink/semlink/internal/platform/dbctx"
)

// memStore is an in-memory AssociationRepo for pipeline tests.
type memStore struct {
	rows map[string]*types.Association
}

func newMemStore() *memStore {
	return &memStore{rows: map[string]*types.Association{}}
}

func storeKey(a *types.Association) string {
	return a.SectionID.String() + "|" + a.Subject + "|" + a.Predicate + "|" + a.Object
}

func (s *memStore) Upsert(dbc dbctx.Context, rows []*types.Association, force bool) (assoc.UpsertResult, error) {
	var res assoc.UpsertResult
	for _, row := range rows {
		key := storeKey(row)
		existing, ok := s.rows[key]
		if !ok {
			cp := *row
			s.rows[key] = &cp
			res.Persisted++
			continue
		}
		improves := types.MethodPrecedence(row.Method) > types.MethodPrecedence(existing.Method) ||
			(types.MethodPrecedence(row.Method) == types.MethodPrecedence(existing.Method) && row.Score > existing.Score)
		if !force && !improves {
			res.Skipped++
			continue
		}
		cp := *row
		s.rows[key] = &cp
		res.Persisted++
	}
	return res, nil
}

func (s *memStore) ListBySection(dbc dbctx.Context, sectionID uuid.UUID) ([]*types.Association, error) {
	var out []*types.Association
	for _, a := range s.rows {
		if a.SectionID == sectionID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memStore) TopN(dbc dbctx.Context, sectionID uuid.UUID, n int) ([]*types.Association, error) {
	out, _ := s.ListBySection(dbc, sectionID)
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (s *memStore) ListByDocument(dbc dbctx.Context, documentID uuid.UUID) ([]*types.Association, error) {
	return nil, nil
}

type memRuns struct {
	runs []*types.AssociationRun
}

func (r *memRuns) Create(dbc dbctx.Context, run *types.AssociationRun) error {
	r.runs = append(r.runs, run)
	return nil
}

func (r *memRuns) GetBySectionID(dbc dbctx.Context, sectionID uuid.UUID) ([]*types.AssociationRun, error) {
	return r.runs, nil
}

func obligationTriple(emb []float32) kb.Triple {
	return kb.Triple{
		Subject:       "http://ex.org/eng#Engineer",
		Predicate:     "http://ex.org/eng#hasObligation",
		Object:        "http://ex.org/eng#ReportSafetyViolation",
		KnowledgeBase: "engineering-ethics",
		Embedding:     emb,
	}
}

func testSection(vec []float32, model string) *types.Section {
	return &types.Section{
		ID:         uuid.New(),
		DocumentID: uuid.New(),
		Kind:       types.SectionKindFacts,
		Text:       "The engineer discovered a safety violation and reported it to the authorities.",
		Embedding:  types.EncodeEmbedding(vec),
		EmbedModel: model,
	}
}

func newOrchestratorForTest(t *testing.T, svc ReasoningService, store assoc.AssociationRepo, runs assoc.RunRepo) *Orchestrator {
	t.Helper()
	log := testutil.Logger(t)
	fine := NewFineMatcher(log, svc, FineConfig{MaxAttempts: 2, BaseDelay: time.Millisecond})
	fine.sleep = func(time.Duration) {}
	return NewOrchestrator(log, NewCoarseMatcher(log), fine, store, runs)
}

func hybridCfg() RunConfig {
	return RunConfig{Mode: ModeHybrid, CoarseThreshold: 0.6, FinalThreshold: 0.5, TopK: 20}
}

func TestRunSection_HybridSuccess(t *testing.T) {
	obligation := obligationTriple([]float32{1, 0, 0})
	other := tri("http://ex.org/other", []float32{0.9, 0.43, 0})
	pool := testPool(obligation, other)
	pool.ModelVersion = "test-embed"

	svc := &fakeReasoner{judge: func(call int, chunk string, candidates []kb.Triple) ([]Judgment, error) {
		return []Judgment{{
			TripleID:    obligation.Identity(),
			Score:       0.92,
			Explanation: "section describes an engineer reporting a safety violation",
		}}, nil
	}}
	store := newMemStore()
	runs := &memRuns{}
	o := newOrchestratorForTest(t, svc, store, runs)

	section := testSection([]float32{1, 0, 0}, "test-embed")
	res, err := o.RunSection(context.Background(), dbctx.Context{Ctx: context.Background()}, section, pool, DocContext{}, hybridCfg())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Status != StatusPersisted {
		t.Fatalf("expected persisted status, got %s", res.Status)
	}
	if res.Degraded {
		t.Fatalf("unexpected degraded run: %s", res.Warning)
	}

	got := store.rows[storeKey(&types.Association{
		SectionID: section.ID,
		Subject:   obligation.Subject,
		Predicate: obligation.Predicate,
		Object:    obligation.Object,
	})]
	if got == nil {
		t.Fatal("expected obligation association to be persisted")
	}
	if got.Method != types.MethodLLM {
		t.Fatalf("expected llm method, got %q", got.Method)
	}
	if got.Score != 0.92 {
		t.Fatalf("expected fine score to supersede coarse, got %v", got.Score)
	}
	if got.Explanation == "" {
		t.Fatal("llm association should carry an explanation")
	}
	if len(runs.runs) != 1 || runs.runs[0].Status != string(StatusPersisted) {
		t.Fatalf("expected one persisted run record, got %#v", runs.runs)
	}
}

func TestRunSection_FineUnscoredFallsBackToCoarse(t *testing.T) {
	obligation := obligationTriple([]float32{1, 0, 0})
	other := tri("http://ex.org/other", []float32{0.9, 0.43, 0})
	pool := testPool(obligation, other)

	// The reasoner only scores the obligation triple; the other candidate
	// keeps its coarse score with fallback provenance.
	svc := &fakeReasoner{judge: func(call int, chunk string, candidates []kb.Triple) ([]Judgment, error) {
		return []Judgment{{TripleID: obligation.Identity(), Score: 0.9, Explanation: "relevant"}}, nil
	}}
	store := newMemStore()
	o := newOrchestratorForTest(t, svc, store, &memRuns{})

	section := testSection([]float32{1, 0, 0}, "")
	res, err := o.RunSection(context.Background(), dbctx.Context{Ctx: context.Background()}, section, pool, DocContext{}, hybridCfg())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Persisted != 2 {
		t.Fatalf("expected both candidates persisted, got %d", res.Persisted)
	}
	for _, a := range store.rows {
		switch a.Subject {
		case obligation.Subject:
			if a.Method != types.MethodLLM {
				t.Fatalf("scored candidate should be llm, got %q", a.Method)
			}
		default:
			if a.Method != types.MethodHybridFallback {
				t.Fatalf("unscored candidate should be hybrid-fallback, got %q", a.Method)
			}
		}
	}
}

func TestRunSection_FineUnavailableDegradesToEmbedding(t *testing.T) {
	pool := testPool(
		obligationTriple([]float32{1, 0, 0}),
		tri("http://ex.org/other", []float32{0.9, 0.43, 0}),
	)
	svc := &fakeReasoner{judge: func(call int, chunk string, candidates []kb.Triple) ([]Judgment, error) {
		return nil, errs.NewServiceError("fake", errs.KindTimeout, errors.New("deadline"))
	}}
	store := newMemStore()
	o := newOrchestratorForTest(t, svc, store, &memRuns{})

	section := testSection([]float32{1, 0, 0}, "")
	res, err := o.RunSection(context.Background(), dbctx.Context{Ctx: context.Background()}, section, pool, DocContext{}, hybridCfg())
	if err != nil {
		t.Fatalf("degraded run should not error: %v", err)
	}
	if !res.Degraded || res.Warning == "" {
		t.Fatalf("expected degraded run with warning, got %#v", res)
	}
	if res.Status != StatusPersisted {
		t.Fatalf("degraded run should still persist, got %s", res.Status)
	}
	if len(store.rows) == 0 {
		t.Fatal("expected coarse results to be persisted")
	}
	for _, a := range store.rows {
		if a.Method != types.MethodEmbedding {
			t.Fatalf("degraded run should persist embedding provenance, got %q", a.Method)
		}
	}
}

func TestRunSection_PartialFineFailureDegrades(t *testing.T) {
	obligation := obligationTriple([]float32{1, 0, 0})
	pool := testPool(obligation)

	// Multi-chunk section where the first chunk dies permanently and the
	// rest judge normally: the run completes but must carry a warning.
	svc := &fakeReasoner{judge: func(call int, chunk string, candidates []kb.Triple) ([]Judgment, error) {
		if call == 1 {
			return nil, errs.NewServiceError("fake", errs.KindMalformedResponse, errors.New("garbage"))
		}
		return []Judgment{{TripleID: obligation.Identity(), Score: 0.9, Explanation: "seen later"}}, nil
	}}
	store := newMemStore()
	log := testutil.Logger(t)
	fine := NewFineMatcher(log, svc, FineConfig{TokenBudget: 25, MaxAttempts: 2, BaseDelay: time.Millisecond})
	fine.sleep = func(time.Duration) {}
	o := NewOrchestrator(log, NewCoarseMatcher(log), fine, store, &memRuns{})

	section := testSection([]float32{1, 0, 0}, "")
	section.Text = strings.Repeat("the engineer found a defect. ", 5) + "\n\n" +
		strings.Repeat("she reported the violation. ", 5)

	res, err := o.RunSection(context.Background(), dbctx.Context{Ctx: context.Background()}, section, pool, DocContext{}, hybridCfg())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Degraded || res.Warning == "" {
		t.Fatalf("partially failed fine stage should mark the run degraded with a warning, got %#v", res)
	}
	if res.Status != StatusPersisted {
		t.Fatalf("partial failure should still persist, got %s", res.Status)
	}
	for _, a := range store.rows {
		if a.Method != types.MethodLLM || a.Score != 0.9 {
			t.Fatalf("surviving chunk judgment should persist as llm, got %#v", a)
		}
	}
}

func TestRunSection_EmbeddingModeSkipsReasoner(t *testing.T) {
	pool := testPool(obligationTriple([]float32{1, 0, 0}))
	svc := &fakeReasoner{judge: func(call int, chunk string, candidates []kb.Triple) ([]Judgment, error) {
		t.Fatal("reasoner must not run in embedding mode")
		return nil, nil
	}}
	store := newMemStore()
	o := newOrchestratorForTest(t, svc, store, &memRuns{})

	cfg := hybridCfg()
	cfg.Mode = ModeEmbedding
	section := testSection([]float32{1, 0, 0}, "")
	res, err := o.RunSection(context.Background(), dbctx.Context{Ctx: context.Background()}, section, pool, DocContext{}, cfg)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Persisted != 1 {
		t.Fatalf("expected 1 persisted, got %d", res.Persisted)
	}
	for _, a := range store.rows {
		if a.Method != types.MethodEmbedding {
			t.Fatalf("expected embedding method, got %q", a.Method)
		}
	}
}

func TestRunSection_NoEmbeddingSkipsEmpty(t *testing.T) {
	pool := testPool(obligationTriple([]float32{1, 0, 0}))
	store := newMemStore()
	runs := &memRuns{}
	o := newOrchestratorForTest(t, &fakeReasoner{judge: func(int, string, []kb.Triple) ([]Judgment, error) {
		return nil, nil
	}}, store, runs)

	section := testSection(nil, "")
	res, err := o.RunSection(context.Background(), dbctx.Context{Ctx: context.Background()}, section, pool, DocContext{}, hybridCfg())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Status != StatusSkippedEmpty {
		t.Fatalf("expected skipped_empty, got %s", res.Status)
	}
	if len(store.rows) != 0 {
		t.Fatalf("skipped section must persist nothing, got %d rows", len(store.rows))
	}
	if len(runs.runs) != 1 || runs.runs[0].Status != string(StatusSkippedEmpty) {
		t.Fatalf("expected skipped run record, got %#v", runs.runs)
	}
}

func TestRunSection_NoCandidatesSkipsEmpty(t *testing.T) {
	pool := testPool(obligationTriple([]float32{0, 1, 0}))
	store := newMemStore()
	o := newOrchestratorForTest(t, &fakeReasoner{judge: func(int, string, []kb.Triple) ([]Judgment, error) {
		return nil, nil
	}}, store, &memRuns{})

	section := testSection([]float32{1, 0, 0}, "")
	res, err := o.RunSection(context.Background(), dbctx.Context{Ctx: context.Background()}, section, pool, DocContext{}, hybridCfg())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Status != StatusSkippedEmpty {
		t.Fatalf("expected skipped_empty below threshold, got %s", res.Status)
	}
}

func TestRunSection_FinalCutoffDropsLowFineScores(t *testing.T) {
	obligation := obligationTriple([]float32{1, 0, 0})
	pool := testPool(obligation)

	// Coarse passes but the reasoner downgrades the match below the final
	// threshold.
	svc := &fakeReasoner{judge: func(call int, chunk string, candidates []kb.Triple) ([]Judgment, error) {
		return []Judgment{{TripleID: obligation.Identity(), Score: 0.2, Explanation: "weak"}}, nil
	}}
	store := newMemStore()
	o := newOrchestratorForTest(t, svc, store, &memRuns{})

	section := testSection([]float32{1, 0, 0}, "")
	res, err := o.RunSection(context.Background(), dbctx.Context{Ctx: context.Background()}, section, pool, DocContext{}, hybridCfg())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Persisted != 0 {
		t.Fatalf("downgraded candidate should be cut, persisted=%d", res.Persisted)
	}
	if len(store.rows) != 0 {
		t.Fatalf("expected empty store, got %d rows", len(store.rows))
	}
}

func TestRunSection_EmbedModelMismatchFails(t *testing.T) {
	pool := testPool(obligationTriple([]float32{1, 0, 0}))
	pool.ModelVersion = "embed-v2"
	store := newMemStore()
	o := newOrchestratorForTest(t, &fakeReasoner{judge: func(int, string, []kb.Triple) ([]Judgment, error) {
		return nil, nil
	}}, store, &memRuns{})

	section := testSection([]float32{1, 0, 0}, "embed-v1")
	res, err := o.RunSection(context.Background(), dbctx.Context{Ctx: context.Background()}, section, pool, DocContext{}, hybridCfg())
	if !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("expected invalid-argument error, got %v", err)
	}
	if res.Status != StatusFailed {
		t.Fatalf("expected failed status, got %s", res.Status)
	}
}

func TestRunSection_RerunIsIdempotent(t *testing.T) {
	obligation := obligationTriple([]float32{1, 0, 0})
	pool := testPool(obligation)
	svc := &fakeReasoner{judge: func(call int, chunk string, candidates []kb.Triple) ([]Judgment, error) {
		return []Judgment{{TripleID: obligation.Identity(), Score: 0.9, Explanation: "relevant"}}, nil
	}}
	store := newMemStore()
	o := newOrchestratorForTest(t, svc, store, &memRuns{})

	section := testSection([]float32{1, 0, 0}, "")
	dbc := dbctx.Context{Ctx: context.Background()}
	if _, err := o.RunSection(context.Background(), dbc, section, pool, DocContext{}, hybridCfg()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	res, err := o.RunSection(context.Background(), dbc, section, pool, DocContext{}, hybridCfg())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(store.rows) != 1 {
		t.Fatalf("rerun must not duplicate rows, got %d", len(store.rows))
	}
	if res.Skipped != 1 {
		t.Fatalf("identical rerun should skip the existing row, got %#v", res)
	}
}

func TestRunSection_InvalidConfigRejected(t *testing.T) {
	o := newOrchestratorForTest(t, &fakeReasoner{judge: func(int, string, []kb.Triple) ([]Judgment, error) {
		return nil, nil
	}}, newMemStore(), &memRuns{})

	cfg := hybridCfg()
	cfg.TopK = 0
	_, err := o.RunSection(context.Background(), dbctx.Context{Ctx: context.Background()},
		testSection([]float32{1, 0, 0}, ""), testPool(obligationTriple([]float32{1, 0, 0})), DocContext{}, cfg)
	if !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("expected invalid-argument error, got %v", err)
	}
}

func TestNormalize_DedupesByIdentity(t *testing.T) {
	a := tri("http://ex.org/a", nil)
	low, high := 0.6, 0.8
	cands := []Candidate{
		{Triple: a, Coarse: 0.7, Fine: &low},
		{Triple: a, Coarse: 0.7, Fine: &high},
	}
	out := normalize(cands, true, 0.5)
	if len(out) != 1 {
		t.Fatalf("expected 1 deduped candidate, got %d", len(out))
	}
	if out[0].FinalScore() != 0.8 {
		t.Fatalf("dedupe should keep the highest score, got %v", out[0].FinalScore())
	}
}

func TestNormalize_EqualScorePrefersHigherPrecedence(t *testing.T) {
	a := tri("http://ex.org/a", nil)
	fine := 0.7
	cands := []Candidate{
		{Triple: a, Coarse: 0.7},              // hybrid-fallback when fine ran
		{Triple: a, Coarse: 0.3, Fine: &fine}, // llm
	}
	out := normalize(cands, true, 0.5)
	if len(out) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(out))
	}
	if out[0].Fine == nil {
		t.Fatal("equal scores should prefer the llm judgment")
	}
}
