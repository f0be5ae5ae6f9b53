// Package worker is the orchestration spine of the grading pipeline: it
// accepts job submissions, leases work under a global concurrency bound,
// drives the pipeline stages, and re-triggers itself to drain the queue.
//
// There is no long-running loop. Every cycle is a short unit of execution,
// triggered by a submission or opportunistically by a status poll, and
// cycles coordinate only through the shared store (queue, job records,
// lease records). A cycle that dies leaves its lease to expire on its own
// TTL.
package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/clinsim/osce-grader/internal/classify"
	"github.com/clinsim/osce-grader/internal/resultstore"
	"github.com/clinsim/osce-grader/internal/rubric"
	"github.com/clinsim/osce-grader/internal/scoring"
	"github.com/clinsim/osce-grader/internal/store"
	"github.com/clinsim/osce-grader/internal/types"
)

// Stage progress checkpoints written after each transition so concurrent
// pollers observe live progress.
const (
	pctTranscribing = 10
	pctLoading      = 30
	pctCollecting   = 45
	pctGrading      = 80
	pctSaving       = 95
	pctDone         = 100
)

// TranscriptResolver obtains the text to grade for a job.
type TranscriptResolver interface {
	Resolve(ctx context.Context, job *types.Job) (*types.Transcript, error)
}

// PhaseClassifier segments transcript turns into phase spans.
type PhaseClassifier interface {
	Classify(ctx context.Context, turns []string, phaseOrder []types.Phase) ([]types.PhaseSpan, error)
}

// EvidenceCollector extracts evidence for one section's checklist.
type EvidenceCollector interface {
	Collect(ctx context.Context, transcriptText string, section types.SectionID, items []types.ChecklistItem) ([]types.EvidenceRecord, error)
}

// ResultSaver persists a finished result.
type ResultSaver interface {
	Save(ctx context.Context, job *types.Job, result *types.ScoreResult) (*resultstore.Outcome, error)
}

// Config bounds worker execution.
type Config struct {
	// MaxConcurrent is the ceiling on simultaneously active leases.
	MaxConcurrent int
	// MaxJobRuntime bounds one job's processing time and doubles as the
	// lease TTL, so an abandoned cycle's lease heals itself.
	MaxJobRuntime time.Duration
}

// DefaultConfig returns the standard worker bounds.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 2,
		MaxJobRuntime: 10 * time.Minute,
	}
}

// Worker drives grading jobs through the pipeline.
type Worker struct {
	cfg Config

	jobs   store.JobStore
	queue  store.Queue
	leases store.LeaseSet

	resolver   TranscriptResolver
	rubrics    rubric.Lookup
	classifier PhaseClassifier
	collector  EvidenceCollector
	results    ResultSaver

	now func() time.Time
}

// New creates a worker.
func New(cfg Config, jobs store.JobStore, queue store.Queue, leases store.LeaseSet,
	resolver TranscriptResolver, rubrics rubric.Lookup, classifier PhaseClassifier,
	collector EvidenceCollector, results ResultSaver) *Worker {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	if cfg.MaxJobRuntime <= 0 {
		cfg.MaxJobRuntime = DefaultConfig().MaxJobRuntime
	}
	return &Worker{
		cfg:        cfg,
		jobs:       jobs,
		queue:      queue,
		leases:     leases,
		resolver:   resolver,
		rubrics:    rubrics,
		classifier: classifier,
		collector:  collector,
		results:    results,
		now:        time.Now,
	}
}

// SubmitSpec is a job submission.
type SubmitSpec struct {
	CaseID        string
	Origin        types.Origin
	AudioRefs     []string
	TranscriptRef string
	RubricRef     string
	OwnerID       uuid.UUID
	TurnTimes     []float64
	TotalDuration float64
}

// Submit validates the spec, stores a waiting job, enqueues it, and
// schedules (without blocking on) a worker cycle. Returns the job id.
func (w *Worker) Submit(ctx context.Context, spec SubmitSpec) (uuid.UUID, error) {
	if spec.CaseID == "" {
		return uuid.Nil, &types.InputError{Message: "case id is required"}
	}
	if len(spec.AudioRefs) == 0 && spec.TranscriptRef == "" {
		return uuid.Nil, &types.InputError{Message: "either audio references or a transcript reference is required"}
	}

	job := &types.Job{
		ID:            uuid.New(),
		CaseID:        spec.CaseID,
		Origin:        spec.Origin,
		AudioRefs:     spec.AudioRefs,
		TranscriptRef: spec.TranscriptRef,
		RubricRef:     spec.RubricRef,
		OwnerID:       spec.OwnerID,
		Status:        types.StatusWaiting,
		TurnTimes:     spec.TurnTimes,
		TotalDuration: spec.TotalDuration,
		CreatedAt:     w.now(),
	}

	if err := w.jobs.Create(ctx, job); err != nil {
		return uuid.Nil, fmt.Errorf("failed to store job: %w", err)
	}
	if err := w.queue.Push(ctx, job.ID); err != nil {
		return uuid.Nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	go w.RunCycle(context.WithoutCancel(ctx))

	return job.ID, nil
}

// Status is the poll view of a job. Exactly one of the four states of the
// poll contract is ever exposed; partial results never are.
type Status struct {
	JobID       uuid.UUID          `json:"job_id"`
	Status      types.JobStatus    `json:"status"`
	Position    int                `json:"position,omitempty"`
	ProgressPct int                `json:"progress_pct,omitempty"`
	Stage       types.Stage        `json:"stage,omitempty"`
	Result      *types.ScoreResult `json:"result,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// PollStatus reports a job's state. It is read-only except for one side
// effect: if no worker holds a lease and the queue is non-empty, it
// triggers a cycle, since worker execution has no persistent background
// process to rely on.
func (w *Worker) PollStatus(ctx context.Context, id uuid.UUID) (*Status, error) {
	job, err := w.jobs.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	w.kickIfStalled(ctx)

	status := &Status{JobID: job.ID, Status: job.Status}
	switch job.Status {
	case types.StatusWaiting:
		if pos, ok, _ := w.queue.Position(ctx, job.ID); ok {
			status.Position = pos
		}
	case types.StatusProcessing:
		// A job whose cycle died keeps its processing record until the
		// runtime bound elapses; report it failed past that point.
		if job.StartedAt != nil && w.now().After(job.StartedAt.Add(w.cfg.MaxJobRuntime)) {
			status.Status = types.StatusFailed
			status.Error = "job exceeded maximum runtime"
			break
		}
		status.ProgressPct = job.ProgressPct
		status.Stage = job.Stage
	case types.StatusDone:
		status.ProgressPct = pctDone
		status.Result = job.Result
	case types.StatusFailed:
		status.Error = job.Error
	}
	return status, nil
}

// kickIfStalled schedules a cycle when work is waiting but nothing is
// leased.
func (w *Worker) kickIfStalled(ctx context.Context) {
	active, err := w.leases.ActiveCount(ctx)
	if err != nil || active > 0 {
		return
	}
	if n, err := w.queue.Len(ctx); err == nil && n > 0 {
		go w.RunCycle(context.WithoutCancel(ctx))
	}
}

// RunCycle executes worker cycles until the queue is drained, the
// concurrency ceiling is hit, or nothing is left to do. Each iteration is
// one cycle: re-check the ceiling, create a lease, pop, process, release.
func (w *Worker) RunCycle(ctx context.Context) {
	for {
		// The ceiling is enforced inside Acquire by enumerating live lease
		// records, so concurrent cycles can never both slip past a stale
		// count.
		key, ok, err := w.leases.Acquire(ctx, w.cfg.MaxJobRuntime, w.cfg.MaxConcurrent)
		if err != nil {
			log.Printf("Warning: [worker] failed to acquire lease: %v", err)
			return
		}
		if !ok {
			return
		}

		if !w.runLeased(ctx, key) {
			return
		}

		if n, err := w.queue.Len(ctx); err != nil || n == 0 {
			return
		}
		// Queue still non-empty: chain into another cycle.
	}
}

// runLeased pops and processes one job under the lease, releasing it
// unconditionally. Returns false when the drain should stop.
func (w *Worker) runLeased(ctx context.Context, key string) (keepDraining bool) {
	defer func() {
		if err := w.leases.Release(ctx, key); err != nil {
			log.Printf("Warning: [worker] failed to release lease: %v", err)
		}
	}()

	id, ok, err := w.queue.Pop(ctx)
	if err != nil || !ok {
		return false
	}

	job, err := w.jobs.Get(ctx, id)
	if err != nil {
		log.Printf("Warning: [worker] popped job %s has no record: %v", id, err)
		return false
	}

	w.process(ctx, job)
	return true
}

// process runs the pipeline stages for one job. Stage errors are caught
// here and recorded into the job's error field; they never crash the
// triggering caller.
func (w *Worker) process(ctx context.Context, job *types.Job) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[worker] job %s panicked: %v", job.ID, r)
			w.fail(ctx, job, fmt.Sprintf("internal error: %v", r))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, w.cfg.MaxJobRuntime)
	defer cancel()

	started := w.now()
	job.Status = types.StatusProcessing
	job.StartedAt = &started
	w.writeStage(ctx, job, types.StageTranscribing, pctTranscribing)

	result, err := w.grade(ctx, job)
	if err != nil {
		log.Printf("[worker] job %s failed: %v", job.ID, err)
		w.fail(ctx, job, err.Error())
		return
	}

	job.Status = types.StatusDone
	job.Result = result
	job.ProgressPct = pctDone
	if err := w.jobs.Update(ctx, job); err != nil {
		log.Printf("Warning: [worker] failed to record completion of job %s: %v", job.ID, err)
	}
}

// grade runs the stages: resolve transcript, load rubric, collect evidence
// in parallel with phase classification, aggregate, save.
func (w *Worker) grade(ctx context.Context, job *types.Job) (*types.ScoreResult, error) {
	transcript, err := w.resolver.Resolve(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("transcript resolution failed: %w", err)
	}

	w.writeStage(ctx, job, types.StageLoading, pctLoading)
	r, err := w.rubrics.Resolve(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("rubric lookup failed: %w", err)
	}

	w.writeStage(ctx, job, types.StageCollecting, pctCollecting)
	evidence, timing, err := w.collect(ctx, job, r, transcript)
	if err != nil {
		return nil, err
	}

	w.writeStage(ctx, job, types.StageGrading, pctGrading)
	grades := make(map[types.SectionID][]types.GradeItem, len(types.AllSections()))
	for _, section := range types.AllSections() {
		grades[section] = scoring.Aggregate(r.Items(section), evidence[section])
	}

	result := &types.ScoreResult{
		ID:              uuid.New(),
		GradesBySection: grades,
		TimingBySection: timing,
	}

	w.writeStage(ctx, job, types.StageSaving, pctSaving)
	outcome, err := w.results.Save(ctx, job, result)
	if err != nil {
		return nil, fmt.Errorf("result save failed: %w", err)
	}
	if !outcome.Persisted {
		// Grading succeeded; only the durable write is degraded. The job
		// still completes and the payload sits in the recovery cache.
		log.Printf("Warning: [worker] job %s completed without durable persistence: %v", job.ID, outcome.Err)
	}
	return result, nil
}

// collect runs the section classifier and the per-section evidence
// collectors concurrently. Evidence failure fails the job; classification
// failure only degrades timing to empty, since timing is supplementary to
// the pass/fail evidence.
func (w *Worker) collect(ctx context.Context, job *types.Job, r *rubric.Rubric, transcript *types.Transcript) (map[types.SectionID][]types.EvidenceRecord, map[types.Phase]types.TimingRecord, error) {
	var (
		mu       sync.Mutex
		evidence = make(map[types.SectionID][]types.EvidenceRecord, len(types.AllSections()))
		timing   = map[types.Phase]types.TimingRecord{}
	)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		turns := classify.SplitTurns(transcript.Text)
		spans, err := w.classifier.Classify(gCtx, turns, r.EffectivePhaseOrder())
		if err != nil {
			// Never aborts grading.
			log.Printf("Warning: [worker] phase classification failed for job %s, timing degraded: %v", job.ID, err)
			return nil
		}
		computed := classify.ComputeTiming(spans, r.EffectivePhaseOrder(), classify.TimingSource{
			Segments:      transcript.Segments,
			TurnTimes:     job.TurnTimes,
			TotalDuration: job.TotalDuration,
		})
		mu.Lock()
		timing = computed
		mu.Unlock()
		return nil
	})

	for _, section := range types.AllSections() {
		g.Go(func() error {
			records, err := w.collector.Collect(gCtx, transcript.Text, section, r.Items(section))
			if err != nil {
				return fmt.Errorf("evidence collection failed for section %s: %w", section, err)
			}
			mu.Lock()
			evidence[section] = records
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return evidence, timing, nil
}

// writeStage records a stage transition on the job record.
func (w *Worker) writeStage(ctx context.Context, job *types.Job, stage types.Stage, pct int) {
	job.Stage = stage
	job.ProgressPct = pct
	if err := w.jobs.Update(ctx, job); err != nil {
		log.Printf("Warning: [worker] failed to write stage %s for job %s: %v", stage, job.ID, err)
	}
}

// fail records a terminal failure on the job record.
func (w *Worker) fail(ctx context.Context, job *types.Job, message string) {
	job.Status = types.StatusFailed
	job.Error = message
	if err := w.jobs.Update(ctx, job); err != nil {
		log.Printf("Warning: [worker] failed to record failure of job %s: %v", job.ID, err)
	}
}
