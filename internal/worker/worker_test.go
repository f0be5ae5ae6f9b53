package worker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinsim/osce-grader/internal/resultstore"
	"github.com/clinsim/osce-grader/internal/rubric"
	"github.com/clinsim/osce-grader/internal/store"
	"github.com/clinsim/osce-grader/internal/types"
)

const fakeTranscript = "Doctor: When did the pain start?\nPatient: Two days ago.\nDoctor: Let me examine you."

type fakeResolver struct {
	mu    sync.Mutex
	err   error
	block chan struct{} // when non-nil, Resolve waits on it
	order []uuid.UUID

	active    int
	maxActive int
}

func (f *fakeResolver) Resolve(_ context.Context, job *types.Job) (*types.Transcript, error) {
	f.mu.Lock()
	f.order = append(f.order, job.ID)
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	block := f.block
	err := f.err
	f.mu.Unlock()

	if block != nil {
		<-block
	}

	f.mu.Lock()
	f.active--
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return &types.Transcript{Text: fakeTranscript}, nil
}

type fakeLookup struct {
	err error
}

func (f *fakeLookup) Resolve(_ context.Context, job *types.Job) (*rubric.Rubric, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &rubric.Rubric{
		CaseID: job.CaseID,
		Sections: map[types.SectionID][]types.ChecklistItem{
			types.SectionHistory: {{ID: "h1", Title: "Asked about onset"}},
			types.SectionPPI:     {{ID: "p1", Title: "Introduced self"}},
		},
	}, nil
}

type fakeClassifier struct {
	err error
}

func (f *fakeClassifier) Classify(_ context.Context, turns []string, _ []types.Phase) ([]types.PhaseSpan, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []types.PhaseSpan{
		{Phase: types.PhaseHistory, StartIndex: 0, EndIndex: len(turns) - 1},
	}, nil
}

type fakeCollector struct {
	err error
}

func (f *fakeCollector) Collect(_ context.Context, _ string, _ types.SectionID, items []types.ChecklistItem) ([]types.EvidenceRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	records := make([]types.EvidenceRecord, 0, len(items))
	for _, item := range items {
		records = append(records, types.EvidenceRecord{
			ItemID:     item.ID,
			Quotations: []string{"Two days ago."},
		})
	}
	return records, nil
}

type fakeSaver struct {
	mu        sync.Mutex
	saved     []*types.ScoreResult
	persisted bool
	err       error
}

func (f *fakeSaver) Save(_ context.Context, _ *types.Job, result *types.ScoreResult) (*resultstore.Outcome, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	f.saved = append(f.saved, result)
	f.mu.Unlock()
	return &resultstore.Outcome{Persisted: f.persisted}, nil
}

type fixture struct {
	worker     *Worker
	mem        *store.Memory
	resolver   *fakeResolver
	classifier *fakeClassifier
	collector  *fakeCollector
	saver      *fakeSaver
}

func newFixture(cfg Config) *fixture {
	f := &fixture{
		mem:        store.NewMemory(0),
		resolver:   &fakeResolver{},
		classifier: &fakeClassifier{},
		collector:  &fakeCollector{},
		saver:      &fakeSaver{persisted: true},
	}
	f.worker = New(cfg, f.mem, f.mem, f.mem, f.resolver, &fakeLookup{}, f.classifier, f.collector, f.saver)
	return f
}

func submitSpec() SubmitSpec {
	return SubmitSpec{
		CaseID:        "chest-pain-01",
		Origin:        types.OriginUpload,
		TranscriptRef: "transcripts/t.txt",
		OwnerID:       uuid.New(),
	}
}

func waitForStatus(t *testing.T, w *Worker, id uuid.UUID, want types.JobStatus) *Status {
	t.Helper()
	var status *Status
	require.Eventually(t, func() bool {
		s, err := w.PollStatus(context.Background(), id)
		if err != nil {
			return false
		}
		status = s
		return s.Status == want
	}, 5*time.Second, 5*time.Millisecond)
	return status
}

func TestSubmit_ValidationErrors(t *testing.T) {
	f := newFixture(Config{})

	_, err := f.worker.Submit(context.Background(), SubmitSpec{TranscriptRef: "t.txt"})
	var inputErr *types.InputError
	require.ErrorAs(t, err, &inputErr)

	_, err = f.worker.Submit(context.Background(), SubmitSpec{CaseID: "case-1"})
	require.ErrorAs(t, err, &inputErr)
}

func TestSubmit_JobCompletesEndToEnd(t *testing.T) {
	f := newFixture(Config{})

	id, err := f.worker.Submit(context.Background(), submitSpec())
	require.NoError(t, err)

	status := waitForStatus(t, f.worker, id, types.StatusDone)
	assert.Equal(t, 100, status.ProgressPct)
	require.NotNil(t, status.Result)

	// Every section is present, including PPI which had checklist items.
	for _, section := range types.AllSections() {
		_, ok := status.Result.GradesBySection[section]
		assert.True(t, ok, "missing section %s", section)
	}
	require.Len(t, status.Result.GradesBySection[types.SectionHistory], 1)
	assert.Equal(t, 1, status.Result.GradesBySection[types.SectionHistory][0].Point)

	// Classification succeeded, so timing covers the rubric's phase order.
	require.Len(t, status.Result.TimingBySection, 3)

	f.saver.mu.Lock()
	defer f.saver.mu.Unlock()
	require.Len(t, f.saver.saved, 1)
	assert.Equal(t, status.Result.ID, f.saver.saved[0].ID)
}

func TestSubmit_JobsProcessedInSubmissionOrder(t *testing.T) {
	f := newFixture(Config{MaxConcurrent: 1})

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		id, err := f.worker.Submit(context.Background(), submitSpec())
		require.NoError(t, err)
		ids = append(ids, id)
	}

	for _, id := range ids {
		waitForStatus(t, f.worker, id, types.StatusDone)
	}

	f.resolver.mu.Lock()
	defer f.resolver.mu.Unlock()
	assert.Equal(t, ids, f.resolver.order)
}

func TestWorker_ConcurrencyCeilingHolds(t *testing.T) {
	f := newFixture(Config{MaxConcurrent: 2})
	f.resolver.block = make(chan struct{})

	var ids []uuid.UUID
	for i := 0; i < 6; i++ {
		id, err := f.worker.Submit(context.Background(), submitSpec())
		require.NoError(t, err)
		ids = append(ids, id)
	}

	// Let the cycles saturate, then release the blocked stages.
	require.Eventually(t, func() bool {
		f.resolver.mu.Lock()
		defer f.resolver.mu.Unlock()
		return f.resolver.active == 2
	}, 5*time.Second, 5*time.Millisecond)
	close(f.resolver.block)

	for _, id := range ids {
		waitForStatus(t, f.worker, id, types.StatusDone)
	}

	f.resolver.mu.Lock()
	defer f.resolver.mu.Unlock()
	assert.LessOrEqual(t, f.resolver.maxActive, 2)
	assert.Len(t, f.resolver.order, 6)
}

func TestPollStatus_WaitingJobReportsQueuePosition(t *testing.T) {
	f := newFixture(Config{MaxConcurrent: 1})
	f.resolver.block = make(chan struct{})
	defer close(f.resolver.block)

	first, err := f.worker.Submit(context.Background(), submitSpec())
	require.NoError(t, err)
	waitForStatus(t, f.worker, first, types.StatusProcessing)

	second, err := f.worker.Submit(context.Background(), submitSpec())
	require.NoError(t, err)
	third, err := f.worker.Submit(context.Background(), submitSpec())
	require.NoError(t, err)

	s2, err := f.worker.PollStatus(context.Background(), second)
	require.NoError(t, err)
	assert.Equal(t, types.StatusWaiting, s2.Status)
	assert.Equal(t, 1, s2.Position)

	s3, err := f.worker.PollStatus(context.Background(), third)
	require.NoError(t, err)
	assert.Equal(t, 2, s3.Position)
}

func TestPollStatus_UnknownJob(t *testing.T) {
	f := newFixture(Config{})
	_, err := f.worker.PollStatus(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrJobNotFound)
}

func TestPollStatus_OverdueProcessingJobReportedFailed(t *testing.T) {
	f := newFixture(Config{MaxJobRuntime: 10 * time.Minute})

	started := time.Now().Add(-11 * time.Minute)
	job := &types.Job{
		ID:        uuid.New(),
		CaseID:    "case-1",
		Status:    types.StatusProcessing,
		Stage:     types.StageCollecting,
		StartedAt: &started,
	}
	require.NoError(t, f.mem.Create(context.Background(), job))

	status, err := f.worker.PollStatus(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, status.Status)
	assert.Contains(t, status.Error, "maximum runtime")

	// The stored record is not rewritten; only the view is coerced.
	stored, err := f.mem.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusProcessing, stored.Status)
}

func TestPollStatus_KicksStalledQueue(t *testing.T) {
	f := newFixture(Config{})

	// A job sitting in the queue with no live cycle, as after a restart.
	job := &types.Job{ID: uuid.New(), CaseID: "case-1", TranscriptRef: "t.txt", Status: types.StatusWaiting}
	require.NoError(t, f.mem.Create(context.Background(), job))
	require.NoError(t, f.mem.Push(context.Background(), job.ID))

	_, err := f.worker.PollStatus(context.Background(), job.ID)
	require.NoError(t, err)

	waitForStatus(t, f.worker, job.ID, types.StatusDone)
}

func TestWorker_TranscriptFailureFailsJob(t *testing.T) {
	f := newFixture(Config{})
	f.resolver.err = &types.UpstreamFatalError{Message: "unintelligible audio"}

	id, err := f.worker.Submit(context.Background(), submitSpec())
	require.NoError(t, err)

	status := waitForStatus(t, f.worker, id, types.StatusFailed)
	assert.Contains(t, status.Error, "transcript resolution failed")
	assert.Nil(t, status.Result)
}

func TestWorker_EvidenceFailureFailsJob(t *testing.T) {
	f := newFixture(Config{})
	f.collector.err = &types.UpstreamFatalError{Message: "both tiers failed"}

	id, err := f.worker.Submit(context.Background(), submitSpec())
	require.NoError(t, err)

	status := waitForStatus(t, f.worker, id, types.StatusFailed)
	assert.Contains(t, status.Error, "evidence collection failed")
}

func TestWorker_ClassificationFailureOnlyDegradesTiming(t *testing.T) {
	f := newFixture(Config{})
	f.classifier.err = fmt.Errorf("no usable spans")

	id, err := f.worker.Submit(context.Background(), submitSpec())
	require.NoError(t, err)

	status := waitForStatus(t, f.worker, id, types.StatusDone)
	require.NotNil(t, status.Result)
	assert.Empty(t, status.Result.TimingBySection)
	assert.NotEmpty(t, status.Result.GradesBySection)
}

func TestWorker_SaveFailureFailsJob(t *testing.T) {
	f := newFixture(Config{})
	f.saver.err = fmt.Errorf("failed to serialize score payload")

	id, err := f.worker.Submit(context.Background(), submitSpec())
	require.NoError(t, err)

	status := waitForStatus(t, f.worker, id, types.StatusFailed)
	assert.Contains(t, status.Error, "result save failed")
}

func TestWorker_UnpersistedSaveStillCompletesJob(t *testing.T) {
	f := newFixture(Config{})
	f.saver.persisted = false

	id, err := f.worker.Submit(context.Background(), submitSpec())
	require.NoError(t, err)

	status := waitForStatus(t, f.worker, id, types.StatusDone)
	assert.NotNil(t, status.Result)
}

func TestWorker_LeasesReleasedAfterDrain(t *testing.T) {
	f := newFixture(Config{})

	id, err := f.worker.Submit(context.Background(), submitSpec())
	require.NoError(t, err)
	waitForStatus(t, f.worker, id, types.StatusDone)

	require.Eventually(t, func() bool {
		n, err := f.mem.ActiveCount(context.Background())
		return err == nil && n == 0
	}, time.Second, 5*time.Millisecond)
}
