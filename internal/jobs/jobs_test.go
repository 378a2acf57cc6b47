package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/design2code/internal/figma"
	"github.com/jonathan/design2code/internal/memstore"
	"github.com/jonathan/design2code/internal/pipeline"
	"github.com/jonathan/design2code/internal/types"
)

const (
	figmaSource = "https://www.figma.com/design/KEY/Landing?node-id=1-2"
	plainSource = "https://example.com/mockup.png"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type stubCreds struct{ token string }

func (s stubCreds) Get(context.Context, uuid.UUID) (string, error) { return s.token, nil }

// stubGenerator returns err, or the mock pipeline's artifacts.
type stubGenerator struct {
	err   error
	delay time.Duration
	calls int32
}

func (g *stubGenerator) Name() string { return pipeline.NameFigma }

func (g *stubGenerator) Generate(ctx context.Context, in pipeline.Input) (*types.Artifacts, error) {
	atomic.AddInt32(&g.calls, 1)
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	if g.err != nil {
		return nil, g.err
	}
	return pipeline.NewMock().Generate(ctx, in)
}

type fixture struct {
	clock  *clock
	store  *memstore.Store
	gen    *stubGenerator
	proc   *Processor
	runner *Runner
}

func newFixture(t *testing.T, token string) *fixture {
	t.Helper()
	c := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	store := memstore.New(c.Now)
	gen := &stubGenerator{}
	proc := NewProcessor(store, stubCreds{token: token}, gen, pipeline.NewMock(), ProcessorConfig{Now: c.Now})
	runner := NewRunner(store, proc, RunnerConfig{Lease: time.Minute, Now: c.Now})
	return &fixture{clock: c, store: store, gen: gen, proc: proc, runner: runner}
}

// seed creates a project, a queued generation and its job.
func (f *fixture) seed(t *testing.T, source string) (*types.Generation, *types.Job) {
	t.Helper()
	ctx := context.Background()
	src := figma.ParseSource(source)
	p, err := f.store.UpsertProject(ctx, types.ProjectInput{
		OwnerID: uuid.New(), Name: "Landing", SourceURL: source, FileKey: src.FileKey, NodeID: src.NodeID,
	})
	require.NoError(t, err)
	g, err := f.store.CreateGeneration(ctx, p.ID, nil)
	require.NoError(t, err)
	j, err := f.store.CreateJob(ctx, p.OwnerID, p.ID, g.ID)
	require.NoError(t, err)
	return g, j
}

func (f *fixture) claim(t *testing.T, generationID uuid.UUID) *types.Job {
	t.Helper()
	job, err := f.store.ClaimJob(context.Background(), generationID, WorkerID("test"), time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
	return job
}

func (f *fixture) job(t *testing.T, generationID uuid.UUID) *types.Job {
	t.Helper()
	job, err := f.store.GetJobByGenerationID(context.Background(), generationID)
	require.NoError(t, err)
	require.NotNil(t, job)
	return job
}

func (f *fixture) generation(t *testing.T, id uuid.UUID) *types.Generation {
	t.Helper()
	g, err := f.store.GetGeneration(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, g)
	return g
}

func TestProcessJob_FigmaSourceSucceeds(t *testing.T) {
	f := newFixture(t, "figd_token")
	g, _ := f.seed(t, figmaSource)

	res, err := f.proc.ProcessJob(context.Background(), f.claim(t, g.ID))
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusSucceeded, res.Status)
	assert.EqualValues(t, 1, f.gen.calls)

	job := f.job(t, g.ID)
	assert.Equal(t, types.JobStatusSucceeded, job.Status)
	assert.Nil(t, job.LockedBy)

	gen := f.generation(t, g.ID)
	assert.Equal(t, types.GenerationStatusSucceeded, gen.Status)
	assert.NotNil(t, gen.StartedAt)
	assert.NotNil(t, gen.FinishedAt)
	assert.Empty(t, gen.ErrorJSON)

	bundle, err := f.store.GetBundle(context.Background(), g.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, bundle.Files)
}

func TestProcessJob_NonFigmaSourceUsesMock(t *testing.T) {
	f := newFixture(t, "")
	g, _ := f.seed(t, plainSource)

	res, err := f.proc.ProcessJob(context.Background(), f.claim(t, g.ID))
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusSucceeded, res.Status)
	assert.Zero(t, f.gen.calls)

	var report pipeline.Report
	require.NoError(t, json.Unmarshal(f.generation(t, g.ID).Report, &report))
	assert.Equal(t, pipeline.ReasonNonFigmaSource, report.Fallback.Reason)
}

func TestProcessJob_AlreadySucceededIsNoOp(t *testing.T) {
	f := newFixture(t, "figd_token")
	ctx := context.Background()
	g, _ := f.seed(t, figmaSource)

	require.NoError(t, f.store.SaveArtifacts(ctx, g.ID, &types.Artifacts{
		SnapshotHash: "sha256:prior",
		Files:        []types.GeneratedFile{{Path: "keep.txt", Content: "prior"}},
	}))
	require.NoError(t, f.store.UpdateGeneration(ctx, g.ID, types.GenerationUpdate{Status: types.GenerationStatusSucceeded}))

	res, err := f.proc.ProcessJob(ctx, f.claim(t, g.ID))
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusSucceeded, res.Status)
	assert.Zero(t, f.gen.calls)

	bundle, err := f.store.GetBundle(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, bundle.Files, 1)
	assert.Equal(t, "keep.txt", bundle.Files[0].Path)
	assert.Equal(t, types.JobStatusSucceeded, f.job(t, g.ID).Status)
}

func TestProcessJob_MissingCredentialFails(t *testing.T) {
	f := newFixture(t, "")
	g, _ := f.seed(t, figmaSource)

	res, err := f.proc.ProcessJob(context.Background(), f.claim(t, g.ID))
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusFailed, res.Status)
	assert.Zero(t, f.gen.calls)

	job := f.job(t, g.ID)
	require.NotNil(t, job.LastError)
	assert.Equal(t, types.JobErrorMissingCredential, job.LastError.Kind)
	assert.Equal(t, types.GenerationStatusFailed, f.generation(t, g.ID).Status)
}

func TestProcessJob_MissingGenerationFails(t *testing.T) {
	f := newFixture(t, "t")
	ctx := context.Background()
	g, _ := f.seed(t, figmaSource)

	orphan := uuid.New()
	_, err := f.store.CreateJob(ctx, uuid.New(), g.ProjectID, orphan)
	require.Error(t, err, "project already has an active job")

	p, err := f.store.UpsertProject(ctx, types.ProjectInput{OwnerID: uuid.New(), FileKey: "OTHER", NodeID: "0:0"})
	require.NoError(t, err)
	_, err = f.store.CreateJob(ctx, p.OwnerID, p.ID, orphan)
	require.NoError(t, err)

	res, err := f.proc.ProcessJob(ctx, f.claim(t, orphan))
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusFailed, res.Status)
	assert.Equal(t, types.JobErrorGenerationNotFound, f.job(t, orphan).LastError.Kind)
}

type noProjectStore struct{ *memstore.Store }

func (noProjectStore) GetProject(context.Context, uuid.UUID) (*types.Project, error) { return nil, nil }

func TestProcessJob_MissingProjectFails(t *testing.T) {
	f := newFixture(t, "t")
	g, _ := f.seed(t, figmaSource)
	proc := NewProcessor(noProjectStore{f.store}, stubCreds{token: "t"}, f.gen, pipeline.NewMock(), ProcessorConfig{Now: f.clock.Now})

	res, err := proc.ProcessJob(context.Background(), f.claim(t, g.ID))
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusFailed, res.Status)
	assert.Equal(t, types.JobErrorProjectNotFound, f.job(t, g.ID).LastError.Kind)
	assert.Equal(t, types.GenerationStatusFailed, f.generation(t, g.ID).Status)
}

func TestProcessJob_PipelineErrorFailsBoth(t *testing.T) {
	f := newFixture(t, "t")
	f.gen.err = &figma.Error{URL: "https://api.figma.com/v1/images/KEY", StatusCode: 500, Message: "upstream broke"}
	g, _ := f.seed(t, figmaSource)

	res, err := f.proc.ProcessJob(context.Background(), f.claim(t, g.ID))
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusFailed, res.Status)
	assert.Contains(t, res.Error, "upstream broke")

	job := f.job(t, g.ID)
	assert.Equal(t, types.JobErrorGenerationFailed, job.LastError.Kind)
	assert.Nil(t, job.LockedBy)

	gen := f.generation(t, g.ID)
	assert.Equal(t, types.GenerationStatusFailed, gen.Status)
	assert.Contains(t, string(gen.ErrorJSON), "upstream broke")
}

func TestProcessJob_RateLimitedWaits(t *testing.T) {
	f := newFixture(t, "t")
	ctx := context.Background()
	f.gen.err = &figma.RateLimitError{Label: "Figma image request", Status: 429, RetryAfterSec: 45}
	g, _ := f.seed(t, figmaSource)
	start := f.clock.Now()

	res, err := f.proc.ProcessJob(ctx, f.claim(t, g.ID))
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusWaiting, res.Status)
	require.NotNil(t, res.NextAttemptAt)
	assert.Equal(t, start.Add(45*time.Second), *res.NextAttemptAt)

	job := f.job(t, g.ID)
	assert.Equal(t, types.JobStatusWaiting, job.Status)
	assert.Equal(t, start.Add(45*time.Second), job.NextAttemptAt)
	require.NotNil(t, job.LastError.RetryAfterSec)
	assert.Equal(t, 45, *job.LastError.RetryAfterSec)

	gen := f.generation(t, g.ID)
	assert.Equal(t, types.GenerationStatusRunning, gen.Status)
	assert.Equal(t, StateWaitingRateLimit, gen.WaitState())

	early, err := f.store.ClaimJob(ctx, g.ID, "B", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, early)

	f.clock.Advance(45 * time.Second)
	f.gen.err = nil
	res, err = f.proc.ProcessJob(ctx, f.claim(t, g.ID))
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusSucceeded, res.Status)
	assert.Empty(t, f.generation(t, g.ID).ErrorJSON)
}

func TestProcessJob_RateLimitDelayIsClamped(t *testing.T) {
	tests := []struct {
		retryAfter int
		want       time.Duration
	}{
		{0, 30 * time.Second},
		{5, 30 * time.Second},
		{120, 120 * time.Second},
		{86400, 600 * time.Second},
	}
	for _, tt := range tests {
		f := newFixture(t, "t")
		f.gen.err = &figma.RateLimitError{Status: 503, RetryAfterSec: tt.retryAfter}
		g, _ := f.seed(t, figmaSource)

		_, err := f.proc.ProcessJob(context.Background(), f.claim(t, g.ID))
		require.NoError(t, err)
		assert.Equal(t, f.clock.Now().Add(tt.want), f.job(t, g.ID).NextAttemptAt, "retry-after %d", tt.retryAfter)
	}
}

func TestProcessJob_RequiresClaim(t *testing.T) {
	f := newFixture(t, "t")
	_, job := f.seed(t, figmaSource)
	_, err := f.proc.ProcessJob(context.Background(), job)
	assert.ErrorIs(t, err, ErrNotClaimed)
}

func TestRetryPolicy_Clamp(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, DefaultRetryDefault, p.Clamp(-1))
	assert.Equal(t, DefaultRetryMin, p.Clamp(time.Second))
	assert.Equal(t, 90*time.Second, p.Clamp(90*time.Second))
	assert.Equal(t, DefaultRetryMax, p.Clamp(time.Hour))
	assert.Equal(t, DefaultRetryDefault, p.ClampRetryAfter(-5))
	assert.Equal(t, DefaultRetryMax, p.ClampRetryAfter(601))

	custom := RetryPolicy{Min: 10 * time.Second, Max: 20 * time.Second, Default: 15 * time.Second}
	assert.Equal(t, 10*time.Second, custom.ClampRetryAfter(1))
	assert.Equal(t, 15*time.Second, custom.ClampRetryAfter(-1))
}

func TestRunner_ClampLimit(t *testing.T) {
	f := newFixture(t, "")
	assert.Equal(t, 5, f.runner.ClampLimit(0))
	assert.Equal(t, 5, f.runner.ClampLimit(-3))
	assert.Equal(t, 1, f.runner.ClampLimit(1))
	assert.Equal(t, 10, f.runner.ClampLimit(50))

	r := NewRunner(f.store, f.proc, RunnerConfig{DefaultLimit: 20, MaxLimit: 3})
	assert.Equal(t, 3, r.ClampLimit(0))
	assert.Equal(t, DefaultLease, r.Lease())
}

func TestRunner_RunCron(t *testing.T) {
	f := newFixture(t, "t")
	for i := 0; i < 3; i++ {
		f.seed(t, figmaSource)
	}

	summary, err := f.runner.RunCron(context.Background(), 2)
	require.NoError(t, err)
	assert.True(t, summary.OK)
	assert.Equal(t, 2, summary.Claimed)
	assert.Len(t, summary.Results, 2)
	assert.Contains(t, summary.WorkerID, TriggerCron+":")
	for _, r := range summary.Results {
		assert.Equal(t, types.JobStatusSucceeded, r.Status)
	}

	summary, err = f.runner.RunCron(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Claimed)

	summary, err = f.runner.RunCron(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, summary.Claimed)
	assert.NotNil(t, summary.Results)
}

func TestRunner_RunPoll(t *testing.T) {
	f := newFixture(t, "t")
	ctx := context.Background()
	f.gen.err = &figma.RateLimitError{Status: 429, RetryAfterSec: 60}
	g, _ := f.seed(t, figmaSource)

	res := f.runner.RunPoll(ctx, g.ID)
	require.NotNil(t, res)
	assert.Equal(t, types.JobStatusWaiting, res.Status)

	assert.Nil(t, f.runner.RunPoll(ctx, g.ID), "not due yet")
	assert.Nil(t, f.runner.RunPoll(ctx, uuid.New()), "no job")

	f.clock.Advance(time.Minute)
	f.gen.err = nil
	res = f.runner.RunPoll(ctx, g.ID)
	require.NotNil(t, res)
	assert.Equal(t, types.JobStatusSucceeded, res.Status)
}

func TestRunner_ConcurrentTriggersRunOnce(t *testing.T) {
	f := newFixture(t, "t")
	f.gen.delay = 20 * time.Millisecond
	g, _ := f.seed(t, figmaSource)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(3)
		go func() { defer wg.Done(); f.runner.RunInline(ctx, g.ID) }()
		go func() { defer wg.Done(); f.runner.RunPoll(ctx, g.ID) }()
		go func() {
			defer wg.Done()
			_, err := f.runner.RunCron(ctx, 5)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&f.gen.calls))
	assert.Equal(t, types.JobStatusSucceeded, f.job(t, g.ID).Status)
}

func TestRunner_Kick(t *testing.T) {
	f := newFixture(t, "t")
	ctx := context.Background()
	f.gen.err = &figma.RateLimitError{Status: 429, RetryAfterSec: 300}
	g, _ := f.seed(t, figmaSource)
	require.NotNil(t, f.runner.RunInline(ctx, g.ID))

	require.NoError(t, f.runner.Kick(ctx, g.ID))
	job := f.job(t, g.ID)
	assert.Equal(t, types.JobStatusQueued, job.Status)
	assert.Equal(t, f.clock.Now(), job.NextAttemptAt)

	f.gen.err = nil
	require.NotNil(t, f.runner.RunInline(ctx, g.ID))
	assert.ErrorIs(t, f.runner.Kick(ctx, g.ID), ErrNotKickable)
	assert.ErrorIs(t, f.runner.Kick(ctx, uuid.New()), ErrJobNotFound)
}

func TestRunner_Cancel(t *testing.T) {
	f := newFixture(t, "t")
	ctx := context.Background()
	g, _ := f.seed(t, figmaSource)

	job, err := f.runner.Cancel(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCancelled, job.Status)

	gen := f.generation(t, g.ID)
	assert.Equal(t, types.GenerationStatusFailed, gen.Status)
	assert.Equal(t, StateCancelled, gen.WaitState())

	assert.Nil(t, f.runner.RunInline(ctx, g.ID), "cancelled job is never claimed")
	_, err = f.runner.Cancel(ctx, g.ID)
	assert.ErrorIs(t, err, ErrNotCancellable)
	_, err = f.runner.Cancel(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestRunner_CancelRunningJobRefused(t *testing.T) {
	f := newFixture(t, "t")
	g, _ := f.seed(t, figmaSource)
	f.claim(t, g.ID)

	_, err := f.runner.Cancel(context.Background(), g.ID)
	assert.True(t, errors.Is(err, ErrNotCancellable))
}

func TestWorkerID(t *testing.T) {
	a, b := WorkerID(TriggerInline), WorkerID(TriggerInline)
	assert.NotEqual(t, a, b)
	assert.Contains(t, a, "inline:")
}
