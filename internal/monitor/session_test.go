package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/psantana5/pfrun/pkg/models"
	"github.com/psantana5/pfrun/pkg/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusReply struct {
	job *models.Job
	err error
}

type fakeBackend struct {
	mu        sync.Mutex
	replies   []statusReply
	calls     int
	gate      chan struct{}
	ctxs      []context.Context
	jobs      []models.Job
	listErr   error
	stopGate  chan struct{}
	stopResp  *models.StopResponse
	stopErr   error
	stopCalls int
}

func (f *fakeBackend) GetStatus(ctx context.Context, jobID string) (*models.Job, error) {
	f.mu.Lock()
	f.calls++
	f.ctxs = append(f.ctxs, ctx)
	gate := f.gate
	i := f.calls - 1
	if i >= len(f.replies) {
		i = len(f.replies) - 1
	}
	reply := f.replies[i]
	f.mu.Unlock()

	if gate != nil {
		// a slow backend that answers even after cancellation
		<-gate
	}
	return reply.job, reply.err
}

func (f *fakeBackend) ListJobs(ctx context.Context, limit int) ([]models.Job, error) {
	return f.jobs, f.listErr
}

func (f *fakeBackend) StopJob(ctx context.Context, jobID string) (*models.StopResponse, error) {
	f.mu.Lock()
	f.stopCalls++
	gate := f.stopGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return f.stopResp, f.stopErr
}

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func running(id string) *models.Job {
	cpus := 2
	return &models.Job{ID: id, State: models.StateRunning, CreatedAt: "2024-01-01T00:00:00Z", UpdatedAt: "2024-01-01T00:00:05Z", CPUs: &cpus}
}

func finished(id string, state models.JobState) *models.Job {
	code := 0
	return &models.Job{ID: id, State: state, CreatedAt: "2024-01-01T00:00:00Z", UpdatedAt: "2024-01-01T00:02:00Z", ExitCode: &code}
}

type updates struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (u *updates) add(s Snapshot) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.snaps = append(u.snaps, s)
}

func (u *updates) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.snaps)
}

func fixedNow() time.Time {
	return time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC)
}

func newTestSession(t *testing.T, b Backend, logs LogSource, u *updates) *Session {
	t.Helper()
	cfg := Config{JobID: "job-1", PollInterval: 10 * time.Millisecond, Now: fixedNow}
	if u != nil {
		cfg.OnUpdate = u.add
	}
	s, err := NewSession(b, logs, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionFollowsPolledState(t *testing.T) {
	b := &fakeBackend{replies: []statusReply{
		{job: running("job-1")},
		{job: running("job-1")},
		{job: finished("job-1", models.StateSucceeded)},
	}}
	s := newTestSession(t, b, nil, nil)
	assert.Equal(t, models.StateUnknown, s.Snapshot().State)

	require.NoError(t, s.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := s.WaitTerminal(ctx)
	require.NoError(t, err)

	assert.Equal(t, models.StateSucceeded, snap.State)
	assert.True(t, snap.HasElapsed)
	assert.Equal(t, 120.0, snap.Elapsed, "finished jobs report a fixed runtime")
	assert.Equal(t, 1.0, snap.Progress.Value)
	assert.False(t, snap.StopEnabled)
	require.NotNil(t, snap.ExitCode)
	assert.Equal(t, 0, *snap.ExitCode)
}

func TestSessionRunningSnapshot(t *testing.T) {
	b := &fakeBackend{replies: []statusReply{{job: running("job-1")}}}
	s := newTestSession(t, b, nil, nil)
	require.NoError(t, s.Start())

	require.Eventually(t, func() bool { return s.Snapshot().State == models.StateRunning }, 5*time.Second, 5*time.Millisecond)
	snap := s.Snapshot()
	assert.Equal(t, 60.0, snap.Elapsed, "running jobs count up to now")
	assert.True(t, snap.StopEnabled)
	require.NotNil(t, snap.Workers)
	assert.Equal(t, 2, *snap.Workers)
	assert.False(t, snap.Progress.Determinate, "no ETA history means an indeterminate bar")
	assert.Equal(t, "1m 0s", snap.ElapsedText())
	assert.Equal(t, "—", snap.RemainingText())
}

func TestSessionKeepsStateOnFetchError(t *testing.T) {
	b := &fakeBackend{replies: []statusReply{
		{job: running("job-1")},
		{err: errors.New("502 Bad Gateway")},
		{err: errors.New("502 Bad Gateway")},
		{job: running("job-1")},
	}}
	u := &updates{}
	s := newTestSession(t, b, nil, u)
	require.NoError(t, s.Start())

	require.Eventually(t, func() bool { return b.callCount() >= 4 }, 5*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return s.Snapshot().Polls >= 4 }, 5*time.Second, 5*time.Millisecond)

	snap := s.Snapshot()
	assert.Equal(t, models.StateRunning, snap.State)
	assert.Empty(t, snap.FetchError, "a successful poll clears the error")

	u.mu.Lock()
	defer u.mu.Unlock()
	var sawError bool
	for _, us := range u.snaps {
		if us.FetchError == "502 Bad Gateway" {
			sawError = true
			assert.Equal(t, models.StateRunning, us.State)
		}
	}
	assert.True(t, sawError)
}

func TestSessionCloseDiscardsLateResponse(t *testing.T) {
	gate := make(chan struct{})
	b := &fakeBackend{gate: gate, replies: []statusReply{{job: finished("job-1", models.StateSucceeded)}}}
	u := &updates{}
	s := newTestSession(t, b, nil, u)
	require.NoError(t, s.Start())

	require.Eventually(t, func() bool { return b.callCount() == 1 }, 5*time.Second, time.Millisecond)
	require.NoError(t, s.Close())

	b.mu.Lock()
	ctx := b.ctxs[0]
	b.mu.Unlock()
	assert.Error(t, ctx.Err(), "close cancels the in-flight request")

	close(gate)
	time.Sleep(50 * time.Millisecond)

	snap := s.Snapshot()
	assert.Equal(t, models.StateUnknown, snap.State)
	assert.Equal(t, 0, snap.Polls)
	assert.Equal(t, 0, u.count())
	assert.Equal(t, 1, b.callCount(), "no polling after close")

	select {
	case <-s.Terminal():
		t.Fatal("late response must not mark the session terminal")
	default:
	}
}

func TestSessionSkipsTickWhileInFlight(t *testing.T) {
	gate := make(chan struct{})
	b := &fakeBackend{gate: gate, replies: []statusReply{{job: running("job-1")}}}
	s := newTestSession(t, b, nil, nil)
	require.NoError(t, s.Start())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, b.callCount())

	b.mu.Lock()
	b.gate = nil
	b.mu.Unlock()
	close(gate)

	require.Eventually(t, func() bool { return b.callCount() > 1 }, 5*time.Second, 5*time.Millisecond)
}

func TestSessionStop(t *testing.T) {
	b := &fakeBackend{
		replies:  []statusReply{{job: running("job-1")}},
		stopResp: &models.StopResponse{Status: models.StopStatusStopped, JobID: "job-1"},
	}
	s := newTestSession(t, b, nil, nil)

	_, err := s.Stop(context.Background())
	assert.ErrorIs(t, err, ErrNotRunning)

	require.NoError(t, s.Start())
	require.Eventually(t, func() bool { return s.Snapshot().State == models.StateRunning }, 5*time.Second, 5*time.Millisecond)

	resp, err := s.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.StopStatusStopped, resp.Status)

	snap := s.Snapshot()
	assert.Equal(t, models.StateRunning, snap.State, "stop never changes state locally")
	assert.Equal(t, models.StopStatusStopped, snap.StopStatus)
	assert.False(t, snap.Stopping)
}

func TestSessionStopBusy(t *testing.T) {
	stopGate := make(chan struct{})
	b := &fakeBackend{
		replies:  []statusReply{{job: running("job-1")}},
		stopGate: stopGate,
		stopResp: &models.StopResponse{Status: models.StopStatusStopped, JobID: "job-1"},
	}
	s := newTestSession(t, b, nil, nil)
	require.NoError(t, s.Start())
	require.Eventually(t, func() bool { return s.Snapshot().State == models.StateRunning }, 5*time.Second, 5*time.Millisecond)

	first := make(chan error, 1)
	go func() {
		_, err := s.Stop(context.Background())
		first <- err
	}()
	require.Eventually(t, func() bool { return s.Snapshot().Stopping }, 5*time.Second, time.Millisecond)
	assert.False(t, s.Snapshot().StopEnabled)

	_, err := s.Stop(context.Background())
	assert.ErrorIs(t, err, ErrStopInProgress)

	close(stopGate)
	require.NoError(t, <-first)

	b.mu.Lock()
	assert.Equal(t, 1, b.stopCalls)
	b.mu.Unlock()
}

func TestSessionStopError(t *testing.T) {
	b := &fakeBackend{
		replies: []statusReply{{job: running("job-1")}},
		stopErr: errors.New("Job not found"),
	}
	s := newTestSession(t, b, nil, nil)
	require.NoError(t, s.Start())
	require.Eventually(t, func() bool { return s.Snapshot().State == models.StateRunning }, 5*time.Second, 5*time.Millisecond)

	_, err := s.Stop(context.Background())
	require.Error(t, err)
	assert.Equal(t, "Job not found", s.Snapshot().StopError)
	assert.True(t, s.Snapshot().StopEnabled)
}

func TestSessionETA(t *testing.T) {
	b := &fakeBackend{
		replies: []statusReply{{job: running("job-1")}},
		jobs: []models.Job{
			*finished("a", models.StateSucceeded),
			*finished("b", models.StateFailed),
			*running("c"),
		},
	}
	s := newTestSession(t, b, nil, nil)
	require.NoError(t, s.Start())

	require.Eventually(t, func() bool {
		snap := s.Snapshot()
		return snap.HasETA && snap.State == models.StateRunning
	}, 5*time.Second, 5*time.Millisecond)

	snap := s.Snapshot()
	assert.Equal(t, 120.0, snap.ETA)
	assert.True(t, snap.Progress.Determinate)
	assert.InDelta(t, 0.5, snap.Progress.Value, 1e-9)
	require.True(t, snap.HasRemaining)
	assert.Equal(t, 60.0, snap.Remaining)
}

func TestSessionClosedOperations(t *testing.T) {
	b := &fakeBackend{replies: []statusReply{{job: running("job-1")}}}
	s := newTestSession(t, b, nil, nil)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Start(), ErrClosed)
	_, err := s.Stop(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	_, err = s.WaitTerminal(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestNewSessionValidation(t *testing.T) {
	_, err := NewSession(&fakeBackend{}, nil, Config{})
	assert.Error(t, err)
	_, err = NewSession(nil, nil, Config{JobID: "x"})
	assert.Error(t, err)
}

type fakeSub struct {
	buf     *stream.Buffer
	mu      sync.Mutex
	closed  bool
	ended   chan struct{}
	endOnce sync.Once
}

func (f *fakeSub) Buffer() *stream.Buffer { return f.buf }

func (f *fakeSub) Done() <-chan struct{} { return f.ended }

// end simulates the server closing the stream normally
func (f *fakeSub) end() {
	f.endOnce.Do(func() { close(f.ended) })
}

func (f *fakeSub) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSub) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeSource struct {
	mu      sync.Mutex
	sub     *fakeSub
	onMsg   func(string)
	onErr   func(error)
	dialErr error
	ready   chan struct{}
}

func (f *fakeSource) Subscribe(ctx context.Context, jobID string, onMessage func(string), onError func(error)) (LogSubscription, error) {
	defer close(f.ready)
	if f.dialErr != nil {
		return nil, f.dialErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sub = &fakeSub{buf: &stream.Buffer{}, ended: make(chan struct{})}
	f.onMsg = onMessage
	f.onErr = onError
	return f.sub, nil
}

func (f *fakeSource) push(chunk string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sub.buf.Append(chunk)
	f.onMsg(chunk)
}

func TestSessionLogStream(t *testing.T) {
	b := &fakeBackend{replies: []statusReply{{job: running("job-1")}}}
	src := &fakeSource{ready: make(chan struct{})}
	s := newTestSession(t, b, src, nil)
	require.NoError(t, s.Start())
	<-src.ready

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.sub != nil
	}, 5*time.Second, time.Millisecond)

	src.push("line 1\n")
	src.push("line 2\n")
	assert.Equal(t, "line 1\nline 2\n", s.Snapshot().Log)

	src.onErr(stream.ErrStreamFailed)
	src.onErr(stream.ErrStreamFailed)
	assert.Equal(t, stream.ErrStreamFailed.Error(), s.Snapshot().StreamError)

	require.NoError(t, s.Close())
	assert.True(t, src.sub.isClosed())
}

func TestSessionLogStreamDialError(t *testing.T) {
	b := &fakeBackend{replies: []statusReply{{job: running("job-1")}}}
	src := &fakeSource{ready: make(chan struct{}), dialErr: stream.ErrStreamFailed}
	s := newTestSession(t, b, src, nil)
	require.NoError(t, s.Start())
	<-src.ready

	require.Eventually(t, func() bool { return s.Snapshot().StreamError != "" }, 5*time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return s.Snapshot().State == models.StateRunning }, 5*time.Second, time.Millisecond)
}

func TestSessionDrainKeepsLogTail(t *testing.T) {
	b := &fakeBackend{replies: []statusReply{{job: finished("job-1", models.StateSucceeded)}}}
	src := &fakeSource{ready: make(chan struct{})}
	s := newTestSession(t, b, src, nil)
	require.NoError(t, s.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.WaitTerminal(ctx)
	require.NoError(t, err)

	// the server keeps sending the tail for a while after the job ends
	go func() {
		<-src.ready
		src.push("start\n")
		time.Sleep(50 * time.Millisecond)
		src.push("Analysis complete\n")
		src.sub.end()
	}()

	require.NoError(t, s.DrainLogs(ctx))
	require.NoError(t, s.Close())
	assert.Equal(t, "start\nAnalysis complete\n", s.Snapshot().Log)
}

func TestSessionDrainTimeout(t *testing.T) {
	b := &fakeBackend{replies: []statusReply{{job: running("job-1")}}}
	src := &fakeSource{ready: make(chan struct{})}
	s := newTestSession(t, b, src, nil)
	require.NoError(t, s.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.DrainLogs(ctx), context.DeadlineExceeded)
}

func TestSessionDrainWithoutStream(t *testing.T) {
	b := &fakeBackend{replies: []statusReply{{job: running("job-1")}}}
	s := newTestSession(t, b, nil, nil)
	assert.NoError(t, s.DrainLogs(context.Background()))

	src := &fakeSource{ready: make(chan struct{}), dialErr: stream.ErrStreamFailed}
	failing := newTestSession(t, b, src, nil)
	require.NoError(t, failing.Start())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, failing.DrainLogs(ctx))

	closed := newTestSession(t, b, &fakeSource{ready: make(chan struct{})}, nil)
	require.NoError(t, closed.Close())
	assert.ErrorIs(t, closed.DrainLogs(context.Background()), ErrClosed)
}
