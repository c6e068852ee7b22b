package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/psantana5/pfrun/internal/observe"
	"github.com/psantana5/pfrun/pkg/logging"
	"github.com/psantana5/pfrun/pkg/metrics"
	"github.com/psantana5/pfrun/pkg/models"
	"github.com/psantana5/pfrun/pkg/ratelimit"
	"github.com/psantana5/pfrun/pkg/stream"
)

var (
	// ErrNotRunning is returned by Stop unless the job is running
	ErrNotRunning = errors.New("job is not running")
	// ErrStopInProgress is returned by Stop while an earlier stop is pending
	ErrStopInProgress = errors.New("stop already in progress")
	// ErrClosed is returned once the session has been closed
	ErrClosed = errors.New("monitor session closed")
)

// Default session settings
const (
	DefaultPollInterval = time.Second
	DefaultRenderRate   = 4.0
)

// Backend is the part of the job API the monitor depends on
type Backend interface {
	GetStatus(ctx context.Context, jobID string) (*models.Job, error)
	ListJobs(ctx context.Context, limit int) ([]models.Job, error)
	StopJob(ctx context.Context, jobID string) (*models.StopResponse, error)
}

// LogSubscription is a live log stream for one job
type LogSubscription interface {
	Buffer() *stream.Buffer
	// Done is closed once the server has ended the stream
	Done() <-chan struct{}
	Close() error
}

// LogSource opens log subscriptions
type LogSource interface {
	Subscribe(ctx context.Context, jobID string, onMessage func(string), onError func(error)) (LogSubscription, error)
}

// Config controls a monitor session
type Config struct {
	JobID        string
	PollInterval time.Duration
	// ETAHistory is how many recent jobs feed the runtime estimate
	ETAHistory int

	// OnUpdate receives snapshots. Log chunks are throttled per job by
	// Limiter; state, error and stop changes are always delivered. It must
	// not call Close.
	OnUpdate func(Snapshot)
	Limiter  *ratelimit.Limiter

	Logger  *logging.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Session monitors one job: it polls status, loads the ETA estimate,
// follows the log stream and can request a stop. Close tears all of it down
// at once; nothing that resolves afterwards changes the session.
type Session struct {
	id      string
	jobID   string
	backend Backend
	logs    LogSource
	cfg     Config
	logger  *logging.Logger
	metrics *metrics.Metrics
	limiter *ratelimit.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	started   bool
	closed    bool
	gen       uint64
	inFlight  bool
	job       *models.Job
	fetchErr  string
	streamErr string
	stopErr   string
	stopStat  string
	stopping  bool
	eta       float64
	hasETA    bool
	polls     int
	polledAt  time.Time
	sub       LogSubscription

	emitMu       sync.Mutex
	terminal     chan struct{}
	terminalOnce sync.Once
	done         chan struct{}
	// subscribed is closed once the log subscription attempt has settled
	subscribed chan struct{}
}

// NewSession prepares a session; nothing happens until Start
func NewSession(backend Backend, logs LogSource, cfg Config) (*Session, error) {
	if cfg.JobID == "" {
		return nil, fmt.Errorf("job id is required")
	}
	if backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ETAHistory <= 0 {
		cfg.ETAHistory = observe.DefaultHistory
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Limiter == nil {
		cfg.Limiter = ratelimit.NewLimiter(DefaultRenderRate, 1)
	}

	id := uuid.New().String()
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.WithField("job_id", cfg.JobID).WithField("session_id", id)

	ctx, cancel := context.WithCancel(context.Background())
	subscribed := make(chan struct{})
	if logs == nil {
		close(subscribed)
	}
	return &Session{
		id:         id,
		jobID:      cfg.JobID,
		backend:    backend,
		logs:       logs,
		cfg:        cfg,
		logger:     logger,
		metrics:    cfg.Metrics,
		limiter:    cfg.Limiter,
		ctx:        ctx,
		cancel:     cancel,
		terminal:   make(chan struct{}),
		done:       make(chan struct{}),
		subscribed: subscribed,
	}, nil
}

// ID returns the session id used in log fields
func (s *Session) ID() string {
	return s.id
}

// JobID returns the monitored job
func (s *Session) JobID() string {
	return s.jobID
}

// Start begins polling immediately, then once per PollInterval. It also
// loads the ETA estimate and opens the log stream in the background.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("monitor session already started")
	}
	s.started = true
	s.mu.Unlock()

	s.logger.Info("Monitoring job", map[string]interface{}{"poll_interval": s.cfg.PollInterval.String()})

	go s.pollLoop()
	go s.loadETA()
	if s.logs != nil {
		go s.subscribe()
	}
	return nil
}

// Close stops polling, closes the log stream and discards any response
// still in flight. It does not wait for outstanding requests.
func (s *Session) Close() error {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.gen++
	sub := s.sub
	s.mu.Unlock()

	s.cancel()
	close(s.done)
	s.limiter.Forget(s.jobID)

	var err error
	if sub != nil {
		err = sub.Close()
	}
	s.logger.Debug("Monitor session closed")
	return err
}

// Done is closed by Close
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Terminal is closed once a poll reports a finished job
func (s *Session) Terminal() <-chan struct{} {
	return s.terminal
}

// WaitTerminal blocks until the job finishes, the session closes or ctx ends
func (s *Session) WaitTerminal(ctx context.Context) (Snapshot, error) {
	select {
	case <-s.terminal:
		return s.Snapshot(), nil
	case <-s.done:
		return s.Snapshot(), ErrClosed
	case <-ctx.Done():
		return s.Snapshot(), ctx.Err()
	}
}

func (s *Session) pollLoop() {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.tick()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick starts one status request unless the previous one is still pending
func (s *Session) tick() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.inFlight {
		s.mu.Unlock()
		s.metrics.IncPoll("skipped")
		return
	}
	s.inFlight = true
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	go func() {
		job, err := s.backend.GetStatus(s.ctx, s.jobID)
		s.applyStatus(gen, job, err)
	}()
}

func (s *Session) applyStatus(gen uint64, job *models.Job, err error) {
	s.mu.Lock()
	if gen == s.gen {
		s.inFlight = false
	}
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		s.metrics.IncPoll("stale")
		return
	}

	prevState := s.state()
	prevErr := s.fetchErr
	s.polls++
	s.polledAt = s.cfg.Now()

	if err != nil {
		s.fetchErr = err.Error()
	} else {
		j := *job
		j.CPUs = copyInt(job.CPUs)
		j.ExitCode = copyInt(job.ExitCode)
		if job.Error != nil {
			msg := *job.Error
			j.Error = &msg
		}
		s.job = &j
		s.fetchErr = ""
	}

	state := s.state()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if err != nil {
		s.metrics.IncPoll("failed")
		if prevErr != snap.FetchError {
			s.logger.Warn("Status poll failed", map[string]interface{}{"error": snap.FetchError})
		}
	} else {
		s.metrics.IncPoll("applied")
		s.metrics.SetProgress(snap.Progress.Value)
	}
	if state != prevState {
		s.logger.Info("Job state changed", map[string]interface{}{
			"from": prevState.String(),
			"to":   state.String(),
		})
	}

	s.emit(snap, state != prevState || prevErr != snap.FetchError)

	if state.IsTerminal() {
		s.terminalOnce.Do(func() { close(s.terminal) })
	}
}

func (s *Session) loadETA() {
	jobs, err := s.backend.ListJobs(s.ctx, s.cfg.ETAHistory)
	if err != nil {
		s.logger.Debug("ETA history unavailable", map[string]interface{}{"error": err.Error()})
		return
	}
	eta, ok := observe.EstimateSeconds(jobs)
	if !ok {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.eta, s.hasETA = eta, true
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.metrics.SetETA(eta)
	s.logger.Debug("ETA estimate loaded", map[string]interface{}{"eta_seconds": eta, "samples_from": len(jobs)})
	s.emit(snap, true)
}

func (s *Session) subscribe() {
	defer close(s.subscribed)
	sub, err := s.logs.Subscribe(s.ctx, s.jobID, s.onLogChunk, s.onStreamError)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		if sub != nil {
			sub.Close()
		}
		return
	}
	if err != nil {
		s.streamErr = err.Error()
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.logger.Warn("Log stream unavailable", map[string]interface{}{"error": err.Error()})
		s.emit(snap, true)
		return
	}
	s.sub = sub
	s.mu.Unlock()
}

// DrainLogs waits for the server to finish the log stream, which happens
// shortly after the job ends. It returns at once when there is no stream,
// and ErrClosed or ctx.Err() if the session closes or ctx ends first. Call
// it before Close to keep the tail of the log.
func (s *Session) DrainLogs(ctx context.Context) error {
	select {
	case <-s.subscribed:
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	sub := s.sub
	s.mu.Unlock()
	if sub == nil {
		return nil
	}

	select {
	case <-sub.Done():
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) onLogChunk(string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(snap, false)
}

func (s *Session) onStreamError(err error) {
	s.mu.Lock()
	if s.closed || s.streamErr != "" {
		s.mu.Unlock()
		return
	}
	s.streamErr = err.Error()
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(snap, true)
}

// Stop asks the backend to stop the job. It is only allowed while the job
// is running, and only one stop may be pending at a time. The local state is
// left alone; the next poll reports the outcome.
func (s *Session) Stop(ctx context.Context) (*models.StopResponse, error) {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return nil, ErrClosed
	case s.stopping:
		s.mu.Unlock()
		return nil, ErrStopInProgress
	case s.state() != models.StateRunning:
		s.mu.Unlock()
		return nil, ErrNotRunning
	}
	s.stopping = true
	s.stopErr = ""
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(snap, true)

	s.logger.Info("Stopping job")
	resp, err := s.backend.StopJob(ctx, s.jobID)

	s.mu.Lock()
	closed := s.closed
	if !closed {
		s.stopping = false
		if err != nil {
			s.stopErr = err.Error()
		} else {
			s.stopStat = resp.Status
		}
		snap = s.snapshotLocked()
	}
	s.mu.Unlock()

	if !closed {
		s.emit(snap, true)
	}

	if err != nil {
		s.metrics.IncStop("error")
		s.logger.Error("Stop request failed", map[string]interface{}{"error": err.Error()})
		return nil, err
	}
	s.metrics.IncStop(resp.Status)
	s.logger.Info("Stop acknowledged", map[string]interface{}{"status": resp.Status})
	return resp, nil
}

// Snapshot returns the current view state
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) state() models.JobState {
	if s.job == nil {
		return models.StateUnknown
	}
	return s.job.State
}

func (s *Session) snapshotLocked() Snapshot {
	now := s.cfg.Now()
	snap := Snapshot{
		SessionID:   s.id,
		JobID:       s.jobID,
		State:       s.state(),
		FetchError:  s.fetchErr,
		StreamError: s.streamErr,
		StopError:   s.stopErr,
		StopStatus:  s.stopStat,
		ETA:         s.eta,
		HasETA:      s.hasETA,
		Stopping:    s.stopping,
		Polls:       s.polls,
		PolledAt:    s.polledAt,
		TakenAt:     now,
	}
	snap.StopEnabled = snap.State == models.StateRunning && !s.stopping && !s.closed

	if s.job != nil {
		snap.CreatedAt = s.job.CreatedAt
		snap.UpdatedAt = s.job.UpdatedAt
		snap.Workers = copyInt(s.job.CPUs)
		snap.ExitCode = copyInt(s.job.ExitCode)
		snap.JobError = s.job.ErrorMessage()
		snap.Elapsed, snap.HasElapsed = observe.Elapsed(s.job, now)
	}
	snap.Remaining, snap.HasRemaining = observe.Remaining(s.eta, s.hasETA, snap.Elapsed, snap.HasElapsed)
	snap.Progress = observe.ComputeProgress(snap.State, snap.Elapsed, snap.HasElapsed, s.eta, s.hasETA)

	if s.sub != nil {
		snap.Log = s.sub.Buffer().String()
	}
	return snap
}

// emit delivers a snapshot outside the state lock. Unforced snapshots are
// subject to the render limiter. Nothing is delivered after Close.
func (s *Session) emit(snap Snapshot, force bool) {
	if s.cfg.OnUpdate == nil {
		return
	}
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	if !force && !s.limiter.Allow(s.jobID) {
		return
	}
	s.cfg.OnUpdate(snap)
}
