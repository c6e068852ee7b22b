package monitor

import (
	"time"

	"github.com/psantana5/pfrun/internal/observe"
	"github.com/psantana5/pfrun/pkg/models"
)

// Snapshot is a point-in-time copy of everything the monitor view shows.
// It shares no memory with the session.
type Snapshot struct {
	SessionID string
	JobID     string
	State     models.JobState

	CreatedAt string
	UpdatedAt string
	Workers   *int
	ExitCode  *int
	JobError  string

	// FetchError is the message of the latest failed poll, cleared by the
	// next successful one
	FetchError  string
	StreamError string
	StopError   string
	StopStatus  string

	Elapsed      float64
	HasElapsed   bool
	ETA          float64
	HasETA       bool
	Remaining    float64
	HasRemaining bool
	Progress     observe.Progress

	StopEnabled bool
	Stopping    bool

	Log      string
	Polls    int
	PolledAt time.Time
	TakenAt  time.Time
}

// Terminal reports whether the job has finished
func (s Snapshot) Terminal() bool {
	return s.State.IsTerminal()
}

// ElapsedText renders elapsed time, "—" when unknown
func (s Snapshot) ElapsedText() string {
	return observe.FormatOptional(s.Elapsed, s.HasElapsed)
}

// RemainingText renders the remaining estimate, "—" when unknown
func (s Snapshot) RemainingText() string {
	return observe.FormatOptional(s.Remaining, s.HasRemaining)
}

// StateText renders the state, "unknown" before the first poll lands
func (s Snapshot) StateText() string {
	return s.State.String()
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
