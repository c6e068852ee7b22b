package observe

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/psantana5/pfrun/pkg/models"
)

// MaxRunningProgress caps the progress of a job that has not finished, so an
// ETA overrun never reads as complete.
const MaxRunningProgress = 0.98

// DefaultHistory is how many recent jobs feed the ETA estimate
const DefaultHistory = 50

// timestamps without a zone are what the backend emits for naive datetimes;
// they are read as UTC
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp reads an ISO-8601 timestamp as sent by the backend
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Timing is the created/updated pair of one job
type Timing struct {
	CreatedAt  time.Time
	UpdatedAt  time.Time
	HasCreated bool
	HasUpdated bool
}

// NewTiming parses the raw timestamps of a job
func NewTiming(job *models.Job) Timing {
	var t Timing
	t.CreatedAt, t.HasCreated = ParseTimestamp(job.CreatedAt)
	t.UpdatedAt, t.HasUpdated = ParseTimestamp(job.UpdatedAt)
	return t
}

// Duration returns updated - created when both parse and are ordered
func (t Timing) Duration() (time.Duration, bool) {
	if !t.HasCreated || !t.HasUpdated || t.UpdatedAt.Before(t.CreatedAt) {
		return 0, false
	}
	return t.UpdatedAt.Sub(t.CreatedAt), true
}

// Sample returns the runtime of a finished job in seconds. Jobs still in
// flight and jobs with unreadable or reversed timestamps yield no sample.
func Sample(job *models.Job) (float64, bool) {
	if !job.State.IsTerminal() {
		return 0, false
	}
	d, ok := NewTiming(job).Duration()
	if !ok {
		return 0, false
	}
	return d.Seconds(), true
}

// EstimateSeconds averages the runtimes of the finished jobs in the list.
// Returns false when no job produced a sample.
func EstimateSeconds(jobs []models.Job) (float64, bool) {
	var sum float64
	var n int
	for i := range jobs {
		if s, ok := Sample(&jobs[i]); ok {
			sum += s
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// Elapsed returns how long a job has been going. Finished jobs report their
// fixed runtime; otherwise the clock runs from created_at to now. Returns
// false when created_at cannot be read.
func Elapsed(job *models.Job, now time.Time) (float64, bool) {
	t := NewTiming(job)
	if !t.HasCreated {
		return 0, false
	}
	if job.State.IsTerminal() {
		if d, ok := t.Duration(); ok {
			return d.Seconds(), true
		}
	}
	return now.Sub(t.CreatedAt).Seconds(), true
}

// Progress is a completion fraction. Determinate is false when there is no
// basis for a number and a busy indicator should be shown instead.
type Progress struct {
	Value       float64
	Determinate bool
}

// Percent rounds the progress to a whole percentage
func (p Progress) Percent() int {
	return int(math.Round(p.Value * 100))
}

// ComputeProgress derives progress from state, elapsed time and the ETA
func ComputeProgress(state models.JobState, elapsed float64, hasElapsed bool, eta float64, hasETA bool) Progress {
	if state.IsTerminal() {
		return Progress{Value: 1, Determinate: true}
	}
	if !hasETA || !hasElapsed {
		return Progress{}
	}
	var v float64
	switch {
	case eta > 0:
		v = elapsed / eta
	case elapsed > 0:
		// a zero estimate is already overrun
		v = MaxRunningProgress
	}
	if v < 0 || math.IsNaN(v) {
		v = 0
	}
	if v > MaxRunningProgress {
		v = MaxRunningProgress
	}
	return Progress{Value: v, Determinate: true}
}

// Remaining is max(0, eta - elapsed). Unknown when either input is.
func Remaining(eta float64, hasETA bool, elapsed float64, hasElapsed bool) (float64, bool) {
	if !hasETA || !hasElapsed {
		return 0, false
	}
	return math.Max(0, eta-elapsed), true
}

// FormatSeconds renders a duration as "42s" or "3m 7s"
func FormatSeconds(sec float64) string {
	if math.IsNaN(sec) || math.IsInf(sec, 0) || sec < 0 {
		return "—"
	}
	s := int(math.Round(sec))
	if s < 60 {
		return fmt.Sprintf("%ds", s)
	}
	return fmt.Sprintf("%dm %ds", s/60, s%60)
}

// FormatOptional renders an optional duration, "—" when absent
func FormatOptional(sec float64, ok bool) string {
	if !ok {
		return "—"
	}
	return FormatSeconds(sec)
}
