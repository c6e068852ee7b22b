package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/psantana5/pfrun/internal/monitor"
)

// renderer prints monitor snapshots as they arrive: new log text verbatim
// and a status line whenever the state, progress or an error changes
type renderer struct {
	mu       sync.Mutex
	out      io.Writer
	json     bool
	showLogs bool

	logOffset int
	lastKey   string
	lastFetch string
	lastStrm  string
	lastStop  string
}

func newRenderer(out io.Writer, jsonOutput, showLogs bool) *renderer {
	return &renderer{out: out, json: jsonOutput, showLogs: showLogs}
}

// monitorEvent is one JSON line of monitor output
type monitorEvent struct {
	JobID       string   `json:"job_id"`
	State       string   `json:"state"`
	Elapsed     *float64 `json:"elapsed_seconds,omitempty"`
	Remaining   *float64 `json:"remaining_seconds,omitempty"`
	Progress    *float64 `json:"progress,omitempty"`
	ExitCode    *int     `json:"exit_code,omitempty"`
	Error       string   `json:"error,omitempty"`
	FetchError  string   `json:"fetch_error,omitempty"`
	StreamError string   `json:"stream_error,omitempty"`
	StopError   string   `json:"stop_error,omitempty"`
	StopStatus  string   `json:"stop_status,omitempty"`
	Log         string   `json:"log,omitempty"`
}

func optional(v float64, ok bool) *float64 {
	if !ok {
		return nil
	}
	return &v
}

func (r *renderer) logDelta(snap monitor.Snapshot) string {
	if len(snap.Log) <= r.logOffset {
		return ""
	}
	delta := snap.Log[r.logOffset:]
	r.logOffset = len(snap.Log)
	return delta
}

func progressText(snap monitor.Snapshot) string {
	if !snap.Progress.Determinate {
		return "…"
	}
	return fmt.Sprintf("%d%%", snap.Progress.Percent())
}

// Render prints whatever changed since the previous snapshot
func (r *renderer) Render(snap monitor.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delta := ""
	if r.showLogs {
		delta = r.logDelta(snap)
	}

	if r.json {
		ev := monitorEvent{
			JobID:       snap.JobID,
			State:       snap.StateText(),
			Elapsed:     optional(snap.Elapsed, snap.HasElapsed),
			Remaining:   optional(snap.Remaining, snap.HasRemaining),
			ExitCode:    snap.ExitCode,
			Error:       snap.JobError,
			FetchError:  snap.FetchError,
			StreamError: snap.StreamError,
			StopError:   snap.StopError,
			StopStatus:  snap.StopStatus,
			Log:         delta,
		}
		if snap.Progress.Determinate {
			ev.Progress = &snap.Progress.Value
		}
		json.NewEncoder(r.out).Encode(ev)
		return
	}

	if delta != "" {
		io.WriteString(r.out, delta)
	}

	if snap.FetchError != r.lastFetch {
		if snap.FetchError != "" {
			fmt.Fprintf(r.out, "! status unavailable: %s\n", snap.FetchError)
		}
		r.lastFetch = snap.FetchError
	}
	if snap.StreamError != r.lastStrm {
		if snap.StreamError != "" {
			fmt.Fprintf(r.out, "! log stream: %s\n", snap.StreamError)
		}
		r.lastStrm = snap.StreamError
	}
	stop := snap.StopError + "|" + snap.StopStatus
	if stop != r.lastStop {
		switch {
		case snap.StopError != "":
			fmt.Fprintf(r.out, "! stop failed: %s\n", snap.StopError)
		case snap.StopStatus != "":
			fmt.Fprintf(r.out, "Stop requested: %s\n", snap.StopStatus)
		}
		r.lastStop = stop
	}

	key := snap.StateText() + " " + progressText(snap)
	if key == r.lastKey || snap.Polls == 0 {
		return
	}
	r.lastKey = key

	if snap.Terminal() {
		line := fmt.Sprintf("[%s] runtime %s", snap.StateText(), snap.ElapsedText())
		if snap.ExitCode != nil {
			line += fmt.Sprintf("  exit code %d", *snap.ExitCode)
		}
		if snap.JobError != "" {
			line += "  error: " + snap.JobError
		}
		fmt.Fprintln(r.out, line)
		return
	}
	fmt.Fprintf(r.out, "[%s] elapsed %s  remaining %s  progress %s\n",
		snap.StateText(), snap.ElapsedText(), snap.RemainingText(), progressText(snap))
}
