package cmd

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/psantana5/pfrun/internal/monitor"
	"github.com/psantana5/pfrun/internal/observe"
	"github.com/psantana5/pfrun/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runningSnapshot() monitor.Snapshot {
	return monitor.Snapshot{
		JobID:        "job1",
		State:        models.StateRunning,
		Elapsed:      60,
		HasElapsed:   true,
		ETA:          120,
		HasETA:       true,
		Remaining:    60,
		HasRemaining: true,
		Progress:     observe.Progress{Value: 0.5, Determinate: true},
		Polls:        1,
	}
}

func TestRendererStatusLine(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf, false, true)

	r.Render(monitor.Snapshot{JobID: "job1"})
	assert.Empty(t, buf.String(), "nothing is printed before the first poll")

	snap := runningSnapshot()
	r.Render(snap)
	assert.Equal(t, "[running] elapsed 1m 0s  remaining 1m 0s  progress 50%\n", buf.String())

	buf.Reset()
	snap.Elapsed = 61
	r.Render(snap)
	assert.Empty(t, buf.String(), "unchanged state and progress print nothing")

	snap.State = models.StateSucceeded
	snap.Progress = observe.Progress{Value: 1, Determinate: true}
	code := 0
	snap.ExitCode = &code
	r.Render(snap)
	assert.Equal(t, "[succeeded] runtime 1m 1s  exit code 0\n", buf.String())
}

func TestRendererIndeterminate(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf, false, false)

	snap := runningSnapshot()
	snap.HasETA = false
	snap.HasRemaining = false
	snap.Progress = observe.Progress{}
	r.Render(snap)
	assert.Equal(t, "[running] elapsed 1m 0s  remaining —  progress …\n", buf.String())
}

func TestRendererLogDelta(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf, false, true)

	snap := runningSnapshot()
	snap.Polls = 0
	snap.Log = "line 1\n"
	r.Render(snap)
	snap.Log = "line 1\nline 2\n"
	r.Render(snap)
	assert.Equal(t, "line 1\nline 2\n", buf.String())

	buf.Reset()
	hidden := newRenderer(&buf, false, false)
	hidden.Render(snap)
	assert.Empty(t, buf.String())
}

func TestRendererErrorsOnce(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf, false, false)

	snap := runningSnapshot()
	snap.Polls = 0
	snap.FetchError = "API error (status 500): boom"
	snap.StreamError = "WebSocket error while streaming logs: close 1011"
	r.Render(snap)
	r.Render(snap)

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "! status unavailable: API error (status 500): boom"))
	assert.Equal(t, 1, strings.Count(out, "! log stream: WebSocket error"))

	buf.Reset()
	snap.FetchError = ""
	snap.StopStatus = models.StopStatusStopped
	r.Render(snap)
	assert.Equal(t, "Stop requested: stopped\n", buf.String())
}

func TestRendererJSON(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf, true, true)

	snap := runningSnapshot()
	snap.Log = "hello\n"
	r.Render(snap)

	var ev monitorEvent
	require.NoError(t, json.Unmarshal(buf.Bytes(), &ev))
	assert.Equal(t, "job1", ev.JobID)
	assert.Equal(t, "running", ev.State)
	require.NotNil(t, ev.Progress)
	assert.InDelta(t, 0.5, *ev.Progress, 1e-9)
	require.NotNil(t, ev.Remaining)
	assert.InDelta(t, 60, *ev.Remaining, 1e-9)
	assert.Equal(t, "hello\n", ev.Log)

	buf.Reset()
	snap.Progress = observe.Progress{}
	snap.HasRemaining = false
	r.Render(snap)
	ev = monitorEvent{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &ev))
	assert.Nil(t, ev.Progress)
	assert.Nil(t, ev.Remaining)
	assert.Empty(t, ev.Log, "log text is sent once")
}
