package models

import (
	"encoding/json"
	"fmt"
)

// JobState is the lifecycle state reported by the backend.
// The zero value StateUnknown is never sent by the server; it marks
// "no status observed yet".
type JobState uint8

const (
	StateUnknown JobState = iota
	StateQueued
	StateRunning
	StateSucceeded
	StateFailed
)

var stateNames = map[JobState]string{
	StateUnknown:   "unknown",
	StateQueued:    "queued",
	StateRunning:   "running",
	StateSucceeded: "succeeded",
	StateFailed:    "failed",
}

func (s JobState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("JobState(%d)", uint8(s))
}

// ParseJobState maps a wire value to a JobState.
// "unknown" is not a valid wire value.
func ParseJobState(s string) (JobState, error) {
	switch s {
	case "queued":
		return StateQueued, nil
	case "running":
		return StateRunning, nil
	case "succeeded":
		return StateSucceeded, nil
	case "failed":
		return StateFailed, nil
	default:
		return StateUnknown, fmt.Errorf("unknown job state %q", s)
	}
}

// IsTerminal returns true once the job can no longer change state
func (s JobState) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// MarshalJSON encodes the state as its wire string
func (s JobState) MarshalJSON() ([]byte, error) {
	if s == StateUnknown {
		return []byte(`null`), nil
	}
	return json.Marshal(s.String())
}

// UnmarshalJSON rejects any state outside the closed set
func (s *JobState) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("job state must be a string: %w", err)
	}
	parsed, err := ParseJobState(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Job is the status record returned by /jobs and /jobs/{id}/status.
// Timestamps stay raw so that unparseable values can be skipped by the
// consumers instead of failing the whole decode.
type Job struct {
	ID          string   `json:"id"`
	State       JobState `json:"state"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
	Datatype    string   `json:"datatype,omitempty"`
	InputFolder string   `json:"input_folder,omitempty"`
	CPUs        *int     `json:"cpus,omitempty"` // worker count
	ExitCode    *int     `json:"exit_code,omitempty"`
	Error       *string  `json:"error,omitempty"`
}

// ErrorMessage returns the job error or an empty string
func (j *Job) ErrorMessage() string {
	if j.Error == nil {
		return ""
	}
	return *j.Error
}

// Datatypes accepted by the backend
const (
	DatatypeDNA        = "DNA"
	DatatypeProtein    = "protein"
	DatatypeMorphology = "morphology"
)

// JobRequest is the body of POST /jobs
type JobRequest struct {
	Folder    string            `json:"folder"`
	Datatype  string            `json:"datatype"`
	CPUs      *int              `json:"cpus,omitempty"`
	Args      []string          `json:"args"`
	CopyInput bool              `json:"copy_input"`
	Overrides map[string]string `json:"overrides"`
}

// JobSubmitResponse is returned by POST /jobs
type JobSubmitResponse struct {
	ID string `json:"id"`
}

// JobResults is returned by /jobs/{id}/results
type JobResults struct {
	ID            string   `json:"id"`
	State         JobState `json:"state"`
	CPUs          *int     `json:"cpus,omitempty"`
	BestSchemeTxt *string  `json:"best_scheme_txt,omitempty"`
	SchemeDataCSV *string  `json:"scheme_data_csv,omitempty"`
	AnalysisPath  *string  `json:"analysis_path,omitempty"`
}

// Stop outcomes reported by POST /jobs/{id}/stop
const (
	StopStatusStopped         = "stopped"
	StopStatusAlreadyFinished = "already_finished"
	StopStatusFailed          = "failed"
)

// StopResponse acknowledges a stop request
type StopResponse struct {
	Status string `json:"status"`
	JobID  string `json:"job_id"`
}
