package job

import (
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a job. The only legal transitions are
// Queued -> Running -> Succeeded|Failed.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Terminal reports whether a job in this state will never change again.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Job is one unit of submitted automation work.
type Job struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Script string `json:"-"`
	// Target is an optional url the page navigates to before the script runs.
	Target string `json:"target,omitempty"`

	State  State  `json:"state"`
	Output string `json:"output,omitempty"`
	Err    *Error `json:"error,omitempty"`

	// FinalURL and Title describe the page as the script left it.
	FinalURL string `json:"final_url,omitempty"`
	Title    string `json:"title,omitempty"`

	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// New creates a queued job with a fresh identifier.
func New(name, script, target string) *Job {
	return &Job{
		ID:          uuid.NewString(),
		Name:        name,
		Script:      script,
		Target:      target,
		State:       StateQueued,
		SubmittedAt: time.Now(),
	}
}

// Transition moves the job to next, rejecting every edge that is not
// Queued -> Running -> Succeeded|Failed.
func (j *Job) Transition(next State) error {
	ok := false
	switch j.State {
	case StateQueued:
		ok = next == StateRunning
	case StateRunning:
		ok = next == StateSucceeded || next == StateFailed
	}
	if !ok {
		return Newf(KindInternal, "illegal state transition %s -> %s for job %s", j.State, next, j.ID)
	}

	now := time.Now()
	switch next {
	case StateRunning:
		j.StartedAt = &now
	case StateSucceeded, StateFailed:
		j.CompletedAt = &now
	}
	j.State = next
	return nil
}

// Duration is the wall time the job spent executing, zero until it started.
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	if j.CompletedAt == nil {
		return time.Since(*j.StartedAt)
	}
	return j.CompletedAt.Sub(*j.StartedAt)
}
