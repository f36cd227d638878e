// Package sandbox wraps the browser engine behind the Executor boundary so
// the dispatcher never talks to the engine directly.
package sandbox

import (
	"context"

	"github.com/AlfredBerg/rod-runner/internal/job"
)

// Result is what a finished script leaves behind.
type Result struct {
	// Output is the script's return value, json encoded unless it already
	// was a string.
	Output string
	// FinalURL and Title describe the page when the script returned.
	FinalURL string
	Title    string
}

// Executor runs one job's script in an isolated browser session and tears
// the session down afterwards, on every exit path.
type Executor interface {
	Execute(ctx context.Context, j *job.Job) (*Result, error)
	// Connected reports whether the engine has at least one live session.
	Connected() bool
	// Cleanup closes every browser the executor is holding on to.
	Cleanup()
}

// RequestRecorder receives every network request a job's page makes.
type RequestRecorder interface {
	Record(jobID, method, url, path, host, body string) error
}
