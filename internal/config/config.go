// Package config holds the process-wide settings, resolved once at startup
// and passed explicitly to every component.
package config

import "time"

type Config struct {
	// Addr is the listen address of the http api.
	Addr string

	// Concurrency is the number of browser slots, the sole admission knob.
	Concurrency int
	// QueueDepth bounds the dispatch queue, 0 for unlimited.
	QueueDepth int
	// Timeout bounds one script execution.
	Timeout time.Duration
	// MaxScriptSize bounds a submitted payload in bytes.
	MaxScriptSize int

	// RetainCompleted and Retention bound the result store; the janitor
	// sweeps every SweepInterval.
	RetainCompleted int
	Retention       time.Duration
	SweepInterval   time.Duration

	// CaptureDB is the sqlite file recording page requests, empty disables.
	CaptureDB string

	Headless bool
	Debug    bool
}

func Default() Config {
	return Config{
		Addr:            ":5000",
		Concurrency:     3,
		Timeout:         60 * time.Second,
		MaxScriptSize:   1 << 20,
		RetainCompleted: 1000,
		Retention:       72 * time.Hour,
		SweepInterval:   time.Hour,
		Headless:        true,
	}
}
