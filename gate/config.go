package gate

import "time"

const (
	DefaultTimeout      = 600 * time.Second
	DefaultPollInterval = 1 * time.Second
	DefaultWaitGrace    = 5 * time.Second
)

type Config struct {
	// Timeout is how long a request stays pending before the auto-resume
	// watcher promotes it.
	Timeout time.Duration

	// AutoResume controls whether the timeout promotes a pending record
	// to auto_approved. When false, records stay pending until a human
	// resolves them.
	AutoResume bool

	// LockCode, when non-empty, must accompany every manual approval.
	LockCode string

	// PollInterval is the executor's status-poll cadence while waiting.
	PollInterval time.Duration

	// WaitGrace extends the executor's bounded wait past Timeout so a
	// promotion landing right at the deadline is still observed.
	WaitGrace time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.WaitGrace <= 0 {
		c.WaitGrace = DefaultWaitGrace
	}
	return c
}
