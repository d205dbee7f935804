package timeouts

import "time"

const (
	Probe         = 300 * time.Millisecond
	StartupWait   = 5 * time.Second
	SecondShort   = 2 * time.Second
	SecondDefault = 10 * time.Second
	// Drain bounds how long shutdown waits for running workers.
	Drain = 10 * time.Second
)
