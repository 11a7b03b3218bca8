package wal

import "time"

// Options configures a Wal. There is exactly one durability policy: group
// commit. Every append waits for its entry to reach disk; the only tuning
// knob is how long the batcher waits, once the pending buffer has gone
// from empty to non-empty, before flushing everything it has collected.
type Options struct {
	// FileName is the WAL's single segment file, relative to the directory
	// passed to Open.
	FileName string

	// CommitDelay is how long the batcher waits after the first pending
	// append before flushing. Zero means flush as soon as the scheduler
	// gets around to it (no artificial delay, but still one flush per
	// goroutine wakeup rather than one per append).
	CommitDelay time.Duration
}

// DefaultOptions returns a ~10ms group-commit window.
func DefaultOptions() Options {
	return Options{
		FileName:    "wal",
		CommitDelay: 10 * time.Millisecond,
	}
}
