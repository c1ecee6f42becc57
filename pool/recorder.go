package pool

import "time"

// Recorder receives the exact command string of every instance the pool
// starts, for frequency learning. Notification is one-way; the pool has no
// dependency on what the recorder does with it.
type Recorder interface {
	Record(command string, at time.Time) error
}

// NopRecorder discards all notifications.
type NopRecorder struct{}

func (NopRecorder) Record(string, time.Time) error { return nil }
