package download

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"
)

// Task is a snapshot of one transfer: its identity, target and progress.
// Values returned by the engine are copies; all mutation happens inside the
// engine under its lock.
type Task struct {
	ID         string
	URL        string
	OutputPath string
	Filename   string
	Priority   int
	Headers    http.Header

	Status         Status
	DownloadedSize int64
	TotalSize      int64 // 0 until the server declares a size
	Speed          float64
	ETA            time.Duration
	RetryCount     int
	Err            string

	CreatedAt   time.Time
	CompletedAt time.Time
}

// Progress reports the completed fraction in [0, 1], or 0 while the total
// size is unknown.
func (t Task) Progress() float64 {
	if t.TotalSize <= 0 {
		return 0
	}
	return float64(t.DownloadedSize) / float64(t.TotalSize)
}

// taskState is the engine-owned mutable record behind a Task snapshot. The
// pause and cancel flags are atomics so the streaming worker can poll them
// between chunk writes without taking the engine lock.
type taskState struct {
	task         Task
	explicitName bool // caller-supplied filename, never overridden by headers
	force        bool // start from zero once, then resume normally on retries
	pause        atomic.Bool
	cancel       atomic.Bool

	// abort cancels the in-flight attempt's request so a worker blocked in a
	// body read unblocks immediately. Guarded by the engine lock; nil while
	// no attempt is running.
	abort context.CancelFunc
}

func (st *taskState) snapshot() Task {
	t := st.task
	if t.Headers != nil {
		t.Headers = t.Headers.Clone()
	}
	return t
}
