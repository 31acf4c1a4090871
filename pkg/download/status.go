package download

// Status is the lifecycle state of a task. Completed, Failed and Cancelled
// are terminal: once reached, a task never changes state again.
type Status int

const (
	StatusPending Status = iota
	StatusDownloading
	StatusPaused
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusDownloading:
		return "downloading"
	case StatusPaused:
		return "paused"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// transitions is the allowed state machine. Pausing is only meaningful while
// a worker is streaming; resuming re-queues the task rather than re-entering
// Downloading directly, so pool capacity is respected.
var transitions = map[Status][]Status{
	StatusPending:     {StatusDownloading, StatusCancelled},
	StatusDownloading: {StatusPaused, StatusCompleted, StatusFailed, StatusCancelled},
	StatusPaused:      {StatusPending, StatusCancelled},
}

func (s Status) canTransition(to Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}
