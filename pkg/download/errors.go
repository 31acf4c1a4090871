package download

import (
	"errors"
	"fmt"
)

// control-flow sentinels used by the transfer loop
var (
	errPaused    = errors.New("transfer paused")
	errCancelled = errors.New("transfer cancelled")
)

// FilesystemError wraps a local I/O failure (permission, disk full). These
// are fatal: retrying the transfer cannot fix them.
type FilesystemError struct {
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("filesystem error on %s: %v", e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }

// IncompleteTransferError reports a stream that ended before the declared
// size was reached. The transfer is retried from the on-disk offset.
type IncompleteTransferError struct {
	Received int64
	Expected int64
}

func (e *IncompleteTransferError) Error() string {
	return fmt.Sprintf("incomplete transfer: received %d of %d bytes", e.Received, e.Expected)
}

// HTTPStatusError reports an unexpected response status during a transfer.
type HTTPStatusError struct {
	StatusCode int
	URL        string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d for %s", e.StatusCode, e.URL)
}

// retryable reports whether a transfer attempt failure is worth repeating
// from the current on-disk offset. Filesystem failures and client errors
// are not; network failures, server errors and short reads are.
func retryable(err error) bool {
	var fsErr *FilesystemError
	if errors.As(err, &fsErr) {
		return false
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500
	}
	return true
}
