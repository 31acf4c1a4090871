package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/neverbiasu/civitai-dl/pkg/logging"
)

// progressInterval throttles task state updates and observer notifications.
const progressInterval = 500 * time.Millisecond

// transfer drives one task to a terminal state (or Paused), retrying
// transient failures with exponential backoff. Every retry resumes from
// whatever made it to disk.
func (e *Engine) transfer(st *taskState) {
	logger := logging.GetLogger()

	// A short body with a clean EOF gets one resumed re-attempt; if the server
	// comes up short twice, the declared size is not to be trusted.
	shortReads := 0

	for attempt := 0; ; attempt++ {
		err := e.attempt(st)
		if err == nil {
			e.finish(st, StatusCompleted, nil)
			return
		}
		var shortErr *IncompleteTransferError
		isShort := errors.As(err, &shortErr)

		switch {
		case errors.Is(err, errPaused):
			e.mu.Lock()
			st.pause.Store(false)
			st.task.Status = StatusPaused
			st.task.Speed = 0
			st.task.ETA = 0
			snap := st.snapshot()
			e.mu.Unlock()
			e.bus.publishProgress(snap)
			logger.Info().Str("task_id", snap.ID).Int64("downloaded", snap.DownloadedSize).Msg("Paused")
			return

		case errors.Is(err, errCancelled):
			e.finish(st, StatusCancelled, nil)
			return

		case !retryable(err) || attempt >= e.opts.Retries || (isShort && shortReads >= 1):
			e.finish(st, StatusFailed, err)
			return
		}
		if isShort {
			shortReads++
		}

		delay := e.opts.RetryDelay << attempt
		e.mu.Lock()
		st.task.RetryCount++
		id := st.task.ID
		e.mu.Unlock()
		logger.Warn().
			Str("task_id", id).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Err(err).
			Msg("Transfer interrupted, retrying")

		select {
		case <-time.After(delay):
		case <-e.stop:
			// shutdown cancels running tasks; the next attempt sees the flag
		}
	}
}

// attempt performs one streamed, resumable transfer pass.
func (e *Engine) attempt(st *taskState) error {
	if st.cancel.Load() {
		return errCancelled
	}
	if st.pause.Load() {
		return errPaused
	}

	// The attempt context is cancelled by Pause, Cancel and Shutdown so a
	// worker blocked in a body read against a stalled peer unblocks.
	ctx, cancelAttempt := context.WithCancel(context.Background())
	defer cancelAttempt()

	e.mu.Lock()
	st.abort = cancelAttempt
	rawURL := st.task.URL
	dir := st.task.OutputPath
	filename := st.task.Filename
	explicit := st.explicitName
	var headers http.Header
	if st.task.Headers != nil {
		headers = st.task.Headers.Clone()
	}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		st.abort = nil
		e.mu.Unlock()
	}()

	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &FilesystemError{Path: dir, Err: err}
		}
	}
	dest := filepath.Join(dir, filename)

	// Whatever is already on disk is the resume offset, unless the caller
	// forced a fresh download.
	var offset int64
	if st.force {
		st.force = false
	} else if info, err := os.Stat(dest); err == nil {
		offset = info.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return &HTTPStatusError{URL: rawURL}
	}
	if headers != nil {
		req.Header = headers
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := e.client.Do(req)
	if err != nil {
		// an aborted request surfaces here as a context error
		if st.cancel.Load() {
			return errCancelled
		}
		if st.pause.Load() {
			return errPaused
		}
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		return e.reconcileUnsatisfiableRange(st, dest, rawURL)
	case resp.StatusCode == http.StatusPartialContent:
		// resuming at offset
	case resp.StatusCode == http.StatusOK:
		if offset > 0 {
			// server ignored the range header; start over
			rangeLogger := logging.GetLogger()
			rangeLogger.Debug().Str("task_id", st.task.ID).Msg("Server does not support ranges, restarting from zero")
			offset = 0
		}
	case resp.StatusCode >= 400:
		return &HTTPStatusError{StatusCode: resp.StatusCode, URL: rawURL}
	default:
		return &HTTPStatusError{StatusCode: resp.StatusCode, URL: rawURL}
	}

	// Filename discovery applies only to fresh downloads without an explicit
	// name: explicit argument > Content-Disposition > URL basename.
	if offset == 0 && !explicit {
		if name := filenameFromDisposition(resp.Header.Get("Content-Disposition")); name != "" && name != filename {
			e.mu.Lock()
			st.task.Filename = name
			e.mu.Unlock()
			filename = name
			dest = filepath.Join(dir, name)
		}
	}

	// A 206 content length covers the remainder only.
	var total int64
	if resp.ContentLength > 0 {
		total = resp.ContentLength
		if resp.StatusCode == http.StatusPartialContent {
			total += offset
		}
	}

	e.mu.Lock()
	st.task.DownloadedSize = offset
	if total > 0 {
		st.task.TotalSize = total
	}
	e.mu.Unlock()

	flags := os.O_WRONLY | os.O_CREATE
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	out, err := os.OpenFile(dest, flags, 0o644)
	if err != nil {
		return &FilesystemError{Path: dest, Err: err}
	}
	defer out.Close()

	return e.stream(st, resp.Body, out, offset, total)
}

// stream copies the body to disk in chunk-sized reads, checking the
// cooperative pause/cancel flags between writes and throttling progress
// updates.
func (e *Engine) stream(st *taskState, body io.Reader, out *os.File, offset, total int64) error {
	buf := make([]byte, e.opts.ChunkSize)
	downloaded := offset
	lastUpdate := time.Now()
	var bytesSince int64

	for {
		if st.cancel.Load() {
			return errCancelled
		}
		if st.pause.Load() {
			e.updateProgress(st, downloaded, 0)
			return errPaused
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return &FilesystemError{Path: out.Name(), Err: werr}
			}
			downloaded += int64(n)
			bytesSince += int64(n)

			if elapsed := time.Since(lastUpdate); elapsed >= progressInterval {
				e.updateProgress(st, downloaded, float64(bytesSince)/elapsed.Seconds())
				bytesSince = 0
				lastUpdate = time.Now()
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			// a read interrupted by the abort context maps back to the flag
			// that triggered it
			if st.cancel.Load() {
				return errCancelled
			}
			e.updateProgress(st, downloaded, 0)
			if st.pause.Load() {
				return errPaused
			}
			return fmt.Errorf("read failed after %s: %w", humanize.Bytes(uint64(downloaded)), readErr)
		}
	}

	e.updateProgress(st, downloaded, 0)
	if total > 0 && downloaded < total {
		return &IncompleteTransferError{Received: downloaded, Expected: total}
	}
	return nil
}

func (e *Engine) updateProgress(st *taskState, downloaded int64, speed float64) {
	e.mu.Lock()
	st.task.DownloadedSize = downloaded
	if st.task.TotalSize > 0 && downloaded > st.task.TotalSize {
		st.task.TotalSize = downloaded
	}
	st.task.Speed = speed
	if speed > 0 && st.task.TotalSize > 0 {
		remaining := st.task.TotalSize - downloaded
		st.task.ETA = time.Duration(float64(remaining)/speed) * time.Second
	} else {
		st.task.ETA = 0
	}
	snap := st.snapshot()
	e.mu.Unlock()
	e.bus.publishProgress(snap)
}

// reconcileUnsatisfiableRange handles a 416: either the local file is already
// complete, or it is inconsistent with the remote and gets discarded so the
// next attempt starts from zero.
func (e *Engine) reconcileUnsatisfiableRange(st *taskState, dest, rawURL string) error {
	req, err := http.NewRequest(http.MethodHead, rawURL, nil)
	if err == nil {
		if resp, doErr := e.client.Do(req); doErr == nil {
			_ = resp.Body.Close()
			if resp.StatusCode < 400 && resp.ContentLength > 0 {
				if info, statErr := os.Stat(dest); statErr == nil && info.Size() >= resp.ContentLength {
					e.mu.Lock()
					st.task.TotalSize = resp.ContentLength
					st.task.DownloadedSize = resp.ContentLength
					e.mu.Unlock()
					completeLogger := logging.GetLogger()
					completeLogger.Info().Str("task_id", st.task.ID).Str("dest", dest).Msg("Local file already complete")
					return nil
				}
			}
		}
	}

	if rmErr := os.Remove(dest); rmErr != nil && !os.IsNotExist(rmErr) {
		return &FilesystemError{Path: dest, Err: rmErr}
	}
	e.mu.Lock()
	st.task.DownloadedSize = 0
	st.task.TotalSize = 0
	e.mu.Unlock()
	return fmt.Errorf("range not satisfiable for %s, restarting", rawURL)
}

// finish records a terminal state and notifies completion observers.
func (e *Engine) finish(st *taskState, status Status, err error) {
	e.mu.Lock()
	if st.task.Status.canTransition(status) {
		st.task.Status = status
	}
	st.task.Speed = 0
	st.task.ETA = 0
	if status == StatusFailed && err != nil {
		st.task.Err = err.Error()
	}
	st.task.CompletedAt = time.Now()
	snap := st.snapshot()
	e.mu.Unlock()

	logger := logging.GetLogger()
	switch status {
	case StatusCompleted:
		logger.Info().
			Str("task_id", snap.ID).
			Str("filename", snap.Filename).
			Str("size", humanize.Bytes(uint64(snap.DownloadedSize))).
			Msg("Complete")
	case StatusFailed:
		logger.Error().Str("task_id", snap.ID).Str("url", snap.URL).Err(err).Msg("Failed")
	case StatusCancelled:
		logger.Info().Str("task_id", snap.ID).Msg("Cancelled")
	}
	e.bus.publishCompletion(snap)
}
