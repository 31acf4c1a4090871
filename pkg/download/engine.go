package download

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/neverbiasu/civitai-dl/pkg/logging"
)

const (
	defaultMaxWorkers   = 3
	defaultChunkSize    = 64 * 1024
	defaultRetries      = 3
	defaultRetryDelay   = 2 * time.Second
	defaultTimeout      = 30 * time.Second
	defaultPollInterval = 100 * time.Millisecond
)

// Options are immutable engine inputs, fixed at construction.
type Options struct {
	// MaxWorkers bounds the number of concurrent transfers.
	MaxWorkers int

	// ChunkSize is the read size used when streaming a body to disk. The
	// pause/cancel flags are checked between chunk writes, so this also
	// bounds cancellation latency.
	ChunkSize int64

	// Retries bounds transfer re-attempts after transient failures.
	Retries int

	// RetryDelay is the base backoff delay, doubled on every attempt.
	RetryDelay time.Duration

	// Timeout bounds dialing, TLS and response headers of a single HTTP
	// call. Body streaming is not bounded.
	Timeout time.Duration

	// PollInterval is the scheduler tick.
	PollInterval time.Duration

	// Client issues the transfer requests. Defaults to a streaming client
	// with the configured timeout.
	Client Requester
}

// SubmitOptions describe one download request.
type SubmitOptions struct {
	URL        string
	OutputPath string
	Filename   string // explicit filename wins over server-provided names
	Headers    map[string]string
	Priority   int // lower is more urgent

	// Force discards whatever is already on disk instead of resuming from it.
	Force bool
}

// Engine owns a bounded worker pool, a scheduler loop and the task registry.
// Callers interact with tasks only through engine operations; shared state is
// guarded by one lock held for short critical sections, never across network
// or file I/O.
type Engine struct {
	opts   Options
	client Requester
	bus    *callbackBus

	mu     sync.Mutex
	tasks  map[string]*taskState
	queue  *taskQueue
	active int
	closed bool

	stop          chan struct{}
	stopOnce      sync.Once
	schedulerDone chan struct{}
	workers       sync.WaitGroup
}

func NewEngine(opts Options) *Engine {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = defaultMaxWorkers
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	if opts.Retries <= 0 {
		opts.Retries = defaultRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	client := opts.Client
	if client == nil {
		client = newStreamClient(opts.Timeout)
	}

	e := &Engine{
		opts:          opts,
		client:        client,
		bus:           newCallbackBus(),
		tasks:         make(map[string]*taskState),
		queue:         newTaskQueue(),
		stop:          make(chan struct{}),
		schedulerDone: make(chan struct{}),
	}
	go e.schedule()
	return e
}

// Submit registers a new download and queues it for dispatch. The only
// synchronous failure is argument validation.
func (e *Engine) Submit(opts SubmitOptions) (string, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return "", errors.New("submit: url must not be empty")
	}

	explicit := opts.Filename != ""
	filename := opts.Filename
	if !explicit {
		filename = filenameFromURL(opts.URL)
	}

	st := &taskState{
		task: Task{
			ID:         uuid.NewString(),
			URL:        opts.URL,
			OutputPath: opts.OutputPath,
			Filename:   filename,
			Priority:   opts.Priority,
			Status:     StatusPending,
			CreatedAt:  time.Now(),
		},
		explicitName: explicit,
		force:        opts.Force,
	}
	if len(opts.Headers) > 0 {
		st.task.Headers = make(map[string][]string, len(opts.Headers))
		for k, v := range opts.Headers {
			st.task.Headers.Set(k, v)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return "", errors.New("submit: engine is shut down")
	}
	e.tasks[st.task.ID] = st
	e.queue.add(st)

	logger := logging.GetLogger()
	logger.Debug().
		Str("task_id", st.task.ID).
		Str("url", opts.URL).
		Int("priority", opts.Priority).
		Msg("Task queued")
	return st.task.ID, nil
}

// Get returns a snapshot of the task, if known.
func (e *Engine) Get(id string) (Task, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.tasks[id]
	if !ok {
		return Task{}, false
	}
	return st.snapshot(), true
}

// Tasks returns snapshots of every registered task.
func (e *Engine) Tasks() []Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Task, 0, len(e.tasks))
	for _, st := range e.tasks {
		out = append(out, st.snapshot())
	}
	return out
}

// Cancel moves a non-terminal task to Cancelled. Queued and paused tasks are
// cancelled immediately; a running worker has its in-flight request aborted
// and notices the flag. Partial files are left on disk.
func (e *Engine) Cancel(id string) bool {
	e.mu.Lock()
	st, ok := e.tasks[id]
	if !ok {
		e.mu.Unlock()
		return false
	}
	switch st.task.Status {
	case StatusPending, StatusPaused:
		e.queue.remove(id)
		st.task.Status = StatusCancelled
		st.task.CompletedAt = time.Now()
		snap := st.snapshot()
		e.mu.Unlock()
		e.bus.publishCompletion(snap)
		return true
	case StatusDownloading:
		st.cancel.Store(true)
		if st.abort != nil {
			st.abort()
		}
		e.mu.Unlock()
		return true
	default:
		e.mu.Unlock()
		return false
	}
}

// Pause stops a running worker, aborting any blocked read, and leaves the
// partial file and progress intact.
func (e *Engine) Pause(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.tasks[id]
	if !ok || st.task.Status != StatusDownloading {
		return false
	}
	st.pause.Store(true)
	if st.abort != nil {
		st.abort()
	}
	return true
}

// Resume re-queues a paused task. It re-enters the queue rather than jumping
// straight back to a worker so pool capacity is respected.
func (e *Engine) Resume(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.tasks[id]
	if !ok || st.task.Status != StatusPaused {
		return false
	}
	st.pause.Store(false)
	st.task.Status = StatusPending
	e.queue.add(st)
	return true
}

func (e *Engine) RegisterProgressCallback(fn Callback) {
	e.bus.registerProgress(fn)
}

func (e *Engine) RegisterCompletionCallback(fn Callback) {
	e.bus.registerCompletion(fn)
}

// Stats aggregates counts and overall throughput across all tasks.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	var s Stats
	for _, st := range e.tasks {
		switch st.task.Status {
		case StatusPending:
			s.Queued++
		case StatusDownloading:
			s.Active++
			s.OverallBPS += st.task.Speed
		case StatusPaused:
			s.Paused++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		case StatusCancelled:
			s.Cancelled++
		}
		s.TotalBytes += st.task.DownloadedSize
	}
	return s
}

// Shutdown stops the scheduler and cancels every non-terminal task. With
// wait set it blocks until workers exit and queued events are dispatched.
func (e *Engine) Shutdown(wait bool) {
	e.stopOnce.Do(func() { close(e.stop) })
	<-e.schedulerDone

	e.mu.Lock()
	e.closed = true
	var cancelled []Task
	for _, st := range e.tasks {
		switch st.task.Status {
		case StatusPending, StatusPaused:
			e.queue.remove(st.task.ID)
			st.task.Status = StatusCancelled
			st.task.CompletedAt = time.Now()
			cancelled = append(cancelled, st.snapshot())
		case StatusDownloading:
			st.cancel.Store(true)
			if st.abort != nil {
				st.abort()
			}
		}
	}
	e.mu.Unlock()

	for _, t := range cancelled {
		e.bus.publishCompletion(t)
	}

	if wait {
		e.workers.Wait()
		e.bus.close()
	}
	shutdownLogger := logging.GetLogger()
	shutdownLogger.Info().Bool("wait", wait).Msg("Engine shut down")
}

// schedule runs on a dedicated goroutine and owns all dequeue decisions.
func (e *Engine) schedule() {
	defer close(e.schedulerDone)
	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			e.dispatchPending()
		}
	}
}

func (e *Engine) dispatchPending() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for e.active < e.opts.MaxWorkers {
		st, ok := e.queue.next()
		if !ok {
			return
		}
		if !st.task.Status.canTransition(StatusDownloading) {
			continue
		}
		st.task.Status = StatusDownloading
		e.active++
		e.workers.Add(1)
		go e.runTask(st)
	}
}

func (e *Engine) runTask(st *taskState) {
	defer e.workers.Done()
	e.transfer(st)
	e.mu.Lock()
	e.active--
	e.mu.Unlock()
}
