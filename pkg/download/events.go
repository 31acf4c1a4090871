package download

import (
	"sync"

	"github.com/neverbiasu/civitai-dl/pkg/logging"
)

// Callback receives a task snapshot. Callbacks run on the bus dispatcher
// goroutine, never on a worker, so they may safely call back into the engine.
type Callback func(Task)

type eventKind int

const (
	eventProgress eventKind = iota
	eventCompletion
)

type event struct {
	kind eventKind
	task Task
}

// callbackBus decouples observer execution from worker execution: workers
// publish events into a buffered channel and a single dispatcher goroutine
// invokes the registered callbacks in order.
type callbackBus struct {
	mu         sync.Mutex
	progress   []Callback
	completion []Callback

	events    chan event
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newCallbackBus() *callbackBus {
	b := &callbackBus{
		events: make(chan event, 256),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go b.dispatch()
	return b
}

func (b *callbackBus) registerProgress(fn Callback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.progress = append(b.progress, fn)
}

func (b *callbackBus) registerCompletion(fn Callback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.completion = append(b.completion, fn)
}

// publishProgress drops the event when the bus is saturated. Progress is
// already throttled per task, and a slow observer must not stall a worker.
func (b *callbackBus) publishProgress(t Task) {
	select {
	case b.events <- event{kind: eventProgress, task: t}:
	default:
	}
}

// publishCompletion blocks until the event is accepted or the bus is closed.
// Terminal notifications are never dropped while the bus is live.
func (b *callbackBus) publishCompletion(t Task) {
	select {
	case b.events <- event{kind: eventCompletion, task: t}:
	case <-b.quit:
	}
}

func (b *callbackBus) dispatch() {
	defer close(b.done)
	for {
		select {
		case ev := <-b.events:
			b.deliver(ev)
		case <-b.quit:
			// deliver what is already buffered, then exit
			for {
				select {
				case ev := <-b.events:
					b.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (b *callbackBus) deliver(ev event) {
	b.mu.Lock()
	var fns []Callback
	switch ev.kind {
	case eventProgress:
		fns = append(fns, b.progress...)
	case eventCompletion:
		fns = append(fns, b.completion...)
	}
	b.mu.Unlock()

	logger := logging.GetLogger()
	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error().Interface("panic", r).Str("task_id", ev.task.ID).Msg("Callback panicked")
				}
			}()
			fn(ev.task)
		}()
	}
}

// close drains the bus and stops the dispatcher. Safe to call more than
// once; publishes after close are discarded instead of blocking.
func (b *callbackBus) close() {
	b.closeOnce.Do(func() { close(b.quit) })
	<-b.done
}

// Stats aggregates task counts and overall throughput across an engine.
type Stats struct {
	Queued     int
	Active     int
	Paused     int
	Completed  int
	Failed     int
	Cancelled  int
	TotalBytes int64
	OverallBPS float64
}
