package watcher

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Debouncer coalesces rapid file events into batches. Every new event
// restarts the window, so a batch is emitted only after the source has
// been quiet for one window. Events for the same path are merged:
//   - CREATE then MODIFY stays CREATE
//   - CREATE then DELETE cancels out
//   - DELETE then CREATE becomes MODIFY (atomic save by replace)
//   - anything else keeps the latest operation
type Debouncer struct {
	window  time.Duration
	pending map[string]FileEvent
	mu      sync.Mutex
	output  chan []FileEvent
	timer   *time.Timer
	stopped bool
}

// NewDebouncer creates a debouncer with the given window.
func NewDebouncer(window time.Duration, buffer int) *Debouncer {
	if buffer <= 0 {
		buffer = 1
	}
	return &Debouncer{
		window:  window,
		pending: make(map[string]FileEvent),
		output:  make(chan []FileEvent, buffer),
	}
}

// Add queues an event.
func (d *Debouncer) Add(event FileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	if prev, ok := d.pending[event.Path]; ok {
		merged, keep := coalesce(prev, event)
		if keep {
			d.pending[event.Path] = merged
		} else {
			delete(d.pending, event.Path)
		}
	} else {
		d.pending[event.Path] = event
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

// coalesce merges next into prev. keep is false when the two cancel out.
func coalesce(prev, next FileEvent) (merged FileEvent, keep bool) {
	switch {
	case prev.Operation == OpCreate && next.Operation == OpModify:
		prev.Timestamp = next.Timestamp
		return prev, true
	case prev.Operation == OpCreate && next.Operation == OpDelete:
		return FileEvent{}, false
	case prev.Operation == OpDelete && next.Operation == OpCreate:
		next.Operation = OpModify
		return next, true
	default:
		return next, true
	}
}

// flush emits all pending events as one batch, ordered by path.
func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || len(d.pending) == 0 {
		return
	}

	batch := make([]FileEvent, 0, len(d.pending))
	for _, e := range d.pending {
		batch = append(batch, e)
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path })
	d.pending = make(map[string]FileEvent)

	select {
	case d.output <- batch:
	default:
		// The consumer re-reads the whole source on any batch, so a
		// dropped batch loses nothing while another one is queued.
		slog.Warn("debouncer_output_full", slog.Int("batch_size", len(batch)))
	}
}

// Output returns the channel of debounced batches.
func (d *Debouncer) Output() <-chan []FileEvent {
	return d.output
}

// Stop stops the debouncer and closes the output channel.
// Safe to call multiple times.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.output)
}
