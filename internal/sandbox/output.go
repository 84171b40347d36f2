package sandbox

import "sync"

// OutputSink receives script output one line per print call.
type OutputSink interface {
	Emit(line string)
}

// OutputBuffer is an ordered, bounded, concurrency-safe OutputSink.
// Lines past the limit are counted and dropped.
type OutputBuffer struct {
	mu      sync.Mutex
	lines   []string
	limit   int
	dropped int
	observe func(string)
}

// NewOutputBuffer creates a buffer keeping at most limit lines (0 means unbounded).
// observe, when non-nil, sees every kept line as it is emitted.
func NewOutputBuffer(limit int, observe func(string)) *OutputBuffer {
	return &OutputBuffer{limit: limit, observe: observe}
}

// Emit implements OutputSink.
func (b *OutputBuffer) Emit(line string) {
	b.mu.Lock()
	if b.limit > 0 && len(b.lines) >= b.limit {
		b.dropped++
		b.mu.Unlock()
		return
	}
	b.lines = append(b.lines, line)
	b.mu.Unlock()

	if b.observe != nil {
		b.observe(line)
	}
}

// Lines returns a copy of the captured lines. Never nil.
func (b *OutputBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.lines))
	copy(out, b.lines)
	return out
}

// Dropped reports how many lines were discarded over the limit.
func (b *OutputBuffer) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
