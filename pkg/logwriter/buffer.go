package logwriter

import (
	"sync"
)

// recordBuffer is a bounded FIFO of records waiting to be flushed. enqueue never blocks: once the
// buffer holds capacity records it rejects new ones with ErrFull. When the number of buffered records
// reaches threshold a signal is posted on ready so the flusher can drain early.
type recordBuffer struct {
	mu        sync.Mutex
	items     []LogRecord
	capacity  int
	threshold int
	ready     chan struct{}
}

func newRecordBuffer(capacity int, threshold int) *recordBuffer {
	return &recordBuffer{
		items:     make([]LogRecord, 0, capacity),
		capacity:  capacity,
		threshold: threshold,
		ready:     make(chan struct{}, 1),
	}
}

func (b *recordBuffer) enqueue(record LogRecord) error {
	b.mu.Lock()
	if len(b.items) >= b.capacity {
		b.mu.Unlock()
		return ErrFull
	}
	b.items = append(b.items, record)
	signal := len(b.items) >= b.threshold
	b.mu.Unlock()

	if signal {
		select {
		case b.ready <- struct{}{}:
		default:
		}
	}
	return nil
}

// drain removes and returns up to max records in the order they were enqueued.
func (b *recordBuffer) drain(max int) []LogRecord {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := min(max, len(b.items))
	if n <= 0 {
		return nil
	}
	out := make([]LogRecord, n)
	copy(out, b.items[:n])
	remaining := copy(b.items, b.items[n:])
	clear(b.items[remaining:])
	b.items = b.items[:remaining]
	return out
}

func (b *recordBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
