package las

import "sync"

// SequenceCounter allocates the process-wide message sequence ids. Ids run
// 1 through 0xFFFF and wrap back to 1; zero is never issued.
type SequenceCounter struct {
	mu   sync.Mutex
	next uint16
}

// NewSequenceCounter starts the counter at 1.
func NewSequenceCounter() *SequenceCounter {
	return &SequenceCounter{next: 1}
}

// Next returns the current id and advances the counter.
func (c *SequenceCounter) Next() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.next
	if c.next == 0xFFFF {
		c.next = 1
	} else {
		c.next++
	}
	return id
}
