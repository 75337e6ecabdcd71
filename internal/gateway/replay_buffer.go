package gateway

import "sync"

type replayEntry struct {
	Seq  int64
	Data []byte // pre-built envelope JSON
}

// ReplayBuffer keeps the most recent envelopes of one channel for gap
// backfill. Sequence numbers pushed into it must be contiguous.
type ReplayBuffer struct {
	mu   sync.RWMutex
	buf  []replayEntry
	next int   // next write position
	n    int   // entries held
	last int64 // newest seq
}

// NewReplayBuffer creates a replay buffer with the given capacity.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = 500
	}
	return &ReplayBuffer{buf: make([]replayEntry, capacity)}
}

// Push appends an envelope, overwriting the oldest when full.
func (rb *ReplayBuffer) Push(seq int64, data []byte) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.buf[rb.next] = replayEntry{Seq: seq, Data: append([]byte(nil), data...)}
	rb.next = (rb.next + 1) % len(rb.buf)
	if rb.n < len(rb.buf) {
		rb.n++
	}
	rb.last = seq
}

// Range returns the held envelopes with seq in [from, to], oldest first.
func (rb *ReplayBuffer) Range(from, to int64) [][]byte {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	if rb.n == 0 {
		return nil
	}
	oldest := rb.last - int64(rb.n) + 1
	if from < oldest {
		from = oldest
	}
	if to > rb.last {
		to = rb.last
	}
	var out [][]byte
	for seq := from; seq <= to; seq++ {
		back := int(rb.last - seq) // 0 = newest
		idx := (rb.next - 1 - back + len(rb.buf)) % len(rb.buf)
		out = append(out, rb.buf[idx].Data)
	}
	return out
}

// Len returns the number of entries currently held.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.n
}
