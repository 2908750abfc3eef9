package promise

import "sync"

// queueChunkSize is the number of callbacks per node in the funcQueue
// linked list. 128 slots * 8 bytes + overhead is about 1KB per chunk.
const queueChunkSize = 128

// queueChunk is a fixed-size node in the funcQueue linked list. Slots
// [0, n) are filled; drained chunks are recycled through queueChunkPool.
type queueChunk struct {
	fns  [queueChunkSize]func()
	next *queueChunk
	n    int
}

var queueChunkPool = sync.Pool{
	New: func() any {
		return new(queueChunk)
	},
}

// releaseChunk clears the filled slots so the pool does not pin callback
// closures, then returns the chunk.
func releaseChunk(c *queueChunk) {
	for i := 0; i < c.n; i++ {
		c.fns[i] = nil
	}
	c.n = 0
	c.next = nil
	queueChunkPool.Put(c)
}

// funcQueue is an unbounded FIFO of callbacks backed by a linked list of
// fixed-size pooled chunks, so bursty submission amortizes to one
// allocation per queueChunkSize callbacks and sustained traffic recycles
// chunks instead of growing a slice.
//
// Not safe for concurrent use; callers synchronize through the owning
// queue's mutex. Consumption is batch-only via drainInto, which matches
// how the loop snapshots a queue at the start of a pass.
type funcQueue struct {
	head *queueChunk
	tail *queueChunk
	size int
}

// push appends fn to the queue.
func (q *funcQueue) push(fn func()) {
	if q.tail == nil {
		c := queueChunkPool.Get().(*queueChunk)
		q.head = c
		q.tail = c
	} else if q.tail.n == queueChunkSize {
		c := queueChunkPool.Get().(*queueChunk)
		q.tail.next = c
		q.tail = c
	}
	q.tail.fns[q.tail.n] = fn
	q.tail.n++
	q.size++
}

// drainInto appends every queued callback to buf in FIFO order, empties
// the queue, and recycles its chunks. The appended-to buf is returned so
// callers can reuse its storage across passes.
func (q *funcQueue) drainInto(buf []func()) []func() {
	for c := q.head; c != nil; {
		buf = append(buf, c.fns[:c.n]...)
		next := c.next
		releaseChunk(c)
		c = next
	}
	q.head = nil
	q.tail = nil
	q.size = 0
	return buf
}
