package worker

import "sync"

// jobQueue is an unbounded FIFO of job ids
type jobQueue struct {
	mu    sync.Mutex
	items []string
}

func (q *jobQueue) push(id string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, id)
	return len(q.items)
}

func (q *jobQueue) pop() (string, int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return "", 0, false
	}
	id := q.items[0]
	q.items[0] = ""
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return id, len(q.items), true
}

func (q *jobQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
