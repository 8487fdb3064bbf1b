package batch

import "sync"

// JobQueue dispenses jobs in input order. Each index is handed out at most
// once; there is no requeue.
type JobQueue struct {
	mu     sync.Mutex
	jobs   []Job
	cursor int
}

// NewJobQueue wraps jobs without copying their order.
func NewJobQueue(jobs []Job) *JobQueue {
	return &JobQueue{jobs: jobs}
}

// Next returns the next unclaimed job and its 0-based input index.
func (q *JobQueue) Next() (Job, int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cursor >= len(q.jobs) {
		return Job{}, -1, false
	}
	index := q.cursor
	q.cursor++
	return q.jobs[index], index, true
}

// Remaining is the number of jobs not yet dispensed.
func (q *JobQueue) Remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs) - q.cursor
}
