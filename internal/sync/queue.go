package sync

import gosync "sync"

// entityQueue serializes network writes for a single entity id. Jobs run
// strictly in enqueue order, so a second rapid edit always sees the
// version produced by the first edit's resolution instead of a stale
// base version.
type entityQueue struct {
	mu      gosync.Mutex
	jobs    []func()
	running bool
}

// queueSet owns one queue per entity key.
type queueSet struct {
	mu     gosync.Mutex
	queues map[string]*entityQueue
}

func newQueueSet() *queueSet {
	return &queueSet{queues: make(map[string]*entityQueue)}
}

// enqueue appends job to the queue for key, starting a drain goroutine
// if none is running for that key.
func (s *queueSet) enqueue(key string, job func()) {
	s.mu.Lock()
	q, ok := s.queues[key]
	if !ok {
		q = &entityQueue{}
		s.queues[key] = q
	}
	s.mu.Unlock()

	q.mu.Lock()
	q.jobs = append(q.jobs, job)
	start := !q.running
	if start {
		q.running = true
	}
	q.mu.Unlock()

	if start {
		go q.drain()
	}
}

// drain runs queued jobs in FIFO order until the queue is empty.
func (q *entityQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.jobs) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		job := q.jobs[0]
		q.jobs = q.jobs[1:]
		q.mu.Unlock()

		job()
	}
}
