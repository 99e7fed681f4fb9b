package workers

import (
	"sync"
)

// WorkerPool manages a pool of workers that execute jobs concurrently. The
// gateway uses it to fan broadcast deliveries out across subscribers without
// spawning one goroutine per recipient.
type WorkerPool struct {
	jobCh chan func()
	wg    sync.WaitGroup
	once  sync.Once

	// mu orders AddJob against Stop so a job is never sent on the closed
	// channel.
	mu     sync.RWMutex
	closed bool
}

// NewWorkerPool initializes a worker pool with a fixed number of workers.
func NewWorkerPool(workerCount, jobBufferSize int) *WorkerPool {
	wp := &WorkerPool{
		jobCh: make(chan func(), jobBufferSize),
	}
	for i := 0; i < workerCount; i++ {
		go wp.worker()
	}
	return wp
}

func (wp *WorkerPool) worker() {
	for job := range wp.jobCh {
		job()
	}
}

// AddJob enqueues a job without blocking. Returns false when the queue is
// full or the pool has stopped and the job was dropped.
func (wp *WorkerPool) AddJob(job func()) bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.closed {
		return false
	}
	wp.wg.Add(1)
	select {
	case wp.jobCh <- func() {
		defer wp.wg.Done()
		job()
	}:
		return true
	default:
		wp.wg.Done()
		return false
	}
}

// Wait blocks until all queued jobs are completed.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

// Stop closes the job channel gracefully and waits for in-flight jobs.
// Later AddJob calls are rejected instead of panicking on the closed
// channel.
func (wp *WorkerPool) Stop() {
	wp.once.Do(func() {
		wp.mu.Lock()
		wp.closed = true
		close(wp.jobCh)
		wp.mu.Unlock()
		wp.wg.Wait()
	})
}
