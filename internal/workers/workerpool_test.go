package workers

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkerPoolRunsJobs(t *testing.T) {
	assert := assert.New(t)

	uut := NewWorkerPool(4, 64)
	defer uut.Stop()

	var counter int64
	for i := 0; i < 50; i++ {
		assert.True(uut.AddJob(func() {
			atomic.AddInt64(&counter, 1)
		}))
	}
	uut.Wait()
	assert.Equal(int64(50), atomic.LoadInt64(&counter))
}

func TestWorkerPoolRejectsWhenSaturated(t *testing.T) {
	assert := assert.New(t)

	block := make(chan struct{})
	uut := NewWorkerPool(1, 1)

	// Occupy the single worker, then fill the single buffer slot
	assert.True(uut.AddJob(func() { <-block }))
	accepted := 0
	for i := 0; i < 10; i++ {
		if uut.AddJob(func() {}) {
			accepted++
		}
	}
	// At most the buffered slot is accepted; the rest are rejected, not
	// queued unboundedly
	assert.LessOrEqual(accepted, 2)

	close(block)
	uut.Stop()
}

func TestWorkerPoolStopIsIdempotent(t *testing.T) {
	uut := NewWorkerPool(2, 8)
	uut.Stop()
	uut.Stop()
}

func TestWorkerPoolRejectsJobsAfterStop(t *testing.T) {
	assert := assert.New(t)

	uut := NewWorkerPool(2, 8)
	uut.Stop()

	// A late job is dropped, not sent on the closed channel
	assert.False(uut.AddJob(func() {}))
}
