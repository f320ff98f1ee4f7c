package handler

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobTracker_Lifecycle(t *testing.T) {
	tr := NewJobTracker()
	_, started := tr.StartJob("j1", "index_rebuild", "admin")
	require.True(t, started)

	active, started := tr.StartJob("j2", "index_rebuild", "admin")
	require.False(t, started, "one rebuild at a time")
	assert.Equal(t, "j1", active.ID)
	_, ok := tr.GetJob("j2")
	assert.False(t, ok)

	tr.Progress("j1", 4, 10)
	job, ok := tr.GetJob("j1")
	require.True(t, ok)
	assert.Equal(t, JobRunning, job.Status)
	assert.Equal(t, 4, job.Done)
	assert.Equal(t, 10, job.Total)

	tr.Finish("j1", 10, nil)
	job, _ = tr.GetJob("j1")
	assert.Equal(t, JobComplete, job.Status)
	assert.Equal(t, 10, job.Entries)
	assert.False(t, job.CompletedAt.IsZero())

	next, started := tr.StartJob("j3", "index_rebuild", "admin")
	assert.True(t, started)
	assert.Equal(t, "j3", next.ID)
}

func TestJobTracker_ConcurrentStartsCreateOneJob(t *testing.T) {
	tr := NewJobTracker()
	const callers = 20

	var wg sync.WaitGroup
	var startedCount atomic.Int32
	ids := make([]string, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, started := tr.StartJob(fmt.Sprintf("j%d", i), "index_rebuild", "admin")
			if started {
				startedCount.Add(1)
			}
			ids[i] = job.ID
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), startedCount.Load())
	for _, id := range ids {
		assert.Equal(t, ids[0], id, "every caller sees the same job")
	}
}

func TestJobTracker_FinishedJobIsFrozen(t *testing.T) {
	tr := NewJobTracker()
	tr.StartJob("j1", "index_rebuild", "admin")
	tr.Finish("j1", 0, errors.New("corpus empty"))

	tr.Progress("j1", 5, 5)
	tr.Finish("j1", 5, nil)

	job, _ := tr.GetJob("j1")
	assert.Equal(t, JobError, job.Status)
	assert.Equal(t, "corpus empty", job.Error)
	assert.Zero(t, job.Done)
}

func TestJobTracker_SubscriberAlwaysSeesFinalStatus(t *testing.T) {
	tr := NewJobTracker()
	tr.StartJob("j1", "index_rebuild", "admin")

	ch, initial, ok := tr.Subscribe("j1")
	require.True(t, ok)
	assert.Equal(t, JobRunning, initial.Status)

	// Overflow the buffer with progress nobody reads.
	for i := range 50 {
		tr.Progress("j1", i, 50)
	}
	tr.Finish("j1", 50, nil)

	var last JobStatus
	for len(ch) > 0 {
		last = <-ch
	}
	assert.Equal(t, JobComplete, last.Status)

	tr.Unsubscribe("j1", ch)
	_, open := <-ch
	assert.False(t, open)
}

func TestJobTracker_UnknownJob(t *testing.T) {
	tr := NewJobTracker()
	tr.Progress("nope", 1, 1)
	tr.Finish("nope", 1, nil)

	_, ok := tr.GetJob("nope")
	assert.False(t, ok)
	_, _, ok = tr.Subscribe("nope")
	assert.False(t, ok)
}
