package jobs

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonycerq/tonycerq-comfyui/model"
)

func TestSubmitBusyCycle(t *testing.T) {
	r := New(nil)

	job, err := r.Submit(model.SourceCivitai)
	require.NoError(t, err)
	assert.Equal(t, model.JobPending, job.State)
	assert.True(t, r.Busy(model.SourceCivitai))

	// pending counts as in flight
	_, err = r.Submit(model.SourceCivitai)
	assert.ErrorIs(t, err, ErrSourceBusy)

	r.Transition(job.ID, model.JobDownloading, "")
	_, err = r.Submit(model.SourceCivitai)
	assert.ErrorIs(t, err, ErrSourceBusy)

	// other sources are independent
	_, err = r.Submit(model.SourceHuggingFace)
	assert.NoError(t, err)

	r.Transition(job.ID, model.JobFailed, "403 Forbidden")
	assert.False(t, r.Busy(model.SourceCivitai))
	next, err := r.Submit(model.SourceCivitai)
	require.NoError(t, err)
	assert.NotEqual(t, job.ID, next.ID)

	failed, ok := r.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, "403 Forbidden", failed.Detail)
}

func TestDetailOnlyOnFailure(t *testing.T) {
	r := New(nil)
	job, err := r.Submit(model.SourceDirect)
	require.NoError(t, err)

	job = r.Transition(job.ID, model.JobDownloading, "2 files")
	assert.Empty(t, job.Detail)
	job = r.Transition(job.ID, model.JobSucceeded, "done")
	assert.Empty(t, job.Detail)
}

func TestIllegalTransitionPanics(t *testing.T) {
	r := New(nil)
	job, err := r.Submit(model.SourceGDrive)
	require.NoError(t, err)

	assert.Panics(t, func() { r.Transition(job.ID, model.JobSucceeded, "") })
	r.Transition(job.ID, model.JobDownloading, "")
	r.Transition(job.ID, model.JobSucceeded, "")
	assert.Panics(t, func() { r.Transition(job.ID, model.JobFailed, "") })
	assert.Panics(t, func() { r.Transition("unknown", model.JobDownloading, "") })
}

func TestOnChange(t *testing.T) {
	var changes []model.Job
	r := New(func(job model.Job) { changes = append(changes, job) })

	job, err := r.Submit(model.SourceDirect)
	require.NoError(t, err)
	r.Transition(job.ID, model.JobDownloading, "")
	r.Transition(job.ID, model.JobSucceeded, "")

	require.Len(t, changes, 3)
	assert.Equal(t, model.JobPending, changes[0].State)
	assert.Equal(t, model.JobDownloading, changes[1].State)
	assert.Equal(t, model.JobSucceeded, changes[2].State)
}

func TestSnapshotAndRetention(t *testing.T) {
	r := New(nil)
	r.retention = 3

	var ids []string
	for i := 0; i < 5; i++ {
		job, err := r.Submit(model.SourceHuggingFace)
		require.NoError(t, err)
		r.Transition(job.ID, model.JobDownloading, "")
		r.Transition(job.ID, model.JobSucceeded, "")
		ids = append(ids, job.ID)
	}
	pending, err := r.Submit(model.SourceCivitai)
	require.NoError(t, err)

	snapshot := r.Snapshot()
	require.Len(t, snapshot, 3)
	assert.Equal(t, ids[3], snapshot[0].ID)
	assert.Equal(t, ids[4], snapshot[1].ID)
	assert.Equal(t, pending.ID, snapshot[2].ID)
	_, ok := r.Get(ids[0])
	assert.False(t, ok)
}

func TestConcurrentTransitions(t *testing.T) {
	var mutex sync.Mutex
	seen := make(map[string][]model.JobState)
	r := New(func(job model.Job) {
		mutex.Lock()
		seen[job.ID] = append(seen[job.ID], job.State)
		mutex.Unlock()
	})

	var wg sync.WaitGroup
	for _, src := range model.Sources {
		job, err := r.Submit(src)
		require.NoError(t, err)
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			r.Transition(id, model.JobDownloading, "")
			r.Transition(id, model.JobSucceeded, "")
		}(job.ID)
	}
	wg.Wait()

	for id, states := range seen {
		assert.Equal(t, []model.JobState{model.JobPending, model.JobDownloading, model.JobSucceeded}, states, id)
	}
	assert.Len(t, seen, len(model.Sources))
}
