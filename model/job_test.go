package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStateTransitions(t *testing.T) {
	assert.True(t, JobPending.CanTransition(JobDownloading))
	assert.False(t, JobPending.CanTransition(JobSucceeded))
	assert.True(t, JobDownloading.CanTransition(JobSucceeded))
	assert.True(t, JobDownloading.CanTransition(JobFailed))
	assert.False(t, JobDownloading.CanTransition(JobPending))
	for _, terminal := range []JobState{JobSucceeded, JobFailed} {
		assert.True(t, terminal.Terminal())
		for _, next := range []JobState{JobPending, JobDownloading, JobSucceeded, JobFailed} {
			assert.False(t, terminal.CanTransition(next))
		}
	}
}

func TestJobStateText(t *testing.T) {
	b, err := json.Marshal(Job{ID: "1", Source: SourceCivitai, State: JobSucceeded})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"status":"success"`)

	var job Job
	require.NoError(t, json.Unmarshal(b, &job))
	assert.Equal(t, JobSucceeded, job.State)

	assert.Error(t, json.Unmarshal([]byte(`{"status":"done"}`), &job))
}

func TestParseJobSource(t *testing.T) {
	src, err := ParseJobSource("googledrive")
	require.NoError(t, err)
	assert.Equal(t, SourceGDrive, src)

	src, err = ParseJobSource("huggingface")
	require.NoError(t, err)
	assert.Equal(t, SourceHuggingFace, src)

	_, err = ParseJobSource("ftp")
	assert.Error(t, err)
}
