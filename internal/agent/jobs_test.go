package agent

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobManager(t *testing.T) {
	jm := NewJobManager()
	_, ok := jm.Last()
	assert.False(t, ok)

	job := jm.Start("j1", CommandSpawn)
	got, ok := jm.Get("j1")
	require.True(t, ok)
	assert.Equal(t, JobStatusRunning, got.Status)

	jm.Finish(job, errors.New("no such definition"))
	got, _ = jm.Get("j1")
	assert.Equal(t, JobStatusFailed, got.Status)
	assert.Equal(t, "no such definition", got.Error)

	jm.Finish(jm.Start("j2", CommandReload), nil)
	last, ok := jm.Last()
	require.True(t, ok)
	assert.Equal(t, "j2", last.ID)
	assert.Equal(t, JobStatusSuccess, last.Status)
}

func TestJobManager_BoundedHistory(t *testing.T) {
	jm := NewJobManager()
	for i := 0; i < jobHistory+5; i++ {
		jm.Start(fmt.Sprintf("j%d", i), CommandReload)
	}
	_, ok := jm.Get("j0")
	assert.False(t, ok)
	_, ok = jm.Get(fmt.Sprintf("j%d", jobHistory+4))
	assert.True(t, ok)
	assert.Len(t, jm.jobs, jobHistory)
}
