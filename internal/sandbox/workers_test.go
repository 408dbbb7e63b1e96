package sandbox

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPoolRejectsWhenQueueFull(t *testing.T) {
	w := NewWorkerPool(1, 1, nil, nil)

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, w.Submit(func() {
		close(started)
		<-release
	}))
	<-started

	var ran atomic.Int32
	require.NoError(t, w.Submit(func() { ran.Add(1) }))
	assert.ErrorIs(t, w.Submit(func() { ran.Add(1) }), ErrQueueFull)

	close(release)
	w.Close()
	assert.Equal(t, int32(1), ran.Load())
	assert.ErrorIs(t, w.Submit(func() {}), ErrWorkersClosed)
}

func TestWorkerPoolSurvivesPanics(t *testing.T) {
	w := NewWorkerPool(1, 4, nil, nil)

	var ran atomic.Int32
	require.NoError(t, w.Submit(func() { panic("plugin bug") }))
	require.NoError(t, w.Submit(func() { ran.Add(1) }))
	w.Close()

	assert.Equal(t, int32(1), ran.Load())
}
