package control

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPauseResumeIdempotent(t *testing.T) {
	s := NewSignal()
	assert.False(t, s.Paused())

	s.Pause()
	s.Pause()
	assert.True(t, s.Paused())

	s.Resume()
	s.Resume()
	assert.False(t, s.Paused())
}

func TestStopIsTerminal(t *testing.T) {
	s := NewSignal()
	s.Stop()
	s.Stop()
	assert.True(t, s.Stopped())

	// Pause and resume after stop have no effect.
	s.Pause()
	assert.False(t, s.Paused())
	s.Resume()
	assert.True(t, s.Stopped())

	select {
	case <-s.Done():
	default:
		t.Fatal("Done channel should be closed after Stop")
	}
}

func TestWaitIfPausedBlocksUntilResume(t *testing.T) {
	s := NewSignal()
	s.Pause()

	resultCh := make(chan bool, 1)
	go func() {
		resultCh <- s.WaitIfPaused()
	}()

	select {
	case <-resultCh:
		t.Fatal("WaitIfPaused returned while paused")
	case <-time.After(50 * time.Millisecond):
	}

	s.Resume()
	select {
	case ok := <-resultCh:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("WaitIfPaused did not return after Resume")
	}
}

func TestStopReleasesPausedWaiter(t *testing.T) {
	s := NewSignal()
	s.Pause()

	resultCh := make(chan bool, 1)
	go func() {
		resultCh <- s.WaitIfPaused()
	}()

	s.Stop()
	select {
	case ok := <-resultCh:
		assert.False(t, ok, "WaitIfPaused must report stop")
	case <-time.After(time.Second):
		t.Fatal("WaitIfPaused did not return after Stop")
	}
}

func TestWaitIfPausedPassesThroughWhenRunning(t *testing.T) {
	s := NewSignal()
	require.True(t, s.WaitIfPaused())
	s.Stop()
	require.False(t, s.WaitIfPaused())
}
