package sandbox

import (
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingCallBackpressure(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentAsyncCalls = 2
	s := newTestSandbox(t, cfg)

	first, err := s.NewPendingCall()
	require.NoError(t, err)
	_, err = s.NewPendingCall()
	require.NoError(t, err)

	_, err = s.NewPendingCall()
	assert.ErrorIs(t, err, ErrResourceExhausted)
	assert.Equal(t, int64(2), s.PendingCalls())

	// Settling a call frees its slot.
	require.True(t, first.Deliver(Job{Run: func(*goja.Runtime) error { return nil }}))
	_, err = s.NewPendingCall()
	assert.NoError(t, err)
}

func TestPendingCallDeliversExactlyOnce(t *testing.T) {
	s := newTestSandbox(t, testConfig())

	pc, err := s.NewPendingCall()
	require.NoError(t, err)

	var discarded int
	job := Job{
		Run:     func(*goja.Runtime) error { return nil },
		Discard: func() { discarded++ },
	}

	assert.True(t, pc.Deliver(job))
	assert.False(t, pc.Deliver(job), "second settlement must lose")
	assert.Equal(t, 1, discarded, "losing settlement releases its resources")
	assert.Equal(t, int64(0), s.PendingCalls())
}

func TestPendingCallIDsAreUnique(t *testing.T) {
	s := newTestSandbox(t, testConfig())

	a, err := s.NewPendingCall()
	require.NoError(t, err)
	b, err := s.NewPendingCall()
	require.NoError(t, err)

	assert.NotEqual(t, a.ID(), b.ID())
}

func TestDeliverAfterCloseDetaches(t *testing.T) {
	s, err := New(testConfig())
	require.NoError(t, err)

	pc, err := s.NewPendingCall()
	require.NoError(t, err)

	var ran, discarded bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		pc.Deliver(Job{
			Run:     func(*goja.Runtime) error { ran = true; return nil },
			Discard: func() { discarded = true },
		})
	}()

	s.Close()
	<-done

	assert.False(t, ran, "detached completions never reach script")
	assert.True(t, discarded)
	assert.Equal(t, int64(0), s.PendingCalls())
}

func TestNewPendingCallAfterClose(t *testing.T) {
	s, err := New(testConfig())
	require.NoError(t, err)
	s.Close()

	_, err = s.NewPendingCall()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestHostBytesAccounting(t *testing.T) {
	s := newTestSandbox(t, testConfig())

	s.TrackHostBytes(4096)
	assert.Equal(t, int64(4096), s.HostBytes())
	s.TrackHostBytes(1024)
	assert.Equal(t, int64(5120), s.HostBytes())
	s.ReleaseHostBytes(5120)
	assert.Equal(t, int64(0), s.HostBytes())
}
