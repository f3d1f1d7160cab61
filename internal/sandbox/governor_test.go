package sandbox

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGovernorWithinBudgets(t *testing.T) {
	var hostBytes atomic.Int64
	g := newGovernor(time.Now().Add(time.Minute), 1<<30, &hostBytes)

	assert.NoError(t, g.check(time.Now()))
}

func TestGovernorDeadline(t *testing.T) {
	var hostBytes atomic.Int64
	g := newGovernor(time.Now().Add(-time.Second), 1<<30, &hostBytes)

	assert.ErrorIs(t, g.check(time.Now()), ErrDeadlineExceeded)
}

func TestGovernorHostBytesCountAgainstCeiling(t *testing.T) {
	var hostBytes atomic.Int64
	g := newGovernor(time.Now().Add(time.Minute), 1024, &hostBytes)

	assert.NoError(t, g.check(time.Now()))

	hostBytes.Store(4096)
	assert.ErrorIs(t, g.check(time.Now()), ErrMemoryExceeded)

	hostBytes.Store(0)
	// The heap sample is throttled; wait out the sample interval so the
	// release is observed.
	assert.Eventually(t, func() bool {
		return g.check(time.Now()) == nil
	}, time.Second, memSampleInterval)
}

func TestGovernorZeroCeilingDisablesMemoryCheck(t *testing.T) {
	var hostBytes atomic.Int64
	hostBytes.Store(1 << 40)
	g := newGovernor(time.Now().Add(time.Minute), 0, &hostBytes)

	assert.NoError(t, g.check(time.Now()))
}
