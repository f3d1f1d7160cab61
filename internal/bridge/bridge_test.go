package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Phala-Network/sidevm-quickjs/internal/logging"
	"github.com/Phala-Network/sidevm-quickjs/internal/sandbox"
)

// testSetup wires a bridge into a fresh sandbox with short budgets suitable
// for local test servers.
type testSetup struct {
	bridge  *Bridge
	sandbox *sandbox.Sandbox
}

func newTestSetup(t *testing.T, mutate ...func(*Config, *sandbox.Config)) *testSetup {
	t.Helper()

	bcfg := DefaultConfig()
	bcfg.DefaultTimeout = 5 * time.Second

	scfg := sandbox.DefaultConfig()
	scfg.Deadline = 10 * time.Second
	scfg.Logger = logging.NewNop()

	for _, m := range mutate {
		m(&bcfg, &scfg)
	}

	b := New(bcfg, logging.NewNop())
	s, err := sandbox.New(scfg, b)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	return &testSetup{bridge: b, sandbox: s}
}

// eval binds url as a global and runs the script to completion.
func (ts *testSetup) eval(t *testing.T, url, script string) *sandbox.EvaluationResult {
	t.Helper()
	if url != "" {
		require.NoError(t, ts.sandbox.VM().Set("testURL", url))
	}
	return ts.sandbox.Evaluate(context.Background(), script)
}
