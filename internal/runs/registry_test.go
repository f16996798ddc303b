package runs

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRejectsDuplicate(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Create("r1", "s1", StatusQueued)
	require.NoError(t, err)

	_, err = reg.Create("r1", "s2", StatusQueued)
	assert.ErrorIs(t, err, ErrDuplicateRun)

	run, err := reg.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, "s1", run.SessionKey)
}

func TestCreateRejectsTerminalInitialState(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Create("r1", "s1", StatusCompleted)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = reg.Create("r1", "", StatusQueued)
	assert.ErrorIs(t, err, ErrSessionRequired)
}

func TestTransitionForwardOnly(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Create("r1", "s1", StatusQueued)
	require.NoError(t, err)

	_, err = reg.Transition("r1", StatusRunning, nil)
	require.NoError(t, err)

	_, err = reg.Transition("r1", StatusQueued, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition, "running -> queued")
	_, err = reg.Transition("r1", StatusRunning, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition, "running -> running")

	run, err := reg.Transition("r1", StatusCompleted, &Result{Output: "hi"})
	require.NoError(t, err)
	require.NotNil(t, run.Result)
	assert.Equal(t, "hi", run.Result.Output)
	assert.Equal(t, "s1", run.Result.SessionKey)

	_, err = reg.Transition("r1", StatusAborted, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition, "completed -> aborted")

	run, err = reg.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, run.Status)
}

func TestTransitionQueuedToCompleted(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Create("r1", "s1", StatusQueued)
	require.NoError(t, err)

	run, err := reg.Transition("r1", StatusCompleted, &Result{Output: "fast"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, run.Status)
}

func TestTransitionAbortedIsFinal(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Create("r1", "s1", StatusQueued)
	require.NoError(t, err)

	_, err = reg.Transition("r1", StatusAborted, nil)
	require.NoError(t, err)

	_, err = reg.Transition("r1", StatusCompleted, &Result{Output: "late"})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	run, err := reg.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, StatusAborted, run.Status)
	assert.Nil(t, run.Result)
}

func TestTransitionUnknownRun(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Transition("missing", StatusRunning, nil)
	assert.ErrorIs(t, err, ErrRunNotFound)

	_, err = reg.Get("missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestListActiveForSession(t *testing.T) {
	reg := NewRegistry()
	reg.Create("a", "s1", StatusQueued)
	reg.Create("b", "s2", StatusQueued)
	reg.Create("c", "s1", StatusRunning)
	reg.Create("d", "s1", StatusQueued)
	reg.Transition("d", StatusCompleted, &Result{Output: "x"})

	assert.Equal(t, []string{"a", "c"}, reg.ListActiveForSession("s1"))
	assert.Empty(t, reg.ListActiveForSession("nobody"))
}

func TestConcurrentTransitionsSingleWinner(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Create("r1", "s1", StatusRunning)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var wins atomic.Int32
	for i := 0; i < 32; i++ {
		to := StatusCompleted
		if i%2 == 0 {
			to = StatusAborted
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := reg.Transition("r1", to, &Result{Output: "x"}); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load(), "exactly one terminal transition wins")
}

func TestDoneClosesOnTerminal(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Create("r1", "s1", StatusQueued)
	require.NoError(t, err)

	done, ok := reg.Done("r1")
	require.True(t, ok)

	_, err = reg.Transition("r1", StatusRunning, nil)
	require.NoError(t, err)
	select {
	case <-done:
		t.Fatal("done closed before the run was terminal")
	default:
	}

	_, err = reg.Abort("s1", "r1")
	require.NoError(t, err)
	select {
	case <-done:
	default:
		t.Fatal("done not closed after abort")
	}

	_, ok = reg.Done("missing")
	assert.False(t, ok)
}
