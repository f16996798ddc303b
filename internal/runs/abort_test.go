package runs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAbortRunInSession(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Create("r1", "s1", StatusQueued)
	require.NoError(t, err)

	out, err := reg.Abort("s1", "r1")
	require.NoError(t, err)
	assert.True(t, out.Aborted)
	assert.Equal(t, []string{"r1"}, out.RunIDs)

	run, err := reg.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, StatusAborted, run.Status)
}

func TestAbortTerminalRunIsIdempotent(t *testing.T) {
	reg := NewRegistry()
	reg.Create("r1", "s1", StatusRunning)
	reg.Transition("r1", StatusCompleted, &Result{Output: "x"})

	for i := 0; i < 3; i++ {
		out, err := reg.Abort("s1", "r1")
		require.NoError(t, err, "abort #%d", i)
		assert.False(t, out.Aborted, "abort #%d", i)
		assert.Equal(t, []string{"r1"}, out.RunIDs, "abort #%d", i)
	}

	run, err := reg.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, run.Status)
}

func TestAbortCrossSessionRejected(t *testing.T) {
	reg := NewRegistry()
	reg.Create("r1", "owner", StatusRunning)

	_, err := reg.Abort("intruder", "r1")
	assert.ErrorIs(t, err, ErrRunNotInSession)
	_, err = reg.Abort("intruder", "missing")
	assert.ErrorIs(t, err, ErrRunNotInSession)

	run, err := reg.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, run.Status, "rejected abort must not mutate the run")
}

func TestAbortSessionWide(t *testing.T) {
	reg := NewRegistry()
	reg.Create("a", "s1", StatusQueued)
	reg.Create("b", "s1", StatusRunning)
	reg.Create("c", "s2", StatusRunning)
	reg.Create("d", "s1", StatusRunning)
	reg.Transition("d", StatusCompleted, &Result{Output: "x"})

	out, err := reg.Abort("s1", "")
	require.NoError(t, err)
	assert.True(t, out.Aborted)
	assert.Equal(t, []string{"a", "b"}, out.RunIDs)

	again, err := reg.Abort("s1", "")
	require.NoError(t, err)
	assert.False(t, again.Aborted)
	assert.Empty(t, again.RunIDs)

	other, err := reg.Get("c")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, other.Status)
}

func TestAbortRequiresSession(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Abort("", "")
	assert.ErrorIs(t, err, ErrSessionRequired)
}
