package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aint-no-code/reclaw-conformance/internal/protocol"
)

func TestPendingResolveOutOfOrder(t *testing.T) {
	table := newPendingTable()
	a, err := table.register("1", "agent")
	require.NoError(t, err)
	b, err := table.register("2", "agent.wait")
	require.NoError(t, err)

	require.Same(t, b, table.resolve(&protocol.Response{ID: "2", OK: true}))
	require.Same(t, a, table.resolve(&protocol.Response{ID: "1", OK: true}))
	assert.Nil(t, table.resolve(&protocol.Response{ID: "1", OK: true}), "resolved twice")
	assert.Equal(t, 0, table.len())

	resp, err := a.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1", resp.ID)
}

func TestPendingDuplicateID(t *testing.T) {
	table := newPendingTable()
	_, err := table.register("1", "agent")
	require.NoError(t, err)
	_, err = table.register("1", "agent")
	assert.Error(t, err)
}

func TestPendingFailAll(t *testing.T) {
	table := newPendingTable()
	p, err := table.register("1", "agent")
	require.NoError(t, err)

	closed := errors.New("closed")
	table.failAll(closed)

	_, err = p.Await(context.Background())
	assert.ErrorIs(t, err, closed)

	_, err = table.register("2", "agent")
	assert.ErrorIs(t, err, closed)
}

func TestPendingAwaitContext(t *testing.T) {
	table := newPendingTable()
	p, err := table.register("1", "agent.wait")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = p.Await(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// A late response is still matched.
	assert.NotNil(t, table.resolve(&protocol.Response{ID: "1", OK: true}))
}

func TestPendingConcurrentRegistration(t *testing.T) {
	table := newPendingTable()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprint(i)
			p, err := table.register(id, "agent")
			if err != nil {
				t.Error(err)
				return
			}
			table.resolve(&protocol.Response{ID: id, OK: true})
			<-p.Done()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, table.len())
}
