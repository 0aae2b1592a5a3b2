package scm

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hdds/pkg/model"
)

func newTestQueue(depth int) *CommandQueue {
	q := NewCommandQueue(depth, clock.NewMock())
	q.ensure("dn-1")
	return q
}

func TestEnqueueUnknownNode(t *testing.T) {
	q := newTestQueue(10)
	_, err := q.Enqueue("dn-2", model.Command{Type: model.CmdCloseContainer})
	assert.ErrorIs(t, err, ErrUnregisteredNode)
}

func TestEnqueueFillsDefaults(t *testing.T) {
	q := newTestQueue(10)
	cmd, err := q.Enqueue("dn-1", model.Command{NodeID: "ignored", Type: model.CmdCloseContainer})
	require.NoError(t, err)
	assert.NotEmpty(t, cmd.ID)
	assert.False(t, cmd.CreatedAt.IsZero())
	assert.Equal(t, "dn-1", cmd.NodeID)
	assert.Equal(t, model.CommandPending, cmd.State)
}

func TestEnqueueDedupesByID(t *testing.T) {
	q := newTestQueue(10)
	for i := 0; i < 3; i++ {
		_, err := q.Enqueue("dn-1", model.Command{ID: "c-1", Type: model.CmdCloseContainer})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, q.Len("dn-1"))
}

func TestEnqueueQueueFull(t *testing.T) {
	q := newTestQueue(2)
	for i := 0; i < 2; i++ {
		_, err := q.Enqueue("dn-1", model.Command{Type: model.CmdCloseContainer})
		require.NoError(t, err)
	}
	_, err := q.Enqueue("dn-1", model.Command{Type: model.CmdCloseContainer})
	assert.ErrorIs(t, err, ErrQueueFull)

	// delivered but unconfirmed commands still take room
	q.Drain("dn-1", 10, 1)
	_, err = q.Enqueue("dn-1", model.Command{Type: model.CmdCloseContainer})
	assert.ErrorIs(t, err, ErrQueueFull)

	assert.Equal(t, 2, q.Confirm("dn-1"))
	_, err = q.Enqueue("dn-1", model.Command{Type: model.CmdCloseContainer})
	assert.NoError(t, err)
}

func TestDrainConfirmRequeue(t *testing.T) {
	q := newTestQueue(10)
	for _, id := range []string{"c-1", "c-2", "c-3"} {
		_, err := q.Enqueue("dn-1", model.Command{ID: id, Type: model.CmdDeleteBlocks})
		require.NoError(t, err)
	}

	first := q.Drain("dn-1", 2, 7)
	assert.Equal(t, []string{"c-1", "c-2"}, commandIDs(first))
	assert.Equal(t, uint64(7), first[0].DeliveredSeq)
	assert.Equal(t, 1, first[0].Deliveries)

	again := q.Redeliver("dn-1", 7)
	assert.Equal(t, []string{"c-1", "c-2"}, commandIDs(again))
	assert.Equal(t, 2, again[0].Deliveries)
	assert.Empty(t, q.Redeliver("dn-1", 8))

	assert.Equal(t, 2, q.Requeue("dn-1"))
	assert.Equal(t, []string{"c-1", "c-2", "c-3"}, commandIDs(q.Drain("dn-1", 10, 8)))

	assert.Equal(t, 3, q.Confirm("dn-1"))
	assert.Zero(t, q.Len("dn-1"))
	assert.Empty(t, q.Drain("dn-1", 10, 9))
}

func TestDrainedCommandsAreCopies(t *testing.T) {
	q := newTestQueue(10)
	_, err := q.Enqueue("dn-1", model.Command{ID: "c-1", Type: model.CmdReplicateContainer, Args: map[string]string{"container": "1"}})
	require.NoError(t, err)

	out := q.Drain("dn-1", 1, 1)
	out[0].Args["container"] = "2"
	assert.Equal(t, "1", q.Pending("dn-1")[0].Args["container"])
}

func TestPurgeQueue(t *testing.T) {
	q := newTestQueue(10)
	_, err := q.Enqueue("dn-1", model.Command{Type: model.CmdCloseContainer})
	require.NoError(t, err)

	assert.Equal(t, 1, q.Purge("dn-1"))
	assert.Zero(t, q.Purge("dn-1"))
	assert.Nil(t, q.Pending("dn-1"))
	_, err = q.Enqueue("dn-1", model.Command{Type: model.CmdCloseContainer})
	assert.ErrorIs(t, err, ErrUnregisteredNode)
}

func TestEnqueueRacingPurgeIsNeverLost(t *testing.T) {
	for i := 0; i < 20; i++ {
		q := newTestQueue(10)
		nq, ok := q.get("dn-1")
		require.True(t, ok)

		// both calls park on the node queue lock after the lookup
		nq.mu.Lock()
		enqueued := make(chan error, 1)
		go func() {
			_, err := q.Enqueue("dn-1", model.Command{Type: model.CmdCloseContainer})
			enqueued <- err
		}()
		time.Sleep(time.Millisecond)
		purged := make(chan int, 1)
		go func() { purged <- q.Purge("dn-1") }()
		require.Eventually(t, func() bool {
			_, ok := q.get("dn-1")
			return !ok
		}, time.Second, time.Millisecond)
		nq.mu.Unlock()

		err := <-enqueued
		dropped := <-purged
		if err != nil {
			assert.ErrorIs(t, err, ErrUnregisteredNode)
			assert.Zero(t, dropped)
		} else {
			assert.Equal(t, 1, dropped, "accepted command must be counted by the purge")
		}
	}
}

func TestPurgedQueueRejectsAppends(t *testing.T) {
	q := newTestQueue(10)
	stale, ok := q.get("dn-1")
	require.True(t, ok)
	require.Zero(t, q.Purge("dn-1"))
	assert.True(t, stale.closed)

	// a fresh registration gets a fresh queue
	q.ensure("dn-1")
	_, err := q.Enqueue("dn-1", model.Command{Type: model.CmdCloseContainer})
	require.NoError(t, err)
	assert.Equal(t, 1, q.Len("dn-1"))
	assert.Empty(t, stale.cmds)
}
