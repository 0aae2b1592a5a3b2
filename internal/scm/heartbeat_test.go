package scm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hdds/internal/config"
	"hdds/pkg/model"
)

func containers(n int) *model.ContainerReport {
	r := &model.ContainerReport{}
	for i := 1; i <= n; i++ {
		r.Containers = append(r.Containers, model.ContainerSummary{
			ContainerID: int64(i),
			State:       model.ContainerOpen,
			Used:        int64(i) << 20,
			KeyCount:    int64(i * 10),
		})
	}
	return r
}

func enqueue(t *testing.T, env *testEnv, id string, n int) []string {
	t.Helper()
	var ids []string
	for i := 0; i < n; i++ {
		cmd, err := env.m.Queue().Enqueue(id, model.Command{Type: model.CmdDeleteBlocks})
		require.NoError(t, err)
		ids = append(ids, cmd.ID)
	}
	return ids
}

func commandIDs(cmds []model.Command) []string {
	ids := make([]string, 0, len(cmds))
	for _, c := range cmds {
		ids = append(ids, c.ID)
	}
	return ids
}

func TestHeartbeatUnknownNode(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.m.Frontend().SendHeartbeat(context.Background(), heartbeat("dn-404", 1))
	assert.ErrorIs(t, err, ErrUnregisteredNode)
	assert.Zero(t, env.m.table.Len())
	assert.Empty(t, env.m.Nodes(context.Background()))

	_, err = env.m.Frontend().SendHeartbeat(context.Background(), heartbeat("", 1))
	assert.ErrorIs(t, err, ErrUnregisteredNode)
}

func TestHeartbeatFirstContact(t *testing.T) {
	env := newTestEnv(t, func(c *config.SCMConfig) { c.MinLayoutVersion = 2 })
	ctx := context.Background()

	ack := env.register(t, "dn-1")
	assert.Equal(t, "dn-1", ack.NodeID)
	assert.Equal(t, model.NodeRegistered, env.state(t, "dn-1"))

	req := heartbeat("dn-1", 1)
	req.ContainerReports = containers(5)
	resp, err := env.m.Frontend().SendHeartbeat(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "dn-1", resp.NodeID)
	assert.NotNil(t, resp.Commands)
	assert.Empty(t, resp.Commands)

	reports, err := env.m.Aggregator().Reports(ctx, "dn-1")
	require.NoError(t, err)
	assert.Equal(t, containers(5), reports.Containers)

	n, err := env.m.Aggregator().ContainerCount(ctx, "dn-1")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestHeartbeatReportsAreIdempotent(t *testing.T) {
	once := newTestEnv(t)
	twice := newTestEnv(t)
	ctx := context.Background()

	report := &model.NodeReport{Capacity: 100, Used: 40, Remaining: 60}
	for _, env := range []*testEnv{once, twice} {
		env.register(t, "dn-1")
	}
	send := func(env *testEnv, seq uint64) {
		req := heartbeat("dn-1", seq)
		req.NodeReport = report
		req.ContainerReports = containers(3)
		_, err := env.m.Frontend().SendHeartbeat(ctx, req)
		require.NoError(t, err)
	}
	send(once, 1)
	send(twice, 1)
	send(twice, 2)

	a, err := once.m.Aggregator().Reports(ctx, "dn-1")
	require.NoError(t, err)
	b, err := twice.m.Aggregator().Reports(ctx, "dn-1")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, once.m.Aggregator().Summary(ctx), twice.m.Aggregator().Summary(ctx))
}

func TestHeartbeatKeepsReportsItDoesNotCarry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "dn-1")

	req := heartbeat("dn-1", 1)
	req.ContainerReports = containers(2)
	req.PipelineReports = &model.PipelineReport{Pipelines: []model.PipelineSummary{{PipelineID: "p-1"}}}
	_, err := env.m.Frontend().SendHeartbeat(ctx, req)
	require.NoError(t, err)

	req = heartbeat("dn-1", 2)
	req.ContainerReports = containers(4)
	_, err = env.m.Frontend().SendHeartbeat(ctx, req)
	require.NoError(t, err)

	reports, err := env.m.Aggregator().Reports(ctx, "dn-1")
	require.NoError(t, err)
	assert.Len(t, reports.Containers.Containers, 4)
	assert.Len(t, reports.Pipelines.Pipelines, 1)
}

func TestHeartbeatStoredReportsAreCopies(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "dn-1")

	req := heartbeat("dn-1", 1)
	req.ContainerReports = containers(1)
	_, err := env.m.Frontend().SendHeartbeat(ctx, req)
	require.NoError(t, err)
	req.ContainerReports.Containers[0].KeyCount = 999

	reports, err := env.m.Aggregator().Reports(ctx, "dn-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), reports.Containers.Containers[0].KeyCount)
}

func TestDeliveredCommandsSurviveLostResponse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "dn-1")
	ids := enqueue(t, env, "dn-1", 3)

	resp, err := env.m.Frontend().SendHeartbeat(ctx, heartbeat("dn-1", 1))
	require.NoError(t, err)
	assert.Equal(t, ids, commandIDs(resp.Commands))

	// the node crashed before acting on the response
	pending := env.m.Queue().Pending("dn-1")
	require.Len(t, pending, 3)
	for _, c := range pending {
		assert.Equal(t, model.CommandDelivered, c.State)
	}

	// after a restart the node registers and counts from one again
	env.register(t, "dn-1")
	resp, err = env.m.Frontend().SendHeartbeat(ctx, heartbeat("dn-1", 1))
	require.NoError(t, err)
	assert.Equal(t, ids, commandIDs(resp.Commands))
}

func TestHeartbeatRetryReturnsSameBatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "dn-1")
	ids := enqueue(t, env, "dn-1", 2)

	first, err := env.m.Frontend().SendHeartbeat(ctx, heartbeat("dn-1", 5))
	require.NoError(t, err)
	assert.Equal(t, ids, commandIDs(first.Commands))

	retry, err := env.m.Frontend().SendHeartbeat(ctx, heartbeat("dn-1", 5))
	require.NoError(t, err)
	assert.Equal(t, ids, commandIDs(retry.Commands))
	assert.Equal(t, 2, env.m.Queue().Len("dn-1"))

	next, err := env.m.Frontend().SendHeartbeat(ctx, heartbeat("dn-1", 6))
	require.NoError(t, err)
	assert.Empty(t, next.Commands)
	assert.Zero(t, env.m.Queue().Len("dn-1"))
}

func TestHeartbeatBatchLimit(t *testing.T) {
	env := newTestEnv(t, func(c *config.SCMConfig) { c.MaxCommandsPerHeartbeat = 2 })
	ctx := context.Background()
	env.register(t, "dn-1")
	ids := enqueue(t, env, "dn-1", 5)

	var got []string
	for seq := uint64(1); seq <= 4; seq++ {
		resp, err := env.m.Frontend().SendHeartbeat(ctx, heartbeat("dn-1", seq))
		require.NoError(t, err)
		assert.LessOrEqual(t, len(resp.Commands), 2)
		got = append(got, commandIDs(resp.Commands)...)
	}
	assert.Equal(t, ids, got)
	assert.Zero(t, env.m.Queue().Len("dn-1"))
}

func TestHeartbeatLayoutIsMonotonic(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "dn-1")

	send := func(seq uint64, metadata int32) {
		req := heartbeat("dn-1", seq)
		req.Layout = &model.LayoutVersion{Metadata: metadata, Software: metadata}
		_, err := env.m.Frontend().SendHeartbeat(ctx, req)
		require.NoError(t, err)
	}
	send(1, 4)
	send(2, 2)

	rec, err := env.m.Node(ctx, "dn-1")
	require.NoError(t, err)
	assert.Equal(t, int32(4), rec.Layout.Metadata)

	stored, err := env.store.GetNode(ctx, "dn-1")
	require.NoError(t, err)
	assert.Equal(t, int32(4), stored.Layout.Metadata)
}

func TestStaleNodeRecoversOnHeartbeat(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "dn-1")

	env.clock.Add(env.m.cfg.StaleNodeInterval + time.Second)
	assert.Equal(t, model.NodeStale, env.state(t, "dn-1"))

	_, err := env.m.Frontend().SendHeartbeat(context.Background(), heartbeat("dn-1", 1))
	require.NoError(t, err)
	assert.Equal(t, model.NodeRegistered, env.state(t, "dn-1"))
}

func TestHeartbeatFromOtherEndpointIsRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "dn-1")
	enqueue(t, env, "dn-1", 1)
	env.clock.Add(time.Second)

	req := heartbeat("dn-1", 1)
	req.Identity.Address = "10.0.0.9:9858"
	_, err := env.m.Frontend().SendHeartbeat(ctx, req)
	assert.ErrorIs(t, err, ErrUnregisteredNode)

	req = heartbeat("dn-1", 1)
	req.Identity.HostName = "intruder"
	_, err = env.m.Frontend().SendHeartbeat(ctx, req)
	assert.ErrorIs(t, err, ErrUnregisteredNode)

	// nothing was handed out and liveness did not move
	pending := env.m.Queue().Pending("dn-1")
	require.Len(t, pending, 1)
	assert.Equal(t, model.CommandPending, pending[0].State)
	rec, err := env.m.Node(ctx, "dn-1")
	require.NoError(t, err)
	assert.True(t, env.clock.Now().Add(-time.Second).Equal(rec.LastHeartbeat))

	_, err = env.m.Frontend().SendHeartbeat(ctx, heartbeat("dn-1", 1))
	require.NoError(t, err)
}

func TestDeadNodeMustRegisterAgain(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "dn-1")

	env.clock.Add(env.m.cfg.DeadNodeInterval + time.Second)
	assert.Equal(t, model.NodeDead, env.state(t, "dn-1"))

	_, err := env.m.Frontend().SendHeartbeat(ctx, heartbeat("dn-1", 1))
	assert.ErrorIs(t, err, ErrUnregisteredNode)
	assert.Equal(t, model.NodeDead, env.state(t, "dn-1"))

	stored, err := env.store.GetNode(ctx, "dn-1")
	require.NoError(t, err)
	assert.Equal(t, model.NodeDead, stored.State)

	env.register(t, "dn-1")
	assert.Equal(t, model.NodeRegistered, env.state(t, "dn-1"))
}

func TestSlowNodeDoesNotDelayOthers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "dn-a")
	env.register(t, "dn-b")

	a, ok := env.m.table.get("dn-a")
	require.True(t, ok)
	require.NoError(t, a.lock(ctx))
	defer a.unlock()

	start := time.Now()
	_, err := env.m.Frontend().SendHeartbeat(ctx, heartbeat("dn-b", 1))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), env.m.cfg.CallTimeout)

	_, err = env.m.Frontend().SendHeartbeat(ctx, heartbeat("dn-a", 1))
	assert.ErrorIs(t, err, ErrTimeout)
}
