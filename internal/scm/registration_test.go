package scm

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hdds/internal/config"
	"hdds/pkg/model"
	"hdds/pkg/store"
)

func TestRegisterIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.register(t, "dn-1")
	_, err := env.m.Queue().Enqueue("dn-1", model.Command{Type: model.CmdCloseContainer})
	require.NoError(t, err)
	resp, err := env.m.Frontend().SendHeartbeat(ctx, heartbeat("dn-1", 1))
	require.NoError(t, err)
	require.Len(t, resp.Commands, 1)

	second := env.register(t, "dn-1")
	assert.Equal(t, first, second)
	assert.Equal(t, model.NodeRegistered, env.state(t, "dn-1"))
	assert.Equal(t, 1, env.m.table.Len())

	// the unconfirmed command is pending again, not duplicated
	pending := env.m.Queue().Pending("dn-1")
	require.Len(t, pending, 1)
	assert.Equal(t, model.CommandPending, pending[0].State)
}

func TestRegisterAck(t *testing.T) {
	env := newTestEnv(t)
	ack := env.register(t, "dn-1")

	assert.Equal(t, "dn-1", ack.NodeID)
	assert.Equal(t, "CID-test", ack.ClusterID)
	assert.Equal(t, "host-dn-1", ack.HostName)
	assert.Equal(t, "10.0.0.1", ack.IPAddress)
	assert.Equal(t, config.DefaultNetworkLocation, ack.NetworkLocation)
}

func TestRegisterAssignsID(t *testing.T) {
	env := newTestEnv(t)
	ack := env.register(t, "")

	_, err := uuid.Parse(ack.NodeID)
	require.NoError(t, err)
	assert.Equal(t, model.NodeRegistered, env.state(t, ack.NodeID))
}

func TestRegisterWithoutIDIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.register(t, "")
	// the ack was lost and the node asks again
	second := env.register(t, "")
	assert.Equal(t, first.NodeID, second.NodeID)
	assert.Equal(t, 1, env.m.table.Len())

	recs, err := env.store.ListNodes(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, first.NodeID, recs[0].Identity.ID)

	// another endpoint is another node
	req := registerReq("")
	req.Identity.Address = "10.0.0.2:9858"
	other, err := env.m.Frontend().Register(ctx, req)
	require.NoError(t, err)
	assert.NotEqual(t, first.NodeID, other.NodeID)
	assert.Equal(t, 2, env.m.table.Len())
}

func TestRegisterWithoutIDAfterRestart(t *testing.T) {
	s := store.NewMemoryStore()
	first := newTestEnvWithStore(t, testConfig(), s)
	ack := first.register(t, "")

	second := newTestEnvWithStore(t, testConfig(), s)
	require.NoError(t, second.m.Start(context.Background()))
	defer second.m.Stop()

	again := second.register(t, "")
	assert.Equal(t, ack.NodeID, again.NodeID)
	assert.Equal(t, 1, second.m.table.Len())
}

func TestRegisterResolvesHostName(t *testing.T) {
	env := newTestEnv(t)
	req := registerReq("dn-1")
	req.Identity.HostName = ""
	req.Identity.Address = "dn-host:9858"

	ack, err := env.m.Frontend().Register(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.9", ack.IPAddress)
	assert.Equal(t, "dn-host", ack.HostName)
}

func TestRegisterRejectsInvalidIdentity(t *testing.T) {
	env := newTestEnv(t)

	for _, addr := range []string{"", "no-port", ":9858", "unknown-host:9858"} {
		req := registerReq("dn-1")
		req.Identity.Address = addr
		_, err := env.m.Frontend().Register(context.Background(), req)
		assert.ErrorIs(t, err, ErrInvalidIdentity, addr)
	}
	assert.Zero(t, env.m.table.Len())
}

func TestRegisterRejectsLayoutBelowFloor(t *testing.T) {
	env := newTestEnv(t, func(c *config.SCMConfig) { c.MinLayoutVersion = 4 })

	_, err := env.m.Frontend().Register(context.Background(), registerReq("dn-1"))
	assert.ErrorIs(t, err, ErrIncompatibleLayout)
	assert.Zero(t, env.m.table.Len())
}

func TestRegisterIdentityConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "dn-1")

	moved := registerReq("dn-1")
	moved.Identity.Address = "10.0.0.2:9858"
	_, err := env.m.Frontend().Register(ctx, moved)
	assert.ErrorIs(t, err, ErrIdentityConflict)

	// a dead node may come back somewhere else
	env.clock.Add(env.m.cfg.DeadNodeInterval + time.Second)
	_, err = env.m.Frontend().Register(ctx, moved)
	require.NoError(t, err)

	rec, err := env.m.Node(ctx, "dn-1")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2:9858", rec.Identity.Address)
}

func TestRegisterPersistsRecord(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "dn-1")

	rec, err := env.store.GetNode(context.Background(), "dn-1")
	require.NoError(t, err)
	assert.Equal(t, model.NodeRegistered, rec.State)
	assert.Equal(t, int32(3), rec.Layout.Metadata)
	assert.True(t, env.clock.Now().Equal(rec.LastHeartbeat))
}

func TestRegisterReplacesAllReports(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req := registerReq("dn-1")
	req.ContainerReports = &model.ContainerReport{Containers: []model.ContainerSummary{{ContainerID: 1}, {ContainerID: 2}}}
	req.PipelineReports = &model.PipelineReport{Pipelines: []model.PipelineSummary{{PipelineID: "p-1", IsLeader: true}}}
	_, err := env.m.Frontend().Register(ctx, req)
	require.NoError(t, err)

	// registering again without pipelines clears them
	req.PipelineReports = nil
	_, err = env.m.Frontend().Register(ctx, req)
	require.NoError(t, err)

	reports, err := env.m.Aggregator().Reports(ctx, "dn-1")
	require.NoError(t, err)
	assert.Len(t, reports.Containers.Containers, 2)
	assert.Empty(t, reports.Pipelines.Pipelines)
	assert.NotNil(t, reports.Node)
}

func TestRegisterKeepsHigherLayout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "dn-1")

	up := heartbeat("dn-1", 1)
	up.Layout = &model.LayoutVersion{Metadata: 5, Software: 5}
	_, err := env.m.Frontend().SendHeartbeat(ctx, up)
	require.NoError(t, err)

	env.register(t, "dn-1")
	rec, err := env.m.Node(ctx, "dn-1")
	require.NoError(t, err)
	assert.Equal(t, model.LayoutVersion{Metadata: 5, Software: 5}, rec.Layout)
}
