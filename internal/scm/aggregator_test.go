package scm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hdds/pkg/model"
)

func TestClusterSummary(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i, id := range []string{"dn-1", "dn-2"} {
		req := registerReq(id)
		req.NodeReport = &model.NodeReport{Capacity: 100, Used: int64(10 * (i + 1)), Remaining: int64(100 - 10*(i+1)), FailedVolumes: i}
		req.ContainerReports = containers(i + 2)
		_, err := env.m.Frontend().Register(ctx, req)
		require.NoError(t, err)
	}
	// known from an earlier run only
	require.NoError(t, env.m.table.restore(ctx, &model.NodeRecord{Identity: model.NodeIdentity{ID: "dn-3"}}))

	sum := env.m.Aggregator().Summary(ctx)
	assert.Equal(t, ClusterSummary{
		Nodes:         2,
		Capacity:      200,
		Used:          30,
		Remaining:     170,
		FailedVolumes: 1,
		Containers:    5,
	}, sum)
}

func TestApplyReports(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	err := env.m.Aggregator().Apply(ctx, "dn-1", model.ReportSet{Containers: containers(1)})
	assert.ErrorIs(t, err, ErrUnregisteredNode)

	env.register(t, "dn-1")
	require.NoError(t, env.m.Aggregator().Apply(ctx, "dn-1", model.ReportSet{Containers: containers(3)}))

	n, err := env.m.Aggregator().ContainerCount(ctx, "dn-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
