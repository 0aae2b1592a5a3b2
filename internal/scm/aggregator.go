package scm

import (
	"context"

	"github.com/pkg/errors"

	"hdds/pkg/model"
)

// ReportAggregator keeps the latest reports of every node. A report replaces
// the previous one of the same kind; nothing is merged across heartbeats.
type ReportAggregator struct {
	table *NodeTable
}

func NewReportAggregator(table *NodeTable) *ReportAggregator {
	return &ReportAggregator{table: table}
}

// replace stores set for e. With full set, missing reports become empty;
// otherwise they keep their previous value. Caller holds e's lock.
func (a *ReportAggregator) replace(e *nodeEntry, set model.ReportSet, full bool) {
	set = set.Clone()
	if full {
		if set.Node == nil {
			set.Node = &model.NodeReport{}
		}
		if set.Containers == nil {
			set.Containers = &model.ContainerReport{}
		}
		if set.Pipelines == nil {
			set.Pipelines = &model.PipelineReport{}
		}
		e.reports = set
		return
	}
	if set.Node != nil {
		e.reports.Node = set.Node
	}
	if set.Containers != nil {
		e.reports.Containers = set.Containers
	}
	if set.Pipelines != nil {
		e.reports.Pipelines = set.Pipelines
	}
}

// Apply replaces the reports present in set for a registered node.
func (a *ReportAggregator) Apply(ctx context.Context, nodeID string, set model.ReportSet) error {
	e, ok := a.table.get(nodeID)
	if !ok {
		return errors.Wrap(ErrUnregisteredNode, nodeID)
	}
	if err := e.lock(ctx); err != nil {
		return err
	}
	defer e.unlock()

	if e.state == model.NodeUnregistered {
		return errors.Wrap(ErrUnregisteredNode, nodeID)
	}
	a.replace(e, set, false)
	return nil
}

// Reports returns a copy of the latest reports of a node.
func (a *ReportAggregator) Reports(ctx context.Context, nodeID string) (model.ReportSet, error) {
	e, ok := a.table.get(nodeID)
	if !ok {
		return model.ReportSet{}, errors.Wrap(ErrUnregisteredNode, nodeID)
	}
	if err := e.lock(ctx); err != nil {
		return model.ReportSet{}, err
	}
	defer e.unlock()
	return e.reports.Clone(), nil
}

// ContainerCount returns the number of containers in the node's latest report.
func (a *ReportAggregator) ContainerCount(ctx context.Context, nodeID string) (int, error) {
	r, err := a.Reports(ctx, nodeID)
	if err != nil {
		return 0, err
	}
	if r.Containers == nil {
		return 0, nil
	}
	return len(r.Containers.Containers), nil
}

// ClusterSummary adds up the latest reports of all nodes.
type ClusterSummary struct {
	Nodes         int
	Capacity      int64
	Used          int64
	Remaining     int64
	FailedVolumes int
	Containers    int
	Pipelines     int
	Skipped       int // nodes whose lock could not be taken in time
}

// Summary visits each node under its own lock.
func (a *ReportAggregator) Summary(ctx context.Context) ClusterSummary {
	var sum ClusterSummary
	for _, id := range a.table.ids() {
		e, ok := a.table.get(id)
		if !ok {
			continue
		}
		if err := e.lock(ctx); err != nil {
			sum.Skipped++
			continue
		}
		if e.state != model.NodeUnregistered {
			sum.Nodes++
			r := e.reports
			if r.Node != nil {
				sum.Capacity += r.Node.Capacity
				sum.Used += r.Node.Used
				sum.Remaining += r.Node.Remaining
				sum.FailedVolumes += r.Node.FailedVolumes
			}
			if r.Containers != nil {
				sum.Containers += len(r.Containers.Containers)
			}
			if r.Pipelines != nil {
				sum.Pipelines += len(r.Pipelines.Pipelines)
			}
		}
		e.unlock()
	}
	return sum
}
