package scm

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"hdds/internal/logging"
	"hdds/pkg/model"
	"hdds/pkg/store"
)

// HeartbeatProcessor handles the periodic call of a registered node.
type HeartbeatProcessor struct {
	table      *NodeTable
	aggregator *ReportAggregator
	queue      *CommandQueue
	store      store.Store
	clock      clock.Clock
	logger     *zap.Logger

	maxBatch int
}

// Process refreshes liveness, replaces the reports the node sent and returns
// the node's next command batch.
//
// req.Seq tells a new heartbeat from a retried one. A newer Seq (or none)
// confirms the previous batch and drains a new one; a Seq that is not newer
// gets the batch delivered under that Seq again and confirms nothing.
func (p *HeartbeatProcessor) Process(ctx context.Context, req *model.HeartbeatRequest) (*model.HeartbeatResponse, error) {
	id := req.Identity.ID
	if id == "" {
		return nil, errors.Wrap(ErrUnregisteredNode, "heartbeat without node id")
	}
	e, ok := p.table.get(id)
	if !ok {
		return nil, errors.Wrap(ErrUnregisteredNode, id)
	}
	if err := e.lock(ctx); err != nil {
		return nil, err
	}
	defer e.unlock()
	if ctx.Err() != nil {
		return nil, errors.Wrap(ErrTimeout, "heartbeat")
	}

	logger := logging.Node(p.logger, id)
	if !e.identity.SameEndpoint(req.Identity) {
		// another process claiming the id; only the registered endpoint counts
		logger.Warn("heartbeat from foreign endpoint",
			zap.String("address", req.Identity.Address), zap.String("registered", e.identity.Address))
		return nil, errors.Wrapf(ErrUnregisteredNode, "%s heartbeat from %s (%s), registered at %s (%s)",
			id, req.Identity.Address, req.Identity.HostName, e.identity.Address, e.identity.HostName)
	}
	state := p.table.stateOf(e)
	switch state {
	case model.NodeUnregistered:
		return nil, errors.Wrap(ErrUnregisteredNode, id)
	case model.NodeDead:
		if e.state != model.NodeDead {
			logger.Info("heartbeat from node past dead interval, asking it to register")
			e.state = model.NodeDead
			p.persist(ctx, e, logger)
		}
		return nil, errors.Wrapf(ErrUnregisteredNode, "%s is dead", id)
	case model.NodeStale:
		logger.Info("stale node is back")
	}

	persist := e.state != model.NodeRegistered
	e.state = model.NodeRegistered
	e.lastHeartbeat = p.clock.Now()

	if req.Layout != nil {
		switch {
		case req.Layout.Metadata > e.layout.Metadata:
			logger.Info("node layout upgraded", zap.Stringer("from", e.layout), zap.Stringer("to", *req.Layout))
			e.layout.Metadata = req.Layout.Metadata
			persist = true
		case req.Layout.Metadata < e.layout.Metadata:
			logger.Warn("ignoring layout downgrade in heartbeat",
				zap.Stringer("recorded", e.layout), zap.Stringer("reported", *req.Layout))
		}
		if req.Layout.Software > e.layout.Software {
			e.layout.Software = req.Layout.Software
			persist = true
		}
	}

	p.aggregator.replace(e, req.Reports(), false)

	var cmds []model.Command
	if req.Seq != 0 && req.Seq <= e.lastSeq {
		cmds = p.queue.Redeliver(id, req.Seq)
		logger.Debug("replayed heartbeat", zap.Uint64("seq", req.Seq), zap.Int("commands", len(cmds)))
	} else {
		if n := p.queue.Confirm(id); n > 0 {
			logger.Debug("commands confirmed", zap.Int("commands", n))
		}
		cmds = p.queue.Drain(id, p.maxBatch, req.Seq)
		if req.Seq != 0 {
			e.lastSeq = req.Seq
		}
	}

	if persist {
		p.persist(ctx, e, logger)
	}
	if cmds == nil {
		cmds = []model.Command{}
	}
	return &model.HeartbeatResponse{NodeID: id, Commands: cmds}, nil
}

// persist writes the record of e. Failures are logged; the in-memory view
// stays authoritative and the next transition writes again.
func (p *HeartbeatProcessor) persist(ctx context.Context, e *nodeEntry, logger *zap.Logger) {
	rec := p.table.recordOf(e)
	if err := p.store.PutNode(ctx, &rec); err != nil {
		logger.Warn("failed to persist node record", zap.Error(err))
	}
}
