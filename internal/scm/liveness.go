package scm

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"hdds/internal/logging"
	"hdds/pkg/model"
	"hdds/pkg/store"
)

// StateChange describes a liveness transition seen by the sweep.
type StateChange struct {
	NodeID   string
	Previous model.NodeState
	Current  model.NodeState
	At       time.Time
}

type StateChangeHandler func(StateChange)

// LivenessMonitor periodically moves silent nodes to STALE and DEAD. It runs
// off the call path and takes the same per-node lock as heartbeats.
type LivenessMonitor struct {
	table       *NodeTable
	store       store.Store
	clock       clock.Clock
	interval    time.Duration
	lockTimeout time.Duration
	logger      *zap.Logger

	mu       sync.RWMutex
	handlers []StateChangeHandler
}

// OnStateChange registers a handler called after every transition, outside
// any node lock.
func (m *LivenessMonitor) OnStateChange(h StateChangeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// Run sweeps every interval until ctx is done.
func (m *LivenessMonitor) Run(ctx context.Context) {
	ticker := m.clock.Ticker(m.interval)
	defer ticker.Stop()

	m.logger.Info("liveness monitor started", zap.Duration("interval", m.interval))
	for {
		select {
		case <-ticker.C:
			m.Check(ctx)
		case <-ctx.Done():
			m.logger.Info("liveness monitor stopped")
			return
		}
	}
}

// Check evaluates every node once and returns the transitions it recorded.
// A node whose lock is busy longer than the lock timeout is left for the
// next sweep.
func (m *LivenessMonitor) Check(ctx context.Context) []StateChange {
	var changes []StateChange
	for _, id := range m.table.ids() {
		if ctx.Err() != nil {
			break
		}
		if change, ok := m.checkNode(ctx, id); ok {
			changes = append(changes, change)
		}
	}

	m.mu.RLock()
	handlers := append([]StateChangeHandler(nil), m.handlers...)
	m.mu.RUnlock()
	for _, c := range changes {
		for _, h := range handlers {
			h(c)
		}
	}
	return changes
}

func (m *LivenessMonitor) checkNode(ctx context.Context, id string) (StateChange, bool) {
	e, ok := m.table.get(id)
	if !ok {
		return StateChange{}, false
	}
	lctx, cancel := context.WithTimeout(ctx, m.lockTimeout)
	defer cancel()
	if err := e.lock(lctx); err != nil {
		m.logger.Debug("node busy, skipping liveness check", zap.String("node", id))
		return StateChange{}, false
	}
	defer e.unlock()

	prev := e.state
	cur := m.table.stateOf(e)
	if cur == prev {
		return StateChange{}, false
	}
	e.state = cur

	logger := logging.Node(m.logger, id)
	since := m.clock.Since(e.lastHeartbeat)
	switch cur {
	case model.NodeStale:
		logger.Warn("node is stale", zap.Duration("since_heartbeat", since))
	case model.NodeDead:
		logger.Warn("node is dead", zap.Duration("since_heartbeat", since))
	default:
		logger.Info("node state changed", zap.String("from", string(prev)), zap.String("to", string(cur)))
	}

	rec := m.table.recordOf(e)
	if err := m.store.PutNode(lctx, &rec); err != nil {
		logger.Warn("failed to persist node state", zap.Error(err))
	}
	return StateChange{NodeID: id, Previous: prev, Current: cur, At: m.clock.Now()}, true
}
