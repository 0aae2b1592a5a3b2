package scm

import (
	"context"
	"net"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"hdds/internal/config"
	"hdds/pkg/model"
	"hdds/pkg/store"
)

type Options struct {
	Config    config.SCMConfig
	ClusterID string
	Store     store.Store
	Clock     clock.Clock // defaults to the wall clock
	Logger    *zap.Logger // defaults to a no-op logger
	Resolver  Resolver    // defaults to net.DefaultResolver
}

// Manager owns the node table and everything that reads or writes it.
type Manager struct {
	cfg    config.SCMConfig
	store  store.Store
	clock  clock.Clock
	logger *zap.Logger

	table        *NodeTable
	aggregator   *ReportAggregator
	queue        *CommandQueue
	registration *RegistrationHandler
	heartbeats   *HeartbeatProcessor
	frontend     *Frontend
	liveness     *LivenessMonitor
	dispatcher   *CommandDispatcher

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("scm: a store is required")
	}
	cfg := opts.Config
	if cfg.ManagerID == "" {
		cfg.ManagerID = uuid.NewString()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	logger = logger.With(zap.String("scm", cfg.ManagerID))

	table := NewNodeTable(clk, cfg.StaleNodeInterval, cfg.DeadNodeInterval, cfg.MinLayoutVersion)
	aggregator := NewReportAggregator(table)
	queue := NewCommandQueue(cfg.MaxQueueDepth, clk)

	m := &Manager{
		cfg:        cfg,
		store:      opts.Store,
		clock:      clk,
		logger:     logger,
		table:      table,
		aggregator: aggregator,
		queue:      queue,
	}
	m.registration = &RegistrationHandler{
		table:           table,
		aggregator:      aggregator,
		queue:           queue,
		store:           opts.Store,
		resolver:        resolver,
		clock:           clk,
		logger:          logger.Named("registration"),
		clusterID:       opts.ClusterID,
		networkLocation: cfg.NetworkLocation,
	}
	m.heartbeats = &HeartbeatProcessor{
		table:      table,
		aggregator: aggregator,
		queue:      queue,
		store:      opts.Store,
		clock:      clk,
		logger:     logger.Named("heartbeat"),
		maxBatch:   cfg.MaxCommandsPerHeartbeat,
	}
	m.frontend = &Frontend{
		table:        table,
		registration: m.registration,
		heartbeats:   m.heartbeats,
		timeout:      cfg.CallTimeout,
		logger:       logger.Named("frontend"),
		clusterID:    opts.ClusterID,
		managerID:    cfg.ManagerID,
	}
	m.liveness = &LivenessMonitor{
		table:       table,
		store:       opts.Store,
		clock:       clk,
		interval:    cfg.LivenessCheckInterval,
		lockTimeout: cfg.CallTimeout,
		logger:      logger.Named("liveness"),
	}
	m.dispatcher = &CommandDispatcher{
		store:    opts.Store,
		queue:    queue,
		clock:    clk,
		interval: cfg.DispatchInterval,
		logger:   logger.Named("dispatcher"),
	}
	return m, nil
}

// Start loads the nodes known from previous runs and starts the liveness
// sweep and the command dispatcher. Loaded nodes are UNREGISTERED until they
// register again.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return errors.New("scm: already started")
	}

	recs, err := m.store.ListNodes(ctx)
	if err != nil {
		return errors.Wrap(err, "load node records")
	}
	for _, rec := range recs {
		if err := m.table.restore(ctx, rec); err != nil {
			return errors.Wrapf(err, "restore node %s", rec.Identity.ID)
		}
	}
	m.logger.Info("loaded node records", zap.Int("nodes", len(recs)), zap.Int32("layout_floor", m.table.LayoutFloor()))

	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		m.liveness.Run(ctx)
	}()
	go func() {
		defer m.wg.Done()
		m.dispatcher.Run(ctx)
	}()
	return nil
}

// Stop ends the background loops and waits for them.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	m.wg.Wait()
	m.logger.Info("scm stopped")
}

func (m *Manager) Frontend() *Frontend { return m.frontend }
func (m *Manager) Queue() *CommandQueue { return m.queue }
func (m *Manager) Aggregator() *ReportAggregator { return m.aggregator }
func (m *Manager) Liveness() *LivenessMonitor { return m.liveness }
func (m *Manager) Dispatcher() *CommandDispatcher { return m.dispatcher }
func (m *Manager) ManagerID() string { return m.cfg.ManagerID }

// Node returns the current record of a node.
func (m *Manager) Node(ctx context.Context, id string) (model.NodeRecord, error) {
	e, ok := m.table.get(id)
	if !ok {
		return model.NodeRecord{}, errors.Wrap(ErrUnregisteredNode, id)
	}
	if err := e.lock(ctx); err != nil {
		return model.NodeRecord{}, err
	}
	defer e.unlock()
	return m.table.recordOf(e), nil
}

// Nodes returns the records that pass every filter, sorted by id. Nodes
// whose lock cannot be taken before ctx is done are left out.
func (m *Manager) Nodes(ctx context.Context, filters ...NodeFilter) []model.NodeRecord {
	ids := m.table.ids()
	recs := make([]model.NodeRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := m.Node(ctx, id)
		if err != nil {
			continue
		}
		recs = append(recs, rec)
	}
	return filterNodes(recs, filters...)
}

// PurgeNode forgets a DEAD node: its record, reports and queued commands.
func (m *Manager) PurgeNode(ctx context.Context, id string) error {
	e, ok := m.table.get(id)
	if !ok {
		return errors.Wrap(ErrUnregisteredNode, id)
	}
	if err := e.lock(ctx); err != nil {
		return err
	}
	defer e.unlock()

	if state := m.table.stateOf(e); state != model.NodeDead {
		return errors.Wrapf(ErrNodeNotDead, "%s is %s", id, state)
	}
	if err := m.store.DeleteNode(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		return errors.Wrapf(err, "delete node %s", id)
	}
	m.table.removeEntry(id, e)
	m.table.unbindEndpoint(e.identity)
	dropped := m.queue.Purge(id)
	e.state = model.NodeUnregistered
	e.reports = model.ReportSet{}

	m.logger.Info("purged dead node", zap.String("node", id), zap.Int("dropped_commands", dropped))
	return nil
}

// RaiseLayoutFloor raises the minimum metadata layout accepted at
// registration. Registered nodes below it are not affected.
func (m *Manager) RaiseLayoutFloor(v int32) bool {
	raised := m.table.RaiseLayoutFloor(v)
	if raised {
		m.logger.Info("layout floor raised", zap.Int32("layout_floor", v))
	}
	return raised
}
