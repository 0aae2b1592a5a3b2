// Package datanode is the datanode side of the protocol: it finds the
// manager, registers, and then heartbeats, running whatever commands come
// back.
package datanode

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"hdds/internal/logging"
	"hdds/internal/scm"
	"hdds/pkg/model"
)

// Protocol is the manager surface the agent calls. The rpc client
// implements it, and so does the manager frontend.
type Protocol interface {
	GetVersion(context.Context, *model.VersionRequest) (*model.VersionResponse, error)
	Register(context.Context, *model.RegisterRequest) (*model.RegistrationAck, error)
	SendHeartbeat(context.Context, *model.HeartbeatRequest) (*model.HeartbeatResponse, error)
}

// EndpointState is where the agent is in its conversation with the manager.
type EndpointState string

const (
	StateGetVersion EndpointState = "GETVERSION"
	StateRegister   EndpointState = "REGISTER"
	StateHeartbeat  EndpointState = "HEARTBEAT"
)

const (
	retryBase = time.Second
	// handled command ids remembered to skip redelivered commands
	handledWindow = 1024
)

type Options struct {
	Identity          model.NodeIdentity
	Layout            model.LayoutVersion
	HeartbeatInterval time.Duration
	MaxRetryBackoff   time.Duration
	Reports           ReportSource
	Handler           CommandHandler
	Clock             clock.Clock
	Logger            *zap.Logger

	// IDFile keeps the assigned id across restarts. When Identity.ID is
	// empty the id saved there is used.
	IDFile string
}

type Agent struct {
	protocol Protocol
	reports  ReportSource
	handler  CommandHandler
	clock    clock.Clock
	base     *zap.Logger
	logger   *zap.Logger

	interval   time.Duration
	maxBackoff time.Duration
	idFile     string

	mu        sync.Mutex
	identity  model.NodeIdentity
	layout    model.LayoutVersion
	state     EndpointState
	clusterID string
	seq       uint64
	inflight  *model.HeartbeatRequest // heartbeat to resend after a failed call
	retry     *backoff.ExponentialBackOff
	savedID   string
	handled   map[string]struct{}
	order     []string
}

func NewAgent(p Protocol, opts Options) *Agent {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Reports == nil {
		opts.Reports = emptyReports{}
	}
	if opts.Handler == nil {
		opts.Handler = LogHandler(opts.Logger)
	}
	if opts.MaxRetryBackoff < retryBase {
		opts.MaxRetryBackoff = retryBase
	}
	var saved string
	if opts.IDFile != "" {
		id, err := LoadNodeID(opts.IDFile)
		if err != nil {
			opts.Logger.Warn("ignoring unreadable node id file", zap.String("path", opts.IDFile), zap.Error(err))
		}
		saved = id
		if opts.Identity.ID == "" {
			opts.Identity.ID = id
		}
	}

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = retryBase
	retry.Multiplier = 2
	retry.RandomizationFactor = 0.5
	retry.MaxInterval = opts.MaxRetryBackoff
	// retry forever; the agent only stops with its context
	retry.MaxElapsedTime = 0
	retry.Clock = opts.Clock
	retry.Reset()

	return &Agent{
		protocol:   p,
		reports:    opts.Reports,
		handler:    opts.Handler,
		clock:      opts.Clock,
		base:       opts.Logger,
		logger:     opts.Logger,
		interval:   opts.HeartbeatInterval,
		maxBackoff: opts.MaxRetryBackoff,
		idFile:     opts.IDFile,
		identity:   opts.Identity,
		layout:     opts.Layout,
		state:      StateGetVersion,
		retry:      retry,
		savedID:    saved,
		handled:    make(map[string]struct{}),
	}
}

func (a *Agent) State() EndpointState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// NodeID is the id the manager knows this node by. It is empty until the
// first registration when no id was configured.
func (a *Agent) NodeID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.identity.ID
}

// Run drives the agent until ctx is done.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("datanode agent started", zap.String("address", a.identity.Address), zap.Stringer("layout", a.layout))
	for {
		wait, err := a.Step(ctx)
		if ctx.Err() != nil {
			a.logger.Info("datanode agent stopped")
			return nil
		}
		if err != nil {
			a.logger.Warn("call to scm failed",
				zap.String("state", string(a.State())), zap.Duration("retry_in", wait), zap.Error(err))
		}
		if wait <= 0 {
			continue
		}

		timer := a.clock.Timer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			a.logger.Info("datanode agent stopped")
			return nil
		}
	}
}

// Step makes the one call the current state asks for and returns how long
// to wait before the next step.
func (a *Agent) Step(ctx context.Context) (time.Duration, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.state {
	case StateGetVersion:
		return a.getVersion(ctx)
	case StateRegister:
		return a.register(ctx)
	default:
		return a.heartbeat(ctx)
	}
}

func (a *Agent) getVersion(ctx context.Context) (time.Duration, error) {
	resp, err := a.protocol.GetVersion(ctx, &model.VersionRequest{NodeID: a.identity.ID})
	if err != nil {
		return a.backoff(), errors.Wrap(err, "get version")
	}
	a.retry.Reset()
	a.clusterID = resp.ClusterID
	if a.layout.Metadata < resp.MinLayoutVersion {
		a.logger.Error("layout is below the cluster minimum, registration will be refused",
			zap.Stringer("layout", a.layout), zap.Int32("min_layout_version", resp.MinLayoutVersion))
	}
	a.logger.Info("found scm", zap.String("cluster", resp.ClusterID), zap.String("scm", resp.ManagerID))
	a.state = StateRegister
	return 0, nil
}

func (a *Agent) register(ctx context.Context) (time.Duration, error) {
	set := a.collect(ctx)
	ack, err := a.protocol.Register(ctx, &model.RegisterRequest{
		Identity:         a.identity,
		NodeReport:       set.Node,
		ContainerReports: set.Containers,
		PipelineReports:  set.Pipelines,
		Layout:           a.layout,
	})
	if err != nil {
		if errors.Is(err, scm.ErrIncompatibleLayout) {
			// nothing changes until the node is upgraded, so poll slowly
			return a.maxBackoff, errors.Wrap(err, "register")
		}
		return a.backoff(), errors.Wrap(err, "register")
	}

	// 1. adopt the id and start counting heartbeats again
	a.retry.Reset()
	a.identity.ID = ack.NodeID
	a.clusterID = ack.ClusterID
	a.seq = 0
	a.inflight = nil
	a.state = StateHeartbeat
	a.logger = logging.Node(a.base, ack.NodeID)
	a.logger.Info("registered with scm",
		zap.String("ip", ack.IPAddress), zap.String("location", ack.NetworkLocation))

	// 2. keep the id for the next start
	if a.idFile != "" && a.savedID != ack.NodeID {
		if err := saveNodeID(a.idFile, a.identity, a.clusterID); err != nil {
			a.logger.Error("cannot save node id, a restart will register as a new node",
				zap.String("path", a.idFile), zap.Error(err))
		} else {
			a.savedID = ack.NodeID
		}
	}
	return 0, nil
}

func (a *Agent) heartbeat(ctx context.Context) (time.Duration, error) {
	req := a.inflight
	if req == nil {
		a.seq++
		set := a.collect(ctx)
		layout := a.layout
		req = &model.HeartbeatRequest{
			Identity:         a.identity,
			Seq:              a.seq,
			Layout:           &layout,
			NodeReport:       set.Node,
			ContainerReports: set.Containers,
			PipelineReports:  set.Pipelines,
		}
	}

	resp, err := a.protocol.SendHeartbeat(ctx, req)
	if err != nil {
		if errors.Is(err, scm.ErrUnregisteredNode) {
			a.logger.Warn("scm no longer knows this node, registering again")
			a.inflight = nil
			a.state = StateRegister
			return 0, nil
		}
		// the manager may have processed it; resending the same seq gets the same batch
		a.inflight = req
		return a.backoff(), errors.Wrap(err, "heartbeat")
	}

	a.inflight = nil
	a.retry.Reset()
	for _, cmd := range resp.Commands {
		a.handle(ctx, cmd)
	}
	if a.state == StateRegister {
		return 0, nil
	}
	return a.interval, nil
}

func (a *Agent) handle(ctx context.Context, cmd model.Command) {
	if _, ok := a.handled[cmd.ID]; ok {
		a.logger.Debug("skipping command already handled", zap.String("command", cmd.ID))
		return
	}
	a.remember(cmd.ID)

	if cmd.Type == model.CmdReregister {
		a.logger.Info("scm asked for re-registration", zap.String("command", cmd.ID))
		a.state = StateRegister
		return
	}
	if err := a.handler.Handle(ctx, cmd); err != nil {
		a.logger.Warn("command failed",
			zap.String("command", cmd.ID), zap.String("type", string(cmd.Type)), zap.Error(err))
	}
}

func (a *Agent) remember(id string) {
	a.handled[id] = struct{}{}
	a.order = append(a.order, id)
	if len(a.order) > handledWindow {
		delete(a.handled, a.order[0])
		a.order = a.order[1:]
	}
}

// collect gathers the current reports. A report that cannot be read is
// left out and the manager keeps the previous one.
func (a *Agent) collect(ctx context.Context) model.ReportSet {
	var set model.ReportSet
	var err error
	if set.Node, err = a.reports.NodeReport(ctx); err != nil {
		a.logger.Warn("node report unavailable", zap.Error(err))
	}
	if set.Containers, err = a.reports.ContainerReport(ctx); err != nil {
		a.logger.Warn("container report unavailable", zap.Error(err))
	}
	if set.Pipelines, err = a.reports.PipelineReport(ctx); err != nil {
		a.logger.Warn("pipeline report unavailable", zap.Error(err))
	}
	return set
}

// backoff returns the wait before the next retry: exponential from one
// second with jitter, never above the configured maximum.
func (a *Agent) backoff() time.Duration {
	d := a.retry.NextBackOff()
	if d == backoff.Stop || d > a.maxBackoff {
		d = a.maxBackoff
	}
	return d
}
