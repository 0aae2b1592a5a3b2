package scm

import (
	"context"
	"net"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"hdds/internal/logging"
	"hdds/pkg/model"
	"hdds/pkg/store"
)

// Resolver turns host names into addresses. *net.Resolver implements it.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// RegistrationHandler completes the first-contact handshake of a node, and
// every later one after a restart or a long outage.
type RegistrationHandler struct {
	table      *NodeTable
	aggregator *ReportAggregator
	queue      *CommandQueue
	store      store.Store
	resolver   Resolver
	clock      clock.Clock
	logger     *zap.Logger

	clusterID       string
	networkLocation string
}

// Register validates the request and makes the node REGISTERED. Registering
// the same node again with the same payload changes nothing but timestamps.
func (h *RegistrationHandler) Register(ctx context.Context, req *model.RegisterRequest) (*model.RegistrationAck, error) {
	ip, err := h.resolve(ctx, req.Identity)
	if err != nil {
		return nil, err
	}
	if floor := h.table.LayoutFloor(); req.Layout.Metadata < floor {
		return nil, errors.Wrapf(ErrIncompatibleLayout, "node layout %d, cluster floor %d", req.Layout.Metadata, floor)
	}

	identity := req.Identity
	if identity.ID == "" {
		// a node that lost its id, or never saw our ack, gets the one
		// already bound to its endpoint
		identity.ID = h.table.assignID(identity)
	}
	logger := logging.Node(h.logger, identity.ID)

	e, created, err := h.table.acquire(ctx, identity.ID)
	if err != nil {
		return nil, err
	}
	defer e.unlock()

	prev := h.table.stateOf(e)
	known := e.identity.ID != ""
	rebuild := prev == model.NodeDead || prev == model.NodeUnregistered
	if known && !rebuild && !e.identity.SameEndpoint(identity) {
		return nil, errors.Wrapf(ErrIdentityConflict, "node %s is registered at %s (%s)",
			identity.ID, e.identity.Address, e.identity.HostName)
	}

	layout := req.Layout
	if known && e.layout.Metadata > layout.Metadata {
		logger.Warn("ignoring layout downgrade on registration",
			zap.Stringer("recorded", e.layout), zap.Stringer("reported", layout))
		layout.Metadata = e.layout.Metadata
	}
	if known && e.layout.Software > layout.Software {
		layout.Software = e.layout.Software
	}

	now := h.clock.Now()
	registeredAt := e.registeredAt
	if !known || rebuild || registeredAt.IsZero() {
		registeredAt = now
	}
	rec := &model.NodeRecord{
		Identity:      identity,
		Layout:        layout,
		State:         model.NodeRegistered,
		RegisteredAt:  registeredAt,
		LastHeartbeat: now,
	}
	// write through before the in-memory view changes
	if err := h.store.PutNode(ctx, rec); err != nil {
		if created {
			h.table.removeEntry(identity.ID, e)
		}
		return nil, errors.Wrapf(err, "persist node %s", identity.ID)
	}

	h.table.bindEndpoint(e.identity, identity)
	e.identity = identity
	e.layout = layout
	e.state = model.NodeRegistered
	e.registeredAt = registeredAt
	e.lastHeartbeat = now
	// a restarted node counts its heartbeats from scratch
	e.lastSeq = 0
	h.aggregator.replace(e, req.Reports(), true)

	if _, ok := h.queue.get(identity.ID); !ok {
		h.queue.ensure(identity.ID)
	} else if n := h.queue.Requeue(identity.ID); n > 0 {
		logger.Info("re-registration returned unconfirmed commands to pending", zap.Int("commands", n))
	}

	logger.Info("datanode registered",
		zap.String("address", identity.Address),
		zap.Stringer("layout", layout),
		zap.String("previous", string(prev)),
		zap.Int("containers", len(e.reports.Containers.Containers)))

	hostName := identity.HostName
	if hostName == "" {
		hostName, _, _ = net.SplitHostPort(identity.Address)
	}
	return &model.RegistrationAck{
		NodeID:          identity.ID,
		ClusterID:       h.clusterID,
		HostName:        hostName,
		IPAddress:       ip,
		NetworkLocation: h.networkLocation,
	}, nil
}

// resolve checks that the identity carries an address the manager can resolve.
func (h *RegistrationHandler) resolve(ctx context.Context, id model.NodeIdentity) (string, error) {
	if id.Address == "" {
		return "", errors.Wrap(ErrInvalidIdentity, "missing address")
	}
	host, port, err := net.SplitHostPort(id.Address)
	if err != nil || host == "" || port == "" {
		return "", errors.Wrapf(ErrInvalidIdentity, "address %q is not host:port", id.Address)
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.String(), nil
	}
	addrs, err := h.resolver.LookupHost(ctx, host)
	if err != nil || len(addrs) == 0 {
		if ctx.Err() != nil {
			return "", errors.Wrap(ErrTimeout, "resolving node address")
		}
		return "", errors.Wrapf(ErrInvalidIdentity, "cannot resolve %q", host)
	}
	return addrs[0], nil
}
