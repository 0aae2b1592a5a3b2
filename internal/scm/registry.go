package scm

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/semaphore"

	"hdds/pkg/model"
)

// nodeEntry is the manager's view of one datanode. Every field below sem is
// guarded by it.
type nodeEntry struct {
	// sem has weight 1 so it can be acquired under a deadline.
	sem *semaphore.Weighted

	identity      model.NodeIdentity
	layout        model.LayoutVersion
	state         model.NodeState // last state written by registration, heartbeat or sweep
	registeredAt  time.Time
	lastHeartbeat time.Time
	lastSeq       uint64
	reports       model.ReportSet
}

func newNodeEntry() *nodeEntry {
	return &nodeEntry{
		sem:   semaphore.NewWeighted(1),
		state: model.NodeUnregistered,
	}
}

// lock waits for the entry until ctx is done.
func (e *nodeEntry) lock(ctx context.Context) error {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return errors.Wrap(ErrTimeout, "waiting for node lock")
	}
	return nil
}

func (e *nodeEntry) unlock() {
	e.sem.Release(1)
}

// NodeTable maps node ids to entries. The table lock is held only to find,
// insert or remove entries, never while an entry is being processed.
type NodeTable struct {
	mu    sync.RWMutex
	nodes map[string]*nodeEntry

	// endpoints maps host name and address to the id last registered there.
	endpoints map[string]string

	floor atomic.Int32

	clock      clock.Clock
	staleAfter time.Duration
	deadAfter  time.Duration
}

func NewNodeTable(clk clock.Clock, staleAfter, deadAfter time.Duration, minLayout int32) *NodeTable {
	t := &NodeTable{
		nodes:      make(map[string]*nodeEntry),
		endpoints:  make(map[string]string),
		clock:      clk,
		staleAfter: staleAfter,
		deadAfter:  deadAfter,
	}
	t.floor.Store(minLayout)
	return t
}

func (t *NodeTable) get(id string) (*nodeEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.nodes[id]
	return e, ok
}

// getOrCreate returns the entry for id, inserting an UNREGISTERED one if needed.
func (t *NodeTable) getOrCreate(id string) (*nodeEntry, bool) {
	if e, ok := t.get(id); ok {
		return e, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.nodes[id]; ok {
		return e, false
	}
	e := newNodeEntry()
	t.nodes[id] = e
	return e, true
}

// acquire returns the locked entry for id, creating it when missing. An
// entry removed while the caller waited for its lock is not returned.
func (t *NodeTable) acquire(ctx context.Context, id string) (*nodeEntry, bool, error) {
	for {
		e, created := t.getOrCreate(id)
		if err := e.lock(ctx); err != nil {
			if created {
				t.removeEntry(id, e)
			}
			return nil, false, err
		}
		if cur, ok := t.get(id); ok && cur == e {
			return e, created, nil
		}
		e.unlock()
	}
}

// removeEntry removes id only while it still maps to e.
func (t *NodeTable) removeEntry(id string, e *nodeEntry) {
	t.mu.Lock()
	if cur, ok := t.nodes[id]; ok && cur == e {
		delete(t.nodes, id)
	}
	t.mu.Unlock()
}

func endpointKey(id model.NodeIdentity) string {
	return id.HostName + "\x00" + id.Address
}

// assignID returns the id bound to the endpoint of identity, reserving a new
// one when none is. Repeated registrations without an id from the same
// endpoint therefore land on the same node.
func (t *NodeTable) assignID(identity model.NodeIdentity) string {
	key := endpointKey(identity)
	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.endpoints[key]; ok {
		return id
	}
	id := uuid.NewString()
	t.endpoints[key] = id
	return id
}

// bindEndpoint points the endpoint of identity at its id, dropping the
// binding of prev when the node moved.
func (t *NodeTable) bindEndpoint(prev, identity model.NodeIdentity) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev.ID != "" && !prev.SameEndpoint(identity) {
		if k := endpointKey(prev); t.endpoints[k] == prev.ID {
			delete(t.endpoints, k)
		}
	}
	t.endpoints[endpointKey(identity)] = identity.ID
}

// unbindEndpoint forgets the endpoint of identity if it still names it.
func (t *NodeTable) unbindEndpoint(identity model.NodeIdentity) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if k := endpointKey(identity); t.endpoints[k] == identity.ID {
		delete(t.endpoints, k)
	}
}

// ids returns a sorted snapshot of the known node ids.
func (t *NodeTable) ids() []string {
	t.mu.RLock()
	ids := make([]string, 0, len(t.nodes))
	for id := range t.nodes {
		ids = append(ids, id)
	}
	t.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// Len returns the number of known nodes in any state.
func (t *NodeTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// LayoutFloor is the lowest metadata layout a node may register with.
func (t *NodeTable) LayoutFloor() int32 {
	return t.floor.Load()
}

// RaiseLayoutFloor moves the floor up to v. It never lowers it.
func (t *NodeTable) RaiseLayoutFloor(v int32) bool {
	for {
		cur := t.floor.Load()
		if v <= cur {
			return false
		}
		if t.floor.CompareAndSwap(cur, v) {
			return true
		}
	}
}

// stateOf derives the state of e at the current time. Caller holds e's lock.
func (t *NodeTable) stateOf(e *nodeEntry) model.NodeState {
	switch e.state {
	case model.NodeUnregistered, model.NodeDead:
		// only registration leaves these
		return e.state
	}
	elapsed := t.clock.Since(e.lastHeartbeat)
	switch {
	case elapsed > t.deadAfter:
		return model.NodeDead
	case elapsed > t.staleAfter:
		return model.NodeStale
	default:
		return model.NodeRegistered
	}
}

// recordOf snapshots e. Caller holds e's lock.
func (t *NodeTable) recordOf(e *nodeEntry) model.NodeRecord {
	return model.NodeRecord{
		Identity:      e.identity,
		Layout:        e.layout,
		State:         t.stateOf(e),
		RegisteredAt:  e.registeredAt,
		LastHeartbeat: e.lastHeartbeat,
	}
}

// restore inserts a node known from a previous run. It stays UNREGISTERED
// until the node registers again. Nodes that already registered with this
// manager are left alone.
func (t *NodeTable) restore(ctx context.Context, rec *model.NodeRecord) error {
	e, _, err := t.acquire(ctx, rec.Identity.ID)
	if err != nil {
		return err
	}
	defer e.unlock()
	if e.identity.ID != "" {
		return nil
	}
	e.identity = rec.Identity
	e.layout = rec.Layout
	e.state = model.NodeUnregistered
	e.registeredAt = rec.RegisteredAt
	e.lastHeartbeat = rec.LastHeartbeat

	t.mu.Lock()
	if k := endpointKey(rec.Identity); t.endpoints[k] == "" {
		t.endpoints[k] = rec.Identity.ID
	}
	t.mu.Unlock()
	return nil
}
