package scm

import (
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"hdds/pkg/model"
)

type nodeQueue struct {
	mu   sync.Mutex
	cmds []*model.Command
	// closed is set once the queue left the map; nothing may be added after.
	closed bool
}

// CommandQueue is the outbound mailbox of every node. Commands leave in
// insertion order and are removed only by Confirm, so a command handed out
// in a heartbeat that never reached the node is handed out again.
type CommandQueue struct {
	mu       sync.RWMutex
	queues   map[string]*nodeQueue
	maxDepth int
	clock    clock.Clock
}

func NewCommandQueue(maxDepth int, clk clock.Clock) *CommandQueue {
	return &CommandQueue{
		queues:   make(map[string]*nodeQueue),
		maxDepth: maxDepth,
		clock:    clk,
	}
}

// ensure creates an empty queue for nodeID unless one exists.
func (q *CommandQueue) ensure(nodeID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.queues[nodeID]; !ok {
		q.queues[nodeID] = &nodeQueue{}
	}
}

func (q *CommandQueue) get(nodeID string) (*nodeQueue, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	nq, ok := q.queues[nodeID]
	return nq, ok
}

// Enqueue appends cmd to the node's queue. A command whose id is already
// queued is not added twice. Missing id and creation time are filled in.
func (q *CommandQueue) Enqueue(nodeID string, cmd model.Command) (model.Command, error) {
	nq, ok := q.get(nodeID)
	if !ok {
		return model.Command{}, errors.Wrapf(ErrUnregisteredNode, "enqueue for %s", nodeID)
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if cmd.CreatedAt.IsZero() {
		cmd.CreatedAt = q.clock.Now()
	}
	cmd.NodeID = nodeID
	cmd.State = model.CommandPending
	cmd.DeliveredSeq = 0
	cmd.Deliveries = 0

	nq.mu.Lock()
	defer nq.mu.Unlock()
	if nq.closed {
		return model.Command{}, errors.Wrapf(ErrUnregisteredNode, "enqueue for purged %s", nodeID)
	}
	for _, c := range nq.cmds {
		if c.ID == cmd.ID {
			return c.Clone(), nil
		}
	}
	if q.maxDepth > 0 && len(nq.cmds) >= q.maxDepth {
		return model.Command{}, errors.Wrapf(ErrQueueFull, "node %s holds %d commands", nodeID, len(nq.cmds))
	}
	stored := cmd.Clone()
	nq.cmds = append(nq.cmds, &stored)
	return stored.Clone(), nil
}

// Drain marks up to max pending commands as delivered under seq and returns
// them in queue order. Nothing is removed.
func (q *CommandQueue) Drain(nodeID string, max int, seq uint64) []model.Command {
	nq, ok := q.get(nodeID)
	if !ok {
		return nil
	}
	nq.mu.Lock()
	defer nq.mu.Unlock()

	var out []model.Command
	for _, c := range nq.cmds {
		if len(out) >= max {
			break
		}
		if c.State != model.CommandPending {
			continue
		}
		c.State = model.CommandDelivered
		c.DeliveredSeq = seq
		c.Deliveries++
		out = append(out, c.Clone())
	}
	return out
}

// Redeliver returns the commands delivered under seq again.
func (q *CommandQueue) Redeliver(nodeID string, seq uint64) []model.Command {
	nq, ok := q.get(nodeID)
	if !ok {
		return nil
	}
	nq.mu.Lock()
	defer nq.mu.Unlock()

	var out []model.Command
	for _, c := range nq.cmds {
		if c.State == model.CommandDelivered && c.DeliveredSeq == seq {
			c.Deliveries++
			out = append(out, c.Clone())
		}
	}
	return out
}

// Confirm removes every delivered command and returns how many went.
func (q *CommandQueue) Confirm(nodeID string) int {
	nq, ok := q.get(nodeID)
	if !ok {
		return 0
	}
	nq.mu.Lock()
	defer nq.mu.Unlock()

	kept := nq.cmds[:0]
	for _, c := range nq.cmds {
		if c.State != model.CommandDelivered {
			kept = append(kept, c)
		}
	}
	removed := len(nq.cmds) - len(kept)
	for i := len(kept); i < len(nq.cmds); i++ {
		nq.cmds[i] = nil
	}
	nq.cmds = kept
	return removed
}

// Requeue turns delivered commands back into pending ones.
func (q *CommandQueue) Requeue(nodeID string) int {
	nq, ok := q.get(nodeID)
	if !ok {
		return 0
	}
	nq.mu.Lock()
	defer nq.mu.Unlock()

	n := 0
	for _, c := range nq.cmds {
		if c.State == model.CommandDelivered {
			c.State = model.CommandPending
			c.DeliveredSeq = 0
			n++
		}
	}
	return n
}

// Pending returns a snapshot of every queued command, delivered or not.
func (q *CommandQueue) Pending(nodeID string) []model.Command {
	nq, ok := q.get(nodeID)
	if !ok {
		return nil
	}
	nq.mu.Lock()
	defer nq.mu.Unlock()

	out := make([]model.Command, 0, len(nq.cmds))
	for _, c := range nq.cmds {
		out = append(out, c.Clone())
	}
	return out
}

// Len returns the number of queued commands of a node.
func (q *CommandQueue) Len(nodeID string) int {
	nq, ok := q.get(nodeID)
	if !ok {
		return 0
	}
	nq.mu.Lock()
	defer nq.mu.Unlock()
	return len(nq.cmds)
}

// Purge drops the queue of a node and returns how many commands it held.
// An Enqueue racing with it either lands before and is counted, or fails.
func (q *CommandQueue) Purge(nodeID string) int {
	q.mu.Lock()
	nq, ok := q.queues[nodeID]
	delete(q.queues, nodeID)
	q.mu.Unlock()
	if !ok {
		return 0
	}
	nq.mu.Lock()
	defer nq.mu.Unlock()
	nq.closed = true
	return len(nq.cmds)
}
