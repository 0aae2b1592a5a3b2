package scm

import "github.com/pkg/errors"

// Errors returned to a single caller. None of them affects other nodes.
var (
	// ErrUnregisteredNode: the node is unknown, DEAD, or known only from a
	// previous manager run. The node has to register again.
	ErrUnregisteredNode = errors.New("node is not registered")

	// ErrIncompatibleLayout: the node's metadata layout is below the cluster floor.
	ErrIncompatibleLayout = errors.New("layout version below cluster minimum")

	// ErrTimeout: the call could not be processed within its deadline. Retrying
	// the identical call is safe.
	ErrTimeout = errors.New("processing deadline exceeded")

	// ErrQueueFull: the node's command queue is at capacity. Only command
	// producers see this.
	ErrQueueFull = errors.New("command queue is full")

	// ErrInvalidIdentity: the identity has no resolvable address.
	ErrInvalidIdentity = errors.New("invalid node identity")

	// ErrIdentityConflict: a live node id re-registered with a different endpoint.
	ErrIdentityConflict = errors.New("node identity conflict")

	// ErrNodeNotDead: purge was requested for a node that is not DEAD.
	ErrNodeNotDead = errors.New("node is not dead")
)
