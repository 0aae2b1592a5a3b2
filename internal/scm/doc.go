// Package scm is the manager side of the datanode protocol.
//
// Datanodes call in with GetVersion, Register and SendHeartbeat; the manager
// never calls a datanode. Commands for a node are staged in its queue and
// handed back inside the next heartbeat response, then removed once a later
// heartbeat shows the node got them.
//
// All per-node state (identity, layout, reports, queue) is guarded per node.
// The only shared state is the node table itself and the layout floor, so
// traffic from different datanodes never waits on each other.
//
// Node lifecycle:
//
//	UNREGISTERED --register--> REGISTERED --stale-after--> STALE --dead-after--> DEAD
//	                               ^                         |                    |
//	                               +-------heartbeat---------+                    |
//	                               +------------------register--------------------+
package scm
