package model

import (
	"strconv"
	"time"
)

// NodeState is the manager-side lifecycle state of a datanode.
// Only the manager moves a node between states.
type NodeState string

const (
	NodeUnregistered NodeState = "UNREGISTERED"
	NodeRegistered   NodeState = "REGISTERED"
	NodeStale        NodeState = "STALE" // missed heartbeats past stale-after
	NodeDead         NodeState = "DEAD"  // missed heartbeats past dead-after, must register again
)

// NodeIdentity is fixed at registration. A node that changes any of these
// fields has to come back as a new node.
type NodeIdentity struct {
	ID       string `json:"id"`        // UUID, assigned by the manager when empty
	HostName string `json:"host_name"` // reported host name
	Address  string `json:"address"`   // host:port the node serves on
	Version  string `json:"version"`   // protocol capability tag
}

// SameEndpoint reports whether two identities describe the same node endpoint.
func (n NodeIdentity) SameEndpoint(other NodeIdentity) bool {
	return n.HostName == other.HostName && n.Address == other.Address
}

// LayoutVersion is the on-disk metadata generation of a datanode.
type LayoutVersion struct {
	Metadata int32 `json:"metadata"`
	Software int32 `json:"software"`
}

func (l LayoutVersion) String() string {
	return strconv.Itoa(int(l.Metadata)) + "/" + strconv.Itoa(int(l.Software))
}

// NodeRecord is what the manager writes through to the durable store.
type NodeRecord struct {
	Identity      NodeIdentity  `json:"identity"`
	Layout        LayoutVersion `json:"layout"`
	State         NodeState     `json:"state"`
	RegisteredAt  time.Time     `json:"registered_at"`
	LastHeartbeat time.Time     `json:"last_heartbeat"`
}
