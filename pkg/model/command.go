package model

import "time"

type CommandType string

const (
	CmdReplicateContainer   CommandType = "replicateContainer"
	CmdCloseContainer       CommandType = "closeContainer"
	CmdDeleteBlocks         CommandType = "deleteBlocks"
	CmdDeleteContainer      CommandType = "deleteContainer"
	CmdClosePipeline        CommandType = "closePipeline"
	CmdCreatePipeline       CommandType = "createPipeline"
	CmdReregister           CommandType = "reregister"
	CmdFinalizeNewLayoutVer CommandType = "finalizeNewLayoutVersion"
)

var commandTypes = map[CommandType]bool{
	CmdReplicateContainer:   true,
	CmdCloseContainer:       true,
	CmdDeleteBlocks:         true,
	CmdDeleteContainer:      true,
	CmdClosePipeline:        true,
	CmdCreatePipeline:       true,
	CmdReregister:           true,
	CmdFinalizeNewLayoutVer: true,
}

// Valid reports whether t is a known command type.
func (t CommandType) Valid() bool {
	return commandTypes[t]
}

type DeliveryState string

const (
	CommandPending   DeliveryState = "PENDING"
	CommandDelivered DeliveryState = "DELIVERED"
)

// Command is an instruction for exactly one datanode. It travels to the node
// inside a heartbeat response and leaves the queue once a later heartbeat
// confirms it arrived.
type Command struct {
	ID        string            `json:"id"`
	NodeID    string            `json:"node_id"`
	Type      CommandType       `json:"type"`
	Args      map[string]string `json:"args,omitempty"`
	CreatedAt time.Time         `json:"created_at"`

	// Delivery bookkeeping, owned by the manager
	State        DeliveryState `json:"state"`
	DeliveredSeq uint64        `json:"delivered_seq,omitempty"`
	Deliveries   int           `json:"deliveries,omitempty"`
}

// Clone returns a copy that shares nothing with c.
func (c Command) Clone() Command {
	if c.Args != nil {
		args := make(map[string]string, len(c.Args))
		for k, v := range c.Args {
			args[k] = v
		}
		c.Args = args
	}
	return c
}
