// Package store persists node records and producer-submitted commands.
// Values are JSON documents under fixed key prefixes; every backend uses the
// same key layout so a cluster can move between them.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"hdds/pkg/model"
)

const (
	NodeKeyPrefix    = "/hdds/nodes/"
	CommandKeyPrefix = "/hdds/commands/"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("store: not found")

type CommandEventType int

const (
	CommandPut CommandEventType = iota
	CommandDelete
)

// CommandEvent is emitted by backends that can watch for new commands.
type CommandEvent struct {
	Type    CommandEventType
	Command *model.Command
}

// Store is everything the manager needs from durable storage.
type Store interface {
	// --- nodes ---

	// PutNode creates or overwrites the record of a node.
	PutNode(ctx context.Context, rec *model.NodeRecord) error
	// GetNode returns ErrNotFound for unknown ids.
	GetNode(ctx context.Context, id string) (*model.NodeRecord, error)
	ListNodes(ctx context.Context) ([]*model.NodeRecord, error)
	DeleteNode(ctx context.Context, id string) error

	// --- commands waiting to be handed to the manager's queues ---

	SubmitCommand(ctx context.Context, cmd *model.Command) error
	// ListCommands returns pending commands, oldest first per node.
	ListCommands(ctx context.Context) ([]*model.Command, error)
	DeleteCommand(ctx context.Context, cmd *model.Command) error

	Close() error
}

// Watcher is implemented by backends that push command submissions.
type Watcher interface {
	WatchCommands(ctx context.Context) <-chan CommandEvent
}

func nodeKey(id string) string {
	return NodeKeyPrefix + id
}

// commandKey orders commands of one node by creation time.
func commandKey(cmd *model.Command) string {
	return fmt.Sprintf("%s%s/%020d-%s", CommandKeyPrefix, cmd.NodeID, cmd.CreatedAt.UnixNano(), cmd.ID)
}

func validateCommand(cmd *model.Command) error {
	if cmd.ID == "" || cmd.NodeID == "" {
		return errors.New("store: command needs an id and a node id")
	}
	if strings.Contains(cmd.NodeID, "/") {
		return errors.Errorf("store: invalid node id %q", cmd.NodeID)
	}
	return nil
}

func decodeNode(data []byte) (*model.NodeRecord, error) {
	var rec model.NodeRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errors.Wrap(err, "decode node record")
	}
	return &rec, nil
}

func decodeCommand(data []byte) (*model.Command, error) {
	var cmd model.Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, errors.Wrap(err, "decode command")
	}
	return &cmd, nil
}
