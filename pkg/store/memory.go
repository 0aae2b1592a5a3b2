package store

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"hdds/pkg/model"
)

// MemoryStore is a Store without durability, used by tests and by managers
// started with the "memory" backend.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (m *MemoryStore) PutNode(_ context.Context, rec *model.NodeRecord) error {
	return m.putValue(nodeKey(rec.Identity.ID), rec)
}

func (m *MemoryStore) GetNode(_ context.Context, id string) (*model.NodeRecord, error) {
	m.mu.RLock()
	data, ok := m.data[nodeKey(id)]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return decodeNode(data)
}

func (m *MemoryStore) ListNodes(_ context.Context) ([]*model.NodeRecord, error) {
	var nodes []*model.NodeRecord
	for _, data := range m.scan(NodeKeyPrefix) {
		rec, err := decodeNode(data)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, rec)
	}
	return nodes, nil
}

func (m *MemoryStore) DeleteNode(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.data, nodeKey(id))
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) SubmitCommand(_ context.Context, cmd *model.Command) error {
	if err := validateCommand(cmd); err != nil {
		return err
	}
	return m.putValue(commandKey(cmd), cmd)
}

func (m *MemoryStore) ListCommands(_ context.Context) ([]*model.Command, error) {
	var cmds []*model.Command
	for _, data := range m.scan(CommandKeyPrefix) {
		cmd, err := decodeCommand(data)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

func (m *MemoryStore) DeleteCommand(_ context.Context, cmd *model.Command) error {
	m.mu.Lock()
	delete(m.data, commandKey(cmd))
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}

// scan returns values under prefix in key order.
func (m *MemoryStore) scan(prefix string) [][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	values := make([][]byte, 0, len(keys))
	for _, k := range keys {
		values = append(values, m.data[k])
	}
	return values
}

func (m *MemoryStore) putValue(key string, val interface{}) error {
	data, err := json.Marshal(val)
	if err != nil {
		return errors.Wrap(err, "encode value")
	}
	m.mu.Lock()
	m.data[key] = data
	m.mu.Unlock()
	return nil
}
