package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"hdds/pkg/model"
)

type EtcdStore struct {
	client *clientv3.Client
	logger *zap.Logger
}

var _ Store = (*EtcdStore)(nil)
var _ Watcher = (*EtcdStore)(nil)

// NewEtcdStore connects to the given etcd endpoints.
func NewEtcdStore(endpoints []string, dialTimeout time.Duration, logger *zap.Logger) (*EtcdStore, error) {
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, errors.Wrap(err, "connect etcd")
	}
	return &EtcdStore{client: cli, logger: logger}, nil
}

// ---------------------------------------------------------
// nodes
// ---------------------------------------------------------

func (e *EtcdStore) PutNode(ctx context.Context, rec *model.NodeRecord) error {
	return e.putValue(ctx, nodeKey(rec.Identity.ID), rec)
}

func (e *EtcdStore) GetNode(ctx context.Context, id string) (*model.NodeRecord, error) {
	resp, err := e.client.Get(ctx, nodeKey(id))
	if err != nil {
		return nil, errors.Wrapf(err, "get node %s", id)
	}
	if len(resp.Kvs) == 0 {
		return nil, ErrNotFound
	}
	return decodeNode(resp.Kvs[0].Value)
}

func (e *EtcdStore) ListNodes(ctx context.Context) ([]*model.NodeRecord, error) {
	resp, err := e.client.Get(ctx, NodeKeyPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, errors.Wrap(err, "list nodes")
	}

	nodes := make([]*model.NodeRecord, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		rec, err := decodeNode(kv.Value)
		if err != nil {
			e.logger.Warn("skipping unreadable node record", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		nodes = append(nodes, rec)
	}
	return nodes, nil
}

func (e *EtcdStore) DeleteNode(ctx context.Context, id string) error {
	_, err := e.client.Delete(ctx, nodeKey(id))
	return errors.Wrapf(err, "delete node %s", id)
}

// ---------------------------------------------------------
// commands
// ---------------------------------------------------------

func (e *EtcdStore) SubmitCommand(ctx context.Context, cmd *model.Command) error {
	if err := validateCommand(cmd); err != nil {
		return err
	}
	return e.putValue(ctx, commandKey(cmd), cmd)
}

func (e *EtcdStore) ListCommands(ctx context.Context) ([]*model.Command, error) {
	// etcd returns keys sorted, which keeps per-node creation order
	resp, err := e.client.Get(ctx, CommandKeyPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, errors.Wrap(err, "list commands")
	}

	cmds := make([]*model.Command, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		cmd, err := decodeCommand(kv.Value)
		if err != nil {
			e.logger.Warn("skipping unreadable command", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

func (e *EtcdStore) DeleteCommand(ctx context.Context, cmd *model.Command) error {
	_, err := e.client.Delete(ctx, commandKey(cmd))
	return errors.Wrapf(err, "delete command %s", cmd.ID)
}

// WatchCommands turns etcd watch responses on the command prefix into a channel.
// The channel is closed when ctx is done.
func (e *EtcdStore) WatchCommands(ctx context.Context) <-chan CommandEvent {
	eventCh := make(chan CommandEvent)

	go func() {
		defer close(eventCh)
		// 1. watch the whole command prefix
		watchCh := e.client.Watch(ctx, CommandKeyPrefix, clientv3.WithPrefix())

		// 2. forward decoded puts until the watch ends
		for watchResp := range watchCh {
			for _, ev := range watchResp.Events {
				// deletes are our own hand-offs; nothing to do
				if ev.Type != clientv3.EventTypePut {
					continue
				}
				cmd, err := decodeCommand(ev.Kv.Value)
				if err != nil {
					e.logger.Warn("skipping unreadable command event", zap.ByteString("key", ev.Kv.Key), zap.Error(err))
					continue
				}
				select {
				case eventCh <- CommandEvent{Type: CommandPut, Command: cmd}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return eventCh
}

func (e *EtcdStore) Close() error {
	return e.client.Close()
}

// putValue marshals val to JSON and stores it under key.
func (e *EtcdStore) putValue(ctx context.Context, key string, val interface{}) error {
	data, err := json.Marshal(val)
	if err != nil {
		return errors.Wrap(err, "encode value")
	}
	_, err = e.client.Put(ctx, key, string(data))
	return errors.Wrapf(err, "put %s", key)
}
