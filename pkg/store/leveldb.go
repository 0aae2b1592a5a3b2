package store

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
	"go.uber.org/zap"

	"hdds/pkg/model"
)

// LevelDBStore keeps the manager's records in a local LevelDB directory.
// It is meant for single-manager deployments without etcd.
type LevelDBStore struct {
	db     *leveldb.DB
	logger *zap.Logger
}

var _ Store = (*LevelDBStore)(nil)

func NewLevelDBStore(path string, logger *zap.Logger) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "open leveldb at %s", path)
	}
	return &LevelDBStore{db: db, logger: logger}, nil
}

func (l *LevelDBStore) PutNode(_ context.Context, rec *model.NodeRecord) error {
	return l.putValue(nodeKey(rec.Identity.ID), rec, true)
}

func (l *LevelDBStore) GetNode(_ context.Context, id string) (*model.NodeRecord, error) {
	data, err := l.db.Get([]byte(nodeKey(id)), nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get node %s", id)
	}
	return decodeNode(data)
}

func (l *LevelDBStore) ListNodes(_ context.Context) ([]*model.NodeRecord, error) {
	var nodes []*model.NodeRecord
	err := l.scan(NodeKeyPrefix, func(key, value []byte) {
		rec, err := decodeNode(value)
		if err != nil {
			l.logger.Warn("skipping unreadable node record", zap.ByteString("key", key), zap.Error(err))
			return
		}
		nodes = append(nodes, rec)
	})
	return nodes, err
}

func (l *LevelDBStore) DeleteNode(_ context.Context, id string) error {
	return errors.Wrapf(l.db.Delete([]byte(nodeKey(id)), &opt.WriteOptions{Sync: true}), "delete node %s", id)
}

func (l *LevelDBStore) SubmitCommand(_ context.Context, cmd *model.Command) error {
	if err := validateCommand(cmd); err != nil {
		return err
	}
	return l.putValue(commandKey(cmd), cmd, true)
}

func (l *LevelDBStore) ListCommands(_ context.Context) ([]*model.Command, error) {
	var cmds []*model.Command
	err := l.scan(CommandKeyPrefix, func(key, value []byte) {
		cmd, err := decodeCommand(value)
		if err != nil {
			l.logger.Warn("skipping unreadable command", zap.ByteString("key", key), zap.Error(err))
			return
		}
		cmds = append(cmds, cmd)
	})
	return cmds, err
}

func (l *LevelDBStore) DeleteCommand(_ context.Context, cmd *model.Command) error {
	return errors.Wrapf(l.db.Delete([]byte(commandKey(cmd)), nil), "delete command %s", cmd.ID)
}

func (l *LevelDBStore) Close() error {
	return l.db.Close()
}

// scan visits keys under prefix in key order.
func (l *LevelDBStore) scan(prefix string, fn func(key, value []byte)) error {
	it := l.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer it.Release()
	for it.Next() {
		fn(it.Key(), it.Value())
	}
	return errors.Wrapf(it.Error(), "scan %s", prefix)
}

func (l *LevelDBStore) putValue(key string, val interface{}, sync bool) error {
	data, err := json.Marshal(val)
	if err != nil {
		return errors.Wrap(err, "encode value")
	}
	return errors.Wrapf(l.db.Put([]byte(key), data, &opt.WriteOptions{Sync: sync}), "put %s", key)
}
