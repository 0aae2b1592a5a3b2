package store

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	BackendEtcd    = "etcd"
	BackendLevelDB = "leveldb"
	BackendMemory  = "memory"
)

// Options selects and configures a backend.
type Options struct {
	Backend     string        `yaml:"backend"`
	Endpoints   []string      `yaml:"endpoints,omitempty"`
	Path        string        `yaml:"path"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// Open returns the backend named by opts.Backend.
func Open(opts Options, logger *zap.Logger) (Store, error) {
	switch opts.Backend {
	case BackendEtcd:
		if len(opts.Endpoints) == 0 {
			return nil, errors.New("store: etcd backend needs at least one endpoint")
		}
		return NewEtcdStore(opts.Endpoints, opts.DialTimeout, logger)
	case BackendLevelDB:
		if opts.Path == "" {
			return nil, errors.New("store: leveldb backend needs a path")
		}
		return NewLevelDBStore(opts.Path, logger)
	case BackendMemory, "":
		return NewMemoryStore(), nil
	default:
		return nil, errors.Errorf("store: unknown backend %q", opts.Backend)
	}
}
