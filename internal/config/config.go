// Package config holds the settings of the manager and the datanode agent.
// Files are YAML; anything missing keeps its default.
package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"hdds/internal/confdoc"
	"hdds/pkg/model"
	"hdds/pkg/store"
)

// default values
const (
	DefaultListenAddress           = ":9861"
	DefaultStaleNodeInterval       = 5 * time.Minute
	DefaultDeadNodeInterval        = 10 * time.Minute
	DefaultCallTimeout             = 3 * time.Second
	DefaultMaxCommandsPerHeartbeat = 100
	DefaultMaxQueueDepth           = 4096
	DefaultLivenessCheckInterval   = 30 * time.Second
	DefaultDispatchInterval        = 5 * time.Second
	DefaultHeartbeatInterval       = 30 * time.Second
	DefaultMaxRetryBackoff         = 30 * time.Second
	DefaultNetworkLocation         = "/default-rack"
)

type Config struct {
	ClusterID string         `yaml:"cluster_id"`
	SCM       SCMConfig      `yaml:"scm"`
	Datanode  DatanodeConfig `yaml:"datanode"`
	Store     store.Options  `yaml:"store"`
	Log       LogConfig      `yaml:"log"`
}

// SCMConfig is consumed by the manager.
type SCMConfig struct {
	ManagerID               string        `yaml:"manager_id"`
	ListenAddress           string        `yaml:"listen_address"`
	StaleNodeInterval       time.Duration `yaml:"stale_node_interval"`        // no heartbeat for this long: STALE
	DeadNodeInterval        time.Duration `yaml:"dead_node_interval"`         // no heartbeat for this long: DEAD
	MinLayoutVersion        int32         `yaml:"min_layout_version"`         // registration floor
	CallTimeout             time.Duration `yaml:"call_timeout"`               // deadline of one protocol call
	MaxCommandsPerHeartbeat int           `yaml:"max_commands_per_heartbeat"` // drain batch
	MaxQueueDepth           int           `yaml:"max_queue_depth"`            // per node
	LivenessCheckInterval   time.Duration `yaml:"liveness_check_interval"`
	DispatchInterval        time.Duration `yaml:"dispatch_interval"`
	NetworkLocation         string        `yaml:"network_location"`
}

// DatanodeConfig is consumed by the datanode agent.
type DatanodeConfig struct {
	SCMAddress        string              `yaml:"scm_address"`
	Address           string              `yaml:"address"` // advertised host:port
	DataDir           string              `yaml:"data_dir"`
	HeartbeatInterval time.Duration       `yaml:"heartbeat_interval"`
	MaxRetryBackoff   time.Duration       `yaml:"max_retry_backoff"`
	Layout            model.LayoutVersion `yaml:"layout"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

func Default() *Config {
	return &Config{
		ClusterID: "CID-hdds",
		SCM: SCMConfig{
			ListenAddress:           DefaultListenAddress,
			StaleNodeInterval:       DefaultStaleNodeInterval,
			DeadNodeInterval:        DefaultDeadNodeInterval,
			CallTimeout:             DefaultCallTimeout,
			MaxCommandsPerHeartbeat: DefaultMaxCommandsPerHeartbeat,
			MaxQueueDepth:           DefaultMaxQueueDepth,
			LivenessCheckInterval:   DefaultLivenessCheckInterval,
			DispatchInterval:        DefaultDispatchInterval,
			NetworkLocation:         DefaultNetworkLocation,
		},
		Datanode: DatanodeConfig{
			SCMAddress:        "localhost" + DefaultListenAddress,
			Address:           "localhost:9858",
			DataDir:           "/var/lib/hdds/datanode",
			HeartbeatInterval: DefaultHeartbeatInterval,
			MaxRetryBackoff:   DefaultMaxRetryBackoff,
		},
		Store: store.Options{
			Backend:     store.BackendMemory,
			DialTimeout: 5 * time.Second,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads a YAML file on top of the defaults and validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open config")
	}
	defer f.Close()
	return Read(f)
}

// Read decodes YAML from r on top of the defaults.
func Read(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	s := c.SCM
	if s.StaleNodeInterval <= 0 {
		return errors.New("scm.stale_node_interval must be positive")
	}
	if s.DeadNodeInterval <= s.StaleNodeInterval {
		return errors.Errorf("scm.dead_node_interval (%v) must be longer than scm.stale_node_interval (%v)",
			s.DeadNodeInterval, s.StaleNodeInterval)
	}
	if s.CallTimeout <= 0 {
		return errors.New("scm.call_timeout must be positive")
	}
	if s.MaxCommandsPerHeartbeat <= 0 {
		return errors.New("scm.max_commands_per_heartbeat must be positive")
	}
	if s.MaxQueueDepth <= 0 {
		return errors.New("scm.max_queue_depth must be positive")
	}
	if s.LivenessCheckInterval <= 0 || s.DispatchInterval <= 0 {
		return errors.New("scm.liveness_check_interval and scm.dispatch_interval must be positive")
	}
	if s.MinLayoutVersion < 0 {
		return errors.New("scm.min_layout_version must not be negative")
	}
	if c.Datanode.HeartbeatInterval <= 0 {
		return errors.New("datanode.heartbeat_interval must be positive")
	}
	return nil
}

// String renders the config as YAML.
func (c *Config) String() string {
	out, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(out)
}

// Option describes one configuration key for documentation.
type Option struct {
	Key         string
	Default     string
	Description string
	Tags        []confdoc.Tag
}

// Options lists the documented keys with their default values.
func Options() []Option {
	d := Default()
	return []Option{
		{"cluster_id", d.ClusterID, "Cluster identifier handed to datanodes in version and registration responses.", []confdoc.Tag{confdoc.TagOzone, confdoc.TagManagement}},
		{"scm.listen_address", d.SCM.ListenAddress, "Address the datanode protocol server listens on.", []confdoc.Tag{confdoc.TagSCM}},
		{"scm.stale_node_interval", d.SCM.StaleNodeInterval.String(), "A node without a heartbeat for this long is marked STALE.", []confdoc.Tag{confdoc.TagSCM, confdoc.TagManagement}},
		{"scm.dead_node_interval", d.SCM.DeadNodeInterval.String(), "A node without a heartbeat for this long is marked DEAD and must register again.", []confdoc.Tag{confdoc.TagSCM, confdoc.TagManagement}},
		{"scm.min_layout_version", fmt.Sprint(d.SCM.MinLayoutVersion), "Lowest metadata layout version a datanode may register with.", []confdoc.Tag{confdoc.TagSCM, confdoc.TagStorage}},
		{"scm.call_timeout", d.SCM.CallTimeout.String(), "Deadline for processing one register or heartbeat call.", []confdoc.Tag{confdoc.TagSCM, confdoc.TagPerformance}},
		{"scm.max_commands_per_heartbeat", fmt.Sprint(d.SCM.MaxCommandsPerHeartbeat), "Maximum number of commands returned in one heartbeat response.", []confdoc.Tag{confdoc.TagSCM, confdoc.TagPerformance}},
		{"scm.max_queue_depth", fmt.Sprint(d.SCM.MaxQueueDepth), "Maximum number of queued commands per datanode.", []confdoc.Tag{confdoc.TagSCM, confdoc.TagPerformance}},
		{"scm.liveness_check_interval", d.SCM.LivenessCheckInterval.String(), "How often node liveness is evaluated.", []confdoc.Tag{confdoc.TagSCM}},
		{"scm.dispatch_interval", d.SCM.DispatchInterval.String(), "How often submitted commands are moved from the store into node queues.", []confdoc.Tag{confdoc.TagSCM}},
		{"scm.network_location", d.SCM.NetworkLocation, "Network location assigned to registering datanodes.", []confdoc.Tag{confdoc.TagSCM}},
		{"datanode.scm_address", d.Datanode.SCMAddress, "Address of the manager.", []confdoc.Tag{confdoc.TagDatanode}},
		{"datanode.heartbeat_interval", d.Datanode.HeartbeatInterval.String(), "Interval between datanode heartbeats.", []confdoc.Tag{confdoc.TagDatanode, confdoc.TagManagement}},
		{"datanode.max_retry_backoff", d.Datanode.MaxRetryBackoff.String(), "Upper bound of the retry backoff after a timed out heartbeat.", []confdoc.Tag{confdoc.TagDatanode}},
		{"datanode.data_dir", d.Datanode.DataDir, "Directory holding container replicas.", []confdoc.Tag{confdoc.TagDatanode, confdoc.TagStorage}},
		{"store.backend", d.Store.Backend, "Durable store for node records: etcd, leveldb or memory.", []confdoc.Tag{confdoc.TagSCM, confdoc.TagStorage}},
		{"log.level", d.Log.Level, "Log level.", []confdoc.Tag{confdoc.TagDebug}},
	}
}

// WriteDocs renders Options as XML documentation.
func WriteDocs(w io.Writer) error {
	var a confdoc.Appender
	a.Init()
	for _, o := range Options() {
		a.AddConfig(o.Key, o.Default, o.Description, o.Tags...)
	}
	return a.Write(w)
}
