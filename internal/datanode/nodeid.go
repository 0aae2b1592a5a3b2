package datanode

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"hdds/pkg/model"
)

// IDFileName is the file under the data directory that keeps the id the
// manager assigned to this node.
const IDFileName = "datanode.id"

type idFile struct {
	UUID      string `yaml:"uuid"`
	HostName  string `yaml:"hostName"`
	Address   string `yaml:"address"`
	ClusterID string `yaml:"clusterId,omitempty"`
}

// LoadNodeID reads the id saved by an earlier run. A missing file is not an
// error and yields an empty id.
func LoadNodeID(path string) (string, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "read %s", path)
	}
	var f idFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return "", errors.Wrapf(err, "parse %s", path)
	}
	return f.UUID, nil
}

// saveNodeID writes the id next to a temporary file and renames it in place,
// so a crash leaves either the old id or the new one.
func saveNodeID(path string, identity model.NodeIdentity, clusterID string) error {
	b, err := yaml.Marshal(idFile{
		UUID:      identity.ID,
		HostName:  identity.HostName,
		Address:   identity.Address,
		ClusterID: clusterID,
	})
	if err != nil {
		return errors.Wrap(err, "encode node id")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "create %s", filepath.Dir(path))
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return errors.Wrapf(err, "write %s", tmp)
	}
	return errors.Wrapf(os.Rename(tmp, path), "rename %s", tmp)
}
