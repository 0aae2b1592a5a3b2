package datanode

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"hdds/pkg/model"
)

// ReportSource produces the reports sent with registration and heartbeats.
type ReportSource interface {
	NodeReport(ctx context.Context) (*model.NodeReport, error)
	ContainerReport(ctx context.Context) (*model.ContainerReport, error)
	PipelineReport(ctx context.Context) (*model.PipelineReport, error)
}

type emptyReports struct{}

func (emptyReports) NodeReport(context.Context) (*model.NodeReport, error) {
	return &model.NodeReport{}, nil
}

func (emptyReports) ContainerReport(context.Context) (*model.ContainerReport, error) {
	return &model.ContainerReport{}, nil
}

func (emptyReports) PipelineReport(context.Context) (*model.PipelineReport, error) {
	return &model.PipelineReport{}, nil
}

const (
	containersDir = "containers"
	stateFile     = "STATE"
)

// DirReports reads reports from a data directory. Every subdirectory of
// <dir>/containers named by a container id is one replica; its optional
// STATE file holds the replica state and every other file counts as a key.
type DirReports struct {
	dir       string
	storageID string
}

func NewDirReports(dir string) *DirReports {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	return &DirReports{
		dir:       abs,
		storageID: uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+abs)).String(),
	}
}

func (r *DirReports) NodeReport(_ context.Context) (*model.NodeReport, error) {
	st, err := volumeStats(r.dir)
	failed := err != nil
	report := &model.NodeReport{
		Storage: []model.StorageReport{{
			StorageID: r.storageID,
			Location:  r.dir,
			Capacity:  st.capacity,
			Used:      st.used,
			Remaining: st.remaining,
			Failed:    failed,
		}},
	}
	if failed {
		report.FailedVolumes = 1
		return report, nil
	}
	report.Capacity = st.capacity
	report.Used = st.used
	report.Remaining = st.remaining
	return report, nil
}

func (r *DirReports) ContainerReport(_ context.Context) (*model.ContainerReport, error) {
	entries, err := os.ReadDir(filepath.Join(r.dir, containersDir))
	if errors.Is(err, fs.ErrNotExist) {
		return &model.ContainerReport{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "list containers")
	}

	report := &model.ContainerReport{Containers: []model.ContainerSummary{}}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id, err := strconv.ParseInt(entry.Name(), 10, 64)
		if err != nil {
			continue
		}
		c, err := readContainer(filepath.Join(r.dir, containersDir, entry.Name()))
		if err != nil {
			return nil, errors.Wrapf(err, "container %d", id)
		}
		c.ContainerID = id
		report.Containers = append(report.Containers, c)
	}
	return report, nil
}

// PipelineReport is always empty: this agent takes part in no pipelines.
func (r *DirReports) PipelineReport(_ context.Context) (*model.PipelineReport, error) {
	return &model.PipelineReport{Pipelines: []model.PipelineSummary{}}, nil
}

func readContainer(path string) (model.ContainerSummary, error) {
	c := model.ContainerSummary{State: model.ContainerOpen}
	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if filepath.Dir(p) == path && d.Name() == stateFile {
			data, err := os.ReadFile(p)
			if err != nil {
				return err
			}
			if s := strings.TrimSpace(string(data)); s != "" {
				c.State = model.ContainerState(strings.ToUpper(s))
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		c.Used += info.Size()
		c.KeyCount++
		return nil
	})
	return c, err
}
