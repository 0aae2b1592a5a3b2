package datanode

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hdds/pkg/model"
)

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
}

func TestDirContainerReport(t *testing.T) {
	dir := t.TempDir()
	containers := filepath.Join(dir, containersDir)
	writeFile(t, filepath.Join(containers, "1", "chunk-1"), 10)
	writeFile(t, filepath.Join(containers, "1", "blocks", "chunk-2"), 5)
	require.NoError(t, os.WriteFile(filepath.Join(containers, "1", stateFile), []byte("closed\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(containers, "2"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(containers, "scratch"), 0o755))
	writeFile(t, filepath.Join(containers, "3"), 1)

	report, err := NewDirReports(dir).ContainerReport(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []model.ContainerSummary{
		{ContainerID: 1, State: model.ContainerClosed, Used: 15, KeyCount: 2},
		{ContainerID: 2, State: model.ContainerOpen},
	}, report.Containers)
}

func TestDirContainerReportWithoutContainers(t *testing.T) {
	report, err := NewDirReports(t.TempDir()).ContainerReport(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Containers)
}

func TestDirNodeReport(t *testing.T) {
	dir := t.TempDir()
	a := NewDirReports(dir)
	b := NewDirReports(dir)

	report, err := a.NodeReport(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Storage, 1)
	assert.Equal(t, a.storageID, report.Storage[0].StorageID)
	assert.Equal(t, a.storageID, b.storageID)

	if runtime.GOOS == "linux" || runtime.GOOS == "darwin" {
		assert.Positive(t, report.Capacity)
		assert.Zero(t, report.FailedVolumes)
		assert.LessOrEqual(t, report.Remaining, report.Capacity)
	}

	missing, err := NewDirReports(filepath.Join(dir, "gone")).NodeReport(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, missing.FailedVolumes)
	assert.True(t, missing.Storage[0].Failed)
}
