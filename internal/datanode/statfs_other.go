//go:build !linux && !darwin

package datanode

import "github.com/pkg/errors"

type volumeStat struct {
	capacity  int64
	used      int64
	remaining int64
}

func volumeStats(dir string) (volumeStat, error) {
	return volumeStat{}, errors.Errorf("volume statistics are not supported for %s on this platform", dir)
}
