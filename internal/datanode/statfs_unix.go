//go:build linux || darwin

package datanode

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

type volumeStat struct {
	capacity  int64
	used      int64
	remaining int64
}

func volumeStats(dir string) (volumeStat, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return volumeStat{}, errors.Wrapf(err, "statfs %s", dir)
	}
	bsize := int64(st.Bsize)
	return volumeStat{
		capacity:  int64(st.Blocks) * bsize,
		used:      int64(st.Blocks-st.Bfree) * bsize,
		remaining: int64(st.Bavail) * bsize,
	}, nil
}
