//go:build linux || darwin

package app

import (
	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"hddbrowser/internal/domain"
)

// capacity reports free and used space once per underlying device.
func capacity(roots []domain.Root) []DeviceCapacity {
	byDev := map[uint64]int{}
	out := []DeviceCapacity{}
	for _, root := range roots {
		var st unix.Stat_t
		if err := unix.Stat(root.Path, &st); err != nil {
			continue
		}
		dev := uint64(st.Dev)
		if i, ok := byDev[dev]; ok {
			out[i].Roots = append(out[i].Roots, root.ID)
			continue
		}

		var fs unix.Statfs_t
		if err := unix.Statfs(root.Path, &fs); err != nil {
			continue
		}
		bsize := uint64(fs.Bsize)
		total := fs.Blocks * bsize
		free := fs.Bavail * bsize
		used := total - fs.Bfree*bsize

		byDev[dev] = len(out)
		out = append(out, DeviceCapacity{
			Roots:      []string{root.ID},
			TotalBytes: total,
			UsedBytes:  used,
			FreeBytes:  free,
			Human:      humanize.Bytes(used) + " / " + humanize.Bytes(total),
		})
	}
	return out
}
