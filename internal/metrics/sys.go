package metrics

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"runtime"
	"time"
)

var startedAt = time.Now()

const mib = 1 << 20

// SysHealth is the process snapshot reported by /health and the admin
// usage report.
type SysHealth struct {
	AllocMB    uint64 `json:"alloc_mb"`
	SysMB      uint64 `json:"sys_mb"`
	NumGC      uint32 `json:"num_gc"`
	Goroutines int    `json:"goroutines"`
	Uptime     string `json:"uptime"`
	// DataSize is the on-disk size of the SQLite directory.
	DataSize string `json:"data_size,omitempty"`
}

// GetSysHealth reads runtime stats. dataDir is the directory of the SQLite
// file, or "" for a server database.
func GetSysHealth(dataDir string) SysHealth {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	h := SysHealth{
		AllocMB:    m.Alloc / mib,
		SysMB:      m.Sys / mib,
		NumGC:      m.NumGC,
		Goroutines: runtime.NumGoroutine(),
		Uptime:     time.Since(startedAt).Round(time.Second).String(),
	}
	if dataDir != "" {
		if size, err := dirSize(dataDir); err == nil {
			h.DataSize = HumanBytes(size)
		}
	}
	return h
}

func dirSize(root string) (int64, error) {
	var size int64
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		size += info.Size()
		return nil
	})
	return size, err
}

// HumanBytes formats n with a binary unit, e.g. "1.5 MiB".
func HumanBytes(n int64) string {
	if n < 1024 {
		return fmt.Sprintf("%d B", n)
	}
	f := float64(n)
	for _, unit := range []string{"KiB", "MiB", "GiB", "TiB"} {
		f /= 1024
		if f < 1024 || unit == "TiB" {
			return fmt.Sprintf("%.1f %s", f, unit)
		}
	}
	return ""
}
