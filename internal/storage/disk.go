package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// Footprint returns the bytes used on disk by the given files or directories. Missing paths
// count as zero.
func Footprint(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		err := filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
			return nil
		})
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return 0, err
		}
	}
	return total, nil
}

// SQLiteFootprint is Footprint of a SQLite database including its WAL sidecar files.
func SQLiteFootprint(dbPath string) (int64, error) {
	return Footprint(dbPath, dbPath+"-wal", dbPath+"-shm")
}
