package legacy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// RemoveLegacyData deletes the legacy app trees, every user's copy of the
// per-user app data dir and the component-check marker. Missing paths are
// fine and removal errors are only logged.
func (r *Resetter) RemoveLegacyData(ctx context.Context) error {
	for _, dir := range r.cfg.LegacyDataDirs {
		r.removeAll(dir)
	}

	homes, err := os.ReadDir(r.cfg.HomeRoot)
	if err != nil && !os.IsNotExist(err) {
		r.warn("cannot list %s: %v", r.cfg.HomeRoot, err)
	}
	for _, h := range homes {
		if !h.IsDir() {
			continue
		}
		r.removeAll(filepath.Join(r.cfg.HomeRoot, h.Name(), r.cfg.UserDataDir))
	}

	if err := os.Remove(r.cfg.MarkerFile); err == nil {
		fmt.Fprintf(r.log, "[eos-upgrade] Removed %s\n", r.cfg.MarkerFile)
	} else if !os.IsNotExist(err) {
		r.warn("cannot remove %s: %v", r.cfg.MarkerFile, err)
	}
	return nil
}

func (r *Resetter) removeAll(path string) {
	if _, err := os.Lstat(path); os.IsNotExist(err) {
		return
	}
	fmt.Fprintf(r.log, "[eos-upgrade] Removing %s\n", path)
	if err := os.RemoveAll(path); err != nil {
		r.warn("cannot remove %s: %v", path, err)
	}
}
