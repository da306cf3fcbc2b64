package legacy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/flo-mic/eos-upgrade/internal/system"
)

// DriverInstallation is a downloaded printer driver: a PPD symlink and the
// top-level directory under the driver root that its target lives in.
type DriverInstallation struct {
	Link   string
	Target string
	TopDir string
}

// RemoveDrivers deletes downloaded printer drivers. The loop stops at the
// first entry that does not look like a driver installation, so the driver
// root itself and anything outside it is never deleted.
func (r *Resetter) RemoveDrivers(ctx context.Context) error {
	entries, err := os.ReadDir(r.cfg.PPDDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		r.warn("cannot list %s: %v", r.cfg.PPDDir, err)
		return nil
	}

	root, err := filepath.EvalSymlinks(r.cfg.DriverRoot)
	if err != nil {
		root = filepath.Clean(r.cfg.DriverRoot)
	}

	removed := false
	for _, e := range entries {
		link := filepath.Join(r.cfg.PPDDir, e.Name())
		drv, err := discoverDriver(link, root)
		if err != nil {
			if drv.Link != "" {
				r.warn("%v; removing link %s", err, link)
				if rmErr := os.Remove(link); rmErr != nil {
					r.warn("cannot remove %s: %v", link, rmErr)
				} else {
					removed = true
				}
			} else {
				r.warn("%v; stopping driver cleanup", err)
			}
			break
		}

		fmt.Fprintf(r.log, "[eos-upgrade] Removing printer driver %s\n", drv.TopDir)
		if err := os.RemoveAll(drv.TopDir); err != nil {
			r.warn("cannot remove %s: %v; stopping driver cleanup", drv.TopDir, err)
			break
		}
		if err := os.Remove(link); err != nil {
			r.warn("cannot remove %s: %v; stopping driver cleanup", link, err)
			break
		}
		removed = true
	}

	if !removed {
		return nil
	}
	return system.RestartUnits(ctx, r.runner, r.cfg.PrinterService)
}

// discoverDriver validates one PPD directory entry against root.
//
// On error, a returned DriverInstallation with Link set means the entry is a
// dangling or foreign symlink that should be unlinked; an empty one means the
// entry must be left alone.
func discoverDriver(link, root string) (DriverInstallation, error) {
	fi, err := os.Lstat(link)
	if err != nil {
		return DriverInstallation{}, err
	}
	if fi.Mode()&os.ModeSymlink == 0 {
		return DriverInstallation{}, fmt.Errorf("%s is not a symbolic link", link)
	}

	target, err := filepath.EvalSymlinks(link)
	if err != nil {
		return DriverInstallation{Link: link}, fmt.Errorf("%s points to a missing target", link)
	}
	if !within(root, target) {
		return DriverInstallation{Link: link}, fmt.Errorf("%s points outside %s", link, root)
	}

	top := target
	for filepath.Dir(top) != root {
		parent := filepath.Dir(top)
		if parent == top {
			return DriverInstallation{}, fmt.Errorf("%s: no ancestor below %s", target, root)
		}
		top = parent
	}
	if top == root || filepath.Base(top) == "" || filepath.Dir(top) != root {
		return DriverInstallation{}, fmt.Errorf("%s: invalid driver directory %q", link, top)
	}
	if _, err := os.Lstat(top); err != nil {
		return DriverInstallation{}, fmt.Errorf("%s: driver directory %s: %w", link, top, err)
	}
	return DriverInstallation{Link: link, Target: target, TopDir: top}, nil
}

// within reports whether path is strictly below root.
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !filepath.IsAbs(rel) && !hasDotDotPrefix(rel)
}

func hasDotDotPrefix(rel string) bool {
	return len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)
}
