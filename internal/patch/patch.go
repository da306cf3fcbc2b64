// Package patch removes the remote section that the 2→3 migration left in
// the repository descriptors and that the new OS no longer understands.
package patch

import (
	"fmt"
	"io"
	"os"

	"github.com/flo-mic/eos-upgrade/internal/config"
	"github.com/flo-mic/eos-upgrade/internal/identity"
	"github.com/flo-mic/eos-upgrade/internal/repoconfig"
)

// Result reports what happened to one descriptor.
type Result struct {
	Path    string
	Removed bool
}

type Patcher struct {
	cfg *config.Config
	log io.Writer
}

func New(cfg *config.Config, log io.Writer) *Patcher {
	return &Patcher{cfg: cfg, log: log}
}

// Run removes the configured section from the primary descriptor and, when
// the secondary repository exists, from its descriptor too. It can be run
// any number of times.
func (p *Patcher) Run(id identity.SystemIdentity) ([]Result, error) {
	if err := identity.CheckTarget(id, p.cfg.TargetMajor); err != nil {
		return nil, err
	}

	paths := []string{p.cfg.RepoConfigPath}
	if _, err := os.Stat(p.cfg.Secondary.ConfigPath()); err == nil {
		paths = append(paths, p.cfg.Secondary.ConfigPath())
	}

	var results []Result
	for _, path := range paths {
		removed, err := RemoveSection(path, p.cfg.PatchSection)
		if err != nil {
			return results, err
		}
		if removed {
			fmt.Fprintf(p.log, "[eos-upgrade-fix] Removed [%s] from %s\n", p.cfg.PatchSection, path)
		} else {
			fmt.Fprintf(p.log, "[eos-upgrade-fix] %s already clean\n", path)
		}
		results = append(results, Result{Path: path, Removed: removed})
	}
	return results, nil
}

// RemoveSection deletes section from the descriptor at path. When the
// section is absent the file is not rewritten.
func RemoveSection(path, section string) (bool, error) {
	d, err := repoconfig.Load(path)
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", path, err)
	}
	if !d.Remove(section) {
		return false, nil
	}
	if err := d.WriteFile(path); err != nil {
		return false, err
	}
	return true, nil
}
