// Package legacy removes state left by the old major version that cannot
// coexist with the new one: apps, app data, printers, downloaded printer
// drivers and the separate boot partition of early installs.
package legacy

import (
	"context"
	"fmt"
	"io"

	"github.com/flo-mic/eos-upgrade/internal/config"
	"github.com/flo-mic/eos-upgrade/internal/system"
)

// Resetter runs the cleanup steps against the host described by cfg.
type Resetter struct {
	cfg     *config.Config
	runner  system.Runner
	mounter system.Mounter
	log     io.Writer
}

func NewResetter(cfg *config.Config, runner system.Runner, mounter system.Mounter, log io.Writer) *Resetter {
	return &Resetter{cfg: cfg, runner: runner, mounter: mounter, log: log}
}

// Run executes every step in order. Steps swallow the failures they are
// allowed to ignore; anything returned here must abort the migration.
func (r *Resetter) Run(ctx context.Context) error {
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"legacy apps", r.RemoveApps},
		{"legacy data", r.RemoveLegacyData},
		{"printers", r.ResetPrinters},
		{"printer drivers", r.RemoveDrivers},
		{"boot partition", r.MigrateBootPartition},
	}
	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}

func (r *Resetter) warn(format string, args ...any) {
	fmt.Fprintf(r.log, "[eos-upgrade] WARNING: "+format+"\n", args...)
}
