// Package migrate runs the major version migration from start to finish.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/fatih/color"

	"github.com/flo-mic/eos-upgrade/internal/config"
	"github.com/flo-mic/eos-upgrade/internal/identity"
	"github.com/flo-mic/eos-upgrade/internal/legacy"
	"github.com/flo-mic/eos-upgrade/internal/reconfigure"
	"github.com/flo-mic/eos-upgrade/internal/system"
)

var (
	ErrDeclined = errors.New("migration declined by operator")
	ErrNotRoot  = errors.New("must be run as root")
)

// Options are the operator's command line choices.
type Options struct {
	Force bool // no confirmation prompts
	Skip  bool // stop after reconfiguration; no key refresh, pull or deploy
}

// Engine is the OSTree functionality the migration drives.
type Engine interface {
	reconfigure.Engine
	RefreshKeys(ctx context.Context, keys []config.TrustedKey) error
	Upgrade(ctx context.Context, keys []config.TrustedKey, remote, branch string) error
}

// Deps are the host collaborators. Zero values are not usable; cmd wires
// the real ones and tests wire fakes.
type Deps struct {
	Runner   system.Runner
	Mounter  system.Mounter
	Engine   Engine
	Prompter Prompter
	Arch     func() (string, error)
	Out      io.Writer
	Logger   *slog.Logger
}

type Migrator struct {
	cfg *config.Config
	Deps
}

func New(cfg *config.Config, deps Deps) *Migrator {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Migrator{cfg: cfg, Deps: deps}
}

var (
	warnColor = color.New(color.FgYellow, color.Bold)
	doneColor = color.New(color.FgGreen, color.Bold)
)

// Run performs the migration. Errors returned before the first prompt mean
// nothing was changed; errors after it may leave the machine half migrated.
func (m *Migrator) Run(ctx context.Context, opts Options) error {
	id, err := identity.Read(m.cfg.VersionFile)
	if err != nil {
		return err
	}
	m.Logger.Info("system identity", "version", id.Version, "major", id.Major)

	if err := m.gate(ctx, id); err != nil {
		return err
	}

	arch, err := m.Arch()
	if err != nil {
		return err
	}
	target, err := reconfigure.ResolveTarget(m.cfg, arch)
	if err != nil {
		return err
	}

	recon := reconfigure.New(m.cfg, m.Engine, m.Out)
	m.printPlan(id, target, recon.SecondaryPresent(), opts)

	if !opts.Force {
		if err := m.confirm(); err != nil {
			return err
		}
	}

	// Background updaters would race the descriptor rewrite.
	if err := system.StopUnits(ctx, m.Runner, m.cfg.UpdaterUnits...); err != nil {
		return fmt.Errorf("stopping updaters: %w", err)
	}

	if err := legacy.NewResetter(m.cfg, m.Runner, m.Mounter, m.Out).Run(ctx); err != nil {
		return err
	}

	if _, err := recon.Run(ctx, arch); err != nil {
		return fmt.Errorf("reconfiguring repositories: %w", err)
	}
	m.Logger.Info("repositories reconfigured", "remote", target.Remote, "branch", target.Branch)

	if opts.Skip {
		fmt.Fprintf(m.Out, "[eos-upgrade] Skipping download. To finish the upgrade run:\n")
		fmt.Fprintf(m.Out, "  ostree pull --disable-static-deltas %s %s\n", target.Remote, target.Branch)
		fmt.Fprintf(m.Out, "  ostree admin upgrade --allow-downgrade\n")
		return nil
	}

	if err := m.Engine.Upgrade(ctx, m.cfg.Keys, target.Remote, target.Branch); err != nil {
		return err
	}
	m.Logger.Info("upgrade deployed", "branch", target.Branch)
	doneColor.Fprintf(m.Out, "[eos-upgrade] Upgrade complete. Reboot to start Endless OS %d.\n", m.cfg.TargetMajor)
	return nil
}

// gate admits only the pinned legacy release. Machines on an older legacy
// release get fresh keys and a kick of the updater so they can catch up.
func (m *Migrator) gate(ctx context.Context, id identity.SystemIdentity) error {
	err := identity.CheckLegacy(id, m.cfg.LegacyVersion, m.cfg.LegacyMajor, m.cfg.TargetMajor)
	if err == nil {
		return nil
	}
	m.Logger.Warn("version gate rejected system", "version", id.Version, "err", err)
	if !errors.Is(err, identity.ErrMustUpdate) {
		return err
	}

	warnColor.Fprintf(m.Out, "[eos-upgrade] This computer runs %s. Install all updates to reach %s, then run this again.\n",
		id.Version, m.cfg.LegacyVersion)
	if kerr := m.Engine.RefreshKeys(ctx, m.cfg.Keys); kerr != nil {
		return errors.Join(err, fmt.Errorf("refreshing keys: %w", kerr))
	}
	if rerr := system.RestartUnits(ctx, m.Runner, m.cfg.UpdaterService); rerr != nil {
		return errors.Join(err, rerr)
	}
	return err
}

func (m *Migrator) confirm() error {
	prompts := [][2]string{
		{
			"Upgrade to Endless OS " + fmt.Sprint(m.cfg.TargetMajor) + "?",
			"This cannot be undone. There is no way back to the current version.",
		},
		{
			"Remove all legacy apps and printers?",
			"Installed apps, their data and all configured printers will be deleted.",
		},
	}
	for _, p := range prompts {
		ok, err := m.Prompter.Confirm(p[0], p[1])
		if err != nil {
			return fmt.Errorf("prompt: %w", err)
		}
		if !ok {
			return ErrDeclined
		}
	}
	return nil
}

func (m *Migrator) printPlan(id identity.SystemIdentity, t reconfigure.Target, secondary bool, opts Options) {
	fmt.Fprintf(m.Out, "[eos-upgrade] Current version: %s\n", id.Version)
	fmt.Fprintf(m.Out, "[eos-upgrade] Architecture:    %s (%s)\n", t.Arch, t.Product)
	fmt.Fprintf(m.Out, "[eos-upgrade] New branch:      %s:%s\n", t.Remote, t.Branch)
	if secondary {
		fmt.Fprintf(m.Out, "[eos-upgrade] Secondary storage detected; %s will be set up\n", m.cfg.Secondary.RepoPath)
	}
	if opts.Skip {
		fmt.Fprintf(m.Out, "[eos-upgrade] Download and deploy will be skipped\n")
	}
	warnColor.Fprintf(m.Out, "[eos-upgrade] WARNING: legacy apps, their data and all printers will be removed.\n")
}
