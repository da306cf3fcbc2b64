// Package reconfigure points the OSTree repositories and the booted
// deployment at the new major version's content.
package reconfigure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/flo-mic/eos-upgrade/internal/config"
	"github.com/flo-mic/eos-upgrade/internal/ostree"
	"github.com/flo-mic/eos-upgrade/internal/repoconfig"
)

var ErrUnsupportedArch = errors.New("unsupported machine architecture")

// Target is what the machine will track after reconfiguration.
type Target struct {
	Arch    string
	Product string
	Remote  string
	Branch  string
	URL     string
}

// ResolveTarget maps the machine architecture through the product table.
// There is no fallback product.
func ResolveTarget(cfg *config.Config, arch string) (Target, error) {
	product, ok := cfg.ArchProducts[arch]
	if !ok || product == "" {
		known := make([]string, 0, len(cfg.ArchProducts))
		for a := range cfg.ArchProducts {
			known = append(known, a)
		}
		sort.Strings(known)
		return Target{}, fmt.Errorf("%w: %q (supported: %s)", ErrUnsupportedArch, arch, strings.Join(known, ", "))
	}
	return Target{
		Arch:    arch,
		Product: product,
		Remote:  cfg.Remotes.OS,
		Branch:  cfg.Remotes.OSBranchFor(product),
		URL:     cfg.Remotes.OSURLFor(product),
	}, nil
}

// Engine is the part of the OSTree engine the reconfiguration needs.
type Engine interface {
	InitRepo(ctx context.Context, path, mode string) error
	BootedDeployment(ctx context.Context) (ostree.Deployment, error)
}

type Reconfigurer struct {
	cfg    *config.Config
	engine Engine
	log    io.Writer
}

func New(cfg *config.Config, engine Engine, log io.Writer) *Reconfigurer {
	return &Reconfigurer{cfg: cfg, engine: engine, log: log}
}

// SecondaryPresent reports whether the secondary storage device is attached.
func (r *Reconfigurer) SecondaryPresent() bool {
	_, err := os.Stat(r.cfg.Secondary.DeviceLabelPath)
	return err == nil
}

// Run overwrites the primary descriptor, sets up the secondary repository
// when its device is present, and switches the booted deployment's origin.
// Existing descriptor content is discarded, not merged.
func (r *Reconfigurer) Run(ctx context.Context, arch string) (Target, error) {
	t, err := ResolveTarget(r.cfg, arch)
	if err != nil {
		return Target{}, err
	}

	fmt.Fprintf(r.log, "[eos-upgrade] Writing %s\n", r.cfg.RepoConfigPath)
	if err := PrimaryDescriptor(r.cfg, t).WriteFile(r.cfg.RepoConfigPath); err != nil {
		return t, err
	}

	if r.SecondaryPresent() {
		sec := r.cfg.Secondary
		fmt.Fprintf(r.log, "[eos-upgrade] Initializing secondary repository %s\n", sec.RepoPath)
		if err := os.MkdirAll(sec.RepoPath, 0755); err != nil {
			return t, fmt.Errorf("mkdir %s: %w", sec.RepoPath, err)
		}
		if err := r.engine.InitRepo(ctx, sec.RepoPath, sec.RepoMode); err != nil {
			return t, fmt.Errorf("initializing %s: %w", sec.RepoPath, err)
		}
		if err := SecondaryDescriptor(r.cfg).WriteFile(sec.ConfigPath()); err != nil {
			return t, err
		}
	}

	dep, err := r.engine.BootedDeployment(ctx)
	if err != nil {
		return t, fmt.Errorf("finding booted deployment: %w", err)
	}
	origin := repoconfig.Origin{Remote: t.Remote, Branch: t.Branch}
	path := dep.OriginPath(r.cfg.Sysroot)
	fmt.Fprintf(r.log, "[eos-upgrade] Switching %s to %s\n", path, origin.Refspec())
	if err := repoconfig.WriteOrigin(path, origin); err != nil {
		return t, fmt.Errorf("updating origin: %w", err)
	}
	return t, nil
}

// PrimaryDescriptor builds the main repository config: the OS remote pinned
// to a single unverified branch, followed by the verified app remotes.
func PrimaryDescriptor(cfg *config.Config, t Target) *repoconfig.Descriptor {
	sections := []repoconfig.Section{
		coreSection("bare"),
		{
			Name: repoconfig.RemoteSection(t.Remote),
			Entries: []repoconfig.Entry{
				{Key: "url", Value: t.URL},
				{Key: "branches", Value: t.Branch + ";"},
				{Key: "gpg-verify", Value: "false"},
			},
		},
	}
	return repoconfig.New(append(sections, verifiedRemotes(cfg)...)...)
}

// SecondaryDescriptor builds the secondary repository config. It carries the
// same verified remotes as the primary one and no OS remote.
func SecondaryDescriptor(cfg *config.Config) *repoconfig.Descriptor {
	sections := []repoconfig.Section{coreSection(cfg.Secondary.RepoMode)}
	return repoconfig.New(append(sections, verifiedRemotes(cfg)...)...)
}

func coreSection(mode string) repoconfig.Section {
	return repoconfig.Section{
		Name: "core",
		Entries: []repoconfig.Entry{
			{Key: "repo_version", Value: "1"},
			{Key: "mode", Value: mode},
		},
	}
}

func verifiedRemotes(cfg *config.Config) []repoconfig.Section {
	r := cfg.Remotes
	return []repoconfig.Section{
		{
			Name: repoconfig.RemoteSection(r.Runtimes),
			Entries: []repoconfig.Entry{
				{Key: "url", Value: r.RuntimesURL},
				{Key: "gpg-verify", Value: "true"},
			},
		},
		{
			Name: repoconfig.RemoteSection(r.Apps),
			Entries: []repoconfig.Entry{
				{Key: "url", Value: r.AppsURL},
				{Key: "gpg-verify", Value: "true"},
				{Key: "xa.default-branch", Value: r.AppsDefaultBranch},
			},
		},
	}
}
