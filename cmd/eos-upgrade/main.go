package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/flo-mic/eos-upgrade/internal/config"
	"github.com/flo-mic/eos-upgrade/internal/identity"
	"github.com/flo-mic/eos-upgrade/internal/migrate"
	"github.com/flo-mic/eos-upgrade/internal/ostree"
	"github.com/flo-mic/eos-upgrade/internal/runlog"
	"github.com/flo-mic/eos-upgrade/internal/system"
)

var (
	isRoot       = system.IsRoot
	runMigration = migrateHost
)

func main() {
	runMain(os.Args, os.Stdout, os.Stderr, os.Exit)
}

func runMain(args []string, stdout, stderr io.Writer, exit func(int)) {
	cmd := newRootCmd()
	cmd.SetArgs(args[1:])
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.Execute(); err != nil {
		report(stderr, err)
		exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		opts    migrate.Options
		cfgPath string
	)
	cmd := &cobra.Command{
		Use:   "eos-upgrade",
		Short: "Upgrade this computer from Endless OS 2 to Endless OS 3",
		Long: `Upgrade this computer from Endless OS 2 to Endless OS 3.

All legacy apps, their data and every configured printer are removed, the
OS repository is pointed at the new release and the new OS image is
downloaded and deployed. The upgrade cannot be undone.

The computer must run the latest Endless OS 2 release. Run as root.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !isRoot() {
				return migrate.ErrNotRoot
			}
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			return runMigration(cmd.Context(), cfg, opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "do not ask for confirmation")
	cmd.Flags().BoolVarP(&opts.Skip, "skip", "s", false, "skip downloading and deploying the new OS image")
	cmd.Flags().StringVar(&cfgPath, "config", config.DefaultPath, "path to a YAML file overriding built-in settings")
	return cmd
}

// migrateHost wires the real host collaborators.
func migrateHost(ctx context.Context, cfg *config.Config, opts migrate.Options, stdout io.Writer) error {
	l, err := runlog.Open(cfg.LogFile, stdout, "eos-upgrade")
	if err != nil {
		return err
	}
	defer l.Close()

	runner := system.NewExec(l.Out)
	m := migrate.New(cfg, migrate.Deps{
		Runner:   runner,
		Mounter:  system.HostMounter{},
		Engine:   ostree.NewEngine(cfg, runner, nil, l.Out),
		Prompter: migrate.HuhPrompter{},
		Arch:     system.Machine,
		Out:      l.Out,
		Logger:   l.Logger,
	})

	l.Logger.Info("migration starting", "force", opts.Force, "skip", opts.Skip)
	if err := m.Run(ctx, opts); err != nil {
		l.Logger.Error("migration stopped", "err", err)
		return err
	}
	l.Logger.Info("migration finished")
	return nil
}

func report(stderr io.Writer, err error) {
	if errors.Is(err, identity.ErrAlreadyUpgraded) {
		fmt.Fprintf(stderr, "Nothing to do: %v\n", err)
		return
	}
	color.New(color.FgRed, color.Bold).Fprintf(stderr, "error: %v\n", err)
}
