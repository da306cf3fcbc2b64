package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/flo-mic/eos-upgrade/internal/config"
	"github.com/flo-mic/eos-upgrade/internal/identity"
	"github.com/flo-mic/eos-upgrade/internal/migrate"
	"github.com/flo-mic/eos-upgrade/internal/patch"
	"github.com/flo-mic/eos-upgrade/internal/runlog"
	"github.com/flo-mic/eos-upgrade/internal/system"
)

var isRoot = system.IsRoot

func main() {
	runMain(os.Args, os.Stdout, os.Stderr, os.Exit)
}

func runMain(args []string, stdout, stderr io.Writer, exit func(int)) {
	cmd := newRootCmd()
	cmd.SetArgs(args[1:])
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.Execute(); err != nil {
		color.New(color.FgRed, color.Bold).Fprintf(stderr, "error: %v\n", err)
		exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "eos-upgrade-fix",
		Short: "Remove the stale external-apps remote left behind by eos-upgrade",
		Long: `Remove the stale external-apps remote left behind by eos-upgrade.

Only runs on Endless OS 3. Safe to run more than once: descriptors that are
already clean are left untouched. Run as root.`,
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
			return fix(cfg, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", config.DefaultPath, "path to a YAML file overriding built-in settings")
	return cmd
}

func fix(cfg *config.Config, stdout io.Writer) error {
	l, err := runlog.Open(cfg.LogFile, stdout, "eos-upgrade-fix")
	if err != nil {
		return err
	}
	defer l.Close()

	id, err := identity.Read(cfg.VersionFile)
	if err != nil {
		return err
	}
	results, err := patch.New(cfg, l.Out).Run(id)
	if err != nil {
		l.Logger.Error("patch failed", "version", id.Version, "err", err)
		return err
	}
	removed := 0
	for _, r := range results {
		if r.Removed {
			removed++
		}
	}
	l.Logger.Info("patch finished", "version", id.Version, "descriptors", len(results), "removed", removed)
	fmt.Fprintln(l.Out, "[eos-upgrade-fix] Done")
	return nil
}
