package legacy

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"
)

// RemoveApps uninstalls every app the legacy app manager reports. A failing
// uninstall is logged and the loop moves on.
func (r *Resetter) RemoveApps(ctx context.Context) error {
	apps, err := r.listApps(ctx)
	if err != nil {
		return err
	}
	if len(apps) == 0 {
		fmt.Fprintf(r.log, "[eos-upgrade] No legacy apps installed\n")
		return nil
	}
	for _, app := range apps {
		fmt.Fprintf(r.log, "[eos-upgrade] Removing legacy app %s\n", app)
		if err := r.runner.Run(ctx, r.cfg.AppManager, "uninstall", app); err != nil {
			r.warn("could not uninstall %s: %v", app, err)
		}
	}
	return nil
}

func (r *Resetter) listApps(ctx context.Context) ([]string, error) {
	out, err := r.runner.Output(ctx, r.cfg.AppManager, "list")
	if err != nil {
		return nil, fmt.Errorf("listing apps: %w", err)
	}
	return parseAppList(out), nil
}

// parseAppList takes the first column of each non-empty line.
func parseAppList(out []byte) []string {
	var apps []string
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		apps = append(apps, fields[0])
	}
	return apps
}
