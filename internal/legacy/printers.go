package legacy

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/flo-mic/eos-upgrade/internal/system"
)

// ResetPrinters drops every configured printer and its pending jobs. CUPS is
// restarted first so its state matches its config, and again afterwards.
func (r *Resetter) ResetPrinters(ctx context.Context) error {
	if err := system.RestartUnits(ctx, r.runner, r.cfg.PrinterService); err != nil {
		return err
	}

	printers, err := r.listPrinters(ctx)
	if err != nil {
		// lpstat exits non-zero when no destinations exist.
		r.warn("cannot list printers: %v", err)
	}
	if len(printers) > 0 {
		if err := r.runner.Run(ctx, "cancel", "-a"); err != nil {
			return fmt.Errorf("cancelling print jobs: %w", err)
		}
		for _, p := range printers {
			fmt.Fprintf(r.log, "[eos-upgrade] Removing printer %s\n", p)
			if err := r.runner.Run(ctx, "lpadmin", "-x", p); err != nil {
				return fmt.Errorf("removing printer %s: %w", p, err)
			}
		}
	}

	return system.RestartUnits(ctx, r.runner, r.cfg.PrinterService)
}

func (r *Resetter) listPrinters(ctx context.Context) ([]string, error) {
	out, err := r.runner.Output(ctx, "lpstat", "-v")
	if err != nil {
		return nil, err
	}
	return parsePrinters(out), nil
}

// parsePrinters reads `lpstat -v` lines of the form
// "device for NAME: URI".
func parsePrinters(out []byte) []string {
	var names []string
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		rest, ok := strings.CutPrefix(strings.TrimSpace(sc.Text()), "device for ")
		if !ok {
			continue
		}
		name, _, ok := strings.Cut(rest, ":")
		if !ok || name == "" {
			continue
		}
		names = append(names, name)
	}
	return names
}
