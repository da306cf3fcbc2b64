package system

import (
	"context"
	"errors"
	"os/exec"
)

// RestartUnits restarts each unit in order, stopping at the first failure.
func RestartUnits(ctx context.Context, r Runner, units ...string) error {
	for _, u := range units {
		if err := r.Run(ctx, "systemctl", "restart", u); err != nil {
			return err
		}
	}
	return nil
}

// StopUnits stops all units with a single systemctl call.
func StopUnits(ctx context.Context, r Runner, units ...string) error {
	if len(units) == 0 {
		return nil
	}
	return r.Run(ctx, "systemctl", append([]string{"stop"}, units...)...)
}

// UnitIsActive reports whether systemd considers the unit active. A non-zero
// exit from systemctl means inactive, not failure.
func UnitIsActive(ctx context.Context, r Runner, unit string) (bool, error) {
	err := r.Run(ctx, "systemctl", "is-active", "--quiet", unit)
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	}
	return false, err
}
