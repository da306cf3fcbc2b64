package legacy

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MigrateBootPartition folds a separate boot partition into the main one.
//
// Early installs mounted a dedicated partition on the boot mount point and
// left the main partition's boot directory empty. The step copies the boot
// files across, reinstalls the bootloader against the main partition,
// deletes the old partition table entry and bind-mounts the main boot
// directory in its place. Once entered, every failure is returned: a half
// migrated boot setup does not boot either way.
func (r *Resetter) MigrateBootPartition(ctx context.Context) error {
	mount, sysBoot := r.cfg.Boot.Mount, r.cfg.Boot.SysrootBoot

	empty, err := isEmptyDir(sysBoot)
	if err != nil || !empty {
		return nil
	}
	bootDev := r.mountSource(ctx, mount)
	if bootDev == "" {
		return nil
	}

	fmt.Fprintf(r.log, "[eos-upgrade] Migrating boot partition %s into %s\n", bootDev, sysBoot)
	disk, err := r.parentDisk(ctx, bootDev)
	if err != nil {
		return err
	}

	if err := copyTree(mount, sysBoot); err != nil {
		return fmt.Errorf("copying %s to %s: %w", mount, sysBoot, err)
	}
	if err := r.mounter.Unmount(mount); err != nil {
		return err
	}
	if err := r.runner.Run(ctx, "grub-install", "--boot-directory="+sysBoot, disk); err != nil {
		return fmt.Errorf("installing bootloader: %w", err)
	}
	r.mounter.Sync()

	if err := r.dropPartition(ctx, disk, bootDev); err != nil {
		return err
	}
	return r.mounter.BindMount(sysBoot, mount)
}

// mountSource returns the device mounted on target, or "" if target is not
// a mount point.
func (r *Resetter) mountSource(ctx context.Context, target string) string {
	out, err := r.runner.Output(ctx, "findmnt", "-n", "-o", "SOURCE", target)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func (r *Resetter) parentDisk(ctx context.Context, partition string) (string, error) {
	out, err := r.runner.Output(ctx, "lsblk", "-n", "-o", "PKNAME", partition)
	if err != nil {
		return "", fmt.Errorf("finding disk of %s: %w", partition, err)
	}
	name := strings.TrimSpace(string(out))
	if name == "" {
		return "", fmt.Errorf("%s has no parent disk", partition)
	}
	return filepath.Join("/dev", name), nil
}

// dropPartition rewrites disk's partition table without partition.
func (r *Resetter) dropPartition(ctx context.Context, disk, partition string) error {
	dump, err := r.runner.Output(ctx, "sfdisk", "--dump", disk)
	if err != nil {
		return fmt.Errorf("reading partition table: %w", err)
	}
	table, found := withoutPartition(dump, partition)
	if !found {
		return fmt.Errorf("%s not found in partition table of %s", partition, disk)
	}
	if err := r.runner.RunWithInput(ctx, table, "sfdisk", "--force", "--no-reread", disk); err != nil {
		return fmt.Errorf("writing partition table: %w", err)
	}
	return nil
}

// withoutPartition filters the sfdisk dump line describing partition.
func withoutPartition(dump []byte, partition string) ([]byte, bool) {
	var out bytes.Buffer
	found := false
	sc := bufio.NewScanner(bytes.NewReader(dump))
	for sc.Scan() {
		line := sc.Text()
		head, _, _ := strings.Cut(line, ":")
		if strings.TrimSpace(head) == partition {
			found = true
			continue
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}
	return out.Bytes(), found
}

func isEmptyDir(path string) (bool, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}
