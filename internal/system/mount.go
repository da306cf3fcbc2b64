package system

import "errors"

// ErrUnsupportedPlatform is returned by host operations that only exist on Linux.
var ErrUnsupportedPlatform = errors.New("operation not supported on this platform")

// Mounter performs the mount-table changes of the boot partition migration.
type Mounter interface {
	BindMount(source, target string) error
	Unmount(target string) error
	Sync()
}

// HostMounter operates on the live mount table.
type HostMounter struct{}
