//go:build !linux

package system

func (HostMounter) BindMount(source, target string) error { return ErrUnsupportedPlatform }

func (HostMounter) Unmount(target string) error { return ErrUnsupportedPlatform }

func (HostMounter) Sync() {}

func Machine() (string, error) { return "", ErrUnsupportedPlatform }
