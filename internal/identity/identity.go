// Package identity reads the installed OS version and decides whether the
// migration applies to it.
package identity

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"
)

const versionKey = "VERSION"

var (
	// ErrMustUpdate means the machine runs an older release of the legacy
	// major version and has to take the regular updates first.
	ErrMustUpdate = errors.New("system must be updated to the latest release first")
	// ErrAlreadyUpgraded means the machine already runs the target major
	// version. The CLI still exits non-zero for it.
	ErrAlreadyUpgraded    = errors.New("system is already upgraded")
	ErrUnsupportedVersion = errors.New("unsupported version")
)

// SystemIdentity is the version recorded in the OS release file.
type SystemIdentity struct {
	Version string
	Major   int
}

// Read parses the key=value release file at path.
func Read(path string) (SystemIdentity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SystemIdentity{}, fmt.Errorf("reading version file: %w", err)
	}
	id, err := Parse(data)
	if err != nil {
		return SystemIdentity{}, fmt.Errorf("%s: %w", path, err)
	}
	return id, nil
}

// Parse extracts VERSION from release file content. Surrounding quotes are
// stripped.
func Parse(data []byte) (SystemIdentity, error) {
	f, err := ini.LoadSources(ini.LoadOptions{
		KeyValueDelimiters:  "=",
		IgnoreInlineComment: true,
		AllowBooleanKeys:    true,
	}, data)
	if err != nil {
		return SystemIdentity{}, err
	}
	sec := f.Section(ini.DefaultSection)
	if !sec.HasKey(versionKey) {
		return SystemIdentity{}, fmt.Errorf("no %s entry", versionKey)
	}
	version := strings.Trim(strings.TrimSpace(sec.Key(versionKey).String()), `'`)
	major, err := majorOf(version)
	if err != nil {
		return SystemIdentity{}, err
	}
	return SystemIdentity{Version: version, Major: major}, nil
}

func majorOf(version string) (int, error) {
	head, _, _ := strings.Cut(version, ".")
	major, err := strconv.Atoi(head)
	if err != nil || major < 0 {
		return 0, fmt.Errorf("malformed version %q", version)
	}
	return major, nil
}

// CheckLegacy admits only the pinned legacy release. The returned error wraps
// one of ErrMustUpdate, ErrAlreadyUpgraded or ErrUnsupportedVersion.
func CheckLegacy(id SystemIdentity, legacyVersion string, legacyMajor, targetMajor int) error {
	if id.Version == legacyVersion {
		return nil
	}
	switch id.Major {
	case legacyMajor:
		return fmt.Errorf("%w: running %s, need %s", ErrMustUpdate, id.Version, legacyVersion)
	case targetMajor:
		return fmt.Errorf("%w: running %s", ErrAlreadyUpgraded, id.Version)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedVersion, id.Version)
	}
}

// CheckTarget admits any release of the target major version.
func CheckTarget(id SystemIdentity, targetMajor int) error {
	if id.Major != targetMajor {
		return fmt.Errorf("%w: %s", ErrUnsupportedVersion, id.Version)
	}
	return nil
}
