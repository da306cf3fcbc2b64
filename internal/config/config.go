package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where an operator may drop overrides for the built-in values.
const DefaultPath = "/etc/eos-upgrade/config.yaml"

// Config holds every constant and filesystem location the migration depends
// on. It is loaded once at process start and never mutated afterwards.
type Config struct {
	LegacyVersion string            `yaml:"legacy_version"`
	LegacyMajor   int               `yaml:"legacy_major"`
	TargetMajor   int               `yaml:"target_major"`
	ArchProducts  map[string]string `yaml:"arch_products"` // uname -m → product

	VersionFile    string           `yaml:"version_file"`
	Sysroot        string           `yaml:"sysroot"`
	RepoPath       string           `yaml:"repo_path"`
	RepoConfigPath string           `yaml:"repo_config_path"`
	Secondary      SecondaryStorage `yaml:"secondary"`

	AppManager     string   `yaml:"app_manager"`
	LegacyDataDirs []string `yaml:"legacy_data_dirs"`
	HomeRoot       string   `yaml:"home_root"`
	UserDataDir    string   `yaml:"user_data_dir"`
	MarkerFile     string   `yaml:"marker_file"`

	PrinterService string `yaml:"printer_service"`
	PPDDir         string `yaml:"ppd_dir"`
	DriverRoot     string `yaml:"driver_root"`

	Boot BootConfig `yaml:"boot"`

	Remotes        Remotes      `yaml:"remotes"`
	Keys           []TrustedKey `yaml:"keys"`
	UpdaterService string       `yaml:"updater_service"`
	UpdaterUnits   []string     `yaml:"updater_units"`

	PatchSection string `yaml:"patch_section"`
	LogFile      string `yaml:"log_file"`
}

// SecondaryStorage describes the optional second disk that carries its own
// application repository.
type SecondaryStorage struct {
	DeviceLabelPath string `yaml:"device_label_path"`
	RepoPath        string `yaml:"repo_path"`
	RepoMode        string `yaml:"repo_mode"`
}

// ConfigPath is the descriptor inside the secondary repository.
func (s SecondaryStorage) ConfigPath() string {
	return filepath.Join(s.RepoPath, "config")
}

// BootConfig locates the separate boot partition used by old installs.
type BootConfig struct {
	Mount       string `yaml:"mount"`        // e.g. /boot
	SysrootBoot string `yaml:"sysroot_boot"` // boot dir on the main partition
}

// Remotes names the content sources written into the repository descriptors.
// URL and branch templates expand {product}.
type Remotes struct {
	OS                string `yaml:"os"`
	OSURL             string `yaml:"os_url"`
	OSBranch          string `yaml:"os_branch"`
	Runtimes          string `yaml:"runtimes"`
	RuntimesURL       string `yaml:"runtimes_url"`
	Apps              string `yaml:"apps"`
	AppsURL           string `yaml:"apps_url"`
	AppsDefaultBranch string `yaml:"apps_default_branch"`
}

func (r Remotes) OSURLFor(product string) string {
	return strings.ReplaceAll(r.OSURL, "{product}", product)
}

func (r Remotes) OSBranchFor(product string) string {
	return strings.ReplaceAll(r.OSBranch, "{product}", product)
}

// TrustedKey is a public keyring fetched over the network and imported for
// each of the listed remotes.
type TrustedKey struct {
	URL     string   `yaml:"url"`
	Remotes []string `yaml:"remotes"`
}

// Default returns the values for a stock Endless OS 2.x machine.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads overrides from path on top of the defaults.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse %s: %w", path, err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.LegacyVersion == "" {
		cfg.LegacyVersion = "2.6.10"
	}
	if cfg.LegacyMajor == 0 {
		cfg.LegacyMajor = 2
	}
	if cfg.TargetMajor == 0 {
		cfg.TargetMajor = 3
	}
	if len(cfg.ArchProducts) == 0 {
		cfg.ArchProducts = map[string]string{
			"armv7l": "ec100",
			"x86_64": "amd64",
		}
	}
	if cfg.VersionFile == "" {
		cfg.VersionFile = "/etc/os-release"
	}
	if cfg.Sysroot == "" {
		cfg.Sysroot = "/sysroot"
	}
	if cfg.RepoPath == "" {
		cfg.RepoPath = "/ostree/repo"
	}
	if cfg.RepoConfigPath == "" {
		cfg.RepoConfigPath = filepath.Join(cfg.RepoPath, "config")
	}
	if cfg.Secondary.DeviceLabelPath == "" {
		cfg.Secondary.DeviceLabelPath = "/dev/disk/by-label/extra"
	}
	if cfg.Secondary.RepoPath == "" {
		cfg.Secondary.RepoPath = "/var/endless-extra/flatpak/repo"
	}
	if cfg.Secondary.RepoMode == "" {
		cfg.Secondary.RepoMode = "bare-user"
	}
	if cfg.AppManager == "" {
		cfg.AppManager = "eam"
	}
	if cfg.LegacyDataDirs == nil {
		cfg.LegacyDataDirs = []string{"/endless", "/var/endless-extra/endless"}
	}
	if cfg.HomeRoot == "" {
		cfg.HomeRoot = "/home"
	}
	if cfg.UserDataDir == "" {
		cfg.UserDataDir = ".endlessm"
	}
	if cfg.MarkerFile == "" {
		cfg.MarkerFile = "/var/lib/eos-app-manager/.check-component-versions"
	}
	if cfg.PrinterService == "" {
		cfg.PrinterService = "cups"
	}
	if cfg.PPDDir == "" {
		cfg.PPDDir = "/var/lib/eos-config-printer/ppd"
	}
	if cfg.DriverRoot == "" {
		cfg.DriverRoot = "/var/lib/eos-config-printer/drivers"
	}
	if cfg.Boot.Mount == "" {
		cfg.Boot.Mount = "/boot"
	}
	if cfg.Boot.SysrootBoot == "" {
		cfg.Boot.SysrootBoot = filepath.Join(cfg.Sysroot, "boot")
	}
	applyRemoteDefaults(&cfg.Remotes)
	if cfg.Keys == nil {
		cfg.Keys = []TrustedKey{
			{URL: "https://ostree.endlessm.com/keys/eos-ostree-keyring.gpg", Remotes: []string{cfg.Remotes.OS}},
			{URL: "https://ostree.endlessm.com/keys/eos-flatpak-keyring.gpg", Remotes: []string{cfg.Remotes.Runtimes, cfg.Remotes.Apps}},
		}
	}
	if cfg.UpdaterService == "" {
		cfg.UpdaterService = "eos-updater.service"
	}
	if cfg.UpdaterUnits == nil {
		cfg.UpdaterUnits = []string{"eos-autoupdater.timer", "eos-autoupdater.service", "eos-updater.service"}
	}
	if cfg.PatchSection == "" {
		cfg.PatchSection = `remote "eos-external-apps"`
	}
	if cfg.LogFile == "" {
		cfg.LogFile = "/var/log/eos-upgrade.log"
	}
}

func applyRemoteDefaults(r *Remotes) {
	if r.OS == "" {
		r.OS = "eos"
	}
	if r.OSURL == "" {
		r.OSURL = "https://ostree.endlessm.com/ostree/eos-{product}"
	}
	if r.OSBranch == "" {
		r.OSBranch = "os/eos/{product}/eos3"
	}
	if r.Runtimes == "" {
		r.Runtimes = "eos-runtimes"
	}
	if r.RuntimesURL == "" {
		r.RuntimesURL = "https://ostree.endlessm.com/ostree/eos-sdk"
	}
	if r.Apps == "" {
		r.Apps = "eos-apps"
	}
	if r.AppsURL == "" {
		r.AppsURL = "https://ostree.endlessm.com/ostree/eos-apps"
	}
	if r.AppsDefaultBranch == "" {
		r.AppsDefaultBranch = "eos3"
	}
}

// Validate rejects configurations the migration cannot run with.
func (c *Config) Validate() error {
	if c.LegacyVersion == "" {
		return fmt.Errorf("'legacy_version' is required")
	}
	if c.TargetMajor <= c.LegacyMajor {
		return fmt.Errorf("'target_major' (%d) must be greater than 'legacy_major' (%d)", c.TargetMajor, c.LegacyMajor)
	}
	if len(c.ArchProducts) == 0 {
		return fmt.Errorf("'arch_products' must name at least one architecture")
	}
	paths := map[string]string{
		"version_file":                c.VersionFile,
		"sysroot":                     c.Sysroot,
		"repo_path":                   c.RepoPath,
		"repo_config_path":            c.RepoConfigPath,
		"secondary.repo_path":         c.Secondary.RepoPath,
		"secondary.device_label_path": c.Secondary.DeviceLabelPath,
		"home_root":                   c.HomeRoot,
		"ppd_dir":                     c.PPDDir,
		"driver_root":                 c.DriverRoot,
		"boot.mount":                  c.Boot.Mount,
		"boot.sysroot_boot":           c.Boot.SysrootBoot,
	}
	keys := make([]string, 0, len(paths))
	for k := range paths {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !filepath.IsAbs(paths[k]) {
			return fmt.Errorf("'%s' must be an absolute path, got %q", k, paths[k])
		}
	}
	if filepath.Clean(c.DriverRoot) == "/" {
		return fmt.Errorf("'driver_root' must not be /")
	}
	if strings.ContainsRune(c.UserDataDir, filepath.Separator) || c.UserDataDir == ".." || c.UserDataDir == "." {
		return fmt.Errorf("'user_data_dir' must be a single directory name, got %q", c.UserDataDir)
	}
	return nil
}

// UnderRoot returns a copy with every filesystem location re-based under
// root. Device paths are included so a fixture tree can stand in for /dev.
func (c *Config) UnderRoot(root string) *Config {
	cp := *c
	at := func(p string) string { return filepath.Join(root, p) }

	cp.ArchProducts = make(map[string]string, len(c.ArchProducts))
	for k, v := range c.ArchProducts {
		cp.ArchProducts[k] = v
	}
	cp.VersionFile = at(c.VersionFile)
	cp.Sysroot = at(c.Sysroot)
	cp.RepoPath = at(c.RepoPath)
	cp.RepoConfigPath = at(c.RepoConfigPath)
	cp.Secondary.DeviceLabelPath = at(c.Secondary.DeviceLabelPath)
	cp.Secondary.RepoPath = at(c.Secondary.RepoPath)
	cp.LegacyDataDirs = make([]string, len(c.LegacyDataDirs))
	for i, d := range c.LegacyDataDirs {
		cp.LegacyDataDirs[i] = at(d)
	}
	cp.HomeRoot = at(c.HomeRoot)
	cp.MarkerFile = at(c.MarkerFile)
	cp.PPDDir = at(c.PPDDir)
	cp.DriverRoot = at(c.DriverRoot)
	cp.Boot.Mount = at(c.Boot.Mount)
	cp.Boot.SysrootBoot = at(c.Boot.SysrootBoot)
	cp.LogFile = at(c.LogFile)
	return &cp
}
