package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LegacyVersion != "2.6.10" {
		t.Errorf("LegacyVersion = %q, want 2.6.10", cfg.LegacyVersion)
	}
	if cfg.ArchProducts["x86_64"] != "amd64" || cfg.ArchProducts["armv7l"] != "ec100" {
		t.Errorf("ArchProducts = %v", cfg.ArchProducts)
	}
	if cfg.RepoConfigPath != "/ostree/repo/config" {
		t.Errorf("RepoConfigPath = %q", cfg.RepoConfigPath)
	}
	if cfg.Secondary.ConfigPath() != "/var/endless-extra/flatpak/repo/config" {
		t.Errorf("secondary config path = %q", cfg.Secondary.ConfigPath())
	}
}

func TestLoad_Overrides(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
legacy_version: 2.6.11
arch_products:
  aarch64: arm64
repo_path: /srv/repo
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LegacyVersion != "2.6.11" {
		t.Errorf("LegacyVersion = %q", cfg.LegacyVersion)
	}
	if len(cfg.ArchProducts) != 1 || cfg.ArchProducts["aarch64"] != "arm64" {
		t.Errorf("arch table should be replaced, got %v", cfg.ArchProducts)
	}
	// Derived default follows the overridden repo path.
	if cfg.RepoConfigPath != "/srv/repo/config" {
		t.Errorf("RepoConfigPath = %q", cfg.RepoConfigPath)
	}
	if cfg.TargetMajor != 3 {
		t.Errorf("TargetMajor default = %d, want 3", cfg.TargetMajor)
	}
}

func TestLoad_RejectsRelativePath(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "driver_root: drivers\n")
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "driver_root") {
		t.Errorf("expected driver_root error, got %v", err)
	}
}

func TestLoad_RejectsFilesystemRootAsDriverRoot(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "driver_root: /\n")
	if _, err := Load(path); err == nil {
		t.Error("expected error for driver_root /")
	}
}

func TestLoad_RejectsTargetNotAboveLegacy(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "legacy_major: 3\ntarget_major: 3\n")
	if _, err := Load(path); err == nil {
		t.Error("expected error when target_major <= legacy_major")
	}
}

func TestLoad_BadYAML(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "legacy_version: [\n")
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestRemotesTemplates(t *testing.T) {
	r := Default().Remotes
	if got := r.OSBranchFor("amd64"); got != "os/eos/amd64/eos3" {
		t.Errorf("OSBranchFor = %q", got)
	}
	if got := r.OSURLFor("ec100"); got != "https://ostree.endlessm.com/ostree/eos-ec100" {
		t.Errorf("OSURLFor = %q", got)
	}
}

func TestUnderRoot(t *testing.T) {
	base := Default()
	cfg := base.UnderRoot("/tmp/fixture")
	if cfg.RepoConfigPath != "/tmp/fixture/ostree/repo/config" {
		t.Errorf("RepoConfigPath = %q", cfg.RepoConfigPath)
	}
	if cfg.LegacyDataDirs[0] != "/tmp/fixture/endless" {
		t.Errorf("LegacyDataDirs[0] = %q", cfg.LegacyDataDirs[0])
	}
	if base.RepoConfigPath != "/ostree/repo/config" {
		t.Error("UnderRoot must not modify the receiver")
	}
	cfg.ArchProducts["mips"] = "x"
	if _, ok := base.ArchProducts["mips"]; ok {
		t.Error("UnderRoot must copy the arch table")
	}
}
