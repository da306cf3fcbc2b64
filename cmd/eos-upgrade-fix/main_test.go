package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/flo-mic/eos-upgrade/internal/config"
)

func stubRoot(t *testing.T, root bool) {
	t.Helper()
	orig := isRoot
	isRoot = func() bool { return root }
	t.Cleanup(func() { isRoot = orig })
}

func writeFixture(t *testing.T, version, descriptor string) (cfgPath, repoConfig string) {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default().UnderRoot(root)

	for path, body := range map[string]string{
		cfg.VersionFile:    fmt.Sprintf("NAME=\"Endless\"\nVERSION=\"%s\"\n", version),
		cfg.RepoConfigPath: descriptor,
	} {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	cfgPath = filepath.Join(root, "config.yaml")
	yaml := fmt.Sprintf("version_file: %s\nrepo_config_path: %s\nsecondary:\n  repo_path: %s\nlog_file: %s\n",
		cfg.VersionFile, cfg.RepoConfigPath, cfg.Secondary.RepoPath, cfg.LogFile)
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	return cfgPath, cfg.RepoConfigPath
}

const staleDescriptor = `[core]
repo_version=1
mode=bare

[remote "eos-external-apps"]
url=https://example.invalid/external
`

func TestRunMain_RemovesSection(t *testing.T) {
	stubRoot(t, true)
	cfgPath, repoConfig := writeFixture(t, "3.0.0", staleDescriptor)
	var stdout bytes.Buffer
	exited := false

	runMain([]string{"eos-upgrade-fix", "--config", cfgPath}, &stdout, io.Discard, func(int) { exited = true })

	if exited {
		t.Fatal("unexpected non-zero exit")
	}
	data, err := os.ReadFile(repoConfig)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "eos-external-apps") {
		t.Errorf("section still present:\n%s", data)
	}
	if !strings.Contains(stdout.String(), "Removed") {
		t.Errorf("stdout = %q", stdout.String())
	}
}

func TestRunMain_RejectsLegacySystem(t *testing.T) {
	stubRoot(t, true)
	cfgPath, repoConfig := writeFixture(t, "2.6.10", staleDescriptor)
	code := 0

	runMain([]string{"eos-upgrade-fix", "--config", cfgPath}, io.Discard, io.Discard, func(c int) { code = c })

	if code != 1 {
		t.Fatalf("exit = %d, want 1", code)
	}
	data, _ := os.ReadFile(repoConfig)
	if string(data) != staleDescriptor {
		t.Errorf("descriptor modified on a legacy system")
	}
}

func TestRunMain_RequiresRoot(t *testing.T) {
	stubRoot(t, false)
	var stderr bytes.Buffer
	code := 0

	runMain([]string{"eos-upgrade-fix"}, io.Discard, &stderr, func(c int) { code = c })

	if code != 1 {
		t.Fatalf("exit = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "root") {
		t.Errorf("stderr = %q", stderr.String())
	}
}
