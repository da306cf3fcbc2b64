// Package ostree drives the OSTree command line: deployment status, trusted
// keys, pulls and staging of new deployments.
package ostree

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/flo-mic/eos-upgrade/internal/config"
	"github.com/flo-mic/eos-upgrade/internal/repoconfig"
	"github.com/flo-mic/eos-upgrade/internal/system"
)

const ostreeBin = "ostree"

// Engine wraps the ostree CLI for one repository.
type Engine struct {
	runner     system.Runner
	repo       string
	repoConfig string
	sysroot    string
	httpClient *http.Client
	log        io.Writer
}

// NewEngine returns an Engine for the primary repository named by cfg.
func NewEngine(cfg *config.Config, runner system.Runner, httpClient *http.Client, log io.Writer) *Engine {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Engine{
		runner:     runner,
		repo:       cfg.RepoPath,
		repoConfig: cfg.RepoConfigPath,
		sysroot:    cfg.Sysroot,
		httpClient: httpClient,
		log:        log,
	}
}

// Deployment identifies one deployment known to `ostree admin status`.
type Deployment struct {
	OSName   string
	Checksum string
	Serial   int
}

// OriginPath is where the deployment's origin record lives under sysroot.
func (d Deployment) OriginPath(sysroot string) string {
	return filepath.Join(sysroot, "ostree", "deploy", d.OSName, "deploy",
		fmt.Sprintf("%s.%d.origin", d.Checksum, d.Serial))
}

// BootedDeployment returns the deployment marked with '*' in the status
// output.
func (e *Engine) BootedDeployment(ctx context.Context) (Deployment, error) {
	out, err := e.runner.Output(ctx, ostreeBin, "admin", "status")
	if err != nil {
		return Deployment{}, err
	}
	return ParseStatus(out)
}

// ParseStatus finds the booted deployment in `ostree admin status` output,
// whose lines look like "* eos 3f2c...e1.0".
func ParseStatus(out []byte) (Deployment, error) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "* ") {
			continue
		}
		fields := strings.Fields(strings.TrimPrefix(line, "* "))
		if len(fields) < 2 {
			return Deployment{}, fmt.Errorf("malformed status line %q", line)
		}
		dot := strings.LastIndexByte(fields[1], '.')
		if dot <= 0 {
			return Deployment{}, fmt.Errorf("malformed deployment %q", fields[1])
		}
		serial, err := strconv.Atoi(fields[1][dot+1:])
		if err != nil {
			return Deployment{}, fmt.Errorf("malformed deployment serial %q", fields[1])
		}
		return Deployment{OSName: fields[0], Checksum: fields[1][:dot], Serial: serial}, nil
	}
	if err := sc.Err(); err != nil {
		return Deployment{}, err
	}
	return Deployment{}, fmt.Errorf("no booted deployment in ostree status")
}

// InitRepo creates a repository at path in the given storage mode.
func (e *Engine) InitRepo(ctx context.Context, path, mode string) error {
	return e.runner.Run(ctx, ostreeBin, "init", "--mode="+mode, "--repo="+path)
}

// RefreshKeys downloads each keyring and imports it for every listed remote
// that the repository currently configures. Download and import failures
// are returned as-is.
func (e *Engine) RefreshKeys(ctx context.Context, keys []config.TrustedKey) error {
	desc, err := repoconfig.Load(e.repoConfig)
	if err != nil {
		return fmt.Errorf("reading repository config: %w", err)
	}

	for _, k := range keys {
		fmt.Fprintf(e.log, "[eos-upgrade] Fetching keyring %s\n", k.URL)
		path, err := e.download(ctx, k.URL)
		if err != nil {
			return err
		}
		err = e.importKey(ctx, desc, path, k.Remotes)
		os.Remove(path)
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) importKey(ctx context.Context, desc *repoconfig.Descriptor, keyring string, remotes []string) error {
	for _, remote := range remotes {
		if !desc.Has(repoconfig.RemoteSection(remote)) {
			fmt.Fprintf(e.log, "[eos-upgrade] Remote %s not configured, skipping key import\n", remote)
			continue
		}
		if err := e.runner.Run(ctx, ostreeBin, "remote", "gpg-import", "--repo="+e.repo, "--keyring="+keyring, remote); err != nil {
			return fmt.Errorf("importing key for %s: %w", remote, err)
		}
	}
	return nil
}

// download stores the body of url in a temp file and returns its path.
func (e *Engine) download(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("GET %s: HTTP %d: %s", url, resp.StatusCode, body)
	}

	f, err := os.CreateTemp("", "eos-keyring-*.gpg")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("GET %s: %w", url, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// Pull fetches branch from remote into the primary repository. Static
// deltas are disabled so objects missing from a damaged store are fetched
// individually.
func (e *Engine) Pull(ctx context.Context, remote, branch string) error {
	fmt.Fprintf(e.log, "[eos-upgrade] Pulling %s:%s\n", remote, branch)
	return e.runner.Run(ctx, ostreeBin, "pull", "--repo="+e.repo, "--disable-static-deltas", remote, branch)
}

// Deploy stages the pulled commit as the next boot deployment. The new
// major version may carry an older timestamp than the last legacy release,
// so downgrades are allowed.
func (e *Engine) Deploy(ctx context.Context) error {
	fmt.Fprintf(e.log, "[eos-upgrade] Deploying new OS image\n")
	return e.runner.Run(ctx, ostreeBin, "admin", "upgrade", "--allow-downgrade")
}

// Upgrade refreshes keys, pulls and deploys in that order, failing fast.
func (e *Engine) Upgrade(ctx context.Context, keys []config.TrustedKey, remote, branch string) error {
	if err := e.RefreshKeys(ctx, keys); err != nil {
		return fmt.Errorf("refreshing keys: %w", err)
	}
	if err := e.Pull(ctx, remote, branch); err != nil {
		return fmt.Errorf("pulling %s: %w", branch, err)
	}
	if err := e.Deploy(ctx); err != nil {
		return fmt.Errorf("deploying: %w", err)
	}
	return nil
}
