package migrate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flo-mic/eos-upgrade/internal/config"
	"github.com/flo-mic/eos-upgrade/internal/identity"
	"github.com/flo-mic/eos-upgrade/internal/ostree"
	"github.com/flo-mic/eos-upgrade/internal/reconfigure"
	"github.com/flo-mic/eos-upgrade/internal/repoconfig"
	"github.com/flo-mic/eos-upgrade/internal/system/systemtest"
)

const legacyRepoConfig = `[core]
repo_version=1
mode=bare

[remote "eos"]
url=https://ostree.endlessm.com/ostree/eos-amd64
branches=os/eos/amd64/ec-2;
gpg-verify=false
`

type scriptedPrompter struct {
	answers []bool
	asked   int
}

func (p *scriptedPrompter) Confirm(title, description string) (bool, error) {
	if p.asked >= len(p.answers) {
		return false, errors.New("unexpected prompt: " + title)
	}
	a := p.answers[p.asked]
	p.asked++
	return a, nil
}

type env struct {
	cfg      *config.Config
	runner   *systemtest.FakeRunner
	mounter  *systemtest.FakeMounter
	prompter *scriptedPrompter
	out      *strings.Builder
	origin   string
	keyHits  *atomic.Int32
	m        *Migrator
}

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func newEnv(t *testing.T, version, arch string) *env {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("keyring"))
	}))
	t.Cleanup(srv.Close)

	cfg := config.Default().UnderRoot(t.TempDir())
	cfg.Keys = []config.TrustedKey{
		{URL: srv.URL + "/eos-ostree-keyring.gpg", Remotes: []string{"eos"}},
		{URL: srv.URL + "/eos-flatpak-keyring.gpg", Remotes: []string{"eos-runtimes", "eos-apps"}},
	}

	write(t, cfg.VersionFile, "NAME=\"Endless\"\nVERSION=\""+version+"\"\n")
	write(t, cfg.RepoConfigPath, legacyRepoConfig)
	dep := ostree.Deployment{OSName: "eos", Checksum: "3f2c5a77", Serial: 0}
	origin := dep.OriginPath(cfg.Sysroot)
	write(t, origin, "[origin]\nrefspec=eos:os/eos/amd64/ec-2\n")

	runner := systemtest.NewFakeRunner()
	runner.Outputs["ostree admin status"] = "* eos 3f2c5a77.0\n    origin refspec: eos:os/eos/amd64/ec-2\n"
	runner.Outputs["eam list"] = "com.endlessm.encyclopedia\ncom.endlessm.photos\n"
	runner.Outputs["lpstat -v"] = "device for Office: ipp://printer/ipp\n"

	e := &env{
		cfg:      cfg,
		runner:   runner,
		mounter:  &systemtest.FakeMounter{},
		prompter: &scriptedPrompter{},
		out:      &strings.Builder{},
		origin:   origin,
		keyHits:  &hits,
	}
	e.m = New(cfg, Deps{
		Runner:   runner,
		Mounter:  e.mounter,
		Engine:   ostree.NewEngine(cfg, runner, srv.Client(), e.out),
		Prompter: e.prompter,
		Arch:     func() (string, error) { return arch, nil },
		Out:      e.out,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return e
}

func (e *env) repoConfig(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(e.cfg.RepoConfigPath)
	require.NoError(t, err)
	return string(data)
}

func TestRun_ForceSkipEndToEnd(t *testing.T) {
	e := newEnv(t, "2.6.10", "x86_64")
	write(t, filepath.Join(e.cfg.LegacyDataDirs[0], "apps", "x"), "x")

	err := e.m.Run(context.Background(), Options{Force: true, Skip: true})
	require.NoError(t, err)

	assert.Zero(t, e.prompter.asked, "force skips prompts")
	assert.True(t, e.runner.Ran("systemctl stop eos-autoupdater.timer eos-autoupdater.service eos-updater.service"))
	assert.True(t, e.runner.Ran("eam uninstall com.endlessm.encyclopedia"))
	assert.True(t, e.runner.Ran("eam uninstall com.endlessm.photos"))
	assert.True(t, e.runner.Ran("lpadmin -x Office"))
	_, err = os.Stat(e.cfg.LegacyDataDirs[0])
	assert.True(t, os.IsNotExist(err))

	cfgText := e.repoConfig(t)
	assert.Contains(t, cfgText, "url=https://ostree.endlessm.com/ostree/eos-amd64\n")
	assert.Contains(t, cfgText, "branches=os/eos/amd64/eos3;\n")

	o, err := repoconfig.ReadOrigin(e.origin)
	require.NoError(t, err)
	assert.Equal(t, "eos:os/eos/amd64/eos3", o.Refspec())

	assert.False(t, e.runner.RanPrefix("ostree pull"))
	assert.False(t, e.runner.RanPrefix("ostree admin upgrade"))
	assert.False(t, e.runner.RanPrefix("ostree remote gpg-import"))
	assert.Zero(t, e.keyHits.Load(), "no network access with skip")
	assert.Contains(t, e.out.String(), "Skipping download")
}

func TestRun_UpdaterStoppedBeforeDescriptorRewrite(t *testing.T) {
	e := newEnv(t, "2.6.10", "x86_64")
	var rewrittenBeforeStop bool
	e.runner.Hook = func(c systemtest.Call) error {
		if c.Name == "systemctl" && len(c.Args) > 0 && c.Args[0] == "stop" {
			rewrittenBeforeStop = strings.Contains(e.repoConfig(t), "eos3")
		}
		return nil
	}
	require.NoError(t, e.m.Run(context.Background(), Options{Force: true, Skip: true}))
	assert.False(t, rewrittenBeforeStop)
}

func TestRun_FullUpgrade(t *testing.T) {
	e := newEnv(t, "2.6.10", "armv7l")
	e.prompter.answers = []bool{true, true}

	require.NoError(t, e.m.Run(context.Background(), Options{}))

	assert.Equal(t, 2, e.prompter.asked)
	assert.Equal(t, int32(2), e.keyHits.Load())
	assert.True(t, e.runner.Ran("ostree pull --repo="+e.cfg.RepoPath+" --disable-static-deltas eos os/eos/ec100/eos3"))
	assert.True(t, e.runner.Ran("ostree admin upgrade --allow-downgrade"))

	cmds := e.runner.Commands()
	var pull, deploy int
	for i, c := range cmds {
		if strings.HasPrefix(c, "ostree pull") {
			pull = i
		}
		if strings.HasPrefix(c, "ostree admin upgrade") {
			deploy = i
		}
	}
	assert.Less(t, pull, deploy)
	assert.Contains(t, e.out.String(), "Reboot")
}

func TestRun_OlderLegacyVersionRefreshesKeysAndFails(t *testing.T) {
	e := newEnv(t, "2.6.9", "x86_64")

	err := e.m.Run(context.Background(), Options{Force: true})
	require.ErrorIs(t, err, identity.ErrMustUpdate)

	assert.Equal(t, int32(2), e.keyHits.Load(), "both keyrings fetched")
	assert.True(t, e.runner.RanPrefix("ostree remote gpg-import"))
	assert.True(t, e.runner.Ran("systemctl restart eos-updater.service"))
	assert.Equal(t, legacyRepoConfig, e.repoConfig(t), "no file mutation")
	assert.False(t, e.runner.RanPrefix("eam"))
	o, err := repoconfig.ReadOrigin(e.origin)
	require.NoError(t, err)
	assert.Equal(t, "os/eos/amd64/ec-2", o.Branch)
}

func TestRun_GateRejectionsDoNotMutate(t *testing.T) {
	cases := map[string]error{
		"3.0.2":  identity.ErrAlreadyUpgraded,
		"1.2.0":  identity.ErrUnsupportedVersion,
		"2.6.11": identity.ErrMustUpdate,
	}
	for version, want := range cases {
		t.Run(version, func(t *testing.T) {
			e := newEnv(t, version, "x86_64")
			err := e.m.Run(context.Background(), Options{Force: true})
			require.ErrorIs(t, err, want)
			assert.Equal(t, legacyRepoConfig, e.repoConfig(t))
			assert.False(t, e.runner.RanPrefix("systemctl stop"))
		})
	}
}

func TestRun_UnsupportedArchBeforeAnyMutation(t *testing.T) {
	e := newEnv(t, "2.6.10", "riscv64")

	err := e.m.Run(context.Background(), Options{Force: true})
	require.ErrorIs(t, err, reconfigure.ErrUnsupportedArch)
	assert.Empty(t, e.runner.Calls)
	assert.Equal(t, legacyRepoConfig, e.repoConfig(t))
}

func TestRun_DeclineEitherPrompt(t *testing.T) {
	for _, answers := range [][]bool{{false}, {true, false}} {
		e := newEnv(t, "2.6.10", "x86_64")
		e.prompter.answers = answers

		err := e.m.Run(context.Background(), Options{})
		require.ErrorIs(t, err, ErrDeclined)
		assert.Equal(t, len(answers), e.prompter.asked)
		assert.Empty(t, e.runner.Calls)
		assert.Equal(t, legacyRepoConfig, e.repoConfig(t))
	}
}

func TestRun_MidRunFailureAborts(t *testing.T) {
	e := newEnv(t, "2.6.10", "x86_64")
	e.runner.Errors["systemctl restart cups"] = errors.New("unit not found")

	err := e.m.Run(context.Background(), Options{Force: true, Skip: true})
	require.Error(t, err)
	assert.Equal(t, legacyRepoConfig, e.repoConfig(t), "reconfiguration never reached")
}
