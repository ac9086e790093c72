package capsule

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/xid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/cloudydesk/provisioning/config"
	"github.com/cloudydesk/provisioning/grant"
	"github.com/cloudydesk/provisioning/shared/status"
	"github.com/cloudydesk/provisioning/storage"
)

var (
	outFileRe = regexp.MustCompile(`(?m)^OutFile "(.*)"$`)
	fileRe    = regexp.MustCompile(`(?m)^\s*File "/oname=(.*)" "(.*)"$`)
)

// fakeCompiler stands in for makensis: it snapshots the bundled files and
// writes the output executable named by the script.
type fakeCompiler struct {
	mu      sync.Mutex
	bundled map[string]map[string][]byte
	fail    error
}

func (f *fakeCompiler) Compile(_ context.Context, script string) error {
	if f.fail != nil {
		return f.fail
	}
	data, err := os.ReadFile(script)
	if err != nil {
		return err
	}

	files := make(map[string][]byte)
	for _, m := range fileRe.FindAllStringSubmatch(string(data), -1) {
		content, err := os.ReadFile(m[2])
		if err != nil {
			return err
		}
		files[m[1]] = content
	}

	out := outFileRe.FindStringSubmatch(string(data))
	if out == nil {
		return status.NewCompilationFailedError(os.ErrInvalid, "no OutFile")
	}

	f.mu.Lock()
	if f.bundled == nil {
		f.bundled = make(map[string]map[string][]byte)
	}
	f.bundled[filepath.Base(out[1])] = files
	f.mu.Unlock()

	return os.WriteFile(out[1], []byte("MZ capsule"), 0o644)
}

func (f *fakeCompiler) filesOf(output string) map[string][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bundled[output]
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Builder.OutputDir = t.TempDir()

	rt := filepath.Join(t.TempDir(), "capsulectl.exe")
	require.NoError(t, os.WriteFile(rt, []byte("runtime"), 0o755))
	cfg.Builder.RuntimeBinary = rt
	return cfg
}

func remoteStrategy(t *testing.T, cfg *config.Config, expectGrants int) RemoteStrategy {
	t.Helper()
	ctrl := gomock.NewController(t)
	gw := storage.NewMockGateway(ctrl)

	gw.EXPECT().
		IssueSignedGrant(gomock.Any(), cfg.Storage.Bucket, cfg.Storage.ArtifactKey, 24*time.Hour).
		DoAndReturn(func(_ context.Context, c, k string, ttl time.Duration) (storage.Grant, error) {
			issued := time.Now()
			return storage.Grant{
				Container: c,
				Key:       k,
				URL:       "https://objects.example.invalid/" + c + "/" + k + "?sig=" + xid.New().String(),
				IssuedAt:  issued,
				ExpiresAt: issued.Add(ttl),
			}, nil
		}).
		Times(expectGrants)

	return RemoteStrategy{
		Grants:      grant.NewIssuer(gw, cfg),
		ArtifactKey: cfg.Storage.ArtifactKey,
	}
}

func readManifest(t *testing.T, files map[string][]byte, agentID string) (Manifest, string) {
	t.Helper()
	raw, ok := files[NamesFor(agentID).Manifest]
	require.True(t, ok, "manifest not bundled")

	path := filepath.Join(t.TempDir(), "manifest.json")
	require.NoError(t, os.WriteFile(path, raw, 0o600))
	m, err := LoadManifest(path)
	require.NoError(t, err)
	return m, string(raw)
}

func TestGenerate_Remote(t *testing.T) {
	cfg := testConfig(t)
	compiler := &fakeCompiler{}
	gen := NewGenerator(cfg, remoteStrategy(t, cfg, 1), compiler)

	spec := ClientSpec{AgentID: "acme-001", LicenseKey: "AAAA-BBBB-CCCC-DDDD", WithShortcuts: true}
	c, err := gen.Generate(context.Background(), spec)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(cfg.Builder.OutputDir, "cloudydesk-agent-acme-001-setup.exe"), c.OutputPath)
	assert.Equal(t, AcquireRemote, c.Acquisition.Mode)
	assert.NotEmpty(t, c.RunID)

	// only the executable is left behind
	entries, err := os.ReadDir(cfg.Builder.OutputDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "cloudydesk-agent-acme-001-setup.exe", entries[0].Name())

	files := compiler.filesOf("cloudydesk-agent-acme-001-setup.exe")
	assert.Contains(t, files, "capsulectl.exe")
	m, _ := readManifest(t, files, spec.AgentID)
	assert.Equal(t, spec, m.Client)
	assert.Equal(t, "autostart desktopicon startmenu", m.InstallOptions)
	assert.Contains(t, m.Acquisition.URL, "cloudydesk-latest.zip")
	assert.Equal(t, "cloudydesk.exe", m.Product.Executable)
	assert.Equal(t, 2*time.Second, m.GracePeriod)
}

func TestGenerate_CompletionSignalReachesManifest(t *testing.T) {
	cfg := testConfig(t)
	cfg.Builder.ResultFile = `C:\ProgramData\CloudyDesk\install-result.json`
	cfg.Builder.InstallTimeout = config.Duration(90 * time.Second)
	compiler := &fakeCompiler{}
	gen := NewGenerator(cfg, remoteStrategy(t, cfg, 1), compiler)

	spec := ClientSpec{AgentID: "acme-002", LicenseKey: "AAAA-BBBB-CCCC-DDDD"}
	c, err := gen.Generate(context.Background(), spec)
	require.NoError(t, err)

	m, raw := readManifest(t, compiler.filesOf(filepath.Base(c.OutputPath)), spec.AgentID)
	assert.Equal(t, cfg.Builder.ResultFile, m.ResultFile)
	assert.Equal(t, 90*time.Second, m.InstallTimeout)
	assert.Contains(t, raw, "install-result.json")
	require.NoError(t, m.Validate())
}

func TestGenerate_Isolation(t *testing.T) {
	cfg := testConfig(t)
	compiler := &fakeCompiler{}
	gen := NewGenerator(cfg, remoteStrategy(t, cfg, 2), compiler)

	a := ClientSpec{AgentID: "alpha-corp", LicenseKey: "AAAA-1111-AAAA-1111"}
	b := ClientSpec{AgentID: "bravo-corp", LicenseKey: "BBBB-2222-BBBB-2222"}

	ca, err := gen.Generate(context.Background(), a)
	require.NoError(t, err)
	cb, err := gen.Generate(context.Background(), b)
	require.NoError(t, err)
	assert.NotEqual(t, ca.OutputPath, cb.OutputPath)
	assert.NotEqual(t, ca.Acquisition.URL, cb.Acquisition.URL, "each capsule gets a fresh grant")

	ma, rawA := readManifest(t, compiler.filesOf(filepath.Base(ca.OutputPath)), a.AgentID)
	mb, rawB := readManifest(t, compiler.filesOf(filepath.Base(cb.OutputPath)), b.AgentID)

	assert.Equal(t, a, ma.Client)
	assert.Equal(t, b, mb.Client)
	assert.NotContains(t, rawA, b.AgentID)
	assert.NotContains(t, rawA, b.LicenseKey)
	assert.NotContains(t, rawB, a.AgentID)
	assert.NotContains(t, rawB, a.LicenseKey)
}

func TestGenerate_InvalidSpecNeverContactsStorage(t *testing.T) {
	cfg := testConfig(t)
	compiler := &fakeCompiler{}
	gen := NewGenerator(cfg, remoteStrategy(t, cfg, 0), compiler)

	for _, spec := range []ClientSpec{
		{AgentID: "", LicenseKey: "AAAA-BBBB-CCCC-DDDD"},
		{AgentID: "acme-001", LicenseKey: "short"},
	} {
		_, err := gen.Generate(context.Background(), spec)
		require.Error(t, err)
		assert.True(t, status.Is(err, status.InvalidSpec))
	}

	entries, err := os.ReadDir(cfg.Builder.OutputDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestGenerate_CompilationFailedKeepsIntermediates(t *testing.T) {
	cfg := testConfig(t)
	compiler := &fakeCompiler{fail: status.NewCompilationFailedError(os.ErrInvalid, "Error: bad section")}
	gen := NewGenerator(cfg, remoteStrategy(t, cfg, 1), compiler)

	_, err := gen.Generate(context.Background(), ClientSpec{AgentID: "acme-001", LicenseKey: "AAAA-BBBB-CCCC-DDDD"})
	require.Error(t, err)
	assert.True(t, status.Is(err, status.CompilationFailed))
	s, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, "Error: bad section", s.Diagnostics)

	entries, err := os.ReadDir(cfg.Builder.OutputDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	work := filepath.Join(cfg.Builder.OutputDir, entries[0].Name())
	assert.True(t, strings.HasPrefix(entries[0].Name(), ".cloudydesk-agent-acme-001-"))
	assert.FileExists(t, filepath.Join(work, "cloudydesk-agent-acme-001.nsi"))
	assert.FileExists(t, filepath.Join(work, "cloudydesk-agent-acme-001.json"))
}

func TestGenerate_GrantFailure(t *testing.T) {
	cfg := testConfig(t)
	ctrl := gomock.NewController(t)
	gw := storage.NewMockGateway(ctrl)
	gw.EXPECT().IssueSignedGrant(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(storage.Grant{}, status.Wrap(status.GrantIssuanceError, "", storage.ErrObjectNotFound))

	gen := NewGenerator(cfg, RemoteStrategy{Grants: grant.NewIssuer(gw, cfg), ArtifactKey: "cloudydesk-latest.zip"}, &fakeCompiler{})
	_, err := gen.Generate(context.Background(), ClientSpec{AgentID: "acme-001", LicenseKey: "AAAA-BBBB-CCCC-DDDD"})
	require.Error(t, err)
	assert.True(t, status.Is(err, status.GrantIssuanceError))
}

func TestGenerate_MissingRuntimeBinary(t *testing.T) {
	cfg := testConfig(t)
	cfg.Builder.RuntimeBinary = filepath.Join(t.TempDir(), "missing.exe")
	gen := NewGenerator(cfg, remoteStrategy(t, cfg, 0), &fakeCompiler{})

	_, err := gen.Generate(context.Background(), ClientSpec{AgentID: "acme-001", LicenseKey: "AAAA-BBBB-CCCC-DDDD"})
	require.Error(t, err)
	assert.True(t, status.Is(err, status.CompilationFailed))
}

func TestGenerate_Embedded(t *testing.T) {
	cfg := testConfig(t)
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "cloudydesk.exe"), []byte("MZ product"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(src, "data"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "data", "model.bin"), []byte("weights"), 0o644))

	compiler := &fakeCompiler{}
	gen := NewGenerator(cfg, EmbeddedStrategy{SourceDir: src}, compiler)

	c, err := gen.Generate(context.Background(), ClientSpec{AgentID: "acme-001", LicenseKey: "AAAA-BBBB-CCCC-DDDD"})
	require.NoError(t, err)
	assert.Equal(t, AcquireEmbedded, c.Acquisition.Mode)

	files := compiler.filesOf(filepath.Base(c.OutputPath))
	assert.Contains(t, files, "cloudydesk-agent-acme-001-payload.zip")
	m, _ := readManifest(t, files, "acme-001")
	assert.Equal(t, "cloudydesk-agent-acme-001-payload.zip", m.Acquisition.Payload)
	assert.Empty(t, m.Acquisition.URL)

	entries, err := os.ReadDir(cfg.Builder.OutputDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestGenerate_EmbeddedMissingSource(t *testing.T) {
	cfg := testConfig(t)
	gen := NewGenerator(cfg, EmbeddedStrategy{SourceDir: filepath.Join(t.TempDir(), "dist")}, &fakeCompiler{})

	_, err := gen.Generate(context.Background(), ClientSpec{AgentID: "acme-001", LicenseKey: "AAAA-BBBB-CCCC-DDDD"})
	require.Error(t, err)
	assert.True(t, status.Is(err, status.SourceNotFound))
}

func TestGenerateBatch(t *testing.T) {
	cfg := testConfig(t)
	compiler := &fakeCompiler{}
	gen := NewGenerator(cfg, remoteStrategy(t, cfg, 3), compiler)

	specs := []ClientSpec{
		{AgentID: "client-001", LicenseKey: "KEY1-KEY1-KEY1"},
		{AgentID: "client-002", LicenseKey: "KEY2-KEY2-KEY2"},
		{AgentID: "client-003", LicenseKey: "KEY3-KEY3-KEY3"},
	}
	capsules, err := gen.GenerateBatch(context.Background(), specs, 2)
	require.NoError(t, err)
	require.Len(t, capsules, 3)

	for i, c := range capsules {
		assert.Equal(t, specs[i], c.Spec)
		assert.FileExists(t, c.OutputPath)
		m, raw := readManifest(t, compiler.filesOf(filepath.Base(c.OutputPath)), specs[i].AgentID)
		assert.Equal(t, specs[i], m.Client)
		for j, other := range specs {
			if j != i {
				assert.NotContains(t, raw, other.LicenseKey)
			}
		}
	}
}

func TestGenerateBatch_RejectsCollidingNames(t *testing.T) {
	cfg := testConfig(t)
	gen := NewGenerator(cfg, remoteStrategy(t, cfg, 0), &fakeCompiler{})

	_, err := gen.GenerateBatch(context.Background(), []ClientSpec{
		{AgentID: "Acme Corp", LicenseKey: "AAAA-BBBB-CCCC"},
		{AgentID: "acme_corp", LicenseKey: "DDDD-EEEE-FFFF"},
	}, 0)
	require.Error(t, err)
	assert.True(t, status.Is(err, status.InvalidSpec))
}
