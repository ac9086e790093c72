package installer

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudydesk/provisioning/shared/status"
)

func sampleDescription(t *testing.T) Description {
	t.Helper()
	b := NewBuilder("CloudyDesk Agent - acme-001", "cloudydesk-agent-acme-001-setup.exe").
		Version("CloudyDesk Agent acme-001", "1.4.2", "CloudyDesk").
		InstallDir(ProgramFiles64, "CloudyDesk").
		Pages(
			Page{Title: "CloudyDesk Remote Access", Text: "Agent ID: acme-001"},
			Page{Title: "Installation Complete", Text: "CloudyDesk installed successfully."},
		)
	runtimeRef := b.Bundle("/build/capsulectl.exe")
	manifest := b.Bundle("/build/work/cloudydesk-agent-acme-001.json")
	b.Print("Installing CloudyDesk...").
		ExecOrAbort(runtimeRef, "Installation failed", Literal("run"), Literal("--manifest"), FilePath(manifest)).
		UninstallExec("cloudydesk.exe", "--uninstall")

	desc, err := b.Build()
	require.NoError(t, err)
	return desc
}

func TestBuilder(t *testing.T) {
	desc := sampleDescription(t)
	assert.Equal(t, "1.4.2.0", desc.ProductVersion)
	assert.Contains(t, desc.VersionKeys, VersionKey{Name: "FileVersion", Value: "1.4.2.0"})
	assert.Len(t, desc.Files, 2)
	assert.True(t, desc.RequireAdmin)
}

func TestBuilder_Errors(t *testing.T) {
	t.Run("bad version", func(t *testing.T) {
		_, err := NewBuilder("n", "o.exe").Version("p", "not-a-version", "c").Build()
		require.Error(t, err)
	})

	t.Run("missing version", func(t *testing.T) {
		_, err := NewBuilder("n", "o.exe").Build()
		require.ErrorContains(t, err, "product version is not set")
	})

	t.Run("program not bundled", func(t *testing.T) {
		b := NewBuilder("n", "o.exe").Version("p", "1.0", "c")
		b.ExecOrAbort(FileRef{Name: "ghost.exe"}, "")
		_, err := b.Build()
		require.ErrorContains(t, err, "ghost.exe")
	})

	t.Run("duplicate bundle", func(t *testing.T) {
		b := NewBuilder("n", "o.exe").Version("p", "1.0", "c")
		b.Bundle("/a/x.json")
		b.Bundle("/b/x.json")
		_, err := b.Build()
		require.ErrorContains(t, err, "duplicate")
	})
}

func TestNSIS_Render(t *testing.T) {
	script, err := NSIS{}.Render(sampleDescription(t))
	require.NoError(t, err)
	s := string(script)

	for _, want := range []string{
		`Name "CloudyDesk Agent - acme-001"`,
		`OutFile "cloudydesk-agent-acme-001-setup.exe"`,
		"RequestExecutionLevel admin",
		`InstallDir "$PROGRAMFILES64\CloudyDesk"`,
		"SetCompressor /SOLID lzma",
		`VIProductVersion "1.4.2.0"`,
		`VIAddVersionKey "CompanyName" "CloudyDesk"`,
		`File "/oname=capsulectl.exe" "/build/capsulectl.exe"`,
		`nsExec::ExecToLog '"$PLUGINSDIR\capsulectl.exe" "run" "--manifest" "$PLUGINSDIR\cloudydesk-agent-acme-001.json"'`,
		`${If} $0 != "0"`,
		`DetailPrint "Installation failed"`,
		`ExecWait '"$INSTDIR\cloudydesk.exe" "--uninstall"'`,
	} {
		assert.Contains(t, s, want)
	}
}

func TestNSIS_Escaping(t *testing.T) {
	assert.Equal(t, `"cost $$5 $\"quoted$\"$\nnext"`, quote("cost $5 \"quoted\"\nnext"))

	b := NewBuilder("Agent $HOME", "o.exe").Version("p", "1.0", "c")
	ref := b.Bundle("/tmp/run.exe")
	b.ExecOrAbort(ref, "", Literal("it's"), Literal("$x"))
	desc, err := b.Build()
	require.NoError(t, err)

	script, err := NSIS{}.Render(desc)
	require.NoError(t, err)
	assert.Contains(t, string(script), `Name "Agent $$HOME"`)
	assert.Contains(t, string(script), `"it$\'s" "$$x"`)

	b = NewBuilder("n", "o.exe").Version("p", "1.0", "c")
	ref = b.Bundle("/tmp/run.exe")
	b.ExecOrAbort(ref, "", Literal(`a"b`))
	desc, err = b.Build()
	require.NoError(t, err)
	_, err = NSIS{}.Render(desc)
	require.Error(t, err)
}

const fakeMakensis = `#!/bin/sh
if [ "$1" = "/VERSION" ]; then
  echo v3.09
  exit 0
fi
if grep -q FAIL "$1"; then
  echo "Error in script $1 on line 1"
  echo "aborting" >&2
  exit 1
fi
if grep -q SLOW "$1"; then
  exec sleep 5
fi
out=$(sed -n 's/^OutFile "\(.*\)"$/\1/p' "$1")
echo MZ > "$out"
`

func writeFakeMakensis(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake compiler is a shell script")
	}
	p := filepath.Join(t.TempDir(), "makensis")
	require.NoError(t, os.WriteFile(p, []byte(fakeMakensis), 0o755))
	return p
}

func writeScript(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "capsule.nsi")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestMakeNSIS_Compile(t *testing.T) {
	fake := writeFakeMakensis(t)
	m := NewMakeNSIS([]string{filepath.Join(t.TempDir(), "missing"), fake}, 5*time.Second, 3*time.Second)

	resolved, err := m.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fake, resolved)

	script := writeScript(t, "OutFile \"out-setup.exe\"\n")
	require.NoError(t, m.Compile(context.Background(), script))
	assert.FileExists(t, filepath.Join(filepath.Dir(script), "out-setup.exe"))
}

func TestMakeNSIS_CancelledDiscoveryIsRetried(t *testing.T) {
	fake := writeFakeMakensis(t)
	m := NewMakeNSIS([]string{fake}, 5*time.Second, 3*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Discover(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	resolved, err := m.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fake, resolved)

	script := writeScript(t, "OutFile \"after-cancel-setup.exe\"\n")
	require.NoError(t, m.Compile(context.Background(), script))
	assert.FileExists(t, filepath.Join(filepath.Dir(script), "after-cancel-setup.exe"))
}

func TestMakeNSIS_MissingCompilerIsRemembered(t *testing.T) {
	dir := t.TempDir()
	m := NewMakeNSIS([]string{filepath.Join(dir, "makensis")}, time.Second, time.Second)

	_, err := m.Discover(context.Background())
	require.Error(t, err)

	// a compiler appearing later is not picked up by the same instance
	if runtime.GOOS != "windows" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "makensis"), []byte(fakeMakensis), 0o755))
	}
	_, err = m.Discover(context.Background())
	require.Error(t, err)
	assert.True(t, status.Is(err, status.CompilationFailed))
}

func TestMakeNSIS_Failures(t *testing.T) {
	fake := writeFakeMakensis(t)

	t.Run("compiler reports failure", func(t *testing.T) {
		m := NewMakeNSIS([]string{fake}, 5*time.Second, 3*time.Second)
		err := m.Compile(context.Background(), writeScript(t, "FAIL\n"))
		require.Error(t, err)
		assert.True(t, status.Is(err, status.CompilationFailed))

		s, ok := status.FromError(err)
		require.True(t, ok)
		assert.Contains(t, s.Diagnostics, "Error in script")
		assert.Contains(t, s.Diagnostics, "aborting")
	})

	t.Run("timeout", func(t *testing.T) {
		m := NewMakeNSIS([]string{fake}, 5*time.Second, 200*time.Millisecond)
		err := m.Compile(context.Background(), writeScript(t, "SLOW\n"))
		require.Error(t, err)
		assert.True(t, status.Is(err, status.CompilationFailed))
		assert.True(t, strings.Contains(err.Error(), "timed out"))
	})

	t.Run("compiler missing", func(t *testing.T) {
		m := NewMakeNSIS([]string{filepath.Join(t.TempDir(), "nope")}, time.Second, time.Second)
		err := m.Compile(context.Background(), writeScript(t, "OutFile \"x.exe\"\n"))
		require.Error(t, err)
		assert.True(t, status.Is(err, status.CompilationFailed))
	})
}
