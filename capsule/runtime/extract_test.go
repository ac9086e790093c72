package runtime

import (
	"archive/zip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudydesk/provisioning/shared/status"
)

func writeZip(t *testing.T, entries map[string]string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "archive.zip")
	f, err := os.Create(p)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, content := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return p
}

func TestExtract(t *testing.T) {
	archive := writeZip(t, map[string]string{
		"cloudydesk.exe":  "MZ",
		"data/":           "",
		"data/model.bin":  "weights",
		"lib/x/codec.dll": "codec",
	})
	dst := filepath.Join(t.TempDir(), "app")

	n, err := Extract(archive, dst)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	data, err := os.ReadFile(filepath.Join(dst, "lib", "x", "codec.dll"))
	require.NoError(t, err)
	assert.Equal(t, "codec", string(data))
	assert.DirExists(t, filepath.Join(dst, "data"))
}

func TestExtract_RejectsEscapingEntries(t *testing.T) {
	for _, name := range []string{"../evil.exe", "a/../../evil.exe", "/abs/evil.exe", `..\evil.exe`} {
		t.Run(name, func(t *testing.T) {
			parent := t.TempDir()
			archive := writeZip(t, map[string]string{name: "x"})

			_, err := Extract(archive, filepath.Join(parent, "app"))
			require.Error(t, err)
			assert.True(t, status.Is(err, status.ExtractionFailed))
			assert.NoFileExists(t, filepath.Join(parent, "evil.exe"))
		})
	}
}

func TestDownloadToFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.UserAgent(), "CloudyDesk capsule/")
		if r.URL.Query().Get("sig") != "ok" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte("zip bytes"))
	}))
	defer srv.Close()

	dst := filepath.Join(t.TempDir(), "payload.zip")
	require.NoError(t, DownloadToFile(context.Background(), srv.Client(), srv.URL+"/a.zip?sig=ok", dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "zip bytes", string(data))

	err = DownloadToFile(context.Background(), srv.Client(), srv.URL+"/a.zip?sig=bad", dst)
	require.Error(t, err)
	assert.True(t, status.Is(err, status.DownloadFailed))
	assert.Contains(t, err.Error(), "403")
}
