package publisher

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/cloudydesk/provisioning/config"
	"github.com/cloudydesk/provisioning/shared/status"
	"github.com/cloudydesk/provisioning/storage"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

func unzip(t *testing.T, body []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	require.NoError(t, err)

	out := make(map[string]string)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		out[f.Name] = string(data)
	}
	return out
}

var sampleTree = map[string]string{
	"cloudydesk.exe":           "MZ fake binary",
	"data/models/a.bin":        "aaaa",
	"data/models/b.bin":        "bbbb",
	"data/readme.txt":          "hello",
	"lib/plugins/codec.dll":    "codec",
	"lib/plugins/network.dll":  "net",
	"zz_last/nested/deep.conf": "x=1",
}

func TestArchive_SortedAndComplete(t *testing.T) {
	src := writeTree(t, sampleTree)

	var buf bytes.Buffer
	stats, err := Archive(context.Background(), src, &buf)
	require.NoError(t, err)
	assert.Equal(t, len(sampleTree), stats.Files)

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)

	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
		assert.True(t, f.Modified.Equal(entryTime), "entry %s has a non fixed timestamp", f.Name)
	}
	assert.IsIncreasing(t, names)
	assert.Equal(t, sampleTree, unzip(t, buf.Bytes()))
}

func TestArchive_Reproducible(t *testing.T) {
	src := writeTree(t, sampleTree)

	var first, second bytes.Buffer
	_, err := Archive(context.Background(), src, &first)
	require.NoError(t, err)

	// touching the files must not change the archive
	later := time.Now().Add(time.Hour)
	for rel := range sampleTree {
		require.NoError(t, os.Chtimes(filepath.Join(src, filepath.FromSlash(rel)), later, later))
	}

	_, err = Archive(context.Background(), src, &second)
	require.NoError(t, err)
	assert.Equal(t, first.Bytes(), second.Bytes())
}

func TestArchive_SourceErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T) string
	}{
		{
			name: "missing directory",
			setup: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "does-not-exist")
			},
		},
		{
			name: "empty directory",
			setup: func(t *testing.T) string {
				return t.TempDir()
			},
		},
		{
			name: "only empty subdirectories",
			setup: func(t *testing.T) string {
				root := t.TempDir()
				require.NoError(t, os.MkdirAll(filepath.Join(root, "a", "b"), 0o755))
				return root
			},
		},
		{
			name: "regular file instead of directory",
			setup: func(t *testing.T) string {
				p := filepath.Join(t.TempDir(), "file.txt")
				require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
				return p
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Archive(context.Background(), tt.setup(t), io.Discard)
			require.Error(t, err)
			assert.True(t, status.Is(err, status.SourceNotFound), "unexpected error: %v", err)
		})
	}
}

func TestArchive_Cancelled(t *testing.T) {
	src := writeTree(t, sampleTree)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Archive(ctx, src, io.Discard)
	require.Error(t, err)
	assert.True(t, status.Is(err, status.CompressionError))
	assert.ErrorIs(t, err, context.Canceled)
}

func newTestPublisher(gw storage.Gateway) *Publisher {
	cfg := config.DefaultConfig()
	p := New(gw, cfg)
	p.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return p
}

func TestPublish_Idempotent(t *testing.T) {
	ctrl := gomock.NewController(t)
	gw := storage.NewMockGateway(ctrl)
	src := writeTree(t, sampleTree)

	var uploads [][]byte
	var metas []map[string]string
	gw.EXPECT().EnsureContainer(gomock.Any(), "cloudydesk").Return(nil).Times(2)
	gw.EXPECT().
		PutObject(gomock.Any(), "cloudydesk", "cloudydesk-latest.zip", gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _, _ string, body []byte, md map[string]string) error {
			uploads = append(uploads, body)
			metas = append(metas, md)
			return nil
		}).Times(2)

	p := newTestPublisher(gw)
	first, err := p.Publish(context.Background(), src)
	require.NoError(t, err)
	second, err := p.Publish(context.Background(), src)
	require.NoError(t, err)

	require.Len(t, uploads, 2)
	assert.Equal(t, unzip(t, uploads[0]), unzip(t, uploads[1]))
	assert.Equal(t, sampleTree, unzip(t, uploads[1]))
	assert.Equal(t, first.VersionTag, second.VersionTag)
	assert.Equal(t, int64(len(uploads[0])), first.Size)
	assert.Equal(t, len(sampleTree), first.FileCount)

	md := metas[0]
	assert.Equal(t, "1.4.2", md[MetaVersion])
	assert.Equal(t, "cloudydesk-agent", md[MetaBuildType])
	assert.Equal(t, "2026-03-01T12:00:00Z", md[MetaUploadDate])
	assert.Equal(t, "7", md[MetaFileCount])
	assert.Len(t, md[MetaVersionTag], 64)
}

func TestPublish_SourceNotFoundNeverContactsStorage(t *testing.T) {
	ctrl := gomock.NewController(t)
	gw := storage.NewMockGateway(ctrl)

	_, err := newTestPublisher(gw).Publish(context.Background(), filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.True(t, status.Is(err, status.SourceNotFound))
}

func TestPublish_StorageErrors(t *testing.T) {
	src := writeTree(t, sampleTree)

	t.Run("container unavailable", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		gw := storage.NewMockGateway(ctrl)
		gw.EXPECT().EnsureContainer(gomock.Any(), gomock.Any()).
			Return(status.Wrap(status.StorageUnavailable, "", errors.New("connection refused")))

		_, err := newTestPublisher(gw).Publish(context.Background(), src)
		require.Error(t, err)
		assert.True(t, status.Is(err, status.StorageUnavailable))
		s, ok := status.FromError(err)
		require.True(t, ok)
		assert.Equal(t, "ensure-container", s.Step)
	})

	t.Run("put rejected", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		gw := storage.NewMockGateway(ctrl)
		gw.EXPECT().EnsureContainer(gomock.Any(), gomock.Any()).Return(nil)
		gw.EXPECT().PutObject(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(errors.New("connection reset"))

		_, err := newTestPublisher(gw).Publish(context.Background(), src)
		require.Error(t, err)
		assert.True(t, status.Is(err, status.UploadFailed))
	})
}

func TestPublish_LocalGatewayRoundTrip(t *testing.T) {
	gw, err := storage.NewLocalGateway(t.TempDir(), "http://127.0.0.1:0/objects", []byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	art, err := newTestPublisher(gw).Publish(context.Background(), writeTree(t, sampleTree))
	require.NoError(t, err)

	info, err := gw.StatObject(context.Background(), art.Container, art.Key)
	require.NoError(t, err)
	assert.Equal(t, art.Size, info.Size)
	assert.Equal(t, art.VersionTag, info.Metadata[MetaVersionTag])
}

func TestCheckBakedEntitlement(t *testing.T) {
	lookup := func(env map[string]string) func(string) (string, bool) {
		return func(k string) (string, bool) {
			v, ok := env[k]
			return v, ok
		}
	}

	_, baked := CheckBakedEntitlement(lookup(nil))
	assert.False(t, baked)

	_, baked = CheckBakedEntitlement(lookup(map[string]string{BakedEntitlementEnv: ""}))
	assert.False(t, baked)

	masked, baked := CheckBakedEntitlement(lookup(map[string]string{BakedEntitlementEnv: "AAAA-BBBB-CCCC-DDDD"}))
	assert.True(t, baked)
	assert.Equal(t, "AAAA***********DDDD", masked)
}
