package publisher

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2s"

	"github.com/cloudydesk/provisioning/config"
	"github.com/cloudydesk/provisioning/shared/status"
	"github.com/cloudydesk/provisioning/storage"
	"github.com/cloudydesk/provisioning/util"
)

const (
	// BakedEntitlementEnv holds a default entitlement key compiled into generic product builds
	BakedEntitlementEnv = "CLOUDYDESK_LICENSE_KEY"

	MetaUploadDate = "upload-date"
	MetaVersion    = "version"
	MetaBuildType  = "build-type"
	MetaVersionTag = "version-tag"
	MetaFileCount  = "file-count"
)

// BuildArtifact describes the shared archive after a publish
type BuildArtifact struct {
	Container      string
	Key            string
	Size           int64
	UploadedAt     time.Time
	VersionTag     string
	ProductVersion string
	FileCount      int
}

// Publisher packages a build output directory and replaces the artifact at
// the configured key. Concurrent publishes race and the last writer wins.
type Publisher struct {
	gateway         storage.Gateway
	container       string
	key             string
	productVersion  string
	buildType       string
	compressTimeout time.Duration
	uploadTimeout   time.Duration
	now             func() time.Time
}

// New creates a Publisher bound to the storage location in cfg
func New(gateway storage.Gateway, cfg *config.Config) *Publisher {
	return &Publisher{
		gateway:         gateway,
		container:       cfg.Storage.Bucket,
		key:             cfg.Storage.ArtifactKey,
		productVersion:  cfg.Product.Version,
		buildType:       cfg.Product.BuildType,
		compressTimeout: cfg.Timeouts.Compress.Std(),
		uploadTimeout:   cfg.Timeouts.Upload.Std(),
		now:             time.Now,
	}
}

// Publish compresses srcDir and uploads it. A failure during upload leaves
// the remote object in an unknown state; callers rerun a full publish.
func (p *Publisher) Publish(ctx context.Context, srcDir string) (BuildArtifact, error) {
	ctx = util.WithStep(util.WithSource(ctx, util.BuildSource), "publish")

	body, stats, tag, err := p.compress(ctx, srcDir)
	if err != nil {
		return BuildArtifact{}, err
	}

	log.WithContext(ctx).Infof("compressed %d files (%d bytes raw) into %d bytes", stats.Files, stats.RawBytes, len(body))

	uploadedAt := p.now().UTC()
	metadata := map[string]string{
		MetaUploadDate: uploadedAt.Format(time.RFC3339),
		MetaVersion:    p.productVersion,
		MetaBuildType:  p.buildType,
		MetaVersionTag: tag,
		MetaFileCount:  strconv.Itoa(stats.Files),
	}

	if err := p.upload(ctx, body, metadata); err != nil {
		return BuildArtifact{}, err
	}

	log.WithContext(ctx).Infof("published %s/%s (%d bytes, tag %s)", p.container, p.key, len(body), tag[:12])

	return BuildArtifact{
		Container:      p.container,
		Key:            p.key,
		Size:           int64(len(body)),
		UploadedAt:     uploadedAt,
		VersionTag:     tag,
		ProductVersion: p.productVersion,
		FileCount:      stats.Files,
	}, nil
}

func (p *Publisher) compress(ctx context.Context, srcDir string) ([]byte, ArchiveStats, string, error) {
	if p.compressTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.compressTimeout)
		defer cancel()
	}

	tmp, err := os.CreateTemp("", "cloudydesk-build-*.zip")
	if err != nil {
		return nil, ArchiveStats{}, "", status.Wrap(status.CompressionError, "compress", err)
	}
	defer func() {
		_ = tmp.Close()
		if err := os.Remove(tmp.Name()); err != nil && !os.IsNotExist(err) {
			log.Warnf("failed to remove temporary archive %s: %v", tmp.Name(), err)
		}
	}()

	hasher, err := blake2s.New256(nil)
	if err != nil {
		return nil, ArchiveStats{}, "", status.Wrap(status.Internal, "compress", err)
	}

	stats, err := Archive(ctx, srcDir, io.MultiWriter(tmp, hasher))
	if err != nil {
		return nil, stats, "", err
	}

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, stats, "", status.Wrap(status.CompressionError, "compress", err)
	}
	body, err := io.ReadAll(tmp)
	if err != nil {
		return nil, stats, "", status.Wrap(status.CompressionError, "compress", err)
	}

	return body, stats, hex.EncodeToString(hasher.Sum(nil)), nil
}

func (p *Publisher) upload(ctx context.Context, body []byte, metadata map[string]string) error {
	if p.uploadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.uploadTimeout)
		defer cancel()
	}

	if err := p.gateway.EnsureContainer(ctx, p.container); err != nil {
		return status.WithStep("ensure-container", err)
	}

	if err := p.gateway.PutObject(ctx, p.container, p.key, body, metadata); err != nil {
		if status.Is(err, status.UploadFailed) || status.Is(err, status.StorageUnavailable) {
			return status.WithStep("upload", err)
		}
		return status.Wrap(status.UploadFailed, "upload", err)
	}
	return nil
}

// CheckBakedEntitlement reports whether the build environment carries a
// default entitlement key. A shared artifact should not have one baked in.
func CheckBakedEntitlement(lookup func(string) (string, bool)) (string, bool) {
	v, ok := lookup(BakedEntitlementEnv)
	if !ok || v == "" {
		return "", false
	}
	return util.MaskSecret(v), true
}

// Describe renders a short human readable summary of a published artifact
func (a BuildArtifact) Describe() string {
	return fmt.Sprintf("%s/%s version=%s files=%d size=%d tag=%s uploaded=%s",
		a.Container, a.Key, a.ProductVersion, a.FileCount, a.Size, a.VersionTag, a.UploadedAt.Format(time.RFC3339))
}
