package capsule

import (
	"context"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/cloudydesk/provisioning/publisher"
	"github.com/cloudydesk/provisioning/shared/status"
	"github.com/cloudydesk/provisioning/storage"
)

// GrantIssuer issues signed download grants for the shared artifact
type GrantIssuer interface {
	IssueDownloadGrant(ctx context.Context, key string, ttl time.Duration) (storage.Grant, error)
}

// Strategy decides how a capsule's runtime obtains the artifact. Acquire may
// write files into workDir and returns those that must be bundled.
type Strategy interface {
	Mode() AcquisitionMode
	Acquire(ctx context.Context, workDir string, names Names) (Acquisition, []string, error)
}

// RemoteStrategy produces small capsules that download the artifact through
// a fresh signed grant at install time
type RemoteStrategy struct {
	Grants      GrantIssuer
	ArtifactKey string
	TTL         time.Duration
}

func (RemoteStrategy) Mode() AcquisitionMode { return AcquireRemote }

func (r RemoteStrategy) Acquire(ctx context.Context, _ string, _ Names) (Acquisition, []string, error) {
	g, err := r.Grants.IssueDownloadGrant(ctx, r.ArtifactKey, r.TTL)
	if err != nil {
		return Acquisition{}, nil, err
	}
	log.Infof("download grant valid until %s", g.ExpiresAt.Format(time.RFC3339))

	return Acquisition{
		Mode:      AcquireRemote,
		URL:       g.URL,
		ExpiresAt: g.ExpiresAt,
	}, nil, nil
}

// EmbeddedStrategy produces self-contained capsules carrying the artifact
// built from a local directory
type EmbeddedStrategy struct {
	SourceDir string
}

func (EmbeddedStrategy) Mode() AcquisitionMode { return AcquireEmbedded }

func (e EmbeddedStrategy) Acquire(ctx context.Context, workDir string, names Names) (Acquisition, []string, error) {
	payload := filepath.Join(workDir, names.Payload)
	f, err := os.OpenFile(payload, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return Acquisition{}, nil, status.Wrap(status.CompressionError, "embed-artifact", err)
	}

	stats, err := publisher.Archive(ctx, e.SourceDir, f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = status.Wrap(status.CompressionError, "embed-artifact", cerr)
	}
	if err != nil {
		return Acquisition{}, nil, status.WithStep("embed-artifact", err)
	}
	log.Infof("embedded %d files (%d bytes raw) from %s", stats.Files, stats.RawBytes, e.SourceDir)

	return Acquisition{
		Mode:    AcquireEmbedded,
		Payload: names.Payload,
	}, []string{payload}, nil
}
