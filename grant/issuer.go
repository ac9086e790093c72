package grant

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/cloudydesk/provisioning/config"
	"github.com/cloudydesk/provisioning/shared/status"
	"github.com/cloudydesk/provisioning/storage"
)

// DefaultTTL is long enough for slow client-side installs
const DefaultTTL = 24 * time.Hour

// Issuer hands out signed download grants for artifacts in one container.
// Grants are never cached: every call produces a fresh, independently
// expiring URL.
type Issuer struct {
	gateway    storage.Gateway
	container  string
	defaultTTL time.Duration
}

// NewIssuer creates an Issuer for the configured bucket
func NewIssuer(gateway storage.Gateway, cfg *config.Config) *Issuer {
	ttl := cfg.Grant.TTL.Std()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{
		gateway:    gateway,
		container:  cfg.Storage.Bucket,
		defaultTTL: ttl,
	}
}

// IssueDownloadGrant returns a signed URL for key. A ttl of zero or less
// selects the configured default.
func (i *Issuer) IssueDownloadGrant(ctx context.Context, key string, ttl time.Duration) (storage.Grant, error) {
	if ttl <= 0 {
		ttl = i.defaultTTL
	}

	g, err := i.gateway.IssueSignedGrant(ctx, i.container, key, ttl)
	if err != nil {
		if status.Is(err, status.GrantIssuanceError) {
			return storage.Grant{}, status.WithStep("issue-grant", err)
		}
		return storage.Grant{}, status.Wrap(status.GrantIssuanceError, "issue-grant", err)
	}

	log.Infof("issued download grant for %s/%s, expires %s", i.container, key, g.ExpiresAt.Format(time.RFC3339))
	return g, nil
}

// DefaultTTL returns the lifetime used when callers pass no explicit ttl
func (i *Issuer) DefaultTTL() time.Duration {
	return i.defaultTTL
}
