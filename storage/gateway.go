package storage

//go:generate go run go.uber.org/mock/mockgen -package storage -destination=gateway_mock.go -source=./gateway.go -build_flags=-mod=mod

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

// MaxGrantTTL is the longest lifetime S3-compatible stores accept for a presigned URL
const MaxGrantTTL = 7 * 24 * time.Hour

var ErrObjectNotFound = errors.New("object not found")

// Gateway is the narrow object store capability the pipeline depends on.
// PutObject overwrites in place and is not transactional: a reader racing an
// overwrite may observe the old or a partially written object.
type Gateway interface {
	EnsureContainer(ctx context.Context, name string) error
	PutObject(ctx context.Context, container, key string, body []byte, metadata map[string]string) error
	StatObject(ctx context.Context, container, key string) (ObjectInfo, error)
	IssueSignedGrant(ctx context.Context, container, key string, ttl time.Duration) (Grant, error)
}

// ObjectInfo describes a stored object
type ObjectInfo struct {
	Container    string
	Key          string
	Size         int64
	LastModified time.Time
	Metadata     map[string]string
}

// Grant is a signed, expiring read URL for one object. It is never persisted.
type Grant struct {
	Container string
	Key       string
	URL       string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// ValidAt reports whether the grant still permits retrieval at t
func (g Grant) ValidAt(t time.Time) bool {
	return !t.After(g.ExpiresAt)
}

func (g Grant) String() string {
	return fmt.Sprintf("Grant[%s/%s, expires=%s]", g.Container, g.Key, g.ExpiresAt.Format(time.RFC3339))
}

func validateContainer(name string) error {
	if name == "" {
		return fmt.Errorf("container name is empty")
	}
	if strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("invalid container name %q", name)
	}
	return nil
}

func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("object key is empty")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, `\`) {
		return fmt.Errorf("invalid object key %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." || part == "." || part == "" {
			return fmt.Errorf("invalid object key %q", key)
		}
	}
	if path.Clean(key) != key {
		return fmt.Errorf("invalid object key %q", key)
	}
	return nil
}

func validateTTL(ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("grant ttl must be positive, got %s", ttl)
	}
	if ttl > MaxGrantTTL {
		return fmt.Errorf("grant ttl %s exceeds the maximum of %s", ttl, MaxGrantTTL)
	}
	return nil
}
