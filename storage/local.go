package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/cloudydesk/provisioning/shared/status"
	"github.com/cloudydesk/provisioning/util"
)

const (
	getHandler   = "/{container}/{key...}"
	metaDir      = ".meta"
	expiresParam = "expires"
	sigParam     = "signature"
)

// LocalGateway keeps objects in a directory and serves them through
// HMAC-signed expiring URLs. It backs offline deployments where an
// S3-compatible store is not available.
type LocalGateway struct {
	dir     string
	baseURL *url.URL
	secret  []byte
	now     func() time.Time
}

// NewLocalGateway creates a gateway rooted at dir. baseURL is the public
// address Handler is reachable at; secret signs the grant URLs.
func NewLocalGateway(dir, baseURL string, secret []byte) (*LocalGateway, error) {
	if !filepath.IsAbs(dir) {
		return nil, fmt.Errorf("local storage dir should be an absolute path, got %q", dir)
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid local storage base URL: %w", err)
	}
	if len(secret) < 16 {
		return nil, fmt.Errorf("grant signing secret must be at least 16 bytes")
	}

	return &LocalGateway{
		dir:     dir,
		baseURL: parsed,
		secret:  secret,
		now:     time.Now,
	}, nil
}

// WithClock replaces the time source, used to exercise grant expiry
func (l *LocalGateway) WithClock(now func() time.Time) *LocalGateway {
	l.now = now
	return l
}

func (l *LocalGateway) EnsureContainer(_ context.Context, name string) error {
	if err := validateContainer(name); err != nil {
		return status.Wrap(status.StorageUnavailable, "ensure-container", err)
	}
	if err := os.MkdirAll(filepath.Join(l.dir, name), 0750); err != nil {
		return status.Wrap(status.StorageUnavailable, "ensure-container", err)
	}
	return nil
}

func (l *LocalGateway) PutObject(ctx context.Context, container, key string, body []byte, metadata map[string]string) error {
	if err := validateContainer(container); err != nil {
		return status.Wrap(status.UploadFailed, "put-object", err)
	}
	if err := validateKey(key); err != nil {
		return status.Wrap(status.UploadFailed, "put-object", err)
	}
	if !util.DirExists(filepath.Join(l.dir, container)) {
		return status.Wrap(status.UploadFailed, "put-object", fmt.Errorf("container %q does not exist", container))
	}

	if err := util.WriteBytes(ctx, l.objectPath(container, key), body, 0640); err != nil {
		return status.Wrap(status.UploadFailed, "put-object", err)
	}
	if err := util.WriteJson(ctx, l.metaPath(container, key), metadata); err != nil {
		return status.Wrap(status.UploadFailed, "put-object", err)
	}

	log.Infof("stored object %s/%s (%d bytes)", container, key, len(body))
	return nil
}

func (l *LocalGateway) StatObject(_ context.Context, container, key string) (ObjectInfo, error) {
	if err := validateContainer(container); err != nil {
		return ObjectInfo{}, err
	}
	if err := validateKey(key); err != nil {
		return ObjectInfo{}, err
	}
	info, err := os.Stat(l.objectPath(container, key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ObjectInfo{}, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, container, key)
		}
		return ObjectInfo{}, status.Wrap(status.StorageUnavailable, "stat-object", err)
	}

	metadata := map[string]string{}
	if err := util.ReadJson(l.metaPath(container, key), &metadata); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warnf("failed to read metadata of %s/%s: %v", container, key, err)
	}

	return ObjectInfo{
		Container:    container,
		Key:          key,
		Size:         info.Size(),
		LastModified: info.ModTime(),
		Metadata:     metadata,
	}, nil
}

func (l *LocalGateway) IssueSignedGrant(ctx context.Context, container, key string, ttl time.Duration) (Grant, error) {
	if err := validateTTL(ttl); err != nil {
		return Grant{}, status.Wrap(status.GrantIssuanceError, "issue-grant", err)
	}
	if _, err := l.StatObject(ctx, container, key); err != nil {
		return Grant{}, status.Wrap(status.GrantIssuanceError, "issue-grant", err)
	}

	issuedAt := l.now()
	expiresAt := issuedAt.Add(ttl)
	expires := strconv.FormatInt(expiresAt.Unix(), 10)

	u := l.baseURL.JoinPath(container, key)
	q := u.Query()
	q.Set(expiresParam, expires)
	q.Set(sigParam, l.sign(container, key, expires))
	u.RawQuery = q.Encode()

	return Grant{
		Container: container,
		Key:       key,
		URL:       u.String(),
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}, nil
}

// Handler serves objects for valid, unexpired grant URLs. It must be mounted
// at the path of the base URL.
func (l *LocalGateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(getHandler, l.handleGet)
	return http.StripPrefix(strings.TrimSuffix(l.baseURL.Path, "/"), mux)
}

func (l *LocalGateway) handleGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	container := r.PathValue("container")
	key := r.PathValue("key")
	if validateContainer(container) != nil || validateKey(key) != nil {
		http.Error(w, "invalid object path", http.StatusBadRequest)
		return
	}

	expires := r.URL.Query().Get(expiresParam)
	signature := r.URL.Query().Get(sigParam)
	expiresAt, err := strconv.ParseInt(expires, 10, 64)
	if err != nil || signature == "" {
		http.Error(w, "missing grant", http.StatusForbidden)
		return
	}

	expected := l.sign(container, key, expires)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		http.Error(w, "invalid grant signature", http.StatusForbidden)
		return
	}
	if l.now().Unix() > expiresAt {
		http.Error(w, "grant expired", http.StatusForbidden)
		return
	}

	f, err := os.Open(l.objectPath(container, key))
	if err != nil {
		http.Error(w, "object not found", http.StatusNotFound)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		http.Error(w, "object not readable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeContent(w, r, filepath.Base(key), info.ModTime(), f)
}

func (l *LocalGateway) sign(container, key, expires string) string {
	mac := hmac.New(sha256.New, l.secret)
	mac.Write([]byte(container + "/" + key + "\n" + expires))
	return hex.EncodeToString(mac.Sum(nil))
}

func (l *LocalGateway) objectPath(container, key string) string {
	return filepath.Join(l.dir, container, filepath.FromSlash(key))
}

func (l *LocalGateway) metaPath(container, key string) string {
	return filepath.Join(l.dir, metaDir, container, filepath.FromSlash(key)+".json")
}
