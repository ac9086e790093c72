package license

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/cloudydesk/provisioning/capsule"
	"github.com/cloudydesk/provisioning/shared/status"
	"github.com/cloudydesk/provisioning/util"
)

// Update replaces the entitlement of an installed product by rewriting its
// override file. The product must be installed at installDir. The running
// product picks the new key up on its next start.
func Update(ctx context.Context, installDir, executable, newKey string, now time.Time) (string, error) {
	exe := filepath.Join(installDir, executable)
	if !util.FileExists(exe) {
		return "", status.Errorf(status.VerificationIncomplete, "product is not installed at %s, expected file %s", installDir, exe)
	}

	newKey = strings.TrimSpace(newKey)
	if len(newKey) < capsule.MinLicenseKeyLength {
		return "", status.NewInvalidSpecError("license key must be at least %d characters", capsule.MinLicenseKeyLength)
	}
	if strings.ContainsAny(newKey, "\r\n") {
		return "", status.NewInvalidSpecError("license key must be a single line")
	}

	path := filepath.Join(installDir, capsule.OverrideFileName)
	if err := util.WriteBytes(ctx, path, capsule.RenderOverrideUpdate(newKey, now), 0o644); err != nil {
		if errors.Is(err, os.ErrPermission) {
			log.Errorf("permission denied writing %s, run as administrator", path)
		}
		return "", status.Wrap(status.Internal, "write-override", err)
	}

	log.Infof("license override written to %s, key %s", path, util.MaskSecret(newKey))
	return path, nil
}

// ReadOverride returns the entitlement key from an override file. The first
// LicenseKey= line wins; a bare non-comment line is taken as the key itself.
func ReadOverride(path string) (string, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, err
	}
	key, ok := ParseOverride(data)
	return key, ok, nil
}

// ParseOverride extracts the key from override file content
func ParseOverride(data []byte) (string, bool) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if v, ok := strings.CutPrefix(line, capsule.OverrideKey+"="); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v, true
			}
			continue
		}
		return line, true
	}
	return "", false
}
