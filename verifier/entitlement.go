package verifier

import (
	"fmt"
	"path/filepath"

	"github.com/cloudydesk/provisioning/capsule"
	"github.com/cloudydesk/provisioning/license"
)

// Source names where an effective entitlement came from
type Source string

const (
	SourceOverride     Source = "override-file"
	SourceArgument     Source = "capsule-argument"
	SourceBuildDefault Source = "build-default"
	SourceNone         Source = "none"
)

// Entitlement is the key the product will use, and why
type Entitlement struct {
	Key    string
	Source Source
}

// EffectiveEntitlement resolves the entitlement precedence: the override file
// in installDir, then the key the capsule passed to the installer as recorded
// in the host configuration, then the build-time default.
func EffectiveEntitlement(installDir, configPath, buildDefault string) (Entitlement, error) {
	key, ok, err := license.ReadOverride(filepath.Join(installDir, capsule.OverrideFileName))
	if err != nil {
		return Entitlement{}, fmt.Errorf("read override file: %w", err)
	}
	if ok {
		return Entitlement{Key: key, Source: SourceOverride}, nil
	}

	values, _, err := readConfig(configPath)
	if err != nil {
		return Entitlement{}, fmt.Errorf("read host config: %w", err)
	}
	if v := values[KeyLicenseKey]; v != "" {
		return Entitlement{Key: v, Source: SourceArgument}, nil
	}

	if buildDefault != "" {
		return Entitlement{Key: buildDefault, Source: SourceBuildDefault}, nil
	}
	return Entitlement{Source: SourceNone}, nil
}
