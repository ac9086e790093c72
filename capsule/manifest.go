package capsule

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/cloudydesk/provisioning/config"
	"github.com/cloudydesk/provisioning/util"
)

// ManifestVersion is bumped whenever the runtime needs to reject older capsules
const ManifestVersion = 1

type AcquisitionMode string

const (
	AcquireRemote   AcquisitionMode = "remote"
	AcquireEmbedded AcquisitionMode = "embedded"
)

// Acquisition tells the runtime where the artifact comes from
type Acquisition struct {
	Mode AcquisitionMode `json:"mode"`
	// URL and ExpiresAt are set for remote capsules
	URL       string    `json:"url,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
	// Payload is the archive file name shipped next to the manifest for embedded capsules
	Payload string `json:"payload,omitempty"`
}

// ProductSettings describes the installed product layout on the target host
type ProductSettings struct {
	Name       string `json:"name"`
	Executable string `json:"executable"`
	DataDir    string `json:"dataDir"`
	InstallDir string `json:"installDir"`
}

// Manifest is the per-client configuration fragment embedded in a capsule
// and executed by the capsule runtime on the target host.
type Manifest struct {
	Version        int             `json:"version"`
	Client         ClientSpec      `json:"client"`
	InstallOptions string          `json:"installOptions"`
	Acquisition    Acquisition     `json:"acquisition"`
	Product        ProductSettings `json:"product"`
	GracePeriod    time.Duration   `json:"gracePeriod"`
	// ResultFile, when set, is written by the product installer on completion
	ResultFile     string        `json:"resultFile,omitempty"`
	InstallTimeout time.Duration `json:"installTimeout,omitempty"`
	GeneratedAt    time.Time     `json:"generatedAt"`
}

// NewManifest builds the manifest for spec with product settings from cfg
func NewManifest(spec ClientSpec, acq Acquisition, cfg *config.Config, now time.Time) Manifest {
	return Manifest{
		Version:        ManifestVersion,
		Client:         spec,
		InstallOptions: spec.InstallOptions(),
		Acquisition:    acq,
		Product: ProductSettings{
			Name:       cfg.Product.Name,
			Executable: cfg.Product.Executable,
			DataDir:    cfg.Product.DataDir,
			InstallDir: cfg.Product.InstallDir,
		},
		GracePeriod:    cfg.Builder.GracePeriod.Std(),
		ResultFile:     cfg.Builder.ResultFile,
		InstallTimeout: cfg.Builder.InstallTimeout.Std(),
		GeneratedAt:    now.UTC(),
	}
}

// Validate checks a manifest loaded on the target host
func (m Manifest) Validate() error {
	if m.Version != ManifestVersion {
		return fmt.Errorf("unsupported manifest version %d", m.Version)
	}
	if err := m.Client.Validate(); err != nil {
		return err
	}
	if m.Product.Executable == "" || strings.ContainsAny(m.Product.Executable, `/\`) {
		return fmt.Errorf("invalid product executable %q", m.Product.Executable)
	}

	switch m.Acquisition.Mode {
	case AcquireRemote:
		if m.Acquisition.URL == "" {
			return fmt.Errorf("remote manifest has no download URL")
		}
	case AcquireEmbedded:
		if m.Acquisition.Payload == "" || filepath.Base(m.Acquisition.Payload) != m.Acquisition.Payload {
			return fmt.Errorf("invalid embedded payload name %q", m.Acquisition.Payload)
		}
	default:
		return fmt.Errorf("unknown acquisition mode %q", m.Acquisition.Mode)
	}
	return nil
}

// InstallerArgs returns the product installer command line. Identity and
// entitlement are passed explicitly for products that only read arguments on
// first run.
func (m Manifest) InstallerArgs() []string {
	args := []string{
		"--silent-install",
		"--agent-id", m.Client.AgentID,
		"--license-key", m.Client.LicenseKey,
	}
	if m.InstallOptions != "" {
		args = append(args, m.InstallOptions)
	}
	return args
}

// WriteManifest stores m as JSON at path
func WriteManifest(ctx context.Context, path string, m Manifest) error {
	return util.WriteJson(ctx, path, m)
}

// LoadManifest reads and validates a manifest
func LoadManifest(path string) (Manifest, error) {
	var m Manifest
	if err := util.ReadJson(path, &m); err != nil {
		return Manifest{}, fmt.Errorf("read manifest %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return Manifest{}, fmt.Errorf("invalid manifest %s: %w", path, err)
	}
	return m, nil
}
