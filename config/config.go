package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	StorageDriverS3    = "s3"
	StorageDriverLocal = "local"
)

// Config is the root configuration for the provisioning tools. It is built
// once at process start and handed to every component by pointer.
type Config struct {
	Storage  StorageConfig  `yaml:"storage"`
	Grant    GrantConfig    `yaml:"grant"`
	Product  ProductConfig  `yaml:"product"`
	Builder  BuilderConfig  `yaml:"builder"`
	Timeouts TimeoutsConfig `yaml:"timeouts"`
	Log      LogConfig      `yaml:"log"`
}

// StorageConfig contains the object store location. Credentials are not part
// of it and come from a storage.CredentialsProvider.
type StorageConfig struct {
	Driver       string `yaml:"driver"`
	Endpoint     string `yaml:"endpoint"`
	Region       string `yaml:"region"`
	Bucket       string `yaml:"bucket"`
	ArtifactKey  string `yaml:"artifactKey"`
	UsePathStyle bool   `yaml:"usePathStyle"`
	// LocalDir and LocalBaseURL configure the filesystem driver
	LocalDir     string `yaml:"localDir"`
	LocalBaseURL string `yaml:"localBaseURL"`
}

// GrantConfig contains signed download grant settings
type GrantConfig struct {
	TTL Duration `yaml:"ttl"`
}

// ProductConfig describes the third-party product being distributed
type ProductConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Executable  string `yaml:"executable"`
	DataDir     string `yaml:"dataDir"`
	InstallDir  string `yaml:"installDir"`
	CompanyName string `yaml:"companyName"`
	BuildType   string `yaml:"buildType"`
}

// BuilderConfig contains capsule generation settings
type BuilderConfig struct {
	RuntimeBinary  string   `yaml:"runtimeBinary"`
	OutputDir      string   `yaml:"outputDir"`
	CompilerPaths  []string `yaml:"compilerPaths"`
	CompileTimeout Duration `yaml:"compileTimeout"`
	ProbeTimeout   Duration `yaml:"probeTimeout"`
	GracePeriod    Duration `yaml:"gracePeriod"`
	// ResultFile is where the product installer reports completion on the
	// target host. Empty selects the bounded GracePeriod wait instead.
	ResultFile     string   `yaml:"resultFile"`
	InstallTimeout Duration `yaml:"installTimeout"`
}

// TimeoutsConfig bounds the long running build-host steps
type TimeoutsConfig struct {
	Build    Duration `yaml:"build"`
	Compress Duration `yaml:"compress"`
	Upload   Duration `yaml:"upload"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Driver:      StorageDriverS3,
			Region:      "auto",
			Bucket:      "cloudydesk",
			ArtifactKey: "cloudydesk-latest.zip",
		},
		Grant: GrantConfig{
			TTL: Duration(24 * time.Hour),
		},
		Product: ProductConfig{
			Name:        "CloudyDesk",
			Version:     "1.4.2",
			Executable:  "cloudydesk.exe",
			DataDir:     "data",
			InstallDir:  "CloudyDesk",
			CompanyName: "CloudyDesk",
			BuildType:   "cloudydesk-agent",
		},
		Builder: BuilderConfig{
			RuntimeBinary: "capsulectl.exe",
			OutputDir:     ".",
			CompilerPaths: []string{
				"makensis",
				`C:\Program Files (x86)\NSIS\makensis.exe`,
				`C:\Program Files\NSIS\makensis.exe`,
			},
			CompileTimeout: Duration(3 * time.Minute),
			ProbeTimeout:   Duration(10 * time.Second),
			GracePeriod:    Duration(2 * time.Second),
			InstallTimeout: Duration(5 * time.Minute),
		},
		Timeouts: TimeoutsConfig{
			Build:    Duration(15 * time.Minute),
			Compress: Duration(10 * time.Minute),
			Upload:   Duration(10 * time.Minute),
		},
		Log: LogConfig{
			Level: "info",
			File:  "console",
		},
	}
}

// LoadConfig loads configuration from a YAML file on top of the defaults
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overlays CD_* environment variables on the loaded configuration.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}

	str("CD_STORAGE_DRIVER", &c.Storage.Driver)
	str("CD_STORAGE_ENDPOINT", &c.Storage.Endpoint)
	str("CD_STORAGE_REGION", &c.Storage.Region)
	str("CD_STORAGE_BUCKET", &c.Storage.Bucket)
	str("CD_STORAGE_ARTIFACT_KEY", &c.Storage.ArtifactKey)
	str("CD_STORAGE_LOCAL_DIR", &c.Storage.LocalDir)
	str("CD_STORAGE_LOCAL_BASE_URL", &c.Storage.LocalBaseURL)
	str("CD_PRODUCT_VERSION", &c.Product.Version)
	str("CD_BUILDER_RUNTIME_BINARY", &c.Builder.RuntimeBinary)
	str("CD_BUILDER_OUTPUT_DIR", &c.Builder.OutputDir)
	str("CD_BUILDER_RESULT_FILE", &c.Builder.ResultFile)

	if v, ok := lookup("CD_STORAGE_USE_PATH_STYLE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			log.Warnf("ignoring CD_STORAGE_USE_PATH_STYLE=%q: %v", v, err)
		} else {
			c.Storage.UsePathStyle = b
		}
	}

	if v, ok := lookup("CD_GRANT_TTL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Warnf("ignoring CD_GRANT_TTL=%q: %v", v, err)
		} else {
			c.Grant.TTL = Duration(d)
		}
	}

	if v, ok := lookup("CD_BUILDER_INSTALL_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Warnf("ignoring CD_BUILDER_INSTALL_TIMEOUT=%q: %v", v, err)
		} else {
			c.Builder.InstallTimeout = Duration(d)
		}
	}
}

// Validate checks the settings every command relies on
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case StorageDriverS3:
		if c.Storage.Endpoint == "" {
			return fmt.Errorf("storage.endpoint is required for the s3 driver")
		}
	case StorageDriverLocal:
		if c.Storage.LocalDir == "" || c.Storage.LocalBaseURL == "" {
			return fmt.Errorf("storage.localDir and storage.localBaseURL are required for the local driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	if strings.TrimSpace(c.Storage.Bucket) == "" {
		return fmt.Errorf("storage.bucket is required")
	}
	if strings.TrimSpace(c.Storage.ArtifactKey) == "" {
		return fmt.Errorf("storage.artifactKey is required")
	}
	if c.Grant.TTL <= 0 {
		return fmt.Errorf("grant.ttl must be positive")
	}
	if c.Product.Executable == "" {
		return fmt.Errorf("product.executable is required")
	}
	return nil
}

// Duration is a time.Duration that reads from YAML as a Go duration string
type Duration time.Duration

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}
