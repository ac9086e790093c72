package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cloudydesk/provisioning/config"
	"github.com/cloudydesk/provisioning/storage"
	"github.com/cloudydesk/provisioning/util"
)

const (
	// ExitFailed defines the exit code of a failed command
	ExitFailed = 1

	// SigningSecretEnv holds the HMAC secret of the local storage driver
	SigningSecretEnv = "CD_STORAGE_SIGNING_SECRET"
)

var (
	configPath string
	logLevel   string
	logFile    string

	// cfg is loaded once per invocation in PersistentPreRunE
	cfg *config.Config

	rootCmd = &cobra.Command{
		Use:               "provisioner",
		Short:             "publishes CloudyDesk builds and generates per-client installers",
		Long:              "",
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "provisioning config file location (YAML). Defaults are used when empty")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "sets log level")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", util.LogConsole, "sets log path. If console is specified the log will be output to stderr")

	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(grantCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig builds the process wide configuration: defaults, then the config
// file, then CD_* environment, then explicitly set flags.
func loadConfig(cmd *cobra.Command, _ []string) error {
	util.SetFlagsFromEnvVars(cmd)

	loaded, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	loaded.ApplyEnv(os.LookupEnv)

	if cmd.Flags().Changed("log-level") || loaded.Log.Level == "" {
		loaded.Log.Level = logLevel
	}
	if cmd.Flags().Changed("log-file") || loaded.Log.File == "" {
		loaded.Log.File = logFile
	}
	if err := util.InitLog(loaded.Log.Level, loaded.Log.File); err != nil {
		return fmt.Errorf("failed initializing log %v", err)
	}

	if err := loaded.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	cfg = loaded
	return nil
}

// newGateway connects the configured storage driver. S3 credentials come from
// the credentials directory, the environment or the SDK default chain.
func newGateway(ctx context.Context, c *config.Config) (storage.Gateway, error) {
	switch c.Storage.Driver {
	case config.StorageDriverLocal:
		secret, ok := os.LookupEnv(SigningSecretEnv)
		if !ok || secret == "" {
			return nil, fmt.Errorf("%s must be set for the local storage driver", SigningSecretEnv)
		}
		gw, err := storage.NewLocalGateway(c.Storage.LocalDir, c.Storage.LocalBaseURL, []byte(secret))
		if err != nil {
			return nil, err
		}
		return gw, nil
	default:
		gw, err := storage.NewS3Gateway(ctx, storage.S3Options{
			Endpoint:     c.Storage.Endpoint,
			Region:       c.Storage.Region,
			UsePathStyle: c.Storage.UsePathStyle,
		}, storage.DefaultCredentials(os.LookupEnv))
		if err != nil {
			return nil, err
		}
		return gw, nil
	}
}

// SetupCloseHandler cancels the command context on SIGINT/SIGTERM
func SetupCloseHandler(ctx context.Context, cancel context.CancelFunc) {
	termCh := make(chan os.Signal, 1)
	signal.Notify(termCh, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		done := ctx.Done()
		select {
		case <-done:
		case <-termCh:
		}

		log.Info("shutdown signal received")
		cancel()
	}()
}

// commandContext returns a build-tagged context that is cancelled on shutdown signals
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(util.WithSource(cmd.Context(), util.BuildSource))
	SetupCloseHandler(ctx, cancel)
	return ctx, cancel
}
