package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cloudydesk/provisioning/util"
)

const (
	// ExitFailed defines the exit code of a failed command
	ExitFailed = 1
)

var (
	logLevel string
	logFile  string

	rootCmd = &cobra.Command{
		Use:          "capsulectl",
		Short:        "provisions CloudyDesk on the target host",
		Long:         "",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			util.SetFlagsFromEnvVars(cmd)
			if err := util.InitLog(logLevel, logFile); err != nil {
				return fmt.Errorf("failed initializing log %v", err)
			}
			return nil
		},
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "sets log level")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", util.LogConsole, "sets log path. If console is specified the log will be output to stderr")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(updateLicenseCmd)
	rootCmd.AddCommand(versionCmd)
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
