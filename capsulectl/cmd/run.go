package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cloudydesk/provisioning/capsule"
	"github.com/cloudydesk/provisioning/capsule/runtime"
)

var (
	manifestPath string

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "acquires, installs and configures CloudyDesk as described by a capsule manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			SetupCloseHandler(ctx, cancel)

			abs, err := filepath.Abs(manifestPath)
			if err != nil {
				return err
			}
			m, err := capsule.LoadManifest(abs)
			if err != nil {
				return err
			}

			outcome := runtime.New(m, filepath.Dir(abs)).Run(ctx)
			printOutcome(cmd, outcome)
			if !runtime.IsSuccessful(outcome.State) {
				return fmt.Errorf("provisioning of %s failed: %w", m.Client.AgentID, outcome.Err)
			}
			return nil
		},
	}
)

func init() {
	runCmd.Flags().StringVar(&manifestPath, "manifest", "", "capsule manifest file")
	_ = runCmd.MarkFlagRequired("manifest")
}

func printOutcome(cmd *cobra.Command, o runtime.Outcome) {
	cmd.Printf("state: %s\n", o.State)
	if o.InstallDir != "" {
		cmd.Printf("installed at: %s\n", o.InstallDir)
	}
	for _, w := range o.Warnings {
		cmd.Printf("warning: %s\n", w)
	}
}
