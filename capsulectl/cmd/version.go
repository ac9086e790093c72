package cmd

import (
	"github.com/spf13/cobra"

	"github.com/cloudydesk/provisioning/version"
)

var (
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "prints capsulectl version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(version.ProvisioningVersion())
		},
	}
)
