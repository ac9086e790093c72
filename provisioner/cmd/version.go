package cmd

import (
	"github.com/spf13/cobra"

	"github.com/cloudydesk/provisioning/version"
)

var (
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "prints provisioner version",
		// version needs no configuration
		PersistentPreRun: func(cmd *cobra.Command, args []string) {},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(version.ProvisioningVersion())
		},
	}
)
