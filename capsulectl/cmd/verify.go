package cmd

import (
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cloudydesk/provisioning/publisher"
	"github.com/cloudydesk/provisioning/util"
	"github.com/cloudydesk/provisioning/verifier"
)

var (
	hostConfigPath string
	installLogPath string
	installDir     string

	verifyCmd = &cobra.Command{
		Use:   "verify",
		Short: "checks the host configuration and install log written by the product",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := verifier.Verify(hostConfigPath, installLogPath)
			if err != nil {
				return err
			}
			cmd.Println(report.String())
			for _, line := range report.Tail {
				cmd.Printf("  | %s\n", line)
			}

			ent, err := verifier.EffectiveEntitlement(installDir, hostConfigPath, os.Getenv(publisher.BakedEntitlementEnv))
			if err != nil {
				log.Warnf("could not resolve the effective license key: %v", err)
			} else {
				cmd.Printf("effective license key: %s (source %s)\n", util.MaskSecret(ent.Key), ent.Source)
			}

			if !report.OK() {
				if missing := report.Missing(); len(missing) > 0 {
					return fmt.Errorf("provisioning incomplete, missing %s", strings.Join(missing, ", "))
				}
				return fmt.Errorf("provisioning incomplete, registration not observed in %s", installLogPath)
			}
			return nil
		},
	}
)

func init() {
	defaultConfig, defaultLog, err := verifier.DefaultPaths()
	if err != nil {
		defaultConfig, defaultLog = "", ""
	}

	verifyCmd.Flags().StringVar(&hostConfigPath, "config", defaultConfig, "product host configuration file")
	verifyCmd.Flags().StringVar(&installLogPath, "log", defaultLog, "product install log")
	verifyCmd.Flags().StringVar(&installDir, "install-dir", defaultInstallDir, "product installation directory")
}
