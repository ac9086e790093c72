package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/cloudydesk/provisioning/license"
	"github.com/cloudydesk/provisioning/util"
)

const defaultInstallDir = `C:\Program Files\CloudyDesk`

var (
	newLicenseKey string
	executable    string

	updateLicenseCmd = &cobra.Command{
		Use:   "update-license",
		Short: "replaces the license key of an installed product",
		Long:  "Rewrites the license override file next to the product executable. Restart the product to apply it.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			key := newLicenseKey
			if key == "" {
				var err error
				if key, err = readKey(); err != nil {
					return err
				}
			}

			if !util.IsAdmin() {
				log.Warnf("not running elevated, writing to %s may be denied", installDir)
			}

			path, err := license.Update(ctx, installDir, executable, key, time.Now())
			if err != nil {
				return err
			}
			cmd.Printf("license override written to %s\n", path)
			cmd.Println("restart CloudyDesk to apply the new license key")
			return nil
		},
	}
)

func init() {
	updateLicenseCmd.Flags().StringVar(&newLicenseKey, "license-key", "", "new license key, prompted for when empty")
	updateLicenseCmd.Flags().StringVar(&installDir, "install-dir", defaultInstallDir, "product installation directory")
	updateLicenseCmd.Flags().StringVar(&executable, "executable", "cloudydesk.exe", "product executable expected in the installation directory")
}

func readKey() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("--license-key is required when not running interactively")
	}
	fmt.Fprint(os.Stderr, "New license key: ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read license key: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}
