package cmd

import (
	"context"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cloudydesk/provisioning/publisher"
	"github.com/cloudydesk/provisioning/storage"
)

var (
	distDir string

	publishCmd = &cobra.Command{
		Use:   "publish",
		Short: "compresses the build output and uploads it as the shared artifact",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			gw, err := newGateway(ctx, cfg)
			if err != nil {
				return err
			}

			artifact, err := publish(ctx, gw)
			if err != nil {
				return err
			}
			cmd.Println(artifact.Describe())
			return nil
		},
	}
)

func init() {
	publishCmd.Flags().StringVar(&distDir, "dist-dir", "dist", "build output directory to publish")
}

func publish(ctx context.Context, gw storage.Gateway) (publisher.BuildArtifact, error) {
	if masked, ok := publisher.CheckBakedEntitlement(os.LookupEnv); ok {
		log.Warnf("%s=%s is set in the build environment, the shared artifact should not carry a default entitlement",
			publisher.BakedEntitlementEnv, masked)
	}
	return publisher.New(gw, cfg).Publish(ctx, distDir)
}
