package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/cloudydesk/provisioning/grant"
)

var (
	grantKey string
	grantTTL time.Duration

	grantCmd = &cobra.Command{
		Use:   "grant",
		Short: "issues a signed, expiring download URL for the shared artifact",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			gw, err := newGateway(ctx, cfg)
			if err != nil {
				return err
			}

			key := grantKey
			if key == "" {
				key = cfg.Storage.ArtifactKey
			}

			g, err := grant.NewIssuer(gw, cfg).IssueDownloadGrant(ctx, key, grantTTL)
			if err != nil {
				return err
			}
			cmd.Println(g.URL)
			cmd.Printf("expires at %s\n", g.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}
)

func init() {
	grantCmd.Flags().StringVar(&grantKey, "key", "", "object key to grant access to (defaults to storage.artifactKey)")
	grantCmd.Flags().DurationVar(&grantTTL, "ttl", 0, "grant lifetime (defaults to grant.ttl)")
}
