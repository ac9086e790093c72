package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloudydesk/provisioning/capsule"
	"github.com/cloudydesk/provisioning/capsule/installer"
	"github.com/cloudydesk/provisioning/grant"
	"github.com/cloudydesk/provisioning/util"
)

var (
	agentID       string
	licenseKey    string
	withShortcuts bool
	embedded      bool
	batchFile     string
	concurrency   int
	capsuleTTL    time.Duration

	generateCmd = &cobra.Command{
		Use:   "generate",
		Short: "generates a per-client installer capsule",
		Long: "Generates an installer bound to one agent id and license key. " +
			"With --batch a JSON list of {agentId, licenseKey, withShortcuts} objects is generated concurrently.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			gen, err := newCapsuleGenerator(ctx)
			if err != nil {
				return err
			}

			if batchFile != "" {
				var specs []capsule.ClientSpec
				if err := util.ReadJson(batchFile, &specs); err != nil {
					return fmt.Errorf("read batch file: %w", err)
				}
				capsules, err := gen.GenerateBatch(ctx, specs, concurrency)
				if err != nil {
					return err
				}
				for _, c := range capsules {
					printCapsule(cmd, c)
				}
				return nil
			}

			spec, err := clientSpecFromFlags()
			if err != nil {
				return err
			}
			c, err := gen.Generate(ctx, spec)
			if err != nil {
				return err
			}
			printCapsule(cmd, c)
			return nil
		},
	}
)

func init() {
	addClientFlags(generateCmd)
	generateCmd.Flags().BoolVar(&embedded, "embedded", false, "bundle the build output into the capsule instead of downloading it at install time")
	generateCmd.Flags().StringVar(&distDir, "dist-dir", "dist", "build output directory used by --embedded")
	generateCmd.Flags().StringVar(&batchFile, "batch", "", "JSON file listing several clients to generate capsules for")
	generateCmd.Flags().IntVar(&concurrency, "concurrency", 2, "number of capsules generated in parallel with --batch")
}

func addClientFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&agentID, "agent-id", "", "agent id the capsule registers the host as")
	cmd.Flags().StringVar(&licenseKey, "license-key", "", "license key the capsule provisions")
	cmd.Flags().BoolVar(&withShortcuts, "with-shortcuts", false, "create desktop and start menu shortcuts")
	cmd.Flags().DurationVar(&capsuleTTL, "grant-ttl", 0, "lifetime of the download grant baked into the capsule (defaults to grant.ttl)")
}

// clientSpecFromFlags prompts for missing values when attached to a terminal
func clientSpecFromFlags() (capsule.ClientSpec, error) {
	spec := capsule.ClientSpec{AgentID: agentID, LicenseKey: licenseKey, WithShortcuts: withShortcuts}
	if spec.AgentID != "" && spec.LicenseKey != "" {
		return spec, nil
	}

	p, ok := newTerminalPrompter()
	if !ok {
		return spec, fmt.Errorf("--agent-id and --license-key are required when not running interactively")
	}
	return p.complete(spec)
}

func newCapsuleGenerator(ctx context.Context) (*capsule.Generator, error) {
	var strategy capsule.Strategy
	if embedded {
		strategy = capsule.EmbeddedStrategy{SourceDir: distDir}
	} else {
		gw, err := newGateway(ctx, cfg)
		if err != nil {
			return nil, err
		}
		strategy = capsule.RemoteStrategy{
			Grants:      grant.NewIssuer(gw, cfg),
			ArtifactKey: cfg.Storage.ArtifactKey,
			TTL:         capsuleTTL,
		}
	}

	compiler := installer.NewMakeNSIS(cfg.Builder.CompilerPaths, cfg.Builder.ProbeTimeout.Std(), cfg.Builder.CompileTimeout.Std())
	return capsule.NewGenerator(cfg, strategy, compiler), nil
}

func printCapsule(cmd *cobra.Command, c capsule.Capsule) {
	cmd.Printf("%s: %s (%d bytes, %s", c.Spec.AgentID, c.OutputPath, c.Size, c.Acquisition.Mode)
	if c.Acquisition.Mode == capsule.AcquireRemote {
		cmd.Printf(", grant expires %s", c.Acquisition.ExpiresAt.Format(time.RFC3339))
	}
	cmd.Println(")")
}
