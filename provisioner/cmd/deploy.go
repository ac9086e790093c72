package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cloudydesk/provisioning/shared/status"
)

var (
	buildTimeout time.Duration

	deployCmd = &cobra.Command{
		Use:   "deploy [flags] [-- build command...]",
		Short: "builds, publishes and generates a remote capsule in one go",
		Long: "Runs the optional build command given after --, publishes the build output " +
			"and generates a capsule that downloads it through a fresh grant.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			spec, err := clientSpecFromFlags()
			if err != nil {
				return err
			}
			if err := spec.Validate(); err != nil {
				return err
			}

			var buildArgs []string
			if dash := cmd.ArgsLenAtDash(); dash >= 0 {
				buildArgs = args[dash:]
			}
			if len(buildArgs) > 0 {
				if err := runBuild(ctx, buildArgs); err != nil {
					return err
				}
			}

			gw, err := newGateway(ctx, cfg)
			if err != nil {
				return err
			}
			artifact, err := publish(ctx, gw)
			if err != nil {
				return err
			}
			cmd.Println(artifact.Describe())

			embedded = false
			gen, err := newCapsuleGenerator(ctx)
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
	addClientFlags(deployCmd)
	deployCmd.Flags().StringVar(&distDir, "dist-dir", "dist", "build output directory to publish")
	deployCmd.Flags().DurationVar(&buildTimeout, "build-timeout", 0, "limit for the build command (defaults to timeouts.build)")
}

// runBuild executes the product build with the output streamed to the log
// destination of the calling terminal
func runBuild(ctx context.Context, args []string) error {
	timeout := buildTimeout
	if timeout <= 0 {
		timeout = cfg.Timeouts.Build.Std()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	log.WithContext(ctx).Infof("running build: %v", args)
	build := exec.CommandContext(ctx, args[0], args[1:]...)
	build.Stdout = os.Stdout
	build.Stderr = os.Stderr
	build.WaitDelay = time.Second

	err := build.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return status.Wrap(status.BuildFailed, "build", fmt.Errorf("build timed out after %s", timeout))
	}
	if err != nil {
		return status.Wrap(status.BuildFailed, "build", fmt.Errorf("%v: %w", args, err))
	}
	return nil
}
