package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cloudydesk/provisioning/config"
	"github.com/cloudydesk/provisioning/storage"
)

var (
	listenAddress string

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "serves signed download grants of the local storage driver",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Storage.Driver != config.StorageDriverLocal {
				return fmt.Errorf("serve requires the %q storage driver, configured %q", config.StorageDriverLocal, cfg.Storage.Driver)
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()

			gw, err := newGateway(ctx, cfg)
			if err != nil {
				return err
			}
			local, ok := gw.(*storage.LocalGateway)
			if !ok {
				return fmt.Errorf("unexpected gateway %T", gw)
			}

			return serveGrants(ctx, local)
		},
	}
)

func init() {
	serveCmd.Flags().StringVar(&listenAddress, "listen", ":8080", "address to serve grant downloads on")
}

func serveGrants(ctx context.Context, gw *storage.LocalGateway) error {
	base, err := url.Parse(cfg.Storage.LocalBaseURL)
	if err != nil {
		return fmt.Errorf("invalid storage.localBaseURL: %w", err)
	}

	mux := http.NewServeMux()
	prefix := base.Path
	if prefix == "" {
		prefix = "/"
	} else if prefix[len(prefix)-1] != '/' {
		prefix += "/"
	}
	mux.Handle(prefix, gw.Handler())

	srv := &http.Server{
		Addr:              listenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorf("failed to shut down grant server: %v", err)
		}
	}()

	log.Infof("serving grants for %s on %s", cfg.Storage.LocalBaseURL, listenAddress)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
