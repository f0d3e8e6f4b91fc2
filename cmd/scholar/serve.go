package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nugget/scholar/internal/api"
	"github.com/nugget/scholar/internal/buildinfo"
	"github.com/nugget/scholar/internal/mqtt"
)

const shutdownTimeout = 10 * time.Second

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.serve(cmd.Context())
		},
	}
}

// serve runs the API server, and the MQTT mirror when a broker is
// configured, until ctx is cancelled.
//
// The shutdown sequence is:
//  1. SIGINT or SIGTERM cancels the context
//  2. In-flight runs are cancelled; committed checkpoints are kept
//  3. The HTTP server drains and the MQTT publisher goes offline
//  4. The checkpoint store is closed
func (c *cli) serve(ctx context.Context) error {
	cfg, cfgPath, err := c.loadConfig()
	if err != nil {
		return err
	}
	logger := c.logger(cfg, c.stdout)
	logger.Info("starting scholar", "version", buildinfo.Version, "commit", buildinfo.Commit(), "built", buildinfo.Built())
	if cfgPath != "" {
		logger.Info("config loaded", "path", cfgPath, "listen", cfg.ListenAddr())
	} else {
		logger.Info("no config file found, using defaults")
	}

	a, err := c.open(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, a.threads, a.registry, a.bus, logger)

	var publisher *mqtt.Publisher
	if cfg.MQTT.Broker != "" {
		publisher = mqtt.New(cfg.MQTT, a.bus, logger)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Start(gctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if publisher != nil {
		g.Go(func() error { return publisher.Start(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if publisher != nil {
			if err := publisher.Stop(shutdownCtx); err != nil {
				logger.Warn("mqtt disconnect failed", "error", err)
			}
		}
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("scholar stopped")
	return nil
}
