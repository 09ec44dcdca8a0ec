package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"agrisense/chain"
	"agrisense/handlers"
	"agrisense/logger"
	"agrisense/routers"
)

const (
	redialInterval  = 15 * time.Second
	shutdownTimeout = 5 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the model sync loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Logger.Info("Starting AgriSense model sync server...")

	engine, ldb, err := newEngine(cfg)
	if err != nil {
		logger.Logger.Error("Failed to open model store", zap.Error(err))
		return err
	}
	defer ldb.Close()

	h := handlers.NewHandler(engine, cfg.IPFS.Gateway)
	r := mux.NewRouter()
	routers.RegisterRoutes(r, h)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	g, ctx := errgroup.WithContext(ctx)

	attach := func(client *chain.Client) {
		engine.SetReader(client, client.URL())
		h.SetChain(client, chain.NewPredictionReader(
			client.Backend(),
			common.HexToAddress(cfg.Chain.PredictionRegistryAddress),
			cfg.Chain.DeployBlock,
			cfg.Sync.BatchSize,
		))
		if cfg.Watch.Enabled {
			w := chain.NewWatcher(client, cfg.Watch.PollInterval, engine.Notify)
			g.Go(func() error { return w.Run(ctx) })
		}
	}

	client, err := chain.Dial(ctx, cfg.Chain.RPCURLs, registryAddress(cfg))
	if err != nil {
		logger.Logger.Warn("No read RPC reachable, retrying in background", zap.Error(err))
		g.Go(func() error {
			c := redial(ctx)
			if c == nil {
				return nil
			}
			defer c.Close()
			attach(c)
			engine.Notify()
			<-ctx.Done()
			return nil
		})
	} else {
		attach(client)
	}
	defer func() {
		if client != nil {
			client.Close()
		}
	}()

	g.Go(func() error { return engine.Run(ctx) })

	g.Go(func() error {
		logger.Logger.Info("Server running on port", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-ctx.Done()
		logger.Logger.Info("Shutdown signal received, exiting...")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	return g.Wait()
}

// redial retries the configured endpoints until one answers or ctx is done.
func redial(ctx context.Context) *chain.Client {
	t := time.NewTicker(redialInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		c, err := chain.Dial(ctx, cfg.Chain.RPCURLs, registryAddress(cfg))
		if err == nil {
			return c
		}
		logger.Logger.Debug("Read RPC still unreachable", zap.Error(err))
	}
}

var servePort int

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "override server.port")
	serveCmd.PreRun = func(cmd *cobra.Command, args []string) {
		if cmd.Flags().Changed("port") {
			cfg.Server.Port = servePort
		}
	}
}
