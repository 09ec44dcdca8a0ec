package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"agrisense/chain"
	"agrisense/logger"
)

var scanForce bool

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one model scan and print the resolved records as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		engine, ldb, err := newEngine(cfg)
		if err != nil {
			return err
		}
		defer ldb.Close()

		client, err := chain.Dial(ctx, cfg.Chain.RPCURLs, registryAddress(cfg))
		if err != nil {
			return err
		}
		defer client.Close()
		engine.SetReader(client, client.URL())

		recs := engine.FetchModels(ctx, scanForce)
		status := engine.Status()
		logger.Logger.Info("Scan finished",
			zap.Int("resolved", len(recs)),
			zap.Uint64("cursor", status.Cursor),
			zap.Int("failed_scans", status.FailedScans))

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(engine.Models())
	},
}

func init() {
	scanCmd.Flags().BoolVar(&scanForce, "force", false, "rescan only the most recent blocks")
}
