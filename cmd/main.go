package main

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"agrisense/config"
	"agrisense/db"
	"agrisense/logger"
	"agrisense/modelsync"
	"agrisense/repository"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "agrisense",
	Short: "AgriSense model registry sync service",
	Long: `agrisense mirrors the on-chain AgriSense model registry.

It scans ModelRegistered events incrementally, resolves each model from
the registry contract and serves the merged collection over HTTP.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := logger.InitLogger(cfg.Log.AppLogFile, cfg.Log.Level); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is config/config.yaml)")
	rootCmd.AddCommand(serveCmd, scanCmd)
}

func engineConfig(c *config.Config) modelsync.Config {
	return modelsync.Config{
		DeployBlock:    c.Chain.DeployBlock,
		BatchSize:      c.Sync.BatchSize,
		MinBatchSize:   c.Sync.MinBatchSize,
		BatchDelay:     c.Sync.BatchDelay,
		FallbackWindow: c.Sync.FallbackWindow,
		Interval:       c.Sync.Interval,
	}
}

// newEngine opens the in-memory model store and builds an engine with no
// read client attached.
func newEngine(c *config.Config) (*modelsync.Engine, *db.LevelDB, error) {
	ldb, err := db.NewMemLevelDB()
	if err != nil {
		return nil, nil, err
	}
	repo := repository.NewModelRepository(ldb)
	return modelsync.NewEngine(nil, "", repo, engineConfig(c)), ldb, nil
}

func registryAddress(c *config.Config) common.Address {
	return common.HexToAddress(c.Chain.RegistryAddress)
}

func main() {
	err := rootCmd.Execute()
	if err != nil {
		logger.Logger.Error("Command failed", zap.Error(err))
	}
	logger.Logger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
