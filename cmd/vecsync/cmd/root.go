// Package cmd provides the CLI commands for vecsync.
package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/pkazakov/vecsync/internal/config"
	"github.com/pkazakov/vecsync/internal/embed"
	apperrors "github.com/pkazakov/vecsync/internal/errors"
	"github.com/pkazakov/vecsync/internal/extract"
	"github.com/pkazakov/vecsync/internal/logging"
	"github.com/pkazakov/vecsync/internal/orchestrator"
	"github.com/pkazakov/vecsync/internal/rerank"
	"github.com/pkazakov/vecsync/internal/store"
	"github.com/pkazakov/vecsync/internal/syncer"
	"github.com/pkazakov/vecsync/pkg/version"
)

// Persistent flags shared by every subcommand.
var (
	configPath string
	dataDir    string
	logLevel   string
	offline    bool
)

// NewRootCmd creates the root command for the vecsync CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vecsync",
		Short: "Keep a local vector index synchronized with watched folders",
		Long: `vecsync watches folders for file changes and keeps a local vector
index up to date: new and modified files are chunked and embedded,
deleted files disappear from the index, and the whole registry
survives restarts.

Register folders with 'vecsync watch', run the synchronizer with
'vecsync run', and query the index with 'vecsync search'.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("vecsync version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (YAML)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Directory holding the index database")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&offline, "offline", false, "Use static embeddings (no embedding server required)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newUnwatchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// loadConfig reads the config file when given, otherwise the defaults,
// and applies flag overrides.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configPath != "" {
		cfg, err = config.Load(configPath)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
	}

	if dataDir != "" {
		cfg.Store.DataDir = dataDir
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if offline {
		cfg.Embeddings.Provider = "static"
	}
	return cfg, nil
}

// env holds the assembled runtime dependencies of a command.
type env struct {
	cfg   *config.Config
	log   *slog.Logger
	store *store.LocalStore
	orch  *orchestrator.Orchestrator
	pool  *syncer.Pool
}

// newEnv opens the store and builds the orchestrator with its embedding
// and rerank providers. The returned cleanup releases everything in
// reverse order.
func newEnv(ctx context.Context) (*env, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	log, logCleanup, err := logging.Setup(logging.Config{
		Level:         cfg.Logging.Level,
		FilePath:      cfg.Logging.FilePath,
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: cfg.Logging.FilePath == "",
	})
	if err != nil {
		return nil, nil, err
	}

	st, err := store.OpenLocal(ctx, cfg.Store.DataDir, log)
	if err != nil {
		logCleanup()
		return nil, nil, err
	}

	embedder, err := embed.NewFromProvider(embed.ProviderConfig{
		Provider:   cfg.Embeddings.Provider,
		Host:       cfg.Embeddings.Host,
		Model:      cfg.Embeddings.Model,
		Dimensions: cfg.Embeddings.Dimensions,
		BatchSize:  cfg.Embeddings.BatchSize,
		CacheSize:  cfg.Embeddings.CacheSize,
		Timeout:    cfg.Embeddings.Timeout,
	})
	if err != nil {
		_ = st.Close()
		logCleanup()
		return nil, nil, err
	}

	var reranker rerank.Reranker = rerank.NewLexicalReranker()
	if cfg.Rerank.Endpoint != "" {
		reranker = rerank.NewHTTPReranker(rerank.HTTPConfig{Endpoint: cfg.Rerank.Endpoint})
	}

	gateway := extract.NewGateway(
		extract.WithMaxFileSize(int64(cfg.Watch.MaxFileSizeMB)*1024*1024),
		extract.WithFallbackEncoding(cfg.Watch.FallbackEncoding),
	)

	pool := syncer.NewPool(cfg.Watch.Workers, cfg.Watch.QueueDepth)

	orch := orchestrator.New(orchestrator.Config{
		CollectionPrefix: cfg.Store.CollectionPrefix,
		ChunkSizeWords:   cfg.Chunking.SizeWords,
		OverlapRatio:     cfg.Chunking.OverlapRatio,
		SettleWindow:     cfg.Watch.SettleWindow,
		Retry: apperrors.RetryConfig{
			MaxRetries:   cfg.Retry.MaxRetries,
			InitialDelay: cfg.Retry.InitialDelay,
			MaxDelay:     cfg.Retry.MaxDelay,
			Multiplier:   cfg.Retry.Multiplier,
		},
		PersistInterval:      cfg.Watch.PersistInterval,
		SweepInterval:        cfg.Watch.SweepInterval,
		SearchScoreThreshold: cfg.Search.ScoreThreshold,
		RerankScoreThreshold: cfg.Rerank.ScoreThreshold,
		SearchLimit:          cfg.Search.Limit,
	}, st, embedder, reranker, gateway, pool, log)

	e := &env{cfg: cfg, log: log, store: st, orch: orch, pool: pool}
	cleanup := func() {
		shutdownCtx := context.Background()
		if err := orch.Close(shutdownCtx); err != nil {
			log.Error("orchestrator shutdown", slog.String("error", err.Error()))
		}
		_ = pool.Close(shutdownCtx)
		_ = embedder.Close()
		_ = reranker.Close()
		if err := st.Close(); err != nil {
			log.Error("store close", slog.String("error", err.Error()))
		}
		logCleanup()
	}
	return e, cleanup, nil
}

// printError writes a structured error to the command's error stream.
func printError(cmd *cobra.Command, err error) {
	var appErr *apperrors.Error
	if stderrors.As(err, &appErr) {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", appErr.Message)
		for k, v := range appErr.Details {
			fmt.Fprintf(cmd.ErrOrStderr(), "  %s: %s\n", k, v)
		}
		return
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
}
