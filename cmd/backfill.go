package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/anoncenomics/domain-indexer/internal/config"
	"github.com/anoncenomics/domain-indexer/internal/logger"
	"github.com/anoncenomics/domain-indexer/internal/metrics"
	prometheusServer "github.com/anoncenomics/domain-indexer/internal/metrics/prometheus"
	"github.com/anoncenomics/domain-indexer/internal/shutdown"
	"github.com/anoncenomics/domain-indexer/pkg/backfill"
	"github.com/anoncenomics/domain-indexer/pkg/clients/substrate"
	"github.com/anoncenomics/domain-indexer/pkg/fetcher"
	"github.com/anoncenomics/domain-indexer/pkg/normalizer"
	"github.com/anoncenomics/domain-indexer/pkg/pipeline"
	"github.com/anoncenomics/domain-indexer/pkg/pool"
	"github.com/anoncenomics/domain-indexer/pkg/postgres"
	"github.com/anoncenomics/domain-indexer/pkg/postgres/migrations"
	pgStorage "github.com/anoncenomics/domain-indexer/pkg/storage/postgres"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Backfill per-epoch staking state for a domain",
	Run: func(cmd *cobra.Command, args []string) {
		initBackfillCmd(cmd)
		cfg := config.NewConfig()

		l, _ := logger.NewLogger(&logger.LoggerConfig{Debug: cfg.Debug})

		if err := cfg.Validate(); err != nil {
			l.Sugar().Fatalw("Invalid configuration", zap.Error(err))
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		metricsClients, err := metrics.InitMetricsSinksFromConfig(cfg, l)
		if err != nil {
			l.Sugar().Fatalw("Failed to setup metrics clients", zap.Error(err))
		}
		sink, err := metrics.NewMetricsSink(&metrics.MetricsSinkConfig{}, metricsClients)
		if err != nil {
			l.Sugar().Fatalw("Failed to setup metrics sink", zap.Error(err))
		}

		prometheusShutdown := make(chan bool)
		if cfg.PrometheusConfig.Enabled {
			ps := prometheusServer.NewPrometheusServer(&prometheusServer.PrometheusServerConfig{
				Port: cfg.PrometheusConfig.Port,
			}, l)
			if err := ps.Start(prometheusShutdown); err != nil {
				l.Sugar().Fatalw("Failed to start prometheus server", zap.Error(err))
			}
		}

		pgConfig := postgres.PostgresConfigFromDbConfig(&cfg.DatabaseConfig)
		pgConfig.CreateDbIfNotExists = true

		pg, err := postgres.NewPostgres(pgConfig)
		if err != nil {
			l.Sugar().Fatalw("Failed to setup postgres connection", zap.Error(err))
		}

		grm, err := postgres.NewGormFromPostgresConnection(pg.Db)
		if err != nil {
			l.Sugar().Fatalw("Failed to create gorm instance", zap.Error(err))
		}

		migrator := migrations.NewMigrator(pg.Db, grm, l)
		if err = migrator.MigrateAll(); err != nil {
			l.Sugar().Fatalw("Failed to migrate", zap.Error(err))
		}

		store := pgStorage.NewPostgresEpochStore(grm, l, cfg)

		clientConfig := substrate.DefaultSubstrateClientConfig()
		clientConfig.BaseUrl = cfg.RpcConfig.BaseUrl
		clientConfig.Username = cfg.RpcConfig.Username
		clientConfig.Password = cfg.RpcConfig.Password

		connectionPool, err := pool.NewPool(ctx, cfg.BackfillConfig.Concurrency, func() (substrate.RPC, error) {
			client := substrate.NewClient(clientConfig, l)
			client.SetMetricsSink(sink)
			return client, nil
		}, l)
		if err != nil {
			l.Sugar().Fatalw("Failed to create connection pool", zap.Error(err))
		}
		defer connectionPool.Close()

		p := pipeline.NewPipeline(
			fetcher.NewFetcher(l),
			normalizer.NewNormalizer(l),
			store,
			cfg.BackfillConfig.DomainId,
			l,
			sink,
		)

		bf := backfill.NewBackfill(connectionPool, p, store, cfg, l, sink)

		gracefulShutdown := shutdown.CreateGracefulShutdownChannel()
		done := make(chan bool)
		go shutdown.ListenForShutdown(gracefulShutdown, done, func() {
			l.Sugar().Info("Shutting down backfill")
			bf.Stop()
			if cfg.PrometheusConfig.Enabled {
				prometheusShutdown <- true
			}
		}, time.Second*5, l)

		result, err := bf.Run(ctx)
		if err != nil {
			// interruption is not a failure; the tallies below still apply
			if !errors.Is(err, context.Canceled) {
				l.Sugar().Fatalw("Backfill aborted", zap.Error(err))
			}
			l.Sugar().Infow("Backfill interrupted", zap.Error(err))
		}

		if result != nil {
			fmt.Printf("Backfill finished: %d processed, %d skipped, %d failed (epochs %d..%d)\n",
				len(result.Processed), len(result.Skipped), len(result.Failed), result.FromEpoch, result.ToEpoch)
			for epoch, epochErr := range result.Failed {
				fmt.Printf("  epoch %d failed: %v\n", epoch, epochErr)
			}
		}
	},
}

func initBackfillCmd(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		key := config.KebabToSnakeCase(f.Name)
		if err := viper.BindPFlag(key, f); err != nil {
			fmt.Printf("Failed to bind flag '%s' - %+v\n", f.Name, err)
		}
		if err := viper.BindEnv(key); err != nil {
			fmt.Printf("Failed to bind env '%s' - %+v\n", f.Name, err)
		}
	})
}
