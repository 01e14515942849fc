package cmd

import (
	"fmt"

	"github.com/anoncenomics/domain-indexer/internal/config"
	"github.com/anoncenomics/domain-indexer/internal/logger"
	"github.com/anoncenomics/domain-indexer/pkg/export"
	"github.com/anoncenomics/domain-indexer/pkg/postgres"
	pgStorage "github.com/anoncenomics/domain-indexer/pkg/storage/postgres"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export per-epoch metrics to CSV",
	Run: func(cmd *cobra.Command, args []string) {
		initExportCmd(cmd)
		cfg := config.NewConfig()

		l, _ := logger.NewLogger(&logger.LoggerConfig{Debug: cfg.Debug})

		if cfg.ExportOutputFile == "" {
			l.Sugar().Fatal("output file is required")
		}

		pgConfig := postgres.PostgresConfigFromDbConfig(&cfg.DatabaseConfig)

		pg, err := postgres.NewPostgres(pgConfig)
		if err != nil {
			l.Sugar().Fatalw("Failed to setup postgres connection", zap.Error(err))
		}

		grm, err := postgres.NewGormFromPostgresConnection(pg.Db)
		if err != nil {
			l.Sugar().Fatalw("Failed to create gorm instance", zap.Error(err))
		}

		store := pgStorage.NewPostgresEpochStore(grm, l, cfg)

		exporter := export.NewExporter(store, l)
		count, err := exporter.ExportEpochMetrics(cfg.BackfillConfig.DomainId, cfg.ExportOutputFile)
		if err != nil {
			l.Sugar().Fatalw("Failed to export epoch metrics", zap.Error(err))
		}

		fmt.Printf("Exported %d epochs to %s\n", count, cfg.ExportOutputFile)
	},
}

func initExportCmd(cmd *cobra.Command) {
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
