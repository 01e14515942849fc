package cmd

import (
	"os"
	"strings"

	"github.com/anoncenomics/domain-indexer/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "domain-indexer",
	Short: "The domain indexer backfills per-epoch staking state for Autonomys domains",
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	initConfig(rootCmd)

	rootCmd.PersistentFlags().Bool(config.Debug, false, `"true" or "false"`)

	rootCmd.PersistentFlags().String(config.RpcUrl, "", `e.g. "http://<hostname>:9944"`)
	rootCmd.PersistentFlags().String(config.RpcUser, "", `Basic auth username for the RPC gateway`)
	rootCmd.PersistentFlags().String(config.RpcPassword, "", `Basic auth password for the RPC gateway`)

	rootCmd.PersistentFlags().String(config.DatabaseHost, "localhost", `PostgreSQL host`)
	rootCmd.PersistentFlags().Int(config.DatabasePort, 5432, `PostgreSQL port`)
	rootCmd.PersistentFlags().String(config.DatabaseUser, "domain_indexer", `PostgreSQL username`)
	rootCmd.PersistentFlags().String(config.DatabasePassword, "", `PostgreSQL password`)
	rootCmd.PersistentFlags().String(config.DatabaseDbName, "domain_indexer", `PostgreSQL database name`)
	rootCmd.PersistentFlags().String(config.DatabaseSchemaName, "", `PostgreSQL schema name (default "public")`)
	rootCmd.PersistentFlags().String(config.DatabaseSSLMode, "disable", `PostgreSQL ssl mode`)

	rootCmd.PersistentFlags().Bool(config.DataDogStatsdEnabled, false, `e.g. "true" or "false"`)
	rootCmd.PersistentFlags().String(config.DataDogStatsdUrl, "", `e.g. "localhost:8125"`)

	rootCmd.PersistentFlags().Bool(config.PrometheusEnabled, false, `e.g. "true" or "false"`)
	rootCmd.PersistentFlags().Int(config.PrometheusPort, 2112, `The port to run the prometheus server on`)

	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(runDatabaseCmd)
	rootCmd.AddCommand(runVersionCmd)

	backfillCmd.PersistentFlags().Uint32(config.BackfillDomainId, 0, `The domain id to backfill`)
	backfillCmd.PersistentFlags().Int64(config.BackfillFromEpoch, 0, `The first epoch to backfill`)
	backfillCmd.PersistentFlags().String(config.BackfillToEpoch, config.ToEpochCurrent, `The last epoch to backfill, or "current"`)
	backfillCmd.PersistentFlags().Int(config.BackfillConcurrency, 4, `The number of epochs processed in parallel`)
	backfillCmd.PersistentFlags().Int(config.BackfillBatchSize, 10, `The number of epochs per batch`)
	backfillCmd.PersistentFlags().Bool(config.BackfillResume, false, `Resume after the last committed epoch`)

	exportCmd.PersistentFlags().Uint32(config.BackfillDomainId, 0, `The domain id to export`)
	exportCmd.PersistentFlags().String(config.ExportOutputFile, "", `Path to write the CSV file to (required)`)

	rootCmd.PersistentFlags().VisitAll(func(f *pflag.Flag) {
		key := config.KebabToSnakeCase(f.Name)
		viper.BindPFlag(key, f) //nolint:errcheck
		viper.BindEnv(key)      //nolint:errcheck
	})
}

func initConfig(cmd *cobra.Command) {
	viper.SetEnvPrefix(config.ENV_PREFIX)

	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	viper.AutomaticEnv()
}
