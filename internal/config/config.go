package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const ENV_PREFIX = "DOMAIN_INDEXER"

// Flag names. Viper keys are derived from these with KebabToSnakeCase.
const (
	Debug = "debug"

	RpcUrl      = "rpc.url"
	RpcUser     = "rpc.user"
	RpcPassword = "rpc.password"

	DatabaseHost       = "database.host"
	DatabasePort       = "database.port"
	DatabaseUser       = "database.user"
	DatabasePassword   = "database.password"
	DatabaseDbName     = "database.db_name"
	DatabaseSchemaName = "database.schema_name"
	DatabaseSSLMode    = "database.ssl_mode"

	BackfillDomainId    = "domain"
	BackfillFromEpoch   = "from"
	BackfillToEpoch     = "to"
	BackfillConcurrency = "concurrency"
	BackfillBatchSize   = "batch-size"
	BackfillResume      = "resume"

	ExportOutputFile = "export.output-file"

	DataDogStatsdEnabled = "datadog.statsd.enabled"
	DataDogStatsdUrl     = "datadog.statsd.url"
	PrometheusEnabled    = "prometheus.enabled"
	PrometheusPort       = "prometheus.port"
)

// ToEpochCurrent is the sentinel accepted by --to meaning "the last closed
// epoch at the time the run starts".
const ToEpochCurrent = "current"

type Config struct {
	Debug bool

	RpcConfig        RpcConfig
	DatabaseConfig   DatabaseConfig
	BackfillConfig   BackfillConfig
	DataDogConfig    DataDogConfig
	PrometheusConfig PrometheusConfig

	ExportOutputFile string
}

type RpcConfig struct {
	BaseUrl  string
	Username string
	Password string
}

type DatabaseConfig struct {
	Host       string
	Port       int
	User       string
	Password   string
	DbName     string
	SchemaName string
	SSLMode    string
}

type BackfillConfig struct {
	DomainId    uint32
	FromEpoch   int64
	ToEpoch     string
	Concurrency int
	BatchSize   int
	Resume      bool
}

type DataDogConfig struct {
	StatsdConfig StatsdConfig
}

type StatsdConfig struct {
	Enabled bool
	Url     string
}

type PrometheusConfig struct {
	Enabled bool
	Port    int
}

func NewConfig() *Config {
	return &Config{
		Debug: viper.GetBool(KebabToSnakeCase(Debug)),

		RpcConfig: RpcConfig{
			BaseUrl:  viper.GetString(KebabToSnakeCase(RpcUrl)),
			Username: viper.GetString(KebabToSnakeCase(RpcUser)),
			Password: viper.GetString(KebabToSnakeCase(RpcPassword)),
		},

		DatabaseConfig: DatabaseConfig{
			Host:       viper.GetString(KebabToSnakeCase(DatabaseHost)),
			Port:       viper.GetInt(KebabToSnakeCase(DatabasePort)),
			User:       viper.GetString(KebabToSnakeCase(DatabaseUser)),
			Password:   viper.GetString(KebabToSnakeCase(DatabasePassword)),
			DbName:     viper.GetString(KebabToSnakeCase(DatabaseDbName)),
			SchemaName: viper.GetString(KebabToSnakeCase(DatabaseSchemaName)),
			SSLMode:    viper.GetString(KebabToSnakeCase(DatabaseSSLMode)),
		},

		BackfillConfig: BackfillConfig{
			DomainId:    viper.GetUint32(KebabToSnakeCase(BackfillDomainId)),
			FromEpoch:   viper.GetInt64(KebabToSnakeCase(BackfillFromEpoch)),
			ToEpoch:     viper.GetString(KebabToSnakeCase(BackfillToEpoch)),
			Concurrency: viper.GetInt(KebabToSnakeCase(BackfillConcurrency)),
			BatchSize:   viper.GetInt(KebabToSnakeCase(BackfillBatchSize)),
			Resume:      viper.GetBool(KebabToSnakeCase(BackfillResume)),
		},

		DataDogConfig: DataDogConfig{
			StatsdConfig: StatsdConfig{
				Enabled: viper.GetBool(KebabToSnakeCase(DataDogStatsdEnabled)),
				Url:     viper.GetString(KebabToSnakeCase(DataDogStatsdUrl)),
			},
		},

		PrometheusConfig: PrometheusConfig{
			Enabled: viper.GetBool(KebabToSnakeCase(PrometheusEnabled)),
			Port:    viper.GetInt(KebabToSnakeCase(PrometheusPort)),
		},

		ExportOutputFile: viper.GetString(KebabToSnakeCase(ExportOutputFile)),
	}
}

func (c *Config) Validate() error {
	if c.RpcConfig.BaseUrl == "" {
		return fmt.Errorf("rpc.url is required")
	}
	return nil
}

// KebabToSnakeCase converts flag names into the form viper uses for env
// binding, e.g. "batch-size" -> "batch_size" and "rpc.url" -> "rpc.url".
func KebabToSnakeCase(str string) string {
	return strings.ReplaceAll(str, "-", "_")
}
