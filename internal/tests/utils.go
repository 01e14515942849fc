package tests

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"os"
	"strconv"

	"github.com/anoncenomics/domain-indexer/internal/config"
)

func GenerateTestDbName() (string, error) {
	suffix, err := rand.Int(rand.Reader, big.NewInt(1_000_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("test_%s", suffix.String()), nil
}

// GetDbConfigFromEnv reads the postgres connection parameters used by
// database-backed tests. Tests skip themselves when TEST_DATABASE_HOST is
// unset.
func GetDbConfigFromEnv() (config.DatabaseConfig, bool) {
	host := os.Getenv("TEST_DATABASE_HOST")
	if host == "" {
		return config.DatabaseConfig{}, false
	}

	port := 5432
	if p := os.Getenv("TEST_DATABASE_PORT"); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil {
			port = parsed
		}
	}

	return config.DatabaseConfig{
		Host:     host,
		Port:     port,
		User:     os.Getenv("TEST_DATABASE_USER"),
		Password: os.Getenv("TEST_DATABASE_PASSWORD"),
		DbName:   os.Getenv("TEST_DATABASE_DB_NAME"),
	}, true
}
