package config

import (
	"errors"
	"strconv"

	"github.com/rs/zerolog/log"
)

// Database drivers understood by the state package.
const (
	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"
)

// Endpoint configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// EthRPC is the JSON-RPC endpoint the margin engines are read from.
	EthRPC string
	// RegistryPath is the YAML registry file. Empty uses the embedded registry.
	RegistryPath string
	// WebPort is the port of the operator API.
	WebPort string

	// DBDriver is DBDriverPostgres or DBDriverSQLite.
	DBDriver string
	// SQLitePath is the database file when DBDriver is sqlite.
	SQLitePath string
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// ObserveCron and CycleCron are six-field cron specs (with seconds).
	ObserveCron string
	CycleCron   string
)

// loadEndpointConfig loads endpoint configuration from environment variables.
// This function is called by LoadConfig() in General.go.
func loadEndpointConfig() error {
	log.Info().Msg("Loading endpoint configuration from environment variables...")

	EthRPC = getEnvOrDefault("ETH_RPC_URL", "")
	RegistryPath = getEnvOrDefault("REGISTRY_PATH", "")
	WebPort = getEnvOrDefault("WEB_PORT", "8080")

	DBDriver = getEnvOrDefault("DB_DRIVER", DBDriverSQLite)
	switch DBDriver {
	case DBDriverSQLite:
		SQLitePath = getEnvOrDefault("SQLITE_PATH", "lpo.db")
	case DBDriverPostgres:
		var err error
		if DBHost, err = getEnv("DB_HOST"); err != nil {
			return err
		}
		port, err := getEnvAsUint64OrDefault("DB_PORT", 5432)
		if err != nil {
			return err
		}
		DBPort = int(port)
		if DBUser, err = getEnv("DB_USER"); err != nil {
			return err
		}
		DBPassword = getEnvOrDefault("DB_PASSWORD", "")
		if DBName, err = getEnv("DB_NAME"); err != nil {
			return err
		}
		DBSSLMode = getEnvOrDefault("DB_SSLMODE", "disable")
	default:
		return errors.New("environment variable DB_DRIVER must be \"postgres\" or \"sqlite\", got: " + DBDriver)
	}

	ObserveCron = getEnvOrDefault("OBSERVE_CRON", DefaultObserveCron)
	CycleCron = getEnvOrDefault("CYCLE_CRON", DefaultCycleCron)

	log.Debug().
		Bool("EthRPC", EthRPC != "").
		Str("RegistryPath", RegistryPath).
		Str("WebPort", WebPort).
		Str("DBDriver", DBDriver).
		Str("DBPort", strconv.Itoa(DBPort)).
		Str("ObserveCron", ObserveCron).
		Str("CycleCron", CycleCron).
		Msg("Endpoint configuration loaded successfully.")

	return nil
}
