package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/voltz-protocol/lp-optimiser/internal/fixedpoint"
)

// Execution modes. Neither mode signs or submits transactions.
const (
	// ModePaper dispatches plans to an in-memory holding vault.
	ModePaper = "paper"
	// ModePlan computes and persists plans without dispatching them.
	ModePlan = "plan"
)

// AppConfig holds all application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// Network selects the registry table, e.g. "mainnet" or "goerli".
	Network string

	// DriftThreshold is the fraction drift (Wad, 1e18 = 100%) above which a rebalance is required.
	DriftThreshold sdkmath.Int

	// Mode is ModePaper or ModePlan.
	Mode string

	// TickSpacing is the VAMM tick spacing every tick bound must be a multiple of.
	TickSpacing int32

	// MinInstructionAmount suppresses moves smaller than this, in token-native units.
	MinInstructionAmount sdkmath.Int

	// AdminAddress receives every role at boot. Zero leaves the factory without an admin.
	AdminAddress common.Address

	// LogLevel is passed to logger.Initialize.
	LogLevel string

	// LogFile, when set, receives a JSON copy of the console log.
	LogFile string
)

// LoadConfig loads configuration from environment variables and sets the global config vars.
// NETWORK and REBALANCE_DRIFT_WAD are required; everything else has a default.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	Network, err = getEnv("NETWORK")
	if err != nil {
		return err
	}
	Network = strings.ToLower(strings.TrimSpace(Network))

	DriftThreshold, err = getEnvAsWad("REBALANCE_DRIFT_WAD")
	if err != nil {
		return err
	}
	if DriftThreshold.GT(fixedpoint.WAD) {
		return errors.New("environment variable REBALANCE_DRIFT_WAD must be at most 1e18, got: " + DriftThreshold.String())
	}

	Mode = strings.ToLower(getEnvOrDefault("LPO_MODE", ModePlan))
	if Mode != ModePaper && Mode != ModePlan {
		return errors.New("environment variable LPO_MODE must be \"paper\" or \"plan\", got: " + Mode)
	}

	spacing, err := getEnvAsUint64OrDefault("TICK_SPACING", uint64(DefaultTickSpacing))
	if err != nil {
		return err
	}
	if spacing == 0 || spacing > 16384 {
		return errors.New("environment variable TICK_SPACING must be in [1, 16384], got: " + strconv.FormatUint(spacing, 10))
	}
	TickSpacing = int32(spacing)

	MinInstructionAmount, err = getEnvAsWadOrDefault("MIN_INSTRUCTION_AMOUNT", sdkmath.ZeroInt())
	if err != nil {
		return err
	}

	AdminAddress = common.Address{}
	if admin := getEnvOrDefault("ADMIN_ADDRESS", ""); admin != "" {
		if !common.IsHexAddress(admin) {
			return errors.New("environment variable ADMIN_ADDRESS must be a hex address, got: " + admin)
		}
		AdminAddress = common.HexToAddress(admin)
	}

	LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	LogFile = getEnvOrDefault("LOG_FILE", "")

	// Load endpoint configuration
	if err := loadEndpointConfig(); err != nil {
		return err
	}

	log.Debug().
		Str("Network", Network).
		Str("DriftThreshold", DriftThreshold.String()).
		Str("Mode", Mode).
		Int32("TickSpacing", TickSpacing).
		Msg("Configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvOrDefault retrieves a string environment variable, falling back when unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}

// getEnvAsUint64 retrieves an environment variable as a uint64. Returns error if not set or invalid.
func getEnvAsUint64(key string) (uint64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid uint64, got: " + valueStr)
	}
	return value, nil
}

func getEnvAsUint64OrDefault(key string, fallback uint64) (uint64, error) {
	if _, exists := os.LookupEnv(key); !exists {
		return fallback, nil
	}
	return getEnvAsUint64(key)
}

// getEnvAsWad retrieves an environment variable holding a raw fixed-point integer.
func getEnvAsWad(key string) (sdkmath.Int, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return sdkmath.Int{}, err
	}
	value, err := fixedpoint.ParseRaw(valueStr)
	if err != nil {
		return sdkmath.Int{}, errors.New("environment variable " + key + " must be a non-negative integer, got: " + valueStr)
	}
	return value, nil
}

func getEnvAsWadOrDefault(key string, fallback sdkmath.Int) (sdkmath.Int, error) {
	if _, exists := os.LookupEnv(key); !exists {
		return fallback, nil
	}
	return getEnvAsWad(key)
}
