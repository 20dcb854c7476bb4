/*

This file contains the default protocol parameters of the optimiser.

They match the values the strategy contracts were deployed with and are only used when the
registry or the environment does not override them.

*/

package config

import (
	"time"

	"github.com/voltz-protocol/lp-optimiser/internal/fixedpoint"
)

const (
	// DefaultTickSpacing of the Voltz VAMM.
	DefaultTickSpacing int32 = 60

	// DefaultLookbackWindowSeconds is the rate history a sub-vault keeps: 14 days.
	DefaultLookbackWindowSeconds int64 = 1209600

	// DefaultGovernanceDelay is the protocol governance finalisation delay.
	DefaultGovernanceDelay = 86400 * time.Second

	// DefaultObserveCron samples every margin engine once a minute.
	DefaultObserveCron = "0 * * * * *"

	// DefaultCycleCron evaluates every strategy hourly.
	DefaultCycleCron = "0 0 * * * *"

	// DefaultCycleInterval is the RunLoop interval when no scheduler is used.
	DefaultCycleInterval = time.Hour
)

// DefaultLeverage and DefaultMarginMultiplierPostUnwind are the sub-vault setup used by
// every deployed pool (50x leverage, 2x margin after unwind).
var (
	DefaultLeverage                   = fixedpoint.WAD.MulRaw(50)
	DefaultMarginMultiplierPostUnwind = fixedpoint.WAD.MulRaw(2)
)

// DefaultMaxPossibleLowerBound floors every estimated rate at 10%.
var DefaultMaxPossibleLowerBound = fixedpoint.WAD.MulRaw(10)

// DefaultTokenLimitPerAddress leaves per-depositor caps off.
var DefaultTokenLimitPerAddress = fixedpoint.MaxUint256
