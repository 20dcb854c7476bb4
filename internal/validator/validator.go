/*

This file contains the bounds validator run on every sub-vault registration, reconfiguration
and strategy creation before anything reaches the policy engine.

Every offending field is collected so the caller sees the full list in one error.

*/

package validator

import (
	"fmt"
	"strings"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/voltz-protocol/lp-optimiser/internal/fixedpoint"
	"github.com/voltz-protocol/lp-optimiser/internal/types"
)

const (
	DefaultTickSpacing int32 = 60
	// MaxTick is the largest usable VAMM tick; MinTick is its negation.
	MaxTick int32 = 887272
)

// FieldError names one offending field.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError lists every offending field. It matches types.ErrInvalidConfig under errors.Is.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Reason
	}
	return types.ErrInvalidConfig.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return types.ErrInvalidConfig
}

// FieldNames returns the offending field names in report order.
func (e *ValidationError) FieldNames() []string {
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = f.Field
	}
	return names
}

type collector struct {
	prefix string
	fields []FieldError
}

func (c *collector) add(field, format string, args ...any) {
	c.fields = append(c.fields, FieldError{Field: c.prefix + field, Reason: fmt.Sprintf(format, args...)})
}

func (c *collector) err() error {
	if len(c.fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: c.fields}
}

// Validator checks static bounds against a tick spacing.
type Validator struct {
	tickSpacing int32
	maxTick     int32
}

// New returns a validator for the given tick spacing. A non-positive spacing uses DefaultTickSpacing.
func New(tickSpacing int32) *Validator {
	if tickSpacing <= 0 {
		tickSpacing = DefaultTickSpacing
	}
	return &Validator{
		tickSpacing: tickSpacing,
		maxTick:     MaxTick / tickSpacing * tickSpacing,
	}
}

// TickSpacing returns the spacing ticks are checked against.
func (v *Validator) TickSpacing() int32 {
	return v.tickSpacing
}

// ValidateSubVault checks a SubVaultConfig.
func (v *Validator) ValidateSubVault(cfg types.SubVaultConfig) error {
	c := &collector{}
	v.checkSubVault(c, cfg)
	return c.err()
}

// ValidateWeight checks a StrategyWeightConfig.
func (v *Validator) ValidateWeight(w types.StrategyWeightConfig) error {
	c := &collector{}
	v.checkWeight(c, w)
	return c.err()
}

// ValidateSubVaults checks an ordered sub-vault set: each entry plus unique IDs.
func (v *Validator) ValidateSubVaults(subVaults []types.SubVault) error {
	c := &collector{}
	v.checkSubVaults(c, subVaults)
	return c.err()
}

// ValidateStrategy checks a whole strategy instance.
func (v *Validator) ValidateStrategy(inst *types.StrategyInstance) error {
	c := &collector{}
	if inst == nil {
		c.add("strategy", "is nil")
		return c.err()
	}
	if inst.ERC20Vault == (common.Address{}) {
		c.add("erc20Vault", "must be set")
	}
	if inst.Token.Decimals < 0 || inst.Token.Decimals > fixedpoint.Precision {
		c.add("token.decimals", "must be between 0 and %d, got %d", fixedpoint.Precision, inst.Token.Decimals)
	}
	v.checkSubVaults(c, inst.SubVaults)
	if len(inst.SubVaults) > 0 && !inst.HasPositiveWeight() {
		c.add("weights", "at least one sub-vault needs a positive weight")
	}
	checkParams(c, inst.Params)
	return c.err()
}

// ValidateParams checks fee and limit parameters on their own, as staged through governance.
func (v *Validator) ValidateParams(p types.StrategyParams) error {
	c := &collector{}
	checkParams(c, p)
	return c.err()
}

func (v *Validator) checkSubVaults(c *collector, subVaults []types.SubVault) {
	if len(subVaults) == 0 {
		c.add("subVaults", "must not be empty")
		return
	}
	seen := make(map[types.SubVaultID]int, len(subVaults))
	parent := c.prefix
	for i, sv := range subVaults {
		c.prefix = fmt.Sprintf("%ssubVaults[%d].", parent, i)
		if j, dup := seen[sv.Config.ID]; dup {
			c.add("id", "duplicates subVaults[%d]", j)
		}
		seen[sv.Config.ID] = i
		v.checkSubVault(c, sv.Config)
		v.checkWeight(c, sv.Weight)
	}
	c.prefix = parent
}

func (v *Validator) checkSubVault(c *collector, cfg types.SubVaultConfig) {
	if cfg.MarginEngine == (common.Address{}) {
		c.add("marginEngine", "must be set")
	}
	if cfg.TickLower%v.tickSpacing != 0 {
		c.add("tickLower", "%d is not a multiple of the tick spacing %d", cfg.TickLower, v.tickSpacing)
	}
	if cfg.TickUpper%v.tickSpacing != 0 {
		c.add("tickUpper", "%d is not a multiple of the tick spacing %d", cfg.TickUpper, v.tickSpacing)
	}
	if cfg.TickLower >= cfg.TickUpper {
		c.add("tickLower", "%d must be below tickUpper %d", cfg.TickLower, cfg.TickUpper)
	}
	if cfg.TickLower < -v.maxTick {
		c.add("tickLower", "%d is below the minimum tick %d", cfg.TickLower, -v.maxTick)
	}
	if cfg.TickUpper > v.maxTick {
		c.add("tickUpper", "%d is above the maximum tick %d", cfg.TickUpper, v.maxTick)
	}
	checkNonNegative(c, "leverage", cfg.Leverage)
	checkNonNegative(c, "marginMultiplierPostUnwind", cfg.MarginMultiplierPostUnwind)
	if cfg.LookbackWindowSeconds < 0 {
		c.add("lookbackWindowSeconds", "must be >= 0, got %d", cfg.LookbackWindowSeconds)
	}
}

func (v *Validator) checkWeight(c *collector, w types.StrategyWeightConfig) {
	checkNonNegative(c, "sigma", w.Sigma)
	checkNonNegative(c, "proximity", w.Proximity)
	checkNonNegative(c, "maxPossibleLowerBound", w.MaxPossibleLowerBound)
}

func checkParams(c *collector, p types.StrategyParams) {
	checkNonNegative(c, "tokenLimit", p.TokenLimit)
	checkNonNegative(c, "tokenLimitPerAddress", p.TokenLimitPerAddress)
	if !p.TokenLimit.IsNil() && !p.TokenLimitPerAddress.IsNil() &&
		!p.TokenLimitPerAddress.Equal(fixedpoint.MaxUint256) && p.TokenLimitPerAddress.GT(p.TokenLimit) {
		c.add("tokenLimitPerAddress", "%s exceeds tokenLimit %s", p.TokenLimitPerAddress, p.TokenLimit)
	}
	if p.ManagementFee > types.FeeDenominator {
		c.add("managementFee", "%d exceeds %d", p.ManagementFee, types.FeeDenominator)
	}
	if p.PerformanceFee > types.FeeDenominator {
		c.add("performanceFee", "%d exceeds %d", p.PerformanceFee, types.FeeDenominator)
	}
	if p.Treasury == (common.Address{}) {
		c.add("treasury", "must be set")
	}
}

func checkNonNegative(c *collector, field string, x sdkmath.Int) {
	switch {
	case x.IsNil():
		c.add(field, "must be set")
	case x.IsNegative():
		c.add(field, "must be >= 0, got %s", x)
	}
}
