/*

This file contains the weighted-threshold allocation rule.

Every sub-vault with a positive weight scores

	score = weight / (1 + max(0, sigma - proximity))

in Wad arithmetic, where sigma is the larger of the configured and the observed volatility.
Scores are normalised to fractions that sum to exactly 1e18. Flooring leaves at most one unit of
dust per sub-vault, handed out by largest remainder with ties going to the earlier sub-vault.

*/

package policy

import (
	"math/big"
	"sort"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"github.com/voltz-protocol/lp-optimiser/internal/fixedpoint"
	"github.com/voltz-protocol/lp-optimiser/internal/types"
)

// Score returns the scoring breakdown of one sub-vault. The fraction is left unset.
func Score(id types.SubVaultID, w types.StrategyWeightConfig, est types.Estimate) (types.ScoredSubVault, error) {
	scored := types.ScoredSubVault{
		SubVaultID:    id,
		Weight:        w.Weight,
		EstimatedRate: est.Rate,
		ObservedSigma: est.Sigma,
		Sigma:         w.Sigma,
		Excess:        sdkmath.ZeroInt(),
		Score:         sdkmath.ZeroInt(),
		Fraction:      sdkmath.ZeroInt(),
	}

	// the configured lower bound floors the rate estimate, never the score
	scored.EffectiveRate = sdkmath.MaxInt(est.Rate, w.MaxPossibleLowerBound)

	if !est.Sigma.IsNil() && est.Sigma.GT(w.Sigma) {
		scored.Sigma = est.Sigma
	}
	if w.Weight == 0 {
		return scored, nil
	}

	scored.Excess = fixedpoint.PositiveDiff(scored.Sigma, w.Proximity)
	denominator, err := fixedpoint.Add(fixedpoint.WAD, scored.Excess)
	if err != nil {
		return types.ScoredSubVault{}, errorsmod.Wrapf(err, "sub-vault %d: score denominator", id)
	}
	weightWad := sdkmath.NewIntFromUint64(w.Weight).Mul(fixedpoint.WAD)
	scored.Score, err = fixedpoint.MulDiv(weightWad, fixedpoint.WAD, denominator)
	if err != nil {
		return types.ScoredSubVault{}, errorsmod.Wrapf(err, "sub-vault %d: score", id)
	}
	return scored, nil
}

// ComputeTargets scores every sub-vault of the instance, in order, and normalises the scores.
// Estimates are only needed for sub-vaults with a positive weight.
func ComputeTargets(subVaults []types.SubVault, estimates map[types.SubVaultID]types.Estimate) ([]types.ScoredSubVault, types.Fractions, error) {
	scored := make([]types.ScoredSubVault, len(subVaults))
	for i, sv := range subVaults {
		est, ok := estimates[sv.Config.ID]
		if !ok {
			if sv.Weight.Weight > 0 {
				return nil, nil, errorsmod.Wrapf(types.ErrInsufficientHistory, "no statistics for sub-vault %d", sv.Config.ID)
			}
			est = types.Estimate{SubVaultID: sv.Config.ID, Rate: sdkmath.ZeroInt(), Sigma: sdkmath.ZeroInt()}
		}
		s, err := Score(sv.Config.ID, sv.Weight, est)
		if err != nil {
			return nil, nil, err
		}
		scored[i] = s
	}

	scores := make([]sdkmath.Int, len(scored))
	for i, s := range scored {
		scores[i] = s.Score
	}
	fractions, err := Normalize(scores)
	if err != nil {
		return nil, nil, err
	}

	targets := make(types.Fractions, len(scored))
	for i := range scored {
		scored[i].Fraction = fractions[i]
		targets[scored[i].SubVaultID] = fractions[i]
	}
	return scored, targets, nil
}

// Normalize turns scores into Wad fractions summing to exactly 1e18. Zero scores get zero.
func Normalize(scores []sdkmath.Int) ([]sdkmath.Int, error) {
	total := sdkmath.ZeroInt()
	for _, s := range scores {
		var err error
		if total, err = fixedpoint.Add(total, s); err != nil {
			return nil, errorsmod.Wrap(err, "total score")
		}
	}
	if total.IsZero() {
		return nil, errorsmod.Wrap(types.ErrZeroTotalWeight, "no sub-vault has a positive score")
	}

	type remainder struct {
		index int
		value *big.Int
	}

	fractions := make([]sdkmath.Int, len(scores))
	remainders := make([]remainder, 0, len(scores))
	allocated := sdkmath.ZeroInt()
	totalBig := total.BigInt()
	for i, s := range scores {
		f, err := fixedpoint.MulDiv(s, fixedpoint.WAD, total)
		if err != nil {
			return nil, errorsmod.Wrapf(err, "fraction %d", i)
		}
		fractions[i] = f
		allocated = allocated.Add(f)

		rem := new(big.Int).Mul(s.BigInt(), fixedpoint.WAD.BigInt())
		rem.Sub(rem, new(big.Int).Mul(f.BigInt(), totalBig))
		if rem.Sign() > 0 {
			remainders = append(remainders, remainder{index: i, value: rem})
		}
	}

	dust := fixedpoint.WAD.Sub(allocated).Int64()
	sort.SliceStable(remainders, func(a, b int) bool {
		return remainders[a].value.Cmp(remainders[b].value) > 0
	})
	for k := int64(0); k < dust; k++ {
		i := remainders[k].index
		fractions[i] = fractions[i].AddRaw(1)
	}
	return fractions, nil
}

// Decide compares new targets with the committed fractions. Without a committed state a
// rebalance is always required. It returns the decision and the largest absolute deviation.
func Decide(targets, committed types.Fractions, threshold sdkmath.Int) (types.Decision, sdkmath.Int) {
	maxDrift := sdkmath.ZeroInt()
	for id, target := range targets {
		maxDrift = sdkmath.MaxInt(maxDrift, fixedpoint.AbsDiff(target, committed.Get(id)))
	}
	for id, prev := range committed {
		if _, ok := targets[id]; !ok {
			maxDrift = sdkmath.MaxInt(maxDrift, prev)
		}
	}

	if committed == nil || maxDrift.GT(threshold) {
		return types.DecisionRebalanceRequired, maxDrift
	}
	return types.DecisionNoActionNeeded, maxDrift
}
