/*

This file contains the types for rebalance instructions sent to the holding vault collaborator.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// InstructionType defines the operations the holding vault understands.
type InstructionType string

const (
	InstructionWithdraw InstructionType = "WITHDRAW" // pull capital from a sub-vault into the idle balance
	InstructionDeposit  InstructionType = "DEPOSIT"  // push idle capital into a sub-vault
)

// Instruction is a single step of a rebalance plan. Amounts are token-native units.
type Instruction struct {
	Type          InstructionType `json:"type"`
	SubVaultID    SubVaultID      `json:"sub_vault_id"`
	Amount        sdkmath.Int     `json:"amount"`
	CurrentAmount sdkmath.Int     `json:"current_amount"` // sub-vault balance before the plan
	TargetAmount  sdkmath.Int     `json:"target_amount"`
}

// Holdings is the capital picture of a strategy's holding vault.
type Holdings struct {
	Idle     sdkmath.Int                `json:"idle"`
	Balances map[SubVaultID]sdkmath.Int `json:"balances"`
}

// InstructionPlan holds withdrawals followed by deposits.
type InstructionPlan struct {
	StrategyID      StrategyID    `json:"strategy_id"`
	GoalDescription string        `json:"goal_description"`
	Instructions    []Instruction `json:"instructions"`
	TotalCapital    sdkmath.Int   `json:"total_capital"`
	IdleBefore      sdkmath.Int   `json:"idle_before"`
	IdleAfter       sdkmath.Int   `json:"idle_after"` // idle expected once every instruction succeeded
}

// Withdrawals returns the withdraw instructions of the plan.
func (p *InstructionPlan) Withdrawals() []Instruction {
	return p.filter(InstructionWithdraw)
}

// Deposits returns the deposit instructions of the plan.
func (p *InstructionPlan) Deposits() []Instruction {
	return p.filter(InstructionDeposit)
}

func (p *InstructionPlan) filter(t InstructionType) []Instruction {
	var out []Instruction
	for _, in := range p.Instructions {
		if in.Type == t {
			out = append(out, in)
		}
	}
	return out
}

// InstructionReceipt records the collaborator's answer to one instruction.
type InstructionReceipt struct {
	Instruction Instruction `json:"instruction"`
	Success     bool        `json:"success"`
	Message     string      `json:"message,omitempty"`
	TxRef       string      `json:"tx_ref,omitempty"` // collaborator reference, e.g. a tx hash
	Timestamp   time.Time   `json:"timestamp"`
}
