/*

This file contains the record persisted for every rebalance cycle, successful or not.

*/

package types

import "time"

type CycleSnapshot struct {
	ID          int64                `json:"id,omitempty"` // assigned by the store
	StrategyID  StrategyID           `json:"strategy_id"`
	CycleNumber uint64               `json:"cycle_number"`
	CycleID     string               `json:"cycle_id"` // uuid used in the cycle's logs
	Timestamp   time.Time            `json:"timestamp"`
	Mode        string               `json:"mode"` // "paper" or "plan"
	Decision    Decision             `json:"decision,omitempty"`
	Targets     Fractions            `json:"targets,omitempty"`
	Previous    Fractions            `json:"previous,omitempty"`
	Scores      []ScoredSubVault     `json:"scores,omitempty"`
	Plan        *InstructionPlan     `json:"plan,omitempty"`
	Receipts    []InstructionReceipt `json:"receipts,omitempty"`
	Error       string               `json:"error,omitempty"`
}

// Failed reports whether the cycle aborted.
func (s *CycleSnapshot) Failed() bool {
	return s.Error != ""
}
