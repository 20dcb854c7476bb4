package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/voltz-protocol/lp-optimiser/internal/types"
)

// StrategySummary represents high-level cycle statistics of one strategy.
type StrategySummary struct {
	StrategyID  types.StrategyID `json:"strategy_id"`
	TotalCycles int              `json:"total_cycles"`
	Rebalances  int              `json:"rebalances"`
	Failures    int              `json:"failures"`
	LastCycleAt *time.Time       `json:"last_cycle_at,omitempty"`
}

// Summaries aggregates the cycle snapshots per strategy, ordered by strategy ID.
func (s *Store) Summaries() ([]StrategySummary, error) {
	query := s.rebind(`
		SELECT
			strategy_id,
			COUNT(*) AS total_cycles,
			COUNT(CASE WHEN decision = ? AND error = '' THEN 1 END) AS rebalances,
			COUNT(CASE WHEN error <> '' THEN 1 END) AS failures,
			MAX(snapshot_timestamp) AS last_cycle_at
		FROM cycle_snapshots
		GROUP BY strategy_id
		ORDER BY strategy_id`)

	rows, err := s.db.Query(query, string(types.DecisionRebalanceRequired))
	if err != nil {
		return nil, fmt.Errorf("failed to query strategy summaries: %w", err)
	}
	defer rows.Close()

	var out []StrategySummary
	for rows.Next() {
		var (
			summary StrategySummary
			id      string
			last    sql.NullInt64
		)
		if err := rows.Scan(&id, &summary.TotalCycles, &summary.Rebalances, &summary.Failures, &last); err != nil {
			return nil, fmt.Errorf("failed to scan strategy summary: %w", err)
		}
		summary.StrategyID = types.StrategyID(id)
		if last.Valid {
			t := time.Unix(last.Int64, 0).UTC()
			summary.LastCycleAt = &t
		}
		out = append(out, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}
