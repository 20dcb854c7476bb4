package state

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/voltz-protocol/lp-optimiser/internal/types"
)

// SaveAllocationState upserts the committed allocation of a strategy.
func (s *Store) SaveAllocationState(st types.AllocationState) error {
	fractions, err := json.Marshal(st.Fractions)
	if err != nil {
		return fmt.Errorf("failed to marshal fractions: %w", err)
	}

	query := s.rebind(`
		INSERT INTO allocation_states (strategy_id, cycle, fractions, committed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (strategy_id) DO UPDATE SET
			cycle = excluded.cycle,
			fractions = excluded.fractions,
			committed_at = excluded.committed_at`)
	if _, err := s.db.Exec(query, string(st.StrategyID), st.Cycle, string(fractions), st.CommittedAt.Unix()); err != nil {
		return fmt.Errorf("failed to save allocation state of %s: %w", st.StrategyID, err)
	}

	s.logger.Debug().Str("instance", string(st.StrategyID)).Uint64("cycle", st.Cycle).Msg("Allocation state saved")
	return nil
}

// LoadAllocationStates returns every committed allocation, keyed by strategy.
func (s *Store) LoadAllocationStates() (map[types.StrategyID]types.AllocationState, error) {
	rows, err := s.db.Query(`SELECT strategy_id, cycle, fractions, committed_at FROM allocation_states`)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocation states: %w", err)
	}
	defer rows.Close()

	out := make(map[types.StrategyID]types.AllocationState)
	for rows.Next() {
		var (
			st          types.AllocationState
			id          string
			fractions   string
			committedAt int64
		)
		if err := rows.Scan(&id, &st.Cycle, &fractions, &committedAt); err != nil {
			return nil, fmt.Errorf("failed to scan allocation state: %w", err)
		}
		if err := json.Unmarshal([]byte(fractions), &st.Fractions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal fractions of %s: %w", id, err)
		}
		st.StrategyID = types.StrategyID(id)
		st.CommittedAt = time.Unix(committedAt, 0).UTC()
		out[st.StrategyID] = st
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}
