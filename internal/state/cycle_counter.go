/*

This file manages the persistent global cycle counter.
The cycle counter is stored in the database to ensure continuity across restarts.

*/

package state

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CurrentCycleNumber retrieves the current cycle number.
func (s *Store) CurrentCycleNumber() (uint64, error) {
	var current uint64
	err := s.db.QueryRow(`SELECT current_cycle FROM cycle_counter WHERE id = 1`).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		s.logger.Warn().Msg("No cycle counter row found, initializing to 0")
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get current cycle number: %w", err)
	}
	return current, nil
}

// IncrementCycleNumber increments the cycle counter and returns the new value.
func (s *Store) IncrementCycleNumber() (uint64, error) {
	query := s.rebind(`
		UPDATE cycle_counter
		SET current_cycle = current_cycle + 1,
		    updated_at = ?
		WHERE id = 1
		RETURNING current_cycle`)

	var next uint64
	if err := s.db.QueryRow(query, time.Now().Unix()).Scan(&next); err != nil {
		return 0, fmt.Errorf("failed to increment cycle number: %w", err)
	}
	s.logger.Debug().Uint64("newCycle", next).Msg("Incremented cycle counter")
	return next, nil
}

// ResetCycleNumber sets the cycle counter to a specific value (for maintenance).
func (s *Store) ResetCycleNumber(cycleNumber uint64) error {
	result, err := s.db.Exec(s.rebind(`UPDATE cycle_counter SET current_cycle = ?, updated_at = ? WHERE id = 1`),
		cycleNumber, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to reset cycle number to %d: %w", cycleNumber, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("no rows updated when resetting cycle number")
	}
	s.logger.Warn().Uint64("cycleNumber", cycleNumber).Msg("Reset cycle counter")
	return nil
}
