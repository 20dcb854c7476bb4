package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	errorsmod "cosmossdk.io/errors"

	"github.com/voltz-protocol/lp-optimiser/internal/types"
)

const snapshotColumns = `snapshot_id, strategy_id, cycle_number, cycle_id, snapshot_timestamp, mode,
	decision, targets, previous, scores, plan, receipts, error`

// SaveCycleSnapshot saves a complete cycle snapshot and returns its ID.
func (s *Store) SaveCycleSnapshot(snapshot types.CycleSnapshot) (int64, error) {
	var blobs [5]sql.NullString
	for i, v := range []any{snapshot.Targets, snapshot.Previous, snapshot.Scores, snapshot.Plan, snapshot.Receipts} {
		b, err := marshalNullable(v)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal snapshot field %d: %w", i, err)
		}
		blobs[i] = b
	}

	query := s.rebind(`
		INSERT INTO cycle_snapshots (
			strategy_id, cycle_number, cycle_id, snapshot_timestamp, mode,
			decision, targets, previous, scores, plan, receipts, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING snapshot_id`)

	var snapshotID int64
	err := s.db.QueryRow(query,
		string(snapshot.StrategyID), snapshot.CycleNumber, snapshot.CycleID, snapshot.Timestamp.Unix(), snapshot.Mode,
		string(snapshot.Decision), blobs[0], blobs[1], blobs[2], blobs[3], blobs[4], snapshot.Error,
	).Scan(&snapshotID)
	if err != nil {
		return 0, fmt.Errorf("failed to save cycle snapshot: %w", err)
	}

	s.logger.Info().
		Int64("snapshot_id", snapshotID).
		Str("instance", string(snapshot.StrategyID)).
		Uint64("cycle_number", snapshot.CycleNumber).
		Str("decision", string(snapshot.Decision)).
		Bool("failed", snapshot.Failed()).
		Msg("Cycle snapshot saved to database")
	return snapshotID, nil
}

// RecentCycles returns the latest snapshots, newest first. An empty strategy matches all.
func (s *Store) RecentCycles(strategy types.StrategyID, limit int) ([]types.CycleSnapshot, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}

	query := `SELECT ` + snapshotColumns + ` FROM cycle_snapshots`
	args := []any{}
	if strategy != "" {
		query += ` WHERE strategy_id = ?`
		args = append(args, string(strategy))
	}
	query += ` ORDER BY snapshot_timestamp DESC, snapshot_id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent cycles: %w", err)
	}
	defer rows.Close()

	var cycles []types.CycleSnapshot
	for rows.Next() {
		snapshot, err := scanSnapshot(rows)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to scan cycle row")
			continue
		}
		cycles = append(cycles, *snapshot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return cycles, nil
}

// CycleByID returns one snapshot.
func (s *Store) CycleByID(snapshotID int64) (*types.CycleSnapshot, error) {
	row := s.db.QueryRow(s.rebind(`SELECT `+snapshotColumns+` FROM cycle_snapshots WHERE snapshot_id = ?`), snapshotID)
	snapshot, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errorsmod.Wrapf(types.ErrNotFound, "cycle snapshot %d", snapshotID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query cycle by ID: %w", err)
	}
	return snapshot, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scanner) (*types.CycleSnapshot, error) {
	var (
		snapshot  types.CycleSnapshot
		strategy  string
		decision  string
		timestamp int64
		blobs     [5]sql.NullString
	)
	err := row.Scan(&snapshot.ID, &strategy, &snapshot.CycleNumber, &snapshot.CycleID, &timestamp, &snapshot.Mode,
		&decision, &blobs[0], &blobs[1], &blobs[2], &blobs[3], &blobs[4], &snapshot.Error)
	if err != nil {
		return nil, err
	}
	snapshot.StrategyID = types.StrategyID(strategy)
	snapshot.Decision = types.Decision(decision)
	snapshot.Timestamp = time.Unix(timestamp, 0).UTC()

	targets := []any{&snapshot.Targets, &snapshot.Previous, &snapshot.Scores, &snapshot.Plan, &snapshot.Receipts}
	for i, blob := range blobs {
		if !blob.Valid || blob.String == "" {
			continue
		}
		if err := json.Unmarshal([]byte(blob.String), targets[i]); err != nil {
			return nil, fmt.Errorf("failed to unmarshal snapshot %d field %d: %w", snapshot.ID, i, err)
		}
	}
	return &snapshot, nil
}

func marshalNullable(v any) (sql.NullString, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	if string(b) == "null" {
		return sql.NullString{}, nil
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
