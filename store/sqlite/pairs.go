package sqlite

import (
	"context"
	"fmt"

	"github.com/xraph/bridge/event"
	"github.com/xraph/bridge/id"
	"github.com/xraph/bridge/pair"
)

// LoadPairs returns the saved pairs in their saved order.
func (s *Store) LoadPairs(ctx context.Context) ([]pair.Pair, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, source_platform, source_channel, destination_platform, destination_channel,
       thread_id, mode, created_at, updated_at
FROM bridge_pairs ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("bridge/sqlite: load pairs: %w", err)
	}
	defer rows.Close()

	var pairs []pair.Pair
	for rows.Next() {
		var (
			p                pair.Pair
			rawID            string
			srcP, dstP       string
			mode             string
			created, updated string
		)
		if err := rows.Scan(&rawID, &srcP, &p.Source.ChannelID, &dstP, &p.Destination.ChannelID,
			&p.ThreadID, &mode, &created, &updated); err != nil {
			return nil, fmt.Errorf("bridge/sqlite: scan pair: %w", err)
		}

		if p.ID, err = id.ParsePairID(rawID); err != nil {
			return nil, fmt.Errorf("bridge/sqlite: pair %q: %w", rawID, err)
		}
		p.Source.Platform = event.Platform(srcP)
		p.Destination.Platform = event.Platform(dstP)
		p.Mode = pair.Mode(mode)
		if p.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("bridge/sqlite: pair %q created_at: %w", rawID, err)
		}
		if p.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, fmt.Errorf("bridge/sqlite: pair %q updated_at: %w", rawID, err)
		}
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bridge/sqlite: load pairs: %w", err)
	}
	return pairs, nil
}

// SavePairs replaces the saved pairs in one transaction.
func (s *Store) SavePairs(ctx context.Context, pairs []pair.Pair) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("bridge/sqlite: save pairs: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM bridge_pairs`); err != nil {
		return fmt.Errorf("bridge/sqlite: save pairs: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO bridge_pairs (id, source_platform, source_channel, destination_platform,
    destination_channel, thread_id, mode, position, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("bridge/sqlite: save pairs: %w", err)
	}
	defer stmt.Close()

	for i, p := range pairs {
		if _, err := stmt.ExecContext(ctx,
			p.ID.String(),
			string(p.Source.Platform), p.Source.ChannelID,
			string(p.Destination.Platform), p.Destination.ChannelID,
			p.ThreadID, string(p.Mode), i,
			formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
		); err != nil {
			return fmt.Errorf("bridge/sqlite: save pair %s: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("bridge/sqlite: save pairs: %w", err)
	}
	return nil
}
