package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/bridge/event"
	"github.com/xraph/bridge/mapping"
)

// PutLink records l in both directions. Re-linking the same pair of
// locations replaces the older message.
func (s *Store) PutLink(ctx context.Context, l mapping.Link) error {
	created := l.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("bridge/sqlite: put link: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const q = `
INSERT INTO bridge_links (from_platform, from_channel, from_message, to_platform, to_channel, to_message, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (from_platform, from_channel, from_message, to_platform, to_channel)
DO UPDATE SET to_message = excluded.to_message, created_at = excluded.created_at`

	for _, dir := range [2][2]mapping.Ref{{l.Source, l.Target}, {l.Target, l.Source}} {
		from, to := dir[0], dir[1]
		if _, err := tx.ExecContext(ctx, q,
			string(from.Platform), from.ChannelID, from.MessageID,
			string(to.Platform), to.ChannelID, to.MessageID,
			formatTime(created),
		); err != nil {
			return fmt.Errorf("bridge/sqlite: put link: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("bridge/sqlite: put link: %w", err)
	}
	return nil
}

// Counterpart returns the message linked to ref in (platform, channelID),
// ignoring links older than the mapping TTL.
func (s *Store) Counterpart(ctx context.Context, ref mapping.Ref, platform event.Platform, channelID string) (mapping.Ref, error) {
	var msgID string
	err := s.db.QueryRowContext(ctx, `
SELECT to_message FROM bridge_links
WHERE from_platform = ? AND from_channel = ? AND from_message = ?
  AND to_platform = ? AND to_channel = ? AND created_at >= ?`,
		string(ref.Platform), ref.ChannelID, ref.MessageID,
		string(platform), channelID,
		formatTime(time.Now().Add(-s.mappingTTL)),
	).Scan(&msgID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return mapping.Ref{}, mapping.ErrNotFound
		}
		return mapping.Ref{}, fmt.Errorf("bridge/sqlite: counterpart: %w", err)
	}
	return mapping.Ref{Platform: platform, ChannelID: channelID, MessageID: msgID}, nil
}

// PurgeLinks deletes links created before the given time.
func (s *Store) PurgeLinks(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM bridge_links WHERE created_at < ?`, formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("bridge/sqlite: purge links: %w", err)
	}
	return res.RowsAffected()
}
