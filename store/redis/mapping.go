package redis

import (
	"context"
	"fmt"

	"github.com/xraph/bridge/event"
	"github.com/xraph/bridge/mapping"
)

func (s *Store) refKey(r mapping.Ref) string {
	return s.key(keyMap, string(r.Platform), ":", r.ChannelID, ":", r.MessageID)
}

func field(p event.Platform, channelID string) string {
	return string(p) + ":" + channelID
}

// PutLink stores l as two hashes, one per side, each keyed by the other
// side's platform and channel. Both expire after the mapping TTL.
func (s *Store) PutLink(ctx context.Context, l mapping.Link) error {
	src, dst := s.refKey(l.Source), s.refKey(l.Target)

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, src, field(l.Target.Platform, l.Target.ChannelID), l.Target.MessageID)
	pipe.Expire(ctx, src, s.mappingTTL)
	pipe.HSet(ctx, dst, field(l.Source.Platform, l.Source.ChannelID), l.Source.MessageID)
	pipe.Expire(ctx, dst, s.mappingTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("bridge/redis: put link: %w", err)
	}
	return nil
}

// Counterpart returns the message linked to ref in (platform, channelID).
func (s *Store) Counterpart(ctx context.Context, ref mapping.Ref, platform event.Platform, channelID string) (mapping.Ref, error) {
	msgID, err := s.rdb.HGet(ctx, s.refKey(ref), field(platform, channelID)).Result()
	if err != nil {
		if isNotFound(err) {
			return mapping.Ref{}, mapping.ErrNotFound
		}
		return mapping.Ref{}, fmt.Errorf("bridge/redis: counterpart: %w", err)
	}
	return mapping.Ref{Platform: platform, ChannelID: channelID, MessageID: msgID}, nil
}
