package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/bridge"
	"github.com/xraph/bridge/config"
	"github.com/xraph/bridge/dedup"
	"github.com/xraph/bridge/pair"
	"github.com/xraph/bridge/store"
	"github.com/xraph/bridge/store/file"
	"github.com/xraph/bridge/store/memory"
	"github.com/xraph/bridge/store/redis"
	"github.com/xraph/bridge/store/sqlite"
)

// stores is the persistence chosen by configuration:
//
//   - primary: Redis when REDIS_URL is set, otherwise memory. It holds the
//     DLQ and, unless overridden below, everything else.
//   - dedup: a local memory store, in front of Redis when DEDUP_BACKEND=redis.
//   - mapping: SQLite when MAPPING_DB is set.
//   - pairs: the JSON file when PAIRS_FILE is set, else SQLite, else primary.
type stores struct {
	primary store.Store
	dedup   dedup.Store
	mapping *sqlite.Store
	pairs   pair.Store

	closers []func() error
}

func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stores, error) {
	s := &stores{}
	local := memory.New(memory.WithDedupTTL(cfg.DedupTTL), memory.WithMappingTTL(cfg.MappingTTL))

	if cfg.RedisURL != "" {
		opts, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		rs, err := redis.Open(ctx, cfg.RedisURL,
			redis.WithDedupTTL(cfg.DedupTTL),
			redis.WithMappingTTL(cfg.MappingTTL),
		)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, rs.Close)
		s.primary = rs
		logger.InfoContext(ctx, "using redis store", "addr", opts.Addr)
	} else {
		s.primary = local
	}

	s.dedup = local
	if cfg.DedupBackend == config.DedupRedis {
		s.dedup = dedup.NewComposite(local, s.primary)
	}

	if cfg.MappingDB != "" {
		db, err := sqlite.Open(cfg.MappingDB)
		if err != nil {
			s.close()
			return nil, err
		}
		s.closers = append(s.closers, db.Close)
		if err := db.Migrate(ctx); err != nil {
			s.close()
			return nil, err
		}
		db.SetMappingTTL(cfg.MappingTTL)
		s.mapping = db
		logger.InfoContext(ctx, "using sqlite mapping store", "path", cfg.MappingDB)
	}

	switch {
	case cfg.PairsFile != "":
		s.pairs = file.New(cfg.PairsFile)
		logger.InfoContext(ctx, "using pairs file", "path", cfg.PairsFile)
	case s.mapping != nil:
		s.pairs = s.mapping
	default:
		s.pairs = s.primary
	}
	return s, nil
}

func (s *stores) options() []bridge.Option {
	opts := []bridge.Option{
		bridge.WithStore(s.primary),
		bridge.WithDedup(s.dedup),
		bridge.WithPairStore(s.pairs),
	}
	if s.mapping != nil {
		opts = append(opts, bridge.WithMapping(s.mapping))
	}
	return opts
}

func (s *stores) close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	s.closers = nil
	return errors.Join(errs...)
}
