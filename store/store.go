// Package store defines the composite Store interface for all bridge persistence.
//
// Each subsystem defines its own store interface, and the aggregate Store
// composes them all. A backend implements the whole set; the bridge takes
// the pieces it needs.
package store

import (
	"context"

	"github.com/xraph/bridge/dedup"
	"github.com/xraph/bridge/dlq"
	"github.com/xraph/bridge/mapping"
	"github.com/xraph/bridge/pair"
)

// Store is the aggregate persistence interface.
type Store interface {
	pair.Store
	dedup.Store
	mapping.Store
	dlq.Store

	// Migrate prepares the backend's schema. It is a no-op where there is none.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
