// Package subs reads the subscription table maintained by the external
// user-settings handler. This pipeline only ever reads it: route lists per
// user for the delta refresh, user lists per route for the fan-out.
package subs

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "ensenbot/pkg/logx"
)

// ProfileKey is the sentinel stored in the route column for the one profile
// record each user has. Profile rows round-trip untouched and never appear
// in route or subscriber lists.
const ProfileKey = "#PROFILE#"

// Store is the read-side subscription API. Zero results is not an error for
// either query.
type Store interface {
	// RoutesByUser returns the route ids the user currently follows.
	RoutesByUser(ctx context.Context, userID string) ([]string, error)
	// UsersByRoute returns the user ids currently following a route,
	// via the secondary index on the route column.
	UsersByRoute(ctx context.Context, routeID string) ([]string, error)
	Close() error
}

// Config configures the subscription store.
//
// Driver values:
//   - "sqlite": local SQLite database file
//   - "dynamo": DynamoDB table with a route-keyed secondary index
type Config struct {
	Driver      string
	Path        string        // sqlite: database file
	BusyTimeout time.Duration // sqlite only; 0 means default
	Table       string        // dynamo
	RouteIndex  string        // dynamo: GSI whose partition key is the route id
	Region      string        // dynamo
	// Timeout bounds each query. 0 means no per-call deadline beyond the
	// caller's context.
	Timeout time.Duration
}

// Open initializes the configured store.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "dynamo", "dynamodb":
		return openDynamo(ctx, cfg, log)
	default:
		return nil, errors.New("unknown subscription store driver: " + cfg.Driver)
	}
}
