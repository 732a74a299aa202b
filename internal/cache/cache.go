// Package cache persists the three documents that survive between
// reconciliation runs: the union of all subscribed route ids, the list of
// users whose subscriptions changed since the last run, and the set of
// disruptions already notified.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"ensenbot/internal/storage/object"
	logx "ensenbot/pkg/logx"
)

// Object keys, shared with the external user-settings handler (which appends
// to the changed-user list).
const (
	KeyRouteUnion   = "cache/route-list.json"
	KeyChangedUsers = "user-list.json"
	KeyNotified     = "cache/notified.json"
)

type Cache struct {
	store object.Store
	log   logx.Logger
}

func New(store object.Store, log logx.Logger) *Cache {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Cache{store: store, log: log}
}

// loadList reads a JSON string list. An absent object is empty; malformed
// content is logged and treated as empty rather than failing the run.
// Store-level failures are returned to the caller.
func (c *Cache) loadList(ctx context.Context, key string) ([]string, error) {
	b, err := c.store.Get(ctx, key)
	if errors.Is(err, object.ErrNotFound) {
		c.log.Debug("cache object absent, treating as empty", logx.String("key", key))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		c.log.Warn("cache object is empty, treating as empty list", logx.String("key", key))
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		c.log.Warn("cache object is not a JSON list, treating as empty", logx.String("key", key), logx.Err(err))
		return nil, nil
	}
	return list, nil
}

// RouteUnion returns the cached union of all subscribed route ids.
func (c *Cache) RouteUnion(ctx context.Context) ([]string, error) {
	return c.loadList(ctx, KeyRouteUnion)
}

// PutRouteUnion persists the route union, sorted and deduplicated.
func (c *Cache) PutRouteUnion(ctx context.Context, routes []string) error {
	b, err := json.MarshalIndent(dedupSorted(routes), "", "  ")
	if err != nil {
		return err
	}
	return c.store.Put(ctx, KeyRouteUnion, b)
}

// ChangedUsers returns the delta list of user ids whose subscriptions
// changed since the last run.
func (c *Cache) ChangedUsers(ctx context.Context) ([]string, error) {
	return c.loadList(ctx, KeyChangedUsers)
}

// ClearChangedUsers removes the delta list after it has been consumed.
func (c *Cache) ClearChangedUsers(ctx context.Context) error {
	return c.store.Delete(ctx, KeyChangedUsers)
}

// AppendChangedUser adds a user id to the delta list if not already present.
// This is the write path used by the settings handler; the pipeline itself
// only reads and clears the list. Last-writer-wins on the underlying object
// is acceptable between runs.
func (c *Cache) AppendChangedUser(ctx context.Context, userID string) error {
	users, err := c.ChangedUsers(ctx)
	if err != nil {
		return err
	}
	for _, u := range users {
		if u == userID {
			return nil
		}
	}
	users = append(users, userID)
	b, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		return err
	}
	return c.store.Put(ctx, KeyChangedUsers, b)
}

// Notified returns the stored route->message map of already-notified
// disruptions. Absent or malformed content is empty, never fatal.
func (c *Cache) Notified(ctx context.Context) (map[string]string, error) {
	b, err := c.store.Get(ctx, KeyNotified)
	if errors.Is(err, object.ErrNotFound) {
		c.log.Debug("notified cache absent, treating as empty", logx.String("key", KeyNotified))
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		c.log.Warn("notified cache is malformed, treating as empty", logx.String("key", KeyNotified), logx.Err(err))
		return map[string]string{}, nil
	}
	if m == nil {
		m = map[string]string{}
	}
	return m, nil
}

// PutNotified fully replaces the notified set. An empty map clears the
// object entirely: once nothing is disruption-worthy, prior disruptions are
// treated as resolved.
func (c *Cache) PutNotified(ctx context.Context, notified map[string]string) error {
	if len(notified) == 0 {
		return c.store.Delete(ctx, KeyNotified)
	}
	b, err := json.MarshalIndent(notified, "", "  ")
	if err != nil {
		return err
	}
	return c.store.Put(ctx, KeyNotified, b)
}

func dedupSorted(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
