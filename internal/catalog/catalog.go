// Package catalog holds the static route reference data: the mapping between
// a route's display name, its internal railway id, and the id used by the
// upstream status feeds. The data is bundled with the binary and read-only
// for the lifetime of a run.
package catalog

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

//go:embed railway_list.json
var bundledList []byte

// Route is the canonical record for one transit line. The three keys are
// co-referential: exactly one DisplayName and FeedID per InternalID.
type Route struct {
	InternalID  string `json:"id"`
	FeedID      string `json:"odpt:railway"`
	DisplayName string `json:"route"`
}

// Catalog resolves routes by any of their three keys.
type Catalog struct {
	routes []Route

	byInternal map[string]*Route
	byFeed     map[string]*Route
	byName     map[string]*Route
}

// Load parses the bundled reference list.
func Load() (*Catalog, error) {
	return parse(bundledList)
}

// LoadFile parses a reference list from disk, for operators shipping updated
// data without rebuilding the binary.
func LoadFile(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return parse(b)
}

func parse(b []byte) (*Catalog, error) {
	var routes []Route
	dec := json.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(&routes); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}

	c := &Catalog{
		routes:     routes,
		byInternal: make(map[string]*Route, len(routes)),
		byFeed:     make(map[string]*Route, len(routes)),
		byName:     make(map[string]*Route, len(routes)),
	}
	for i := range c.routes {
		r := &c.routes[i]
		if strings.TrimSpace(r.InternalID) == "" {
			return nil, fmt.Errorf("catalog: entry %d has no id", i)
		}
		if _, dup := c.byInternal[r.InternalID]; dup {
			return nil, fmt.Errorf("catalog: duplicate id %q", r.InternalID)
		}
		c.byInternal[r.InternalID] = r
		if r.FeedID != "" {
			c.byFeed[r.FeedID] = r
		}
		if r.DisplayName != "" {
			c.byName[r.DisplayName] = r
		}
	}
	return c, nil
}

// Len reports the number of routes in the catalog.
func (c *Catalog) Len() int { return len(c.routes) }

// ByInternalID returns the route for an internal railway id.
func (c *Catalog) ByInternalID(id string) (Route, bool) {
	r, ok := c.byInternal[id]
	if !ok {
		return Route{}, false
	}
	return *r, true
}

// ByFeedID returns the route for an upstream feed id.
func (c *Catalog) ByFeedID(id string) (Route, bool) {
	r, ok := c.byFeed[id]
	if !ok {
		return Route{}, false
	}
	return *r, true
}

// ByDisplayName returns the route for a user-facing name.
func (c *Catalog) ByDisplayName(name string) (Route, bool) {
	r, ok := c.byName[name]
	if !ok {
		return Route{}, false
	}
	return *r, true
}

// Resolve looks a route up by any of its three keys, in the order
// internal id, feed id, display name.
func (c *Catalog) Resolve(key string) (Route, bool) {
	if r, ok := c.ByInternalID(key); ok {
		return r, true
	}
	if r, ok := c.ByFeedID(key); ok {
		return r, true
	}
	return c.ByDisplayName(key)
}

// DisplayNameOr returns the display name for a route id, falling back to the
// id itself when the catalog has no entry for it.
func (c *Catalog) DisplayNameOr(id string) string {
	if r, ok := c.Resolve(id); ok && r.DisplayName != "" {
		return r.DisplayName
	}
	return id
}
