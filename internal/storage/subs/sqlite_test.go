package subs

import (
	"context"
	"path/filepath"
	"testing"

	logx "ensenbot/pkg/logx"
)

func newSQLiteStore(t *testing.T) *sqliteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "subs.db")
	st, err := Open(context.Background(), Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st.(*sqliteStore)
}

func seed(t *testing.T, st *sqliteStore, userID, routeID string) {
	t.Helper()
	_, err := st.db.Exec(
		`INSERT INTO subscriptions(user_id, route_id) VALUES(?, ?)`,
		userID, routeID,
	)
	if err != nil {
		t.Fatalf("seed %s/%s: %v", userID, routeID, err)
	}
}

func TestRoutesByUserFiltersProfile(t *testing.T) {
	st := newSQLiteStore(t)
	ctx := context.Background()

	seed(t, st, "U1", ProfileKey)
	seed(t, st, "U1", "JR-East.Yamanote")
	seed(t, st, "U1", "TokyoMetro.Tozai")
	seed(t, st, "U2", "JR-East.Yamanote")

	routes, err := st.RoutesByUser(ctx, "U1")
	if err != nil {
		t.Fatalf("RoutesByUser: %v", err)
	}
	if len(routes) != 2 {
		t.Fatalf("routes = %v, want 2 entries", routes)
	}
	for _, r := range routes {
		if r == ProfileKey {
			t.Fatal("profile sentinel leaked into route list")
		}
	}
}

func TestUsersByRoute(t *testing.T) {
	st := newSQLiteStore(t)
	ctx := context.Background()

	seed(t, st, "U1", "JR-East.Yamanote")
	seed(t, st, "U2", "JR-East.Yamanote")
	seed(t, st, "U3", "TokyoMetro.Tozai")

	users, err := st.UsersByRoute(ctx, "JR-East.Yamanote")
	if err != nil {
		t.Fatalf("UsersByRoute: %v", err)
	}
	if len(users) != 2 || users[0] != "U1" || users[1] != "U2" {
		t.Fatalf("users = %v", users)
	}
}

func TestEmptyResultsAreNotErrors(t *testing.T) {
	st := newSQLiteStore(t)
	ctx := context.Background()

	routes, err := st.RoutesByUser(ctx, "nobody")
	if err != nil {
		t.Fatalf("RoutesByUser: %v", err)
	}
	if len(routes) != 0 {
		t.Fatalf("routes = %v, want empty", routes)
	}

	users, err := st.UsersByRoute(ctx, "ghost.line")
	if err != nil {
		t.Fatalf("UsersByRoute: %v", err)
	}
	if len(users) != 0 {
		t.Fatalf("users = %v, want empty", users)
	}
}
