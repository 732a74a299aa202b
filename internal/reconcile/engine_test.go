package reconcile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"ensenbot/internal/cache"
	"ensenbot/internal/catalog"
	"ensenbot/internal/feed"
	"ensenbot/internal/notify"
	"ensenbot/internal/storage/object"
	logx "ensenbot/pkg/logx"
)

// memStore is an in-memory object.Store.
type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore { return &memStore{data: map[string][]byte{}} }

func (m *memStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[key]
	if !ok {
		return nil, object.ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

func (m *memStore) Put(ctx context.Context, key string, b []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), b...)
	return nil
}

func (m *memStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memStore) Close() error { return nil }

type fakeSubs struct {
	routesByUser map[string][]string
	usersByRoute map[string][]string
	failUsers    map[string]bool
}

func (f *fakeSubs) RoutesByUser(ctx context.Context, userID string) ([]string, error) {
	if f.failUsers[userID] {
		return nil, errors.New("query failed")
	}
	return f.routesByUser[userID], nil
}

func (f *fakeSubs) UsersByRoute(ctx context.Context, routeID string) ([]string, error) {
	return f.usersByRoute[routeID], nil
}

type fakeFeed struct {
	records []feed.StatusRecord
	err     error
}

func (f *fakeFeed) FetchAll(ctx context.Context) ([]feed.StatusRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

type fakePusher struct {
	mu    sync.Mutex
	sent  []string // "recipient|route|text"
	fail  map[string]bool
	panic bool
}

func (f *fakePusher) Notify(ctx context.Context, recipientID string, d notify.Disruption) error {
	if f.panic {
		panic("pusher exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[recipientID] {
		return errors.New("send failed")
	}
	f.sent = append(f.sent, fmt.Sprintf("%s|%s|%s", recipientID, d.RouteID, d.Text))
	return nil
}

const testCatalog = `[
	{"id":"R1","odpt:railway":"feed.R1","route":"Route One"},
	{"id":"R2","odpt:railway":"feed.R2","route":"Route Two"}
]`

func testHarness(t *testing.T, cfg Config, subsStore *fakeSubs, f *fakeFeed, p *fakePusher) (*Engine, *cache.Cache, *memStore) {
	t.Helper()
	store := newMemStore()
	c := cache.New(store, logx.Nop())
	path := filepath.Join(t.TempDir(), "railway_list.json")
	if err := os.WriteFile(path, []byte(testCatalog), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	cat, err := catalog.LoadFile(path)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	e := NewEngine(cfg, c, subsStore, f, cat, p, logx.Nop())
	return e, c, store
}

func seedList(t *testing.T, c *cache.Cache, put func(context.Context, []string) error, v []string) {
	t.Helper()
	if err := put(context.Background(), v); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestEndToEndSuppressAndSupersede(t *testing.T) {
	subsStore := &fakeSubs{usersByRoute: map[string][]string{
		"R1": {"100", "101"},
		"R2": {"200"},
	}}
	f := &fakeFeed{records: []feed.StatusRecord{
		{RouteID: "feed.R1", Text: "10 min delay"},
		{RouteID: "feed.R2", Text: "signal failure"},
	}}
	p := &fakePusher{}
	e, c, store := testHarness(t, Config{}, subsStore, f, p)

	ctx := context.Background()
	seedList(t, c, c.PutRouteUnion, []string{"R1", "R2"})
	if err := store.Put(ctx, cache.KeyNotified, []byte(`{"R1":"10 min delay"}`)); err != nil {
		t.Fatal(err)
	}

	sum, err := e.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Disruptions != 1 || sum.Pushes != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	if len(p.sent) != 1 || p.sent[0] != "200|R2|signal failure" {
		t.Fatalf("sent = %v", p.sent)
	}

	got, err := c.Notified(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{"R2": "signal failure"}
	if len(got) != 1 || got["R2"] != want["R2"] {
		t.Fatalf("notified = %v, want %v", got, want)
	}
}

func TestIdempotentSecondRun(t *testing.T) {
	subsStore := &fakeSubs{usersByRoute: map[string][]string{"R1": {"1"}, "R2": {"2"}}}
	f := &fakeFeed{records: []feed.StatusRecord{
		{RouteID: "feed.R1", Text: "suspended"},
		{RouteID: "feed.R2", Text: "delayed"},
	}}
	p := &fakePusher{}
	e, c, _ := testHarness(t, Config{}, subsStore, f, p)

	ctx := context.Background()
	seedList(t, c, c.PutRouteUnion, []string{"R1", "R2"})

	if _, err := e.Run(ctx); err != nil {
		t.Fatalf("first run: %v", err)
	}
	first := len(p.sent)
	if first != 2 {
		t.Fatalf("first run pushes = %d, want 2", first)
	}
	if _, err := e.Run(ctx); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(p.sent) != first {
		t.Fatalf("second run pushed %d extra messages", len(p.sent)-first)
	}
}

func TestSupersessionReplacesEntry(t *testing.T) {
	subsStore := &fakeSubs{usersByRoute: map[string][]string{"R1": {"1", "2"}}}
	f := &fakeFeed{records: []feed.StatusRecord{{RouteID: "feed.R1", Text: "A"}}}
	p := &fakePusher{}
	e, c, _ := testHarness(t, Config{}, subsStore, f, p)

	ctx := context.Background()
	seedList(t, c, c.PutRouteUnion, []string{"R1"})

	if _, err := e.Run(ctx); err != nil {
		t.Fatal(err)
	}
	f.records = []feed.StatusRecord{{RouteID: "feed.R1", Text: "B"}}
	if _, err := e.Run(ctx); err != nil {
		t.Fatal(err)
	}

	if len(p.sent) != 4 {
		t.Fatalf("sent = %v, want one push per subscriber per text", p.sent)
	}
	got, _ := c.Notified(ctx)
	if got["R1"] != "B" || len(got) != 1 {
		t.Fatalf("notified = %v", got)
	}
}

func TestDeltaRefreshIsolatesFailedUser(t *testing.T) {
	subsStore := &fakeSubs{
		routesByUser: map[string][]string{
			"alice": {"R1"},
			"bob":   {"R2"},
		},
		failUsers:    map[string]bool{"bob": true},
		usersByRoute: map[string][]string{},
	}
	f := &fakeFeed{}
	p := &fakePusher{}
	e, c, store := testHarness(t, Config{LookupWorkers: 2}, subsStore, f, p)

	ctx := context.Background()
	if err := store.Put(ctx, cache.KeyChangedUsers, []byte(`["alice","bob"]`)); err != nil {
		t.Fatal(err)
	}

	sum, err := e.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.RefreshedUsers != 1 {
		t.Fatalf("refreshed = %d, want 1", sum.RefreshedUsers)
	}

	union, _ := c.RouteUnion(ctx)
	if len(union) != 1 || union[0] != "R1" {
		t.Fatalf("union = %v, want [R1]", union)
	}
	if _, err := store.Get(ctx, cache.KeyChangedUsers); !errors.Is(err, object.ErrNotFound) {
		t.Fatalf("delta not cleared: %v", err)
	}
}

func TestFeedFailureAbortsWithoutMutation(t *testing.T) {
	subsStore := &fakeSubs{usersByRoute: map[string][]string{}}
	f := &fakeFeed{err: errors.New("upstream down")}
	p := &fakePusher{}
	e, c, store := testHarness(t, Config{}, subsStore, f, p)

	ctx := context.Background()
	seedList(t, c, c.PutRouteUnion, []string{"R1"})
	if err := store.Put(ctx, cache.KeyNotified, []byte(`{"R1":"old text"}`)); err != nil {
		t.Fatal(err)
	}

	if _, err := e.Run(ctx); err == nil {
		t.Fatal("expected run failure")
	}
	if len(p.sent) != 0 {
		t.Fatalf("pushed despite aborted run: %v", p.sent)
	}
	got, _ := c.Notified(ctx)
	if got["R1"] != "old text" {
		t.Fatalf("notified mutated: %v", got)
	}
}

func TestKeywordFilter(t *testing.T) {
	cases := []struct {
		name     string
		keywords []string
		text     string
		want     bool
	}{
		{"hit", []string{"delay", "suspend"}, "delay of 10 minutes", true},
		{"miss", []string{"delay", "suspend"}, "operating normally", false},
		{"empty filter fires on anything", nil, "operating normally", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			subsStore := &fakeSubs{usersByRoute: map[string][]string{"R1": {"1"}}}
			f := &fakeFeed{records: []feed.StatusRecord{{RouteID: "feed.R1", Text: tc.text}}}
			p := &fakePusher{}
			e, c, _ := testHarness(t, Config{FilterKeywords: tc.keywords}, subsStore, f, p)

			ctx := context.Background()
			seedList(t, c, c.PutRouteUnion, []string{"R1"})
			sum, err := e.Run(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if got := sum.Pushes > 0; got != tc.want {
				t.Fatalf("pushed = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestUnknownRouteAndMissingRecordSkipped(t *testing.T) {
	subsStore := &fakeSubs{usersByRoute: map[string][]string{"R1": {"1"}}}
	f := &fakeFeed{records: []feed.StatusRecord{{RouteID: "feed.R1", Text: "delayed"}}}
	p := &fakePusher{}
	e, c, _ := testHarness(t, Config{}, subsStore, f, p)

	ctx := context.Background()
	// R9 has no catalog entry; R2 resolves but has no feed record this run.
	seedList(t, c, c.PutRouteUnion, []string{"R1", "R2", "R9"})

	sum, err := e.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Disruptions != 1 || sum.Pushes != 1 {
		t.Fatalf("summary = %+v", sum)
	}
}

func TestEmptyWorthyClearsNotified(t *testing.T) {
	subsStore := &fakeSubs{usersByRoute: map[string][]string{}}
	f := &fakeFeed{records: []feed.StatusRecord{{RouteID: "feed.R1", Text: "operating normally"}}}
	p := &fakePusher{}
	e, c, store := testHarness(t, Config{FilterKeywords: []string{"delay"}}, subsStore, f, p)

	ctx := context.Background()
	seedList(t, c, c.PutRouteUnion, []string{"R1"})
	if err := store.Put(ctx, cache.KeyNotified, []byte(`{"R1":"old delay"}`)); err != nil {
		t.Fatal(err)
	}

	if _, err := e.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(ctx, cache.KeyNotified); !errors.Is(err, object.ErrNotFound) {
		t.Fatalf("notified object should be deleted, got %v", err)
	}
}

func TestPushFailureDoesNotBlockOthers(t *testing.T) {
	subsStore := &fakeSubs{usersByRoute: map[string][]string{"R1": {"1", "2", "3"}}}
	f := &fakeFeed{records: []feed.StatusRecord{{RouteID: "feed.R1", Text: "delayed"}}}
	p := &fakePusher{fail: map[string]bool{"2": true}}
	e, c, _ := testHarness(t, Config{FanoutWorkers: 2}, subsStore, f, p)

	ctx := context.Background()
	seedList(t, c, c.PutRouteUnion, []string{"R1"})

	sum, err := e.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Pushes != 2 || sum.PushFailures != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	// The failed recipient is not retried: the entry is committed regardless.
	got, _ := c.Notified(ctx)
	if got["R1"] != "delayed" {
		t.Fatalf("notified = %v", got)
	}
}

func TestRunRecoversFromPanic(t *testing.T) {
	subsStore := &fakeSubs{usersByRoute: map[string][]string{"R1": {"1"}}}
	f := &fakeFeed{records: []feed.StatusRecord{{RouteID: "feed.R1", Text: "delayed"}}}
	p := &fakePusher{panic: true}
	e, c, _ := testHarness(t, Config{}, subsStore, f, p)

	ctx := context.Background()
	seedList(t, c, c.PutRouteUnion, []string{"R1"})

	if _, err := e.Run(ctx); err == nil {
		t.Fatal("expected error from recovered panic")
	}
	// The engine is usable again afterwards.
	if !e.running.CompareAndSwap(false, true) {
		t.Fatal("running flag not released after panic")
	}
	e.running.Store(false)
}

func TestOverlappingRunRejected(t *testing.T) {
	subsStore := &fakeSubs{usersByRoute: map[string][]string{}}
	f := &fakeFeed{}
	p := &fakePusher{}
	e, _, _ := testHarness(t, Config{}, subsStore, f, p)

	e.running.Store(true)
	defer e.running.Store(false)
	if _, err := e.Run(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("err = %v, want ErrRunInProgress", err)
	}
}
