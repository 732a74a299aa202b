// Package reconcile runs the disruption-detection pipeline: merge
// subscription changes into the cached route union, match the union against
// the live status feeds, suppress what was already announced, fan the rest
// out to subscribers, and commit the new announced state.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"ensenbot/internal/cache"
	"ensenbot/internal/catalog"
	"ensenbot/internal/feed"
	"ensenbot/internal/notify"
	logx "ensenbot/pkg/logx"
)

// ErrRunInProgress is returned when a trigger fires while a previous run is
// still going. The caller drops the trigger and waits for the next one.
var ErrRunInProgress = errors.New("reconciliation already running")

// SubscriptionReader is the slice of the subscription store the engine needs.
type SubscriptionReader interface {
	RoutesByUser(ctx context.Context, userID string) ([]string, error)
	UsersByRoute(ctx context.Context, routeID string) ([]string, error)
}

// StatusFetcher provides one complete live-status snapshot per run.
type StatusFetcher interface {
	FetchAll(ctx context.Context) ([]feed.StatusRecord, error)
}

// Pusher delivers one disruption to one recipient.
type Pusher interface {
	Notify(ctx context.Context, recipientID string, d notify.Disruption) error
}

type Config struct {
	// LookupWorkers bounds the per-user subscription refresh pool.
	LookupWorkers int
	// FanoutWorkers bounds the per-recipient push pool.
	FanoutWorkers int
	// LookupTimeout bounds each per-user subscription query. 0 leaves only
	// the run-level deadline.
	LookupTimeout time.Duration
	// FilterKeywords, when non-empty, require a substring hit before a status
	// text counts as a disruption. Empty means any distinct text counts.
	FilterKeywords []string
}

func (c Config) withDefaults() Config {
	if c.LookupWorkers <= 0 {
		c.LookupWorkers = 4
	}
	if c.FanoutWorkers <= 0 {
		c.FanoutWorkers = 4
	}
	return c
}

// Summary reports what one run did, for the log line and for tests.
type Summary struct {
	DeltaUsers     int
	RefreshedUsers int
	UnionSize      int
	FeedRecords    int
	Disruptions    int
	Pushes         int
	PushFailures   int
}

type Engine struct {
	cfg     Config
	cache   *cache.Cache
	subs    SubscriptionReader
	feed    StatusFetcher
	catalog *catalog.Catalog
	pusher  Pusher
	log     logx.Logger

	mu      sync.RWMutex // guards cfg.FilterKeywords swaps
	running atomic.Bool
}

func NewEngine(cfg Config, c *cache.Cache, s SubscriptionReader, f StatusFetcher, cat *catalog.Catalog, p Pusher, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		cfg:     cfg.withDefaults(),
		cache:   c,
		subs:    s,
		feed:    f,
		catalog: cat,
		pusher:  p,
		log:     log,
	}
}

// SetFilterKeywords swaps the keyword filter, used on config reload.
func (e *Engine) SetFilterKeywords(keywords []string) {
	e.mu.Lock()
	e.cfg.FilterKeywords = append([]string(nil), keywords...)
	e.mu.Unlock()
}

func (e *Engine) filterKeywords() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg.FilterKeywords
}

// Run executes one reconciliation. Overlapping calls are rejected with
// ErrRunInProgress. A panic anywhere inside is caught and reported as a
// failed run; the scheduler retries on its next trigger.
func (e *Engine) Run(ctx context.Context) (sum Summary, err error) {
	if !e.running.CompareAndSwap(false, true) {
		return Summary{}, ErrRunInProgress
	}
	defer e.running.Store(false)

	defer func() {
		if r := recover(); r != nil {
			e.log.Error("reconciliation panicked",
				logx.Any("panic", r),
				logx.Stack(logx.StackTrace(3, 32)))
			err = fmt.Errorf("reconciliation panic: %v", r)
		}
	}()

	return e.run(ctx)
}

func (e *Engine) run(ctx context.Context) (Summary, error) {
	var sum Summary

	union, err := e.cache.RouteUnion(ctx)
	if err != nil {
		return sum, fmt.Errorf("load route union: %w", err)
	}
	delta, err := e.cache.ChangedUsers(ctx)
	if err != nil {
		return sum, fmt.Errorf("load changed users: %w", err)
	}
	notified, err := e.cache.Notified(ctx)
	if err != nil {
		return sum, fmt.Errorf("load notified set: %w", err)
	}
	sum.DeltaUsers = len(delta)

	if len(delta) > 0 {
		union, sum.RefreshedUsers = e.refreshUnion(ctx, union, delta)
		if err := e.cache.PutRouteUnion(ctx, union); err != nil {
			return sum, fmt.Errorf("persist route union: %w", err)
		}
	} else {
		e.log.Debug("no subscription changes, using cached union")
	}
	union = normalize(union)
	sum.UnionSize = len(union)

	records, err := e.feed.FetchAll(ctx)
	if err != nil {
		return sum, fmt.Errorf("fetch status feeds: %w", err)
	}
	sum.FeedRecords = len(records)

	worthy := e.detect(union, records, notified)
	sum.Disruptions = len(worthy)

	newNotified := make(map[string]string, len(worthy))
	for _, d := range worthy {
		newNotified[d.routeID] = d.disruption.Text
	}

	pushes, failures := e.fanOut(ctx, worthy)
	sum.Pushes = pushes
	sum.PushFailures = failures

	if err := e.cache.PutNotified(ctx, newNotified); err != nil {
		return sum, fmt.Errorf("persist notified set: %w", err)
	}
	if len(delta) > 0 {
		if err := e.cache.ClearChangedUsers(ctx); err != nil {
			return sum, fmt.Errorf("clear changed users: %w", err)
		}
	}

	e.log.Info("reconciliation complete",
		logx.Int("delta_users", sum.DeltaUsers),
		logx.Int("union", sum.UnionSize),
		logx.Int("feed_records", sum.FeedRecords),
		logx.Int("disruptions", sum.Disruptions),
		logx.Int("pushes", sum.Pushes),
		logx.Int("push_failures", sum.PushFailures))
	return sum, nil
}

// refreshUnion queries each changed user's current routes and merges them
// into the union. A failed lookup drops that one user, never the run.
func (e *Engine) refreshUnion(ctx context.Context, union, delta []string) ([]string, int) {
	jobs := make(chan string)
	results := make([][]string, 0, len(delta))
	var mu sync.Mutex
	var wg sync.WaitGroup

	workers := e.cfg.LookupWorkers
	if workers > len(delta) {
		workers = len(delta)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for userID := range jobs {
				routes, err := e.lookupRoutes(ctx, userID)
				if err != nil {
					e.log.Warn("subscription lookup failed, skipping user",
						logx.String("user", userID), logx.Err(err))
					continue
				}
				mu.Lock()
				results = append(results, routes)
				mu.Unlock()
			}
		}()
	}
	for _, userID := range delta {
		jobs <- userID
	}
	close(jobs)
	wg.Wait()

	merged := append([]string(nil), union...)
	for _, routes := range results {
		merged = append(merged, routes...)
	}
	return merged, len(results)
}

func (e *Engine) lookupRoutes(ctx context.Context, userID string) ([]string, error) {
	if e.cfg.LookupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.LookupTimeout)
		defer cancel()
	}
	return e.subs.RoutesByUser(ctx, userID)
}

type worthyRoute struct {
	routeID    string
	disruption notify.Disruption
}

// detect walks the route union against the live snapshot and returns the
// routes whose status is disruption-worthy and not already announced.
func (e *Engine) detect(union []string, records []feed.StatusRecord, notified map[string]string) []worthyRoute {
	byFeedID := make(map[string]string, len(records))
	for _, r := range records {
		byFeedID[r.RouteID] = r.Text
	}
	keywords := e.filterKeywords()

	var worthy []worthyRoute
	for _, routeID := range union {
		route, ok := e.catalog.Resolve(routeID)
		if !ok {
			e.log.Warn("route has no catalog entry, skipping", logx.String("route", routeID))
			continue
		}
		text, ok := byFeedID[route.FeedID]
		if !ok {
			e.log.Warn("route missing from status snapshot, skipping",
				logx.String("route", routeID), logx.String("feed_id", route.FeedID))
			continue
		}
		if prev, seen := notified[routeID]; seen && prev == text {
			e.log.Debug("already announced, suppressing",
				logx.String("route", routeID))
			continue
		}
		if !disruptionWorthy(text, keywords) {
			continue
		}
		worthy = append(worthy, worthyRoute{
			routeID: routeID,
			disruption: notify.Disruption{
				RouteID:   routeID,
				RouteName: e.catalog.DisplayNameOr(routeID),
				Text:      text,
			},
		})
	}
	return worthy
}

func disruptionWorthy(text string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	for _, kw := range keywords {
		if kw != "" && strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// fanOut resolves each disruption's subscriber list and pushes through a
// bounded pool. Per-recipient failures are counted, never fatal.
func (e *Engine) fanOut(ctx context.Context, worthy []worthyRoute) (pushes, failures int) {
	type job struct {
		recipient  string
		disruption notify.Disruption
	}

	var jobs []job
	for _, w := range worthy {
		users, err := e.subs.UsersByRoute(ctx, w.routeID)
		if err != nil {
			e.log.Warn("subscriber lookup failed, skipping route",
				logx.String("route", w.routeID), logx.Err(err))
			continue
		}
		for _, u := range users {
			jobs = append(jobs, job{recipient: u, disruption: w.disruption})
		}
	}
	if len(jobs) == 0 {
		return 0, 0
	}

	ch := make(chan job)
	var mu sync.Mutex
	var wg sync.WaitGroup

	workers := e.cfg.FanoutWorkers
	if workers > len(jobs) {
		workers = len(jobs)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range ch {
				err := e.pusher.Notify(ctx, j.recipient, j.disruption)
				mu.Lock()
				if err != nil {
					failures++
				} else {
					pushes++
				}
				mu.Unlock()
				if err != nil {
					e.log.Warn("push failed",
						logx.String("route", j.disruption.RouteID),
						logx.String("recipient", j.recipient),
						logx.Err(err))
				}
			}
		}()
	}
	for _, j := range jobs {
		ch <- j
	}
	close(ch)
	wg.Wait()
	return pushes, failures
}

func normalize(in []string) []string {
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
