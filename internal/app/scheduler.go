package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "ensenbot/pkg/logx"
)

type schedulerConfig struct {
	Timezone string
	Workers  int
}

type schedJob struct {
	name    string
	timeout time.Duration
	run     func(ctx context.Context) error
}

type schedDef struct {
	name    string
	spec    string
	timeout time.Duration
	job     func(ctx context.Context) error
}

// scheduler drives the cron triggers through a small worker pool. A trigger
// that fires while the queue is full is dropped, not queued behind.
type scheduler struct {
	mu sync.Mutex

	log logx.Logger
	cfg schedulerConfig

	parser cron.Parser
	c      *cron.Cron
	defs   []schedDef

	queue  chan schedJob
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func newScheduler(cfg schedulerConfig, log logx.Logger) *scheduler {
	return &scheduler{
		cfg:    cfg,
		log:    log,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

func (s *scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})

	workers := s.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	s.queue = make(chan schedJob, 8)

	loc := s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for _, d := range s.defs {
		s.addLocked(d)
	}

	// Local captures prevent races when Stop nils the fields.
	stopCh := s.stopCh
	queue := s.queue
	s.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer s.wg.Done()
			s.worker(ctx, stopCh, queue)
		}()
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.Int("workers", workers), logx.String("tz", loc.String()))
}

func (s *scheduler) Stop() {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	stopCh := s.stopCh
	s.stopCh = nil
	c := s.c
	s.c = nil
	s.mu.Unlock()

	close(stopCh)
	if c != nil {
		<-c.Stop().Done()
	}
	// A job that is mid-run finishes before its worker exits.
	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

func (s *scheduler) AddCron(name, spec string, timeout time.Duration, job func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return errors.New("scheduler not started")
	}
	d := schedDef{name: name, spec: spec, timeout: timeout, job: job}
	s.defs = append(s.defs, d)
	return s.addLocked(d)
}

func (s *scheduler) addLocked(d schedDef) error {
	queue := s.queue
	_, err := s.c.AddFunc(d.spec, func() {
		s.enqueue(queue, schedJob{name: d.name, timeout: d.timeout, run: d.job})
	})
	return err
}

func (s *scheduler) enqueue(queue chan schedJob, j schedJob) {
	select {
	case queue <- j:
	default:
		s.log.Warn("scheduler queue full, dropping trigger", logx.String("job", j.name))
	}
}

func (s *scheduler) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func (s *scheduler) worker(ctx context.Context, stopCh chan struct{}, queue chan schedJob) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case j := <-queue:
			s.execOne(ctx, j)
		}
	}
}

func (s *scheduler) execOne(ctx context.Context, j schedJob) {
	start := time.Now()
	runCtx := ctx
	if j.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	err := j.run(runCtx)
	if err != nil {
		s.log.Warn("job failed",
			logx.String("job", j.name),
			logx.Duration("took", time.Since(start)),
			logx.Err(err))
		return
	}
	s.log.Info("job ok",
		logx.String("job", j.name),
		logx.Duration("took", time.Since(start)))
}
