package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

var ErrUnknownJob = errors.New("scheduler: unknown job")

// 延迟执行首轮任务，避免与服务启动时的首批请求争抢资源
const defaultStartupDelay = 15 * time.Second

// Job 一个定时任务：名称、cron 表达式与处理函数
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context)
	// RunOnStart 为 true 时在 Start 之后延迟执行一次
	RunOnStart bool
}

type JobInfo struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next"`
	Prev time.Time `json:"prev"`
}

type Options struct {
	Location     *time.Location
	StartupDelay time.Duration
}

type entry struct {
	job Job
	id  cron.EntryID
}

type Scheduler struct {
	cron   *cron.Cron
	logger zerolog.Logger
	delay  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	jobs   map[string]*entry
	order  []string
	timers []*time.Timer
}

func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.StartupDelay <= 0 {
		opts.StartupDelay = defaultStartupDelay
	}
	logger = logger.With().Str("component", "scheduler").Logger()
	cl := cronLogger{logger}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(opts.Location),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
		delay:  opts.StartupDelay,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]*entry),
	}
}

// Register 注册任务，需在 Start 之前调用
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("scheduler: job name and handler are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.Name]; ok {
		return fmt.Errorf("scheduler: job %q already registered", job.Name)
	}

	name := job.Name
	id, err := s.cron.AddFunc(job.Spec, func() { s.run(name) })
	if err != nil {
		return fmt.Errorf("scheduler: job %q spec %q: %w", job.Name, job.Spec, err)
	}
	s.jobs[name] = &entry{job: job, id: id}
	s.order = append(s.order, name)
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range s.order {
		if !s.jobs[name].job.RunOnStart {
			continue
		}
		name := name
		s.timers = append(s.timers, time.AfterFunc(s.delay, func() {
			_ = s.RunNow(name)
		}))
	}
	s.logger.Info().Int("jobs", len(s.order)).Dur("startup_delay", s.delay).Msg("scheduler started")
}

// Stop 停止调度并等待正在执行的任务结束，ctx 超时则提前返回
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	for _, t := range s.timers {
		t.Stop()
	}
	s.mu.Unlock()

	s.cancel()
	cronDone := s.cron.Stop()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow 立即在后台执行一次指定任务
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	_, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if s.ctx.Err() != nil {
		return s.ctx.Err()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error().Interface("panic", r).Str("job", name).Msg("job panicked")
			}
		}()
		s.run(name)
	}()
	return nil
}

func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobInfo, 0, len(s.order))
	for _, name := range s.order {
		e := s.jobs[name]
		ce := s.cron.Entry(e.id)
		out = append(out, JobInfo{Name: name, Spec: e.job.Spec, Next: ce.Next, Prev: ce.Prev})
	}
	return out
}

func (s *Scheduler) run(name string) {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return
	}

	start := time.Now()
	s.logger.Info().Str("job", name).Msg("job started")
	e.job.Run(s.ctx)
	s.logger.Info().Str("job", name).Dur("elapsed", time.Since(start)).Msg("job finished")
}

// cronLogger 把 cron 内部日志转到 zerolog
type cronLogger struct {
	l zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
