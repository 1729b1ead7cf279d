package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// JobFunc 周期任务。ctx 在 Stop 时取消。
type JobFunc func(ctx context.Context) error

// Scheduler 周期任务调度器
type Scheduler struct {
	cron   *rcron.Cron
	logger *zap.Logger

	mu      sync.Mutex
	entries map[string]rcron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// New 创建调度器；任务表达式支持秒字段与 @every 描述符
func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "scheduler"))
	cl := cronLogger{logger.Sugar()}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: rcron.New(
			rcron.WithSeconds(),
			rcron.WithLogger(cl),
			rcron.WithChain(rcron.Recover(cl), rcron.SkipIfStillRunning(cl)),
		),
		logger:  logger,
		entries: make(map[string]rcron.EntryID),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Every 把时间间隔转换为 cron 描述符
func Every(d time.Duration) string {
	return "@every " + d.String()
}

// Add 注册任务。同名任务会替换旧任务。
func (s *Scheduler) Add(name, spec string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(spec, func() {
		start := time.Now()
		if err := fn(s.ctx); err != nil {
			s.logger.Warn("job failed",
				zap.String("job", name),
				zap.Duration("duration", time.Since(start)),
				zap.Error(err))
			return
		}
		s.logger.Debug("job done", zap.String("job", name), zap.Duration("duration", time.Since(start)))
	})
	if err != nil {
		return fmt.Errorf("register job %s (%s): %w", name, spec, err)
	}
	if old, ok := s.entries[name]; ok {
		s.cron.Remove(old)
	}
	s.entries[name] = id
	s.logger.Info("job registered", zap.String("job", name), zap.String("spec", spec))
	return nil
}

// Jobs 返回已注册的任务名
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for name := range s.entries {
		out = append(out, name)
	}
	return out
}

// Start 启动调度
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.entries)))
}

// Stop 停止调度并等待在途任务结束，ctx 限定最长等待时间
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()

	s.cancel()
	if !started {
		return nil
	}
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger 把 cron 的日志接口接到 zap
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
