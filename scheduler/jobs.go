package scheduler

import (
	"context"
	"time"

	"github.com/BaSui01/moechat/affect"
)

// 内置任务名
const (
	JobAffectTick   = "affect.tick"
	JobHistoryFlush = "history.flush"
)

// Ticker 按时间推进的情绪状态机
type Ticker interface {
	Tick(now time.Time) affect.State
}

// Flusher 可重试的持久化
type Flusher interface {
	Flush() error
}

// AffectTickJob 推进情绪状态（崩溃计时与恢复）
func AffectTickJob(t Ticker, now func() time.Time) JobFunc {
	if now == nil {
		now = time.Now
	}
	return func(context.Context) error {
		t.Tick(now())
		return nil
	}
}

// FlushJob 保存未落盘的数据
func FlushJob(f Flusher) JobFunc {
	return func(context.Context) error {
		return f.Flush()
	}
}
