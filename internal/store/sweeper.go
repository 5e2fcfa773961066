package store

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Expirer 是 Sweeper 需要的最小能力。
type Expirer interface {
	SweepExpired(ctx context.Context, now time.Time) (SweepResult, error)
}

// Sweeper 周期性删除已过期的私密会话与私密消息，作为进程崩溃未能执行显式清理时的兜底。
type Sweeper struct {
	store    Expirer
	interval time.Duration
	now      func() time.Time
	onSweep  func(SweepResult)
}

func NewSweeper(s Expirer, interval time.Duration, onSweep func(SweepResult)) *Sweeper {
	return &Sweeper{store: s, interval: interval, now: time.Now, onSweep: onSweep}
}

// Run 阻塞直到 ctx 取消。
func (sw *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sw.SweepOnce(ctx)
		}
	}
}

func (sw *Sweeper) SweepOnce(ctx context.Context) SweepResult {
	res, err := sw.store.SweepExpired(ctx, sw.now())
	if err != nil {
		log.Warn().Err(err).Msg("ttl sweep")
		return SweepResult{}
	}
	if res.Sessions > 0 || res.Messages > 0 {
		log.Info().Int64("sessions", res.Sessions).Int64("private_messages", res.Messages).Msg("ttl sweep")
	}
	if sw.onSweep != nil {
		sw.onSweep(res)
	}
	return res
}
