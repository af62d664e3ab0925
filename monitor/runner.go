package monitor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"bdsinspector/locate"
	"bdsinspector/metrics"
)

// CommandEntry 一条定时命令：每 Interval 在 Dimension 的锚点实体处执行 Command
type CommandEntry struct {
	Dimension locate.Dimension
	Command   string
	Interval  time.Duration
}

// AnchoredCommand 生成在锚点实体处执行的命令
func AnchoredCommand(anchor, command string) string {
	return fmt.Sprintf("execute @e[name=%s] 0 0 0 %s", locate.Selector(anchor), command)
}

// Runner 为每条配置的命令维护独立的定时器，忽略命令输出
type Runner struct {
	exec    locate.Executor
	anchors map[locate.Dimension]string
	entries []CommandEntry
	log     *zap.SugaredLogger
	m       *metrics.Counters
}

// NewRunner 创建定时命令执行器；log、m 可为 nil
func NewRunner(exec locate.Executor, anchors map[locate.Dimension]string, entries []CommandEntry, log *zap.SugaredLogger, m *metrics.Counters) *Runner {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if m == nil {
		m = &metrics.Counters{}
	}
	return &Runner{exec: exec, anchors: anchors, entries: entries, log: log, m: m}
}

// Run 启动所有有效条目并阻塞到 ctx 取消；没有有效条目时立即返回。
// 缺少锚点或间隔非法的条目在启动时跳过，不再重试
func (r *Runner) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	started := 0
	for _, e := range r.entries {
		anchor := r.anchors[e.Dimension]
		if anchor == "" {
			r.log.Errorf("inspector not found for dimension: %s", e.Dimension)
			continue
		}
		if e.Interval <= 0 {
			r.log.Errorf("invalid interval %s for command %q", e.Interval, e.Command)
			continue
		}
		command := AnchoredCommand(anchor, e.Command)
		interval := e.Interval
		started++
		g.Go(func() error {
			r.loop(gctx, command, interval)
			return nil
		})
	}
	r.log.Infof("periodic commands started: %d of %d", started, len(r.entries))
	_ = g.Wait()
	return ctx.Err()
}

func (r *Runner) loop(ctx context.Context, command string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.exec.Exec(ctx, command); err != nil {
				if ctx.Err() != nil {
					return
				}
				r.log.Warnf("periodic command %q: %v", command, err)
				continue
			}
			r.m.IncPeriodic()
		}
	}
}
