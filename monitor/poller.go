package monitor

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"bdsinspector/locate"
	"bdsinspector/metrics"
)

// ListCommand 列出在线玩家的命令
const ListCommand = "list"

// Locator 定位单个玩家
type Locator interface {
	Locate(ctx context.Context, name string, hint *locate.Location) (locate.Result, error)
}

// Snapshot 一个轮询周期内定位成功的玩家集合，发布后不再修改
type Snapshot struct {
	Players   []locate.Player `json:"players"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Clone 深拷贝，调用方可以随意修改返回值
func (s Snapshot) Clone() Snapshot {
	players := make([]locate.Player, len(s.Players))
	copy(players, s.Players)
	return Snapshot{Players: players, UpdatedAt: s.UpdatedAt}
}

// PollerOptions 轮询配置
type PollerOptions struct {
	// Interval 上一周期结束到下一周期开始的间隔
	Interval time.Duration
	// Exclude 不参与定位的名字（锚点实体、忽略列表）
	Exclude []string
	// ReuseHints 以上一周期的位置作为搜索提示
	ReuseHints bool
	// OnPublish 每次发布快照后调用（在轮询协程中）
	OnPublish func(Snapshot)
	Log       *zap.SugaredLogger
	Metrics   *metrics.Counters
}

// Poller 周期性列出在线玩家并逐个定位；快照只由轮询协程写入
type Poller struct {
	exec    locate.Executor
	locator Locator
	exclude map[string]struct{}
	opts    PollerOptions
	log     *zap.SugaredLogger
	m       *metrics.Counters

	interval   atomic.Int64
	reuseHints atomic.Bool
	snapshot   atomic.Pointer[Snapshot]
}

// NewPoller 创建轮询器
func NewPoller(exec locate.Executor, locator Locator, opts PollerOptions) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = 500 * time.Millisecond
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop().Sugar()
	}
	if opts.Metrics == nil {
		opts.Metrics = &metrics.Counters{}
	}
	p := &Poller{
		exec:    exec,
		locator: locator,
		exclude: make(map[string]struct{}, len(opts.Exclude)),
		opts:    opts,
		log:     opts.Log,
		m:       opts.Metrics,
	}
	for _, name := range opts.Exclude {
		if name != "" {
			p.exclude[name] = struct{}{}
		}
	}
	p.interval.Store(int64(opts.Interval))
	p.reuseHints.Store(opts.ReuseHints)
	p.snapshot.Store(&Snapshot{Players: []locate.Player{}})
	return p
}

// Snapshot 返回最近一次发布的快照副本
func (p *Poller) Snapshot() Snapshot {
	return p.snapshot.Load().Clone()
}

// Interval 当前轮询间隔
func (p *Poller) Interval() time.Duration { return time.Duration(p.interval.Load()) }

// SetInterval 运行时调整轮询间隔，下一次等待生效
func (p *Poller) SetInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", d)
	}
	p.interval.Store(int64(d))
	return nil
}

// ReuseHints 是否复用上一周期的位置
func (p *Poller) ReuseHints() bool { return p.reuseHints.Load() }

// SetReuseHints 运行时开关位置提示
func (p *Poller) SetReuseHints(v bool) { p.reuseHints.Store(v) }

// Run 循环执行轮询周期，直到 ctx 取消。周期失败只记录日志；
// 下一周期在本周期结束后等待 Interval 再开始，周期之间不会重叠。
func (p *Poller) Run(ctx context.Context) error {
	for {
		if err := p.Cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.m.IncPollFailure()
			p.log.Errorf("poll cycle failed: %v", err)
		}
		t := time.NewTimer(p.Interval())
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Cycle 执行一个完整周期：列出玩家、逐个定位、整体替换快照
func (p *Poller) Cycle(ctx context.Context) error {
	start := time.Now()
	names, err := p.onlinePlayers(ctx)
	if err != nil {
		return err
	}

	var prev map[string]locate.Location
	if p.ReuseHints() {
		prev = make(map[string]locate.Location)
		for _, pl := range p.snapshot.Load().Players {
			prev[pl.Name] = pl.Location
		}
	}

	players := make([]locate.Player, 0, len(names))
	for _, name := range names {
		var hint *locate.Location
		if loc, ok := prev[name]; ok {
			hint = &loc
		}
		res, err := p.locator.Locate(ctx, name, hint)
		p.m.AddProbes(res.Probes)
		if err != nil {
			return fmt.Errorf("locate %s: %w", name, err)
		}
		if !res.OK() {
			continue
		}
		players = append(players, locate.Player{Name: name, Location: res.Location})
	}

	snap := &Snapshot{Players: players, UpdatedAt: time.Now()}
	p.snapshot.Store(snap)
	p.m.SetLocated(len(players))
	p.m.AddCycle(time.Since(start).Nanoseconds())
	if p.opts.OnPublish != nil {
		p.opts.OnPublish(snap.Clone())
	}
	return nil
}

func (p *Poller) onlinePlayers(ctx context.Context) ([]string, error) {
	out, err := p.exec.Exec(ctx, ListCommand)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	all := ParseRoster(out)
	names := all[:0]
	for _, n := range all {
		if _, skip := p.exclude[n]; skip {
			continue
		}
		names = append(names, n)
	}
	return names, nil
}

// ParseRoster 解析 list 的输出：跳过首行标题，其余各行为逗号分隔的名字
func ParseRoster(out string) []string {
	lines := strings.Split(strings.ReplaceAll(out, "\r\n", "\n"), "\n")
	if len(lines) > 0 {
		lines = lines[1:]
	}
	var names []string
	for _, line := range lines {
		for _, v := range strings.Split(strings.TrimSpace(line), ",") {
			if v = strings.TrimSpace(v); v != "" {
				names = append(names, v)
			}
		}
	}
	return names
}
