package metrics

import (
	"sync/atomic"
)

// Counters 记录控制台通道与轮询循环的关键指标（用于监控与调试）
type Counters struct {
	CommandsSubmitted int64 // 提交到队列的命令数
	CommandsDelivered int64 // 收到输出的命令数
	CommandsTimedOut  int64 // 等待输出超时的命令数
	CommandsSkipped   int64 // 排队期间被调用方取消、未写入的命令数
	PassthroughChunks int64 // 未被任何命令认领、转入日志的输出块
	PollCycles        int64 // 完成的轮询周期数
	PollFailures      int64 // 失败的轮询周期数
	PlayersLocated    int64 // 最近一次周期定位成功的玩家数
	ProbesIssued      int64 // 累计探测次数
	TotalCycleNs      int64 // 轮询周期累计耗时（纳秒）
	PeriodicCommands  int64 // 定时命令的执行次数
}

func (m *Counters) IncSubmitted()   { atomic.AddInt64(&m.CommandsSubmitted, 1) }
func (m *Counters) IncDelivered()   { atomic.AddInt64(&m.CommandsDelivered, 1) }
func (m *Counters) IncTimedOut()    { atomic.AddInt64(&m.CommandsTimedOut, 1) }
func (m *Counters) IncSkipped()     { atomic.AddInt64(&m.CommandsSkipped, 1) }
func (m *Counters) IncPassthrough() { atomic.AddInt64(&m.PassthroughChunks, 1) }
func (m *Counters) IncPollFailure() { atomic.AddInt64(&m.PollFailures, 1) }
func (m *Counters) IncPeriodic()    { atomic.AddInt64(&m.PeriodicCommands, 1) }
func (m *Counters) AddProbes(n int) { atomic.AddInt64(&m.ProbesIssued, int64(n)) }
func (m *Counters) SetLocated(n int) {
	atomic.StoreInt64(&m.PlayersLocated, int64(n))
}
func (m *Counters) AddCycle(ns int64) {
	atomic.AddInt64(&m.PollCycles, 1)
	atomic.AddInt64(&m.TotalCycleNs, ns)
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *Counters) Snapshot() map[string]any {
	cycles := atomic.LoadInt64(&m.PollCycles)
	total := atomic.LoadInt64(&m.TotalCycleNs)
	var avgMs float64
	if cycles > 0 {
		avgMs = float64(total) / float64(cycles) / 1e6
	}
	return map[string]any{
		"commands_submitted": atomic.LoadInt64(&m.CommandsSubmitted),
		"commands_delivered": atomic.LoadInt64(&m.CommandsDelivered),
		"commands_timed_out": atomic.LoadInt64(&m.CommandsTimedOut),
		"commands_skipped":   atomic.LoadInt64(&m.CommandsSkipped),
		"passthrough_chunks": atomic.LoadInt64(&m.PassthroughChunks),
		"poll_cycles":        cycles,
		"poll_failures":      atomic.LoadInt64(&m.PollFailures),
		"players_located":    atomic.LoadInt64(&m.PlayersLocated),
		"probes_issued":      atomic.LoadInt64(&m.ProbesIssued),
		"periodic_commands":  atomic.LoadInt64(&m.PeriodicCommands),
		"avg_cycle_ms":       avgMs,
	}
}
