package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bdsinspector/metrics"
)

var (
	// ErrTimeout 在响应超时内没有收到任何输出
	ErrTimeout = errors.New("console: response timed out")
	// ErrClosed 进程输出流已关闭或多路复用器已停止
	ErrClosed = errors.New("console: stream closed")
)

// DefaultBanner 服务端启动完成时输出的行
const DefaultBanner = "[INFO] Server started."

// State 多路复用器状态：Starting → Idle → Awaiting → (送达 | 超时) → Idle
type State int32

const (
	StateStarting State = iota
	StateIdle
	StateAwaiting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaiting:
		return "awaiting_response"
	case StateClosed:
		return "closed"
	default:
		return "starting"
	}
}

// Options 多路复用器配置
type Options struct {
	// Banner 出现该文本后才开始写入命令；为空则不等待
	Banner string
	// ResponseTimeout 等待命令输出的上限；<= 0 表示无限等待
	ResponseTimeout time.Duration
	// SettleDelay 每条命令完成后、取下一条之前的间隔，给尾随输出留出时间
	SettleDelay time.Duration
	// QueueSize 待执行命令队列容量；队列满时 Exec 阻塞
	QueueSize int
	// Sink 接收未被任何命令认领的输出
	Sink    func(chunk string)
	Log     *zap.SugaredLogger
	Metrics *metrics.Counters
}

// DefaultOptions 返回线上默认配置
func DefaultOptions() Options {
	return Options{
		Banner:          DefaultBanner,
		ResponseTimeout: 5 * time.Second,
		SettleDelay:     10 * time.Millisecond,
		QueueSize:       256,
	}
}

type result struct {
	out string
	err error
}

// job 队列中的一条命令；done 容量为 1，送达时不会阻塞
type job struct {
	id      string
	command string
	ctx     context.Context
	done    chan result
}

// Multiplexer 独占进程的输入输出流：命令按提交顺序逐条写入，
// 写入后的下一块输出即视为该命令的完整响应。
//
// 输出流没有分帧，因此依赖“进程一次写出一条命令的全部响应”这一前提；
// 超时后的迟到输出会在下一条命令写入前被转入 Sink。
type Multiplexer struct {
	w    io.Writer
	r    io.Reader
	opts Options
	log  *zap.SugaredLogger
	m    *metrics.Counters

	jobs   chan *job
	chunks chan string
	ready  chan struct{}
	quit   chan struct{}
	state  atomic.Int32
}

// New 创建多路复用器；w 为进程标准输入，r 为进程标准输出
func New(w io.Writer, r io.Reader, opts Options) *Multiplexer {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultOptions().QueueSize
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop().Sugar()
	}
	if opts.Metrics == nil {
		opts.Metrics = &metrics.Counters{}
	}
	if opts.Sink == nil {
		opts.Sink = LineSink(opts.Log)
	}
	return &Multiplexer{
		w:      w,
		r:      r,
		opts:   opts,
		log:    opts.Log,
		m:      opts.Metrics,
		jobs:   make(chan *job, opts.QueueSize),
		chunks: make(chan string, 64),
		ready:  make(chan struct{}),
		quit:   make(chan struct{}),
	}
}

// LineSink 将输出按行写入日志
func LineSink(log *zap.SugaredLogger) func(string) {
	return func(chunk string) {
		for _, line := range strings.Split(strings.TrimRight(chunk, "\n"), "\n") {
			line = strings.TrimRight(line, "\r")
			if line == "" {
				continue
			}
			log.Info(line)
		}
	}
}

// Ready 在观察到启动横幅后关闭
func (m *Multiplexer) Ready() <-chan struct{} { return m.ready }

// State 返回当前状态
func (m *Multiplexer) State() State { return State(m.state.Load()) }

// Exec 提交命令并等待其输出。横幅出现前提交的命令会排队等待。
// 调用方取消 ctx 时：若命令尚未写入则被跳过，否则其输出仍会被消费以保持同步。
func (m *Multiplexer) Exec(ctx context.Context, command string) (string, error) {
	j := &job{
		id:      uuid.NewString(),
		command: command,
		ctx:     ctx,
		done:    make(chan result, 1),
	}
	select {
	case m.jobs <- j:
		m.m.IncSubmitted()
	case <-ctx.Done():
		return "", ctx.Err()
	case <-m.quit:
		return "", ErrClosed
	}

	select {
	case r := <-j.done:
		return r.out, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-m.quit:
		select {
		case r := <-j.done:
			return r.out, r.err
		default:
			return "", ErrClosed
		}
	}
}

// Run 读取输出、等待横幅并逐条执行命令，直到 ctx 取消或输出流关闭。
// 只能调用一次。读协程在输出流关闭时退出。
func (m *Multiplexer) Run(ctx context.Context) error {
	defer func() {
		m.state.Store(int32(StateClosed))
		close(m.quit)
	}()
	go m.readLoop()

	if err := m.awaitBanner(ctx); err != nil {
		return err
	}
	m.state.Store(int32(StateIdle))
	close(m.ready)
	m.log.Infof("console ready")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-m.chunks:
			if !ok {
				return fmt.Errorf("run: %w", ErrClosed)
			}
			m.passthrough(chunk)
		case j := <-m.jobs:
			if err := m.serve(ctx, j); err != nil {
				return err
			}
		}
	}
}

// readLoop 每次 Read 得到的数据即为一次输出事件
func (m *Multiplexer) readLoop() {
	defer close(m.chunks)
	buf := make([]byte, 64*1024)
	for {
		n, err := m.r.Read(buf)
		if n > 0 {
			select {
			case m.chunks <- string(buf[:n]):
			case <-m.quit:
				return
			}
		}
		if err != nil {
			// Wait 回收子进程时会关闭 stdout 管道
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) && !errors.Is(err, os.ErrClosed) {
				m.log.Warnf("console read: %v", err)
			}
			return
		}
	}
}

func (m *Multiplexer) awaitBanner(ctx context.Context) error {
	banner := m.opts.Banner
	if banner == "" {
		return nil
	}
	var tail string
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-m.chunks:
			if !ok {
				return fmt.Errorf("waiting for %q: %w", banner, ErrClosed)
			}
			m.passthrough(chunk)
			tail += chunk
			if strings.Contains(tail, banner) {
				return nil
			}
			if len(tail) > len(banner) {
				tail = tail[len(tail)-len(banner):]
			}
		}
	}
}

// serve 执行一条命令。只有输出流失效或 ctx 取消时才返回错误
func (m *Multiplexer) serve(ctx context.Context, j *job) error {
	if err := j.ctx.Err(); err != nil {
		m.m.IncSkipped()
		j.done <- result{err: err}
		return nil
	}
	// 重新同步：写入前把已到达的无主输出交给 Sink
	if err := m.drainPending(); err != nil {
		j.done <- result{err: ErrClosed}
		return err
	}

	m.state.Store(int32(StateAwaiting))
	defer m.state.Store(int32(StateIdle))

	m.log.Debugf("exec job=%s command=%q", j.id, j.command)
	if _, err := io.WriteString(m.w, j.command+"\n"); err != nil {
		err = fmt.Errorf("write %q: %w", j.command, err)
		j.done <- result{err: err}
		return err
	}

	var timeout <-chan time.Time
	if m.opts.ResponseTimeout > 0 {
		t := time.NewTimer(m.opts.ResponseTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case chunk, ok := <-m.chunks:
		if !ok {
			j.done <- result{err: ErrClosed}
			return fmt.Errorf("serve: %w", ErrClosed)
		}
		m.m.IncDelivered()
		j.done <- result{out: chunk}
	case <-timeout:
		m.m.IncTimedOut()
		m.log.Warnf("command timed out after %s: job=%s command=%q", m.opts.ResponseTimeout, j.id, j.command)
		j.done <- result{err: fmt.Errorf("%q: %w", j.command, ErrTimeout)}
	case <-ctx.Done():
		j.done <- result{err: ctx.Err()}
		return ctx.Err()
	}

	if m.opts.SettleDelay > 0 {
		t := time.NewTimer(m.opts.SettleDelay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (m *Multiplexer) drainPending() error {
	for {
		select {
		case chunk, ok := <-m.chunks:
			if !ok {
				return fmt.Errorf("drain: %w", ErrClosed)
			}
			m.passthrough(chunk)
		default:
			return nil
		}
	}
}

func (m *Multiplexer) passthrough(chunk string) {
	m.m.IncPassthrough()
	m.opts.Sink(chunk)
}
