package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Process 被驱动的服务端子进程
type Process struct {
	cmd    *exec.Cmd
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
}

// Start 在可执行文件所在目录启动子进程，并从该目录加载动态库
func Start(executable string, args ...string) (*Process, error) {
	path, err := filepath.Abs(executable)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", executable, err)
	}
	cmd := exec.Command(path, args...)
	cmd.Dir = filepath.Dir(path)
	cmd.Env = append(os.Environ(), "LD_LIBRARY_PATH=.")
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", path, err)
	}
	return &Process{cmd: cmd, Stdin: stdin, Stdout: stdout}, nil
}

// Pid 子进程 ID
func (p *Process) Pid() int { return p.cmd.Process.Pid }

// Signal 向子进程转发信号
func (p *Process) Signal(sig os.Signal) error {
	return p.cmd.Process.Signal(sig)
}

// Wait 等待子进程退出并返回退出码
func (p *Process) Wait() (int, error) {
	err := p.cmd.Wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	if err != nil {
		return -1, err
	}
	return 0, nil
}

// Executor 提交命令并等待输出
type Executor interface {
	Exec(ctx context.Context, command string) (string, error)
}

// PumpLines 把操作员在 r 上输入的每一行作为命令转发给子进程，输出交给 sink。
// 读到 EOF 或 ctx 取消后返回；阻塞中的 Read 无法被取消。
func PumpLines(ctx context.Context, r io.Reader, exec Executor, sink func(string), log *zap.SugaredLogger) error {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		out, err := exec.Exec(ctx, line)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warnf("operator command %q: %v", line, err)
			continue
		}
		sink(out)
	}
	return sc.Err()
}
