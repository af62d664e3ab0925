package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"bdsinspector/config"
	"bdsinspector/console"
	"bdsinspector/locate"
	"bdsinspector/metrics"
	"bdsinspector/monitor"
	"bdsinspector/server"
)

// exitCode 以子进程的退出码结束本进程
type exitCode int

func (c exitCode) Error() string { return fmt.Sprintf("exit status %d", int(c)) }

// BDS Inspector 入口：托管 bedrock_server 子进程，定位在线玩家并通过 HTTP 暴露
func main() {
	cfg, err := config.Load()
	if err != nil {
		config.Exitf("%v", err)
	}
	err = newRootCommand(&cfg).ExecuteContext(context.Background())
	var code exitCode
	switch {
	case errors.As(err, &code):
		os.Exit(int(code))
	case err != nil:
		config.Exitf("%v", err)
	}
}

// newRootCommand 环境变量作为默认值，命令行参数覆盖
func newRootCommand(cfg *config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "bds-inspector",
		Short:         "Player location inspector for Minecraft Bedrock Dedicated Server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	run := &cobra.Command{
		Use:   "run",
		Short: "Start bedrock_server and serve player locations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runInspector(cmd.Context(), *cfg)
		},
	}

	f := run.Flags()
	f.StringVar(&cfg.Executable, "executable", cfg.Executable, "path of the bedrock_server executable")
	f.IntVar(&cfg.Port, "port", cfg.Port, "HTTP listen port")
	f.StringVar(&cfg.Overworld, "inspector-entity-name-overworld", cfg.Overworld, "anchor entity name in the overworld")
	f.StringVar(&cfg.Nether, "inspector-entity-name-nether", cfg.Nether, "anchor entity name in the nether")
	f.StringVar(&cfg.TheEnd, "inspector-entity-name-the-end", cfg.TheEnd, "anchor entity name in the end")
	f.StringSliceVar(&cfg.Ignore, "ignore", cfg.Ignore, "player names that are never located")
	f.StringVar(&cfg.CommandSetting, "command-setting", cfg.CommandSetting, "periodic command file (JSONC or YAML)")
	f.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "wait between poll cycles")
	f.IntVar(&cfg.TargetAccuracy, "target-accuracy", cfg.TargetAccuracy, "stop refining once the square is this small")
	f.IntVar(&cfg.MaxIterations, "max-iterations", cfg.MaxIterations, "search iteration budget per player")
	f.IntVar(&cfg.WorldSize, "world-size", cfg.WorldSize, "initial search square size")
	f.DurationVar(&cfg.ResponseTimeout, "response-timeout", cfg.ResponseTimeout, "console response timeout, 0 disables")
	f.DurationVar(&cfg.SettleDelay, "settle-delay", cfg.SettleDelay, "pause after each console response")
	f.IntVar(&cfg.QueueSize, "queue-size", cfg.QueueSize, "pending console command capacity")
	f.StringVar(&cfg.Banner, "banner", cfg.Banner, "console line that marks the server as started")
	f.BoolVar(&cfg.ReuseHints, "reuse-hints", cfg.ReuseHints, "start each search from the previous location")
	f.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "rotating log file, empty for stdout only")
	f.BoolVar(&cfg.Debug, "debug", cfg.Debug, "enable debug logging")

	root.AddCommand(run)
	return root
}

func runInspector(ctx context.Context, cfg config.Config) error {
	// 定时命令配置在启动子进程前检查，配置错误不留下孤儿进程
	var entries []monitor.CommandEntry
	if cfg.CommandSetting != "" {
		setting, err := config.LoadCommandSetting(cfg.CommandSetting)
		if err != nil {
			return err
		}
		if entries, err = setting.Entries(); err != nil {
			return err
		}
	}

	if err := server.InitLogger(cfg.LogFile, cfg.Debug); err != nil {
		return err
	}
	defer server.SyncLogger()
	log := server.Log

	counters := &metrics.Counters{}
	proc, err := console.Start(cfg.Executable)
	if err != nil {
		return err
	}
	log.Infof("bds started, pid %d", proc.Pid())

	sink := console.LineSink(log.Named("bds"))
	mux := console.New(proc.Stdin, proc.Stdout, console.Options{
		Banner:          cfg.Banner,
		ResponseTimeout: cfg.ResponseTimeout,
		SettleDelay:     cfg.SettleDelay,
		QueueSize:       cfg.QueueSize,
		Sink:            sink,
		Log:             log.Named("console"),
		Metrics:         counters,
	})

	anchors := cfg.Anchors()
	searcher, err := locate.NewSearcher(locate.NewCommandOracle(mux, anchors), cfg.Search(), log.Named("search"))
	if err != nil {
		_ = proc.Signal(syscall.SIGTERM)
		return err
	}
	hub := server.NewHub()
	poller := monitor.NewPoller(mux, searcher, monitor.PollerOptions{
		Interval:   cfg.PollInterval,
		Exclude:    cfg.Excluded(),
		ReuseHints: cfg.ReuseHints,
		OnPublish:  hub.Publish,
		Log:        log.Named("poller"),
		Metrics:    counters,
	})
	runner := monitor.NewRunner(mux, anchors, entries, log.Named("command"), counters)
	srv := server.New(poller, mux, hub, counters)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	exited := make(chan int, 1)
	go func() {
		code, err := proc.Wait()
		if err != nil {
			log.Warnf("bds wait: %v", err)
		}
		exited <- code
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mux.Run(gctx) })
	g.Go(func() error {
		select {
		case <-mux.Ready():
		case <-gctx.Done():
			return nil
		}
		log.Infof("bds ready, polling every %s", poller.Interval())
		return poller.Run(gctx)
	})
	g.Go(func() error {
		select {
		case <-mux.Ready():
		case <-gctx.Done():
			return nil
		}
		return runner.Run(gctx)
	})
	g.Go(func() error { return srv.ListenAndServe(gctx, fmt.Sprintf(":%d", cfg.Port)) })

	// 标准输入的读取无法取消，不纳入 errgroup
	go func() {
		if err := console.PumpLines(gctx, os.Stdin, mux, sink, log.Named("stdin")); err != nil && !errors.Is(err, context.Canceled) {
			log.Warnf("stdin: %v", err)
		}
	}()

	groupDone := make(chan error, 1)
	go func() { groupDone <- g.Wait() }()

	select {
	case sig := <-sigs:
		log.Infof("received %s, forwarding to bds", sig)
		if err := proc.Signal(sig); err != nil {
			log.Warnf("forward signal: %v", err)
		}
		return exitCode(1)
	case code := <-exited:
		log.Infof("bds exit with code: %d", code)
		cancel()
		<-groupDone
		return exitCode(code)
	case err := <-groupDone:
		// 输出流关闭说明子进程已退出，以其退出码为准
		failed := err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, console.ErrClosed)
		if failed {
			log.Errorf("inspector stopped: %v", err)
		}
		_ = proc.Signal(syscall.SIGTERM)
		code := <-exited
		log.Infof("bds exit with code: %d", code)
		if failed {
			return err
		}
		return exitCode(code)
	}
}
