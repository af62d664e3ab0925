package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"bdsinspector/console"
	"bdsinspector/locate"
	"bdsinspector/metrics"
	"bdsinspector/monitor"
)

// Poller 快照来源与可热更新的轮询参数
type Poller interface {
	Snapshot() monitor.Snapshot
	Interval() time.Duration
	SetInterval(time.Duration) error
	ReuseHints() bool
	SetReuseHints(bool)
}

// Console 控制台通道的状态
type Console interface {
	State() console.State
	Ready() <-chan struct{}
}

// Server 只读的 HTTP 访问层
type Server struct {
	poller  Poller
	console Console
	hub     *Hub
	metrics *metrics.Counters
}

// New 创建 HTTP 访问层；hub 为 nil 时新建
func New(poller Poller, con Console, hub *Hub, m *metrics.Counters) *Server {
	if hub == nil {
		hub = NewHub()
	}
	if m == nil {
		m = &metrics.Counters{}
	}
	return &Server{poller: poller, console: con, hub: hub, metrics: m}
}

// Handler 注册全部路由
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/players", s.HandlePlayers)
	mux.HandleFunc("/ws", s.HandleWS)
	mux.HandleFunc("/admin/config", s.HandleAdminConfig)
	mux.HandleFunc("/metrics", s.HandleMetrics)
	mux.HandleFunc("/healthz", s.HandleHealth)
	return mux
}

type playersResponse struct {
	Status  string          `json:"status"`
	Players []locate.Player `json:"players"`
}

// HandlePlayers 返回最近一次快照中的玩家
// GET /players
func (s *Server) HandlePlayers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	players := s.poller.Snapshot().Players
	if players == nil {
		players = []locate.Player{}
	}
	writeJSON(w, http.StatusOK, playersResponse{Status: "ok", Players: players})
}

// HandleHealth 观察到启动横幅前返回 503
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.console.Ready():
		_, _ = w.Write([]byte("ok"))
	default:
		http.Error(w, s.console.State().String(), http.StatusServiceUnavailable)
	}
}

// ListenAndServe 在 addr 上提供服务，ctx 取消后优雅关闭
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() {
		Log.Infof("inspector listening on %s", addr)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen %s: %w", addr, err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
