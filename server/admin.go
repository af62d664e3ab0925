package server

import (
	"encoding/json"
	"net/http"
	"time"
)

// HandleAdminConfig 提供轮询参数的读取与更新（热更新）
// GET /admin/config  返回当前配置
// POST /admin/config 以 JSON 载荷更新部分字段
func (s *Server) HandleAdminConfig(w http.ResponseWriter, r *http.Request) {
	type cfg struct {
		PollIntervalMs *int64 `json:"pollIntervalMs,omitempty"`
		ReuseHints     *bool  `json:"reuseHints,omitempty"`
	}

	switch r.Method {
	case http.MethodGet:
		ms := s.poller.Interval().Milliseconds()
		reuse := s.poller.ReuseHints()
		writeJSON(w, http.StatusOK, cfg{PollIntervalMs: &ms, ReuseHints: &reuse})
		return
	case http.MethodPost:
		var body cfg
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if body.PollIntervalMs != nil {
			if err := s.poller.SetInterval(time.Duration(*body.PollIntervalMs) * time.Millisecond); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		}
		if body.ReuseHints != nil {
			s.poller.SetReuseHints(*body.ReuseHints)
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		Log.Infof("config updated: pollInterval=%s reuseHints=%t", s.poller.Interval(), s.poller.ReuseHints())
		return
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
}

// HandleMetrics 输出控制台通道与轮询循环的运行指标
// GET /metrics
func (s *Server) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"console":    s.console.State().String(),
		"ws_clients": s.hub.Count(),
		"metrics":    s.metrics.Snapshot(),
	}
	writeJSON(w, http.StatusOK, payload)
}
