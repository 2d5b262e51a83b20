package introspect

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dep2p/go-commrt/internal/core/admin"
	"github.com/dep2p/go-commrt/pkg/lib/log"
)

var logger = log.Logger("core/introspect")

// DefaultAddr 默认监听地址
const DefaultAddr = "127.0.0.1:6060"

// shutdownTimeout 停止服务时等待请求完成的上限
const shutdownTimeout = 5 * time.Second

// ============================================================================
//                              配置
// ============================================================================

// Source 自省数据来源，由实例实现
type Source interface {
	// State 生命周期状态名称
	State() string

	// AdminFacetNames 已注册的管理 facet 名称
	AdminFacetNames() []string

	// PropertiesForPrefix 以 prefix 开头的属性
	PropertiesForPrefix(prefix string) map[string]string

	// RecentLog 最近的日志消息，LoggerAdmin 未启用时 ok 为 false
	RecentLog(max int) (msgs []admin.LogMessage, ok bool)

	// Connections 当前连接
	Connections() []ConnectionInfo
}

// Config 服务配置
type Config struct {
	// Addr 监听地址，默认 "127.0.0.1:6060"
	Addr string

	// Source 自省数据来源
	Source Source

	// Gatherer 指标来源，nil 时 /metrics 返回 404
	Gatherer prometheus.Gatherer

	// CustomHandlers 自定义处理器
	CustomHandlers map[string]http.HandlerFunc
}

// ============================================================================
//                              Server
// ============================================================================

// Server 本地自省 HTTP 服务
type Server struct {
	config Config

	mu        sync.Mutex
	server    *http.Server
	listener  net.Listener
	running   bool
	startTime time.Time
}

// New 创建自省服务
func New(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	return &Server{config: cfg}
}

// Start 启动服务
func (s *Server) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/admin/facets", s.handleFacets)
	mux.HandleFunc("/admin/properties", s.handleProperties)
	mux.HandleFunc("/admin/log", s.handleLog)
	mux.HandleFunc("/admin/connections", s.handleConnections)
	mux.HandleFunc("/debug/introspect/runtime", s.handleRuntime)
	mux.HandleFunc("/health", s.handleHealth)

	if s.config.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{}))
	}

	// pprof 端点
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	for path, handler := range s.config.CustomHandlers {
		mux.HandleFunc(path, handler)
	}

	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("自省服务异常退出", "error", err)
		}
	}()

	s.running = true
	s.startTime = time.Now()
	logger.Info("自省服务已启动", "addr", listener.Addr().String())
	return nil
}

// Stop 停止服务
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.running = false
	if err := s.server.Shutdown(ctx); err != nil {
		logger.Error("关闭自省服务失败", "error", err)
		return err
	}
	logger.Info("自省服务已停止")
	return nil
}

// Addr 返回实际监听地址
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Addr
}

// ============================================================================
//                              响应结构
// ============================================================================

// FacetsResponse 管理 facet 列表
type FacetsResponse struct {
	Facets []string `json:"facets"`
}

// LogResponse 最近日志
type LogResponse struct {
	Messages []admin.LogMessage `json:"messages"`
}

// ConnectionInfo 连接信息
type ConnectionInfo struct {
	ID       string `json:"id"`
	Endpoint string `json:"endpoint"`
	State    string `json:"state"`
	Incoming bool   `json:"incoming"`
	Local    string `json:"local,omitempty"`
	Remote   string `json:"remote,omitempty"`
}

// RuntimeInfo 运行时信息
type RuntimeInfo struct {
	GoVersion    string `json:"go_version"`
	NumGoroutine int    `json:"num_goroutine"`
	NumCPU       int    `json:"num_cpu"`
	MemAlloc     uint64 `json:"mem_alloc"`
	MemSys       uint64 `json:"mem_sys"`
	NumGC        uint32 `json:"num_gc"`
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status    string    `json:"status"`
	State     string    `json:"state,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime,omitempty"`
}

// ============================================================================
//                              HTTP 处理器
// ============================================================================

func (s *Server) handleFacets(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) || !s.requireSource(w) {
		return
	}
	names := s.config.Source.AdminFacetNames()
	if names == nil {
		names = []string{}
	}
	s.writeJSON(w, FacetsResponse{Facets: names})
}

func (s *Server) handleProperties(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) || !s.requireSource(w) {
		return
	}
	props := s.config.Source.PropertiesForPrefix(r.URL.Query().Get("prefix"))
	if props == nil {
		props = map[string]string{}
	}
	s.writeJSON(w, props)
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) || !s.requireSource(w) {
		return
	}
	max := -1
	if v := r.URL.Query().Get("max"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "invalid max", http.StatusBadRequest)
			return
		}
		max = n
	}
	msgs, ok := s.config.Source.RecentLog(max)
	if !ok {
		http.Error(w, "Logger facet not enabled", http.StatusNotFound)
		return
	}
	if msgs == nil {
		msgs = []admin.LogMessage{}
	}
	s.writeJSON(w, LogResponse{Messages: msgs})
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) || !s.requireSource(w) {
		return
	}
	conns := s.config.Source.Connections()
	if conns == nil {
		conns = []ConnectionInfo{}
	}
	s.writeJSON(w, conns)
}

func (s *Server) handleRuntime(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	s.writeJSON(w, RuntimeInfo{
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		NumCPU:       runtime.NumCPU(),
		MemAlloc:     memStats.Alloc,
		MemSys:       memStats.Sys,
		NumGC:        memStats.NumGC,
	})
}

// handleHealth 通信器处于 active 时为 ok，否则为 degraded
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	s.mu.Lock()
	start := s.startTime
	s.mu.Unlock()

	health := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Uptime:    time.Since(start).String(),
	}
	if s.config.Source == nil {
		health.Status = "degraded"
	} else {
		health.State = s.config.Source.State()
		if health.State != "active" {
			health.Status = "degraded"
		}
	}
	s.writeJSON(w, health)
}

// ============================================================================
//                              辅助方法
// ============================================================================

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func (s *Server) requireSource(w http.ResponseWriter) bool {
	if s.config.Source == nil {
		http.Error(w, "Communicator not available", http.StatusServiceUnavailable)
		return false
	}
	return true
}

// writeJSON 写入 JSON 响应
func (s *Server) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		logger.Error("JSON 编码失败", "error", err)
	}
}
