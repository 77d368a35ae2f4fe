package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// 🌐 HTTP 服务器管理器
// =============================================================================

// Config 单个监听端点配置
type Config struct {
	// 端点名称，用于日志
	Name string `yaml:"name" json:"name"`

	// 监听地址
	Addr string `yaml:"addr" json:"addr"`

	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// 写入超时；生成接口需要容纳整次推理
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`

	// 空闲超时
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	// 最大请求头大小
	MaxHeaderBytes int `yaml:"max_header_bytes" json:"max_header_bytes"`
}

// DefaultConfig 返回默认端点配置
func DefaultConfig() Config {
	return Config{
		Name:           "api",
		Addr:           ":8080",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   10 * time.Minute,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1 MB
	}
}

type endpoint struct {
	cfg      Config
	server   *http.Server
	listener net.Listener
}

// Manager 管理 API 与 metrics 等多个 HTTP 端点的生命周期
type Manager struct {
	endpoints       []*endpoint
	shutdownTimeout time.Duration
	logger          *zap.Logger

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewManager 创建服务器管理器
func NewManager(shutdownTimeout time.Duration, logger *zap.Logger) *Manager {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		shutdownTimeout: shutdownTimeout,
		logger:          logger.With(zap.String("component", "http_server")),
	}
}

// Handle 注册一个端点，必须在 Start 之前调用
func (m *Manager) Handle(handler http.Handler, cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endpoints = append(m.endpoints, &endpoint{
		cfg: cfg,
		server: &http.Server{
			Addr:           cfg.Addr,
			Handler:        handler,
			ReadTimeout:    cfg.ReadTimeout,
			WriteTimeout:   cfg.WriteTimeout,
			IdleTimeout:    cfg.IdleTimeout,
			MaxHeaderBytes: cfg.MaxHeaderBytes,
		},
	})
}

// =============================================================================
// 🎯 核心方法
// =============================================================================

// Start 监听所有端点，任一端口占用时释放已打开的监听并返回错误
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("server is closed")
	}
	if m.started {
		return fmt.Errorf("server already started")
	}
	if len(m.endpoints) == 0 {
		return fmt.Errorf("no endpoints registered")
	}

	for i, ep := range m.endpoints {
		ln, err := net.Listen("tcp", ep.cfg.Addr)
		if err != nil {
			for _, prev := range m.endpoints[:i] {
				_ = prev.listener.Close()
				prev.listener = nil
			}
			return fmt.Errorf("failed to listen on %s: %w", ep.cfg.Addr, err)
		}
		ep.listener = ln
	}
	m.started = true
	return nil
}

// Run 启动并服务所有端点，直到 ctx 结束或任一端点失败，然后优雅关闭全部端点
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if !started {
		if err := m.Start(); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, ep := range m.endpoints {
		ep := ep
		m.logger.Info("starting HTTP server",
			zap.String("endpoint", ep.cfg.Name),
			zap.String("addr", ep.listener.Addr().String()),
		)
		g.Go(func() error {
			if err := ep.server.Serve(ep.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				m.logger.Error("HTTP server failed", zap.String("endpoint", ep.cfg.Name), zap.Error(err))
				return fmt.Errorf("%s server: %w", ep.cfg.Name, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return m.Shutdown(context.Background())
	})
	return g.Wait()
}

// Shutdown 在 shutdownTimeout 内优雅关闭所有端点，可重复调用
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.logger.Info("shutting down HTTP servers")

	shutdownCtx, cancel := context.WithTimeout(ctx, m.shutdownTimeout)
	defer cancel()

	var errs []error
	for _, ep := range m.endpoints {
		if ep.listener == nil {
			continue
		}
		if err := ep.server.Shutdown(shutdownCtx); err != nil {
			m.logger.Error("HTTP server shutdown failed", zap.String("endpoint", ep.cfg.Name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", ep.cfg.Name, err))
		}
	}

	m.logger.Info("HTTP servers stopped")
	return errors.Join(errs...)
}

// =============================================================================
// 🔧 辅助方法
// =============================================================================

// Addr 返回端点的实际监听地址；未启动时返回配置地址
func (m *Manager) Addr(name string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ep := range m.endpoints {
		if ep.cfg.Name != name {
			continue
		}
		if ep.listener != nil {
			return ep.listener.Addr().String()
		}
		return ep.cfg.Addr
	}
	return ""
}
