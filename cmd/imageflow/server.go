package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/imageflow/api/handlers"
	"github.com/BaSui01/imageflow/internal/server"
)

// =============================================================================
// 🖥️ HTTP 服务
// =============================================================================

// apiPrefixes 需要认证的路径前缀；健康检查与静态文件公开
var apiPrefixes = []string{"/transforms/", "/files", "/api/"}

func isAPIPath(path string) bool {
	for _, p := range apiPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// Server 组合 API 与 metrics 两个端点
type Server struct {
	app     *App
	manager *server.Manager
	health  *handlers.HealthHandler
	logger  *zap.Logger
}

// NewServer 创建服务器并注册全部路由
func NewServer(ctx context.Context, app *App, logger *zap.Logger) *Server {
	cfg := app.cfg.Server
	s := &Server{
		app:     app,
		manager: server.NewManager(cfg.ShutdownTimeout, logger),
		health:  handlers.NewHealthHandler(versionInfo(), logger),
		logger:  logger,
	}
	s.registerChecks()

	s.manager.Handle(s.apiHandler(ctx), server.Config{
		Name:           "api",
		Addr:           fmt.Sprintf(":%d", cfg.HTTPPort),
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    2 * cfg.ReadTimeout,
		MaxHeaderBytes: 1 << 20,
	})

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	s.manager.Handle(metricsMux, server.Config{
		Name:         "metrics",
		Addr:         fmt.Sprintf(":%d", cfg.MetricsPort),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: 30 * time.Second,
	})
	return s
}

// registerChecks 就绪检查：数据库、Redis（启用时）与推理后端
func (s *Server) registerChecks() {
	s.health.RegisterCheck(handlers.NewPingCheck("database", s.app.db.Ping))
	if s.app.redis != nil {
		s.health.RegisterCheck(handlers.NewPingCheck("redis", s.app.redis.Ping))
	}
	s.health.RegisterCheck(handlers.NewPingCheck("inference", s.app.backend.Ping))
}

// routes 注册全部路由，不含中间件
func (s *Server) routes() *http.ServeMux {
	cfg := s.app.cfg
	mux := http.NewServeMux()

	// ========================================
	// 健康检查
	// ========================================
	mux.HandleFunc("GET /health", s.health.HandleHealth)
	mux.HandleFunc("GET /healthz", s.health.HandleHealth)
	mux.HandleFunc("GET /ready", s.health.HandleReady)
	mux.HandleFunc("GET /readyz", s.health.HandleReady)
	mux.HandleFunc("GET /version", s.health.HandleVersion)

	// ========================================
	// 变换
	// ========================================
	transforms := handlers.NewTransformHandler(s.app.service, s.logger)
	mux.HandleFunc("POST /transforms/stable-diffusion", transforms.HandleGenerate)
	mux.HandleFunc("POST /transforms/real-esrgan", transforms.HandleUpscale)
	// 旧客户端使用的拼写
	mux.HandleFunc("POST /transforms/real-ersgan", transforms.HandleUpscale)
	mux.HandleFunc("POST /transforms/gfpgan", transforms.HandleRestore)
	mux.HandleFunc("GET /api/v1/models", transforms.HandleModels)
	mux.HandleFunc("POST /api/v1/models/prefetch", transforms.HandlePrefetch)

	// ========================================
	// 文件与历史
	// ========================================
	files := handlers.NewFilesHandler(s.app.catalog, s.app.layout, cfg.Server.MaxUploadBytes, s.logger)
	mux.HandleFunc("GET /files", files.HandleList)
	mux.HandleFunc("POST /files/upload", files.HandleUpload)
	mux.HandleFunc("DELETE /files/delete", files.HandleDelete)
	history := handlers.NewHistoryHandler(s.app.catalog, s.logger)
	mux.HandleFunc("GET /api/v1/history", history.HandleList)

	// ========================================
	// 静态文件
	// ========================================
	mux.Handle("GET /uploads/", http.StripPrefix("/uploads/", http.FileServer(http.Dir(s.app.layout.UploadsPath()))))
	mux.Handle("GET /output/", http.StripPrefix("/output/", http.FileServer(http.Dir(s.app.layout.OutputPath()))))
	if cfg.Server.StaticDir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(cfg.Server.StaticDir)))
	}
	return mux
}

// apiHandler 路由加中间件链。ctx 结束时限流器的清理 goroutine 退出。
func (s *Server) apiHandler(ctx context.Context) http.Handler {
	cfg := s.app.cfg.Server
	return Chain(s.routes(),
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.app.metrics),
		OTelTracing(),
		CORS(cfg.CORSAllowedOrigins),
		RateLimiter(ctx, float64(cfg.RateLimitRPS), cfg.RateLimitBurst, s.logger),
		Auth(s.app.cfg.JWT, cfg.APIKeys, isAPIPath, s.logger),
	)
}

// Run 启动监听并阻塞直到 ctx 结束，随后优雅关闭
func (s *Server) Run(ctx context.Context) error {
	if err := s.manager.Start(); err != nil {
		return err
	}
	s.logger.Info("All servers started",
		zap.String("api", s.manager.Addr("api")),
		zap.String("metrics", s.manager.Addr("metrics")),
	)
	return s.manager.Run(ctx)
}
