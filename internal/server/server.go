// Package server 提供考勤分析的 HTTP 服务
package server

import (
	"log"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"fhr/internal/config"
	"fhr/internal/server/handlers"
	"fhr/internal/service"
	"fhr/internal/state"
)

// Server HTTP服务器
type Server struct {
	router   *gin.Engine
	repo     state.Repository
	handlers *handlers.Handlers
}

// NewServer 创建服务器
func NewServer(cfg *config.AppConfig) *Server {
	devMode := cfg.Server.DevMode
	if !devMode {
		gin.SetMode(gin.ReleaseMode)
	}

	dataDir, err := config.EnsureDataDir(cfg)
	if err != nil {
		log.Fatalf("初始化数据目录失败: %v", err)
	}

	repo, err := newRepository(cfg, dataDir)
	if err != nil {
		log.Fatalf("初始化状态存储失败: %v", err)
	}

	analyzer := service.NewAnalyzer(cfg, repo)

	s := &Server{
		router:   gin.Default(),
		repo:     repo,
		handlers: handlers.NewHandlers(analyzer, dataDir),
	}

	s.setupRoutes()

	return s
}

// newRepository 依配置选择状态存储后端
func newRepository(cfg *config.AppConfig, dataDir string) (state.Repository, error) {
	path := cfg.State.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(dataDir, path)
	}
	if cfg.State.Backend == "sqlite" {
		return state.NewSQLiteRepository(path)
	}
	return state.NewFileRepository(path), nil
}

// setupRoutes 设置路由
func (s *Server) setupRoutes() {
	// CORS
	s.router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	api := s.router.Group("/api")
	{
		s.handlers.RegisterRoutes(api)
	}
}

// Run 启动服务器
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

// Close 释放状态存储
func (s *Server) Close() error {
	return s.repo.Close()
}

// Router 获取路由（用于测试）
func (s *Server) Router() *gin.Engine {
	return s.router
}
