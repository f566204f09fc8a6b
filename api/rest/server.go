// Package rest provides the administrative HTTP surface of the load generator.
package rest

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"yqhp/loadgen/internal/controller"
	"yqhp/loadgen/pkg/types"
)

// LoadTester 是管理接口依赖的控制器能力。
type LoadTester interface {
	Start(cfg *types.TestConfiguration) (string, error)
	StartNamed(name string) (string, error)
	StartStandardSuite() ([]string, error)
	Stop(name string) int
	StopAll() int
	Status(ctx context.Context) (*controller.StatusView, error)
	Results(ctx context.Context) (*controller.ResultsView, error)
	ActiveCount() int
}

// Server represents the admin HTTP server.
type Server struct {
	app    *fiber.App
	tester LoadTester
	config *Config
}

// Config holds the configuration for the admin server.
type Config struct {
	// Address is the address to listen on (e.g., ":8090").
	Address string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	EnableCORS   bool

	// APIKey 非空时，除 /health 外的请求都需要携带该 key。
	APIKey string

	// Gatherer 非空时暴露 /metrics。
	Gatherer prometheus.Gatherer

	// AccessLog 打开 fiber 访问日志。
	AccessLog bool

	// ShutdownTimeout 限制关闭时等待进行中请求的时间。
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Address:         ":8090",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		EnableCORS:      true,
		AccessLog:       true,
		ShutdownTimeout: 10 * time.Second,
	}
}

// NewServer creates a new admin server.
func NewServer(tester LoadTester, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:           config.ReadTimeout,
		WriteTimeout:          config.WriteTimeout,
		ErrorHandler:          customErrorHandler,
		AppName:               "Load Generator API",
		JSONEncoder:           sonic.Marshal,
		JSONDecoder:           sonic.Unmarshal,
		DisableStartupMessage: true,
	})

	server := &Server{
		app:    app,
		tester: tester,
		config: config,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

func (s *Server) setupMiddleware() {
	s.app.Use(fiberrecover.New(fiberrecover.Config{
		EnableStackTrace: true,
	}))

	if s.config.AccessLog {
		s.app.Use(logger.New(logger.Config{
			Format:     "${time} | ${status} | ${latency} | ${method} ${path}\n",
			TimeFormat: "2006-01-02 15:04:05",
		}))
	}

	if s.config.EnableCORS {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: "*",
			AllowMethods: "GET,POST,OPTIONS",
			AllowHeaders: "Origin,Content-Type,Accept,X-API-Key",
			MaxAge:       86400,
		}))
	}

	// 操作员校验，必须在任何测试交互之前
	if s.config.APIKey != "" {
		s.app.Use(s.authMiddleware())
	}
}

func (s *Server) authMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Path() == "/health" {
			return c.Next()
		}
		return s.apiKeyAuth(c)
	}
}

// apiKeyAuth validates API key authentication.
func (s *Server) apiKeyAuth(c *fiber.Ctx) error {
	apiKey := c.Get("X-API-Key")
	if apiKey == "" {
		apiKey = c.Query("api_key")
	}

	if apiKey == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
			Error:   "unauthorized",
			Message: "API key is required",
		})
	}

	if subtle.ConstantTimeCompare([]byte(apiKey), []byte(s.config.APIKey)) != 1 {
		return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
			Error:   "unauthorized",
			Message: "Invalid API key",
		})
	}

	return c.Next()
}

func (s *Server) setupRoutes() {
	s.app.Get("/health", s.healthCheck)

	if s.config.Gatherer != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{})))
	}

	s.app.Get("/api/load-test", s.query)
	s.app.Post("/api/load-test", s.command)
}

// StartWithContext starts the server and shuts it down when ctx is done.
func (s *Server) StartWithContext(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		errCh <- s.app.Listen(s.config.Address)
	}()

	select {
	case <-ctx.Done():
		return s.ShutdownWithTimeout(s.shutdownTimeout())
	case err := <-errCh:
		return err
	}
}

// ShutdownWithTimeout gracefully shuts down the server with a timeout.
func (s *Server) ShutdownWithTimeout(timeout time.Duration) error {
	return s.app.ShutdownWithTimeout(timeout)
}

func (s *Server) shutdownTimeout() time.Duration {
	if s.config.ShutdownTimeout > 0 {
		return s.config.ShutdownTimeout
	}
	if s.config.WriteTimeout > 0 {
		return s.config.WriteTimeout
	}
	return DefaultConfig().ShutdownTimeout
}

// App returns the underlying Fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// customErrorHandler handles errors returned by handlers.
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(ErrorResponse{
		Error:   fmt.Sprintf("error_%d", code),
		Message: message,
	})
}
