// Package http exposes the payout service over HTTP.
package http

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"goflare.io/payout"
)

const bodyLimit = 1 << 20

type Server struct {
	addr   string
	app    *fiber.App
	logger *zap.Logger
}

// NewApp builds the fiber application with every route registered.
func NewApp(svc payout.Service, logger *zap.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "payout",
		ReadTimeout:           5 * time.Second,
		WriteTimeout:          15 * time.Second,
		IdleTimeout:           120 * time.Second,
		BodyLimit:             bodyLimit,
		DisableStartupMessage: true,
	})
	app.Use(recover.New())

	NewHandler(svc, logger).Register(app)
	return app
}

func NewServer(addr string, svc payout.Service, logger *zap.Logger) *Server {
	return &Server{
		addr:   addr,
		app:    NewApp(svc, logger),
		logger: logger,
	}
}

// Start blocks serving HTTP until Stop is called.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("HTTP server listening", zap.String("addr", s.addr))
	return s.app.Listen(s.addr)
}

func (s *Server) Stop(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
