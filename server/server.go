// Package server hosts the HTTP API in front of the tagging runner.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/hrygo/tagcache/internal/profile"
	apiv1 "github.com/hrygo/tagcache/server/router/api/v1"
	"github.com/hrygo/tagcache/store"
)

type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	echoServer *echo.Echo
}

func NewServer(profile *profile.Profile, store *store.Store, tagger apiv1.Tagger) *Server {
	echoServer := echo.New()
	echoServer.Debug = true
	echoServer.HideBanner = true
	echoServer.HidePort = true
	echoServer.Use(middleware.Recover())
	echoServer.Use(middleware.BodyLimit("1M"))
	echoServer.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			slog.Debug("request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))

	apiv1.NewAPIV1Service(profile, store, tagger).RegisterRoutes(echoServer)

	return &Server{
		Profile:    profile,
		Store:      store,
		echoServer: echoServer,
	}
}

// Handler exposes the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echoServer
}

// Start listens on the profile address and serves until Shutdown.
func (s *Server) Start(_ context.Context) error {
	address := net.JoinHostPort(s.Profile.Addr, fmt.Sprint(s.Profile.Port))
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", address)
	}
	s.echoServer.Listener = listener
	slog.Info("tagcache server started", "address", listener.Addr().String(), "mode", s.Profile.Mode)

	go func() {
		if err := s.echoServer.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("failed to start echo server", "error", err)
		}
	}()
	return nil
}

// Shutdown stops the HTTP server, then flushes and closes the store.
func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	slog.Info("server shutting down")
	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown server", "error", err)
	}
	if err := s.Store.Flush(ctx); err != nil {
		slog.Error("failed to flush tag cache", "error", err)
	}
	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close store", "error", err)
	}
	slog.Info("tagcache stopped properly")
}
