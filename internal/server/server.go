// Package server exposes the evaluation pipeline over HTTP: analysis
// submission, health, and Prometheus metrics. The error taxonomy maps to
// status codes here and nowhere else: invalid input is 400, a backend with
// no usable provider is 503, everything degradable never surfaces as an
// error at all.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ahrav/go-appraise/internal/backend/transport"
	"github.com/ahrav/go-appraise/internal/domain"
)

// Analyzer runs one analysis request end to end.
type Analyzer interface {
	Run(ctx context.Context, req *domain.AnalysisRequest) (*domain.AnalysisRun, error)
}

// Server wires the HTTP surface to the run controller.
type Server struct {
	echo     *echo.Echo
	analyzer Analyzer
	logger   *slog.Logger
}

// New creates the HTTP server around an analyzer.
func New(analyzer Analyzer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:     e,
		analyzer: analyzer,
		logger:   logger.With("component", "server"),
	}

	e.HTTPErrorHandler = s.errorHandler
	e.GET("/healthz", s.health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.POST("/api/v1/analyses", s.createAnalysis)

	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start(address string) error {
	s.logger.Info("http server starting", "address", address)
	return s.echo.Start(address)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// createAnalysis accepts an analysis request, runs it synchronously, and
// returns the completed run. Long documents are expected: callers should
// set generous client timeouts or use the Temporal worker instead.
func (s *Server) createAnalysis(c echo.Context) error {
	var req domain.AnalysisRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	run, err := s.analyzer.Run(c.Request().Context(), &req)
	if err != nil {
		return mapDomainError(err)
	}
	return c.JSON(http.StatusOK, run)
}

// mapDomainError translates pipeline errors into HTTP status codes.
func mapDomainError(err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrAdapterUnavailable),
		errors.Is(err, transport.ErrNoProviders):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "no scoring backend available")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "analysis failed")
	}
}

// errorHandler renders all errors as structured JSON.
func (s *Server) errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	message := err.Error()

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		code = httpErr.Code
		if httpErr.Message != nil {
			if m, ok := httpErr.Message.(string); ok {
				message = m
			}
		}
	}

	s.logger.Warn("request failed",
		"status", code,
		"method", c.Request().Method,
		"path", c.Request().URL.Path,
		"error", err)

	if !c.Response().Committed {
		_ = c.JSON(code, map[string]string{"error": message})
	}
}
