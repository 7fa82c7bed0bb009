// Package server provides the Echo web server for the music video API.
package server

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/montezlab/beatsync/pkg/beats"
	"github.com/montezlab/beatsync/pkg/metrics"
	"github.com/montezlab/beatsync/pkg/video"
)

// Jobs runs music video generation requests.
type Jobs interface {
	Generate(ctx context.Context, req video.Request) (*video.Result, error)
}

// Analyzer serves on-demand beat analyses.
type Analyzer interface {
	Analyze(ctx context.Context, audioURL string) *beats.Analysis
}

// Server exposes video generation and beat analysis over HTTP.
type Server struct {
	jobs      Jobs
	analyzer  Analyzer
	outputDir string
	log       *zap.Logger
}

// New returns a server publishing the given orchestrator and analyzer.
// outputDir is where finished videos live and is served read-only.
func New(jobs Jobs, analyzer Analyzer, outputDir string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{jobs: jobs, analyzer: analyzer, outputDir: outputDir, log: log}
}

// Run starts the web server on the given listen address.
func (s *Server) Run(listen string) error {
	metrics.Register()
	return s.echo().Start(listen)
}

func (s *Server) echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Routes
	e.GET("/healthz", s.health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.POST("/api/videos", s.createVideo)
	e.POST("/api/analyses", s.createAnalysis)
	e.GET("/api/videos/files/*", s.serveVideo)

	return e
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// createVideo runs a music video job synchronously and returns its result.
func (s *Server) createVideo(c echo.Context) error {
	var req video.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.AudioURL == "" || req.Prompt == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "audioUrl and prompt are required")
	}
	if req.DurationSeconds <= 0 {
		req.DurationSeconds = 10
	}

	result, err := s.jobs.Generate(c.Request().Context(), req)
	if err != nil {
		s.log.Error("video job failed", zap.String("title", req.Title), zap.Error(err))
		if jobErr, ok := err.(*video.JobError); ok {
			return c.JSON(http.StatusInternalServerError, jobErr)
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}

type analysisRequest struct {
	AudioURL string `json:"audioUrl"`
}

// createAnalysis runs beat analysis on a remote audio URL. The analysis
// itself never fails; a bad URL comes back with source "error".
func (s *Server) createAnalysis(c echo.Context) error {
	var req analysisRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.AudioURL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "audioUrl is required")
	}
	return c.JSON(http.StatusOK, s.analyzer.Analyze(c.Request().Context(), req.AudioURL))
}

// serveVideo serves finished videos from the output directory.
func (s *Server) serveVideo(c echo.Context) error {
	path := c.Param("*")
	decodedPath, err := url.PathUnescape(path)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid path encoding")
	}

	// Security: prevent directory traversal
	if strings.Contains(decodedPath, "..") {
		return echo.NewHTTPError(http.StatusForbidden, "invalid path")
	}
	fullPath := filepath.Join(s.outputDir, decodedPath)

	info, err := os.Stat(fullPath)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "file not found")
	}
	if info.IsDir() {
		return echo.NewHTTPError(http.StatusForbidden, "cannot serve directory")
	}

	if strings.ToLower(filepath.Ext(decodedPath)) != ".mp4" {
		return echo.NewHTTPError(http.StatusForbidden, "file type not allowed")
	}
	return c.File(fullPath)
}
