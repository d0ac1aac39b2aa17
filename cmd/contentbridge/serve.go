package main

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/CageChen/contentbridge/internal/config"
	"github.com/CageChen/contentbridge/internal/credential"
	"github.com/CageChen/contentbridge/internal/handler"
	"github.com/CageChen/contentbridge/internal/logger"
	"github.com/CageChen/contentbridge/internal/middleware"
	"github.com/CageChen/contentbridge/internal/remote"
	"github.com/CageChen/contentbridge/internal/watcher"
)

//go:embed web/*
var webFS embed.FS

const shutdownTimeout = 5 * time.Second

// Serve flags
var (
	openBrowserFlag bool
	apiURL          string
	noMetrics       bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the bridge and its web form",
	RunE:  runServe,
}

func init() {
	addServeFlags(serveCmd)
}

func addServeFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&openBrowserFlag, "open", "o", false, "Open the form in a browser")
	cmd.Flags().StringVar(&apiURL, "api-url", "", "GitHub API root (default https://api.github.com/)")
	cmd.Flags().BoolVar(&noMetrics, "no-metrics", false, "Disable the /metrics endpoint")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	log.Info("GitHub Content Bridge",
		zap.String("version", version),
		zap.String("config", cfg.GetConfigFilePath()),
		zap.String("api_url", cfg.APIURL),
		zap.String("credential", cfg.CredentialName()),
	)

	creds, stopWatch := newCredentials(cfg, log)
	defer stopWatch()

	var registry *prometheus.Registry
	var registerer prometheus.Registerer
	if cfg.Metrics {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		registerer = registry
	}

	client, err := remote.NewClient(remote.Options{
		BaseURL:        cfg.APIURL,
		Credentials:    creds,
		CredentialName: cfg.CredentialName(),
		Registerer:     registerer,
		Logger:         log,
	})
	if err != nil {
		return err
	}

	router, err := newRouter(client, registry, cfg.CORSOrigins, log)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://localhost:%d", cfg.Port)
	log.Info("server starting", zap.String("url", url))
	if cfg.Open {
		go openBrowser(url)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}, log)
}

// serve runs srv until it fails or ctx is done.
func serve(ctx context.Context, srv *http.Server, log *zap.Logger) error {
	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		return errors.Wrap(err, "server failed")
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	return nil
}

// newCredentials builds the per-call token lookup: environment first, then
// the token file, which is reloaded when it changes on disk.
func newCredentials(cfg *config.Config, log *zap.Logger) (credential.Chain, func()) {
	chain := credential.Chain{credential.Env(cfg.TokenEnv)}
	stop := func() {}

	if cfg.TokenFile == "" {
		return chain, stop
	}

	file := credential.NewFile(cfg.TokenFile, log)
	chain = append(chain, file)
	if !cfg.WatchTokenFile {
		return chain, stop
	}

	w, err := watcher.New(log)
	if err != nil {
		log.Warn("failed to create token file watcher", zap.Error(err))
		return chain, stop
	}
	if err := w.Add(file.Path()); err != nil {
		log.Warn("failed to watch token file", zap.String(logger.FieldPath, file.Path()), zap.Error(err))
		_ = w.Stop()
		return chain, stop
	}
	w.OnChange(file.OnChange)
	w.Start()
	log.Info("token file watcher enabled", zap.String(logger.FieldPath, file.Path()))

	return chain, func() { _ = w.Stop() }
}

// newRouter wires the middlewares, the API and the embedded form. registry
// may be nil to leave /metrics out. Only the bridge's own origin and
// allowedOrigins may write through the API.
func newRouter(files handler.FileService, registry *prometheus.Registry, allowedOrigins []string, log *zap.Logger) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.AccessLog(log))
	r.Use(middleware.CORS(allowedOrigins))

	wsHandler := handler.NewWSHandler(log, allowedOrigins...)
	fileHandler := handler.NewFileHandler(files, wsHandler, log)
	previewHandler := handler.NewPreviewHandler(log)

	handler.RegisterRoutes(r.Group("/api"), fileHandler, previewHandler, wsHandler)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	webContent, err := fs.Sub(webFS, "web")
	if err != nil {
		return nil, errors.Wrap(err, "load web assets")
	}
	r.NoRoute(gin.WrapH(http.FileServer(http.FS(webContent))))

	return r, nil
}

func openBrowser(url string) {
	var cmd string
	var args []string

	switch runtime.GOOS {
	case "windows":
		cmd = "rundll32"
		args = []string{"url.dll,FileProtocolHandler", url}
	case "darwin":
		cmd = "open"
		args = []string{url}
	default: // linux, etc.
		cmd = "xdg-open"
		args = []string{url}
	}

	_ = exec.Command(cmd, args...).Start()
}
