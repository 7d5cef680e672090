package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"zplmerge/internal/api"
	"zplmerge/internal/config"
	fileutil "zplmerge/internal/file"
	"zplmerge/internal/job"
	"zplmerge/internal/metrics"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

func serveCmd(a *app) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service with the upload UI",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			if port > 0 {
				a.cfg.Port = port
			}
			return serve(a.cfg)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "override port from the config")
	return cmd
}

func serve(cfg config.Config) error {
	fs := afero.NewOsFs()
	if err := fileutil.EnsureDir(fs, cfg.DataDir); err != nil {
		log.Error().Err(err).Str("dir", cfg.DataDir).Msg("ensure data dir")
		return err //nolint:wrapcheck
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	observer := metrics.New(reg)

	jobManager, err := buildJobManager(cfg, fs, observer)
	if err != nil {
		return err
	}

	router := setupRouter()
	wireAPI(router, jobManager, cfg, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	baseCtx, baseCancel := context.WithCancel(context.Background())
	jobManager.SetBaseContext(baseCtx)

	srv := newHTTPServer(cfg.Port, router, readHeaderTimeout)

	go func() {
		log.Info().Int("port", cfg.Port).Str("labelary", cfg.Labelary.BaseURL).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdownSignal()

	gracefulShutdown(srv, baseCancel, jobManager, shutdownTimeout)
	return nil
}

func setupRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(api.RequestID())
	r.Use(api.ZerologLogger())
	return r
}

func buildJobManager(cfg config.Config, fs afero.Fs, observer job.Observer) (*job.Manager, error) {
	newRenderer, err := rendererFactory(cfg.Labelary)
	if err != nil {
		return nil, err
	}
	return job.NewManagerWithOptions(job.Options{
		DataDir:           cfg.DataDir,
		MaxConcurrentRuns: cfg.MaxConcurrentRuns,
		Store:             job.NewFileStore(fs, cfg.DataDir),
		NewRunner:         job.DefaultRunnerFactory(newRenderer, runOptions(cfg.Batching)),
		Observer:          observer,
	}), nil
}

func wireAPI(router *gin.Engine, jm *job.Manager, cfg config.Config, metricsHandler http.Handler) {
	apiHandler := api.NewAPI(jm, api.Options{
		DefaultPage:    cfg.Page,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Metrics:        metricsHandler,
	})
	apiHandler.RegisterRoutes(router)
	apiHandler.RegisterUIRoutes(router)
}

func newHTTPServer(port int, handler http.Handler, readHeaderTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

func waitForShutdownSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal received")
}

func gracefulShutdown(srv *http.Server, cancelBase context.CancelFunc, jm *job.Manager, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown warning")
	}

	cancelBase()
	done := jm.WaitAll(ctx)
	if !done {
		log.Warn().Msg("background runs did not finish before timeout")
	}
	log.Info().Msg("server exited cleanly")
}
