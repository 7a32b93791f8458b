package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/TIANLI0/StreetGen/config"
	"github.com/TIANLI0/StreetGen/handler"
	"github.com/TIANLI0/StreetGen/service"
	"github.com/TIANLI0/StreetGen/utils"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	BuildID   = "unknown"
	GitCommit = "unknown"
	GitBranch = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "streetgen",
	Short: "Street view segmentation and generation API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func main() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML config file")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// 加载配置
	cfg, err := config.New(configPath)
	if err != nil {
		return err
	}

	// 初始化日志
	if err := utils.InitLogger(cfg.Server.Mode); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer utils.Sync()

	utils.Logger.Info("starting StreetGen server",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
		zap.String("git_branch", GitBranch),
		zap.String("compositor", cfg.Generation.Compositor),
		zap.Strings("models", cfg.Models.ModelNames()))

	if cfg.Source == "" {
		utils.Logger.Warn("config file not found, using defaults and environment",
			zap.String("path", configPath))
	} else {
		utils.Logger.Info("config loaded", zap.String("path", cfg.Source))
	}

	// 初始化Redis
	var cache service.SegmentCache
	if cfg.Redis.Enabled {
		redisService := service.NewRedisService(&cfg.Redis)
		defer redisService.Close()
		if err := redisService.Ping(ctx); err != nil {
			utils.Logger.Warn("redis connection failed, cache disabled", zap.Error(err))
		} else {
			utils.Logger.Info("redis connected successfully")
			cache = redisService
		}
	}

	compositor, err := service.NewCompositor(cfg.Generation.Compositor)
	if err != nil {
		return err
	}

	segmenter := service.NewHTTPSegmenter(cfg.Inference.SegmenterURL, cfg.Models.Segmentation, cfg.Inference.RequestTimeout)
	generator := service.NewHTTPGenerator(cfg.Inference.GeneratorURL, cfg.Models, cfg.Inference.RequestTimeout)
	inference := service.NewInferenceService(service.OptionsFromConfig(cfg), segmenter, generator, compositor, cache)

	// 启动时加载模型，失败时按配置退出或以降级状态继续
	if err := inference.Load(ctx); err != nil {
		if cfg.Inference.FailFast {
			return fmt.Errorf("failed to load models: %w", err)
		}
		utils.Logger.Error("failed to load models, serving in degraded mode", zap.Error(err))
	}

	// 设置Gin模式
	gin.SetMode(cfg.Server.Mode)

	r := handler.NewRouter(cfg, inference, handler.BuildInfo{
		Version:   Version,
		BuildTime: BuildTime,
		BuildID:   BuildID,
		GitCommit: GitCommit,
		GitBranch: GitBranch,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		utils.Logger.Info("server starting", zap.String("addr", cfg.Server.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	utils.Logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
