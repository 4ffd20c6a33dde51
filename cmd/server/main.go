package main

import (
	"log"
	"net/http"

	"go.uber.org/zap"

	"github.com/hyuraku/snapresize-ai/internal/api"
	"github.com/hyuraku/snapresize-ai/internal/capability"
	"github.com/hyuraku/snapresize-ai/internal/config"
	"github.com/hyuraku/snapresize-ai/internal/memory"
	"github.com/hyuraku/snapresize-ai/internal/modelcache"
	"github.com/hyuraku/snapresize-ai/internal/processor"
	"github.com/hyuraku/snapresize-ai/internal/store"
	"github.com/hyuraku/snapresize-ai/internal/worker"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.Load()

	monitor := memory.NewMonitor(cfg.MemoryLimit, cfg.MemoryWarningRatio, logger)
	janitor, err := memory.NewJanitor(monitor, cfg.JanitorSchedule, cfg.ResourceMaxAge, logger)
	if err != nil {
		logger.Fatal("Invalid janitor schedule", zap.Error(err))
	}
	janitor.Start()
	defer janitor.Stop()

	detector := capability.NewDetector(nil, logger)
	loader := modelcache.NewLoader(cfg.ModelURL, cfg.ModelCacheDir, logger)
	st := store.New(cfg.MaxFiles, cfg.MaxFileSize, monitor, logger)

	proc := processor.New(st, cfg, monitor, detector, loader, func() worker.Segmenter {
		return worker.NewBorderContrastSegmenter()
	}, logger)
	defer proc.Close()

	handler := api.NewHandler(st, proc, loader, monitor, detector, logger)
	router := api.NewRouter(handler, logger)

	logger.Info("Server started", zap.String("address", cfg.ListenAddr))
	log.Fatal(http.ListenAndServe(cfg.ListenAddr, router))
}
