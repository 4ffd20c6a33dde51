package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/hyuraku/snapresize-ai/internal/capability"
	"github.com/hyuraku/snapresize-ai/internal/config"
	"github.com/hyuraku/snapresize-ai/internal/export"
	"github.com/hyuraku/snapresize-ai/internal/memory"
	"github.com/hyuraku/snapresize-ai/internal/modelcache"
	"github.com/hyuraku/snapresize-ai/internal/models"
	"github.com/hyuraku/snapresize-ai/internal/processor"
	"github.com/hyuraku/snapresize-ai/internal/store"
	"github.com/hyuraku/snapresize-ai/internal/worker"
)

func main() {
	preset := flag.String("preset", "instagram-square", "target preset key, or \"custom\"")
	width := flag.Int("width", 1080, "custom output width")
	height := flag.Int("height", 1080, "custom output height")
	quality := flag.Int("quality", 90, "JPEG quality (60-100)")
	watermark := flag.String("watermark", "", "watermark text, empty disables")
	watermarkPos := flag.String("watermark-pos", "bottomRight", "watermark anchor")
	removeBg := flag.Bool("rembg", false, "remove backgrounds with the on-device model")
	out := flag.String("out", "", "output directory (default from config)")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: snapresize [flags] image...")
		flag.PrintDefaults()
		os.Exit(2)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.Load()
	if *out != "" {
		cfg.OutputDir = *out
	}

	monitor := memory.NewMonitor(cfg.MemoryLimit, cfg.MemoryWarningRatio, logger)
	detector := capability.NewDetector(nil, logger)
	loader := modelcache.NewLoader(cfg.ModelURL, cfg.ModelCacheDir, logger)
	st := store.New(cfg.MaxFiles, cfg.MaxFileSize, monitor, logger)

	proc := processor.New(st, cfg, monitor, detector, loader, func() worker.Segmenter {
		return worker.NewBorderContrastSegmenter()
	}, logger)
	defer proc.Close()

	st.SetPreset(models.PresetKey(*preset))
	st.SetCustomSize(*width, *height)
	st.SetQuality(*quality)
	if *watermark != "" {
		st.SetWatermark(true, *watermark, models.WatermarkPosition(*watermarkPos))
	}

	var candidates []store.FileInput
	for _, path := range flag.Args() {
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Fatal("Failed to read input", zap.String("path", path), zap.Error(err))
		}
		candidates = append(candidates, store.FileInput{
			Name:     filepath.Base(path),
			MimeType: mimeFromExt(path),
			Data:     data,
		})
	}

	result := st.AddFiles(candidates)
	for _, rej := range result.Rejected {
		logger.Warn("File rejected",
			zap.String("name", rej.Name),
			zap.String("reason", rej.Reason),
		)
	}
	if result.Added == 0 {
		logger.Fatal("No valid input files")
	}

	if *removeBg {
		proc.SetBackgroundRemoval(true)
	}

	if err := proc.ProcessAll(context.Background()); err != nil {
		logger.Fatal("Processing failed", zap.Error(err))
	}

	failed := 0
	for _, f := range st.Files() {
		if f.Status == models.StatusFailed {
			failed++
			logger.Warn("File failed",
				zap.String("name", f.Name),
				zap.String("error", f.Error),
			)
		}
	}

	processed := st.Processed()
	if len(processed) == 0 {
		logger.Fatal("No files completed")
	}

	path, err := export.SaveAll(cfg.OutputDir, processed, nil)
	if err != nil {
		logger.Fatal("Export failed", zap.Error(err))
	}

	logger.Info("Done",
		zap.Int("completed", len(processed)),
		zap.Int("failed", failed),
		zap.String("output", path),
	)
}

func mimeFromExt(path string) string {
	switch filepath.Ext(path) {
	case ".png", ".PNG":
		return "image/png"
	case ".jpg", ".jpeg", ".JPG", ".JPEG":
		return "image/jpeg"
	case ".webp", ".WEBP":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
