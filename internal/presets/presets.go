// Package presets maps social-media preset keys to target output resolutions.
package presets

import (
	"fmt"
	"math"

	"github.com/hyuraku/snapresize-ai/internal/models"
)

const (
	// Custom dimensions are clamped to this range.
	MinDimension = 100
	MaxDimension = 4096

	defaultCustomSize = 1080
)

var registry = map[models.PresetKey]models.Preset{
	"instagram-square":   {Key: "instagram-square", Label: "Instagram 正方形", LabelEn: "Instagram Square", Width: 1080, Height: 1080, Platform: "instagram"},
	"instagram-portrait": {Key: "instagram-portrait", Label: "Instagram 縦長", LabelEn: "Instagram Portrait", Width: 1080, Height: 1350, Platform: "instagram"},
	"instagram-story":    {Key: "instagram-story", Label: "Instagram ストーリー", LabelEn: "Instagram Story", Width: 1080, Height: 1920, Platform: "instagram"},
	"twitter-square":     {Key: "twitter-square", Label: "X (Twitter) 正方形", LabelEn: "X (Twitter) Square", Width: 1200, Height: 1200, Platform: "twitter"},
	"twitter-landscape":  {Key: "twitter-landscape", Label: "X (Twitter) 横長", LabelEn: "X (Twitter) Landscape", Width: 1600, Height: 900, Platform: "twitter"},
	"twitter-header":     {Key: "twitter-header", Label: "X (Twitter) ヘッダー", LabelEn: "X (Twitter) Header", Width: 1500, Height: 500, Platform: "twitter"},
	"linkedin-post":      {Key: "linkedin-post", Label: "LinkedIn 投稿", LabelEn: "LinkedIn Post", Width: 1200, Height: 627, Platform: "linkedin"},
	"linkedin-banner":    {Key: "linkedin-banner", Label: "LinkedIn バナー", LabelEn: "LinkedIn Banner", Width: 1584, Height: 396, Platform: "linkedin"},
	"facebook-post":      {Key: "facebook-post", Label: "Facebook 投稿", LabelEn: "Facebook Post", Width: 1200, Height: 630, Platform: "facebook"},
	"facebook-cover":     {Key: "facebook-cover", Label: "Facebook カバー", LabelEn: "Facebook Cover", Width: 820, Height: 312, Platform: "facebook"},
}

// Get returns the preset for key. The custom key and unknown keys report false.
func Get(key models.PresetKey) (models.Preset, bool) {
	p, ok := registry[key]
	return p, ok
}

// Keys lists all registered preset keys plus the custom key.
func Keys() []models.PresetKey {
	keys := make([]models.PresetKey, 0, len(registry)+1)
	for k := range registry {
		keys = append(keys, k)
	}
	keys = append(keys, models.PresetCustom)
	return keys
}

// Describe resolves key to a full preset descriptor. For the custom key the
// user-supplied dimensions are used, bounded to [MinDimension, MaxDimension].
func Describe(key models.PresetKey, customWidth, customHeight int) models.Preset {
	if p, ok := registry[key]; ok {
		return p
	}
	w, h := Size(models.PresetCustom, customWidth, customHeight)
	return models.Preset{
		Key:      models.PresetCustom,
		Label:    "カスタム",
		LabelEn:  "Custom",
		Width:    w,
		Height:   h,
		Platform: "custom",
	}
}

// Size returns the target output dimensions for key. Unknown keys fall back to
// the custom path.
func Size(key models.PresetKey, customWidth, customHeight int) (width, height int) {
	if p, ok := registry[key]; ok {
		return p.Width, p.Height
	}
	return clampDimension(customWidth), clampDimension(customHeight)
}

func clampDimension(v int) int {
	if v == 0 {
		return defaultCustomSize
	}
	if v < MinDimension {
		return MinDimension
	}
	if v > MaxDimension {
		return MaxDimension
	}
	return v
}

// EstimateProcessingTime returns a rough per-batch duration in seconds for
// user-facing estimates only.
func EstimateProcessingTime(backend models.Backend, imageCount int) int {
	perImage := 3
	if backend != models.BackendAccelerated {
		perImage = 300
	}
	return imageCount * perImage
}

// EstimatedTimeString renders EstimateProcessingTime in a human-readable form.
func EstimatedTimeString(backend models.Backend, imageCount int) string {
	total := EstimateProcessingTime(backend, imageCount)
	switch {
	case total < 60:
		return fmt.Sprintf("~%ds", total)
	case total < 3600:
		return fmt.Sprintf("~%dm", int(math.Ceil(float64(total)/60)))
	default:
		return fmt.Sprintf("~%dh%dm", total/3600, int(math.Ceil(float64(total%3600)/60)))
	}
}
