package models

// Status is the lifecycle state of an ImageFile.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions are allowed without a reset.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Backend is the compute path used for neural inference.
type Backend string

const (
	BackendAccelerated Backend = "gpu"
	BackendFallback    Backend = "cpu"
	BackendNone        Backend = ""
)

// ModelStatus describes inference-model readiness.
type ModelStatus string

const (
	ModelIdle    ModelStatus = "idle"
	ModelLoading ModelStatus = "loading"
	ModelReady   ModelStatus = "ready"
	ModelError   ModelStatus = "error"
)

// ImageFile is one user-submitted image awaiting or undergoing processing.
type ImageFile struct {
	ID        string
	Name      string
	Size      int64
	MimeType  string
	Data      []byte
	Thumbnail []byte
	Status    Status
	Progress  int
	Error     string
}

// PresetKey names a target output resolution tied to a social platform.
type PresetKey string

const PresetCustom PresetKey = "custom"

// Preset is a named target output resolution.
type Preset struct {
	Key      PresetKey
	Label    string
	LabelEn  string
	Width    int
	Height   int
	Platform string
}

// ProcessedImage is the output of successfully processing one ImageFile.
type ProcessedImage struct {
	ID                   string
	OriginalID           string
	Name                 string
	Data                 []byte
	Preset               Preset
	HasWatermark         bool
	HasBackgroundRemoval bool
	Quality              int
}

// WatermarkPosition is one of the five text anchors.
type WatermarkPosition string

const (
	WatermarkBottomRight WatermarkPosition = "bottomRight"
	WatermarkBottomLeft  WatermarkPosition = "bottomLeft"
	WatermarkCenter      WatermarkPosition = "center"
	WatermarkTopRight    WatermarkPosition = "topRight"
	WatermarkTopLeft     WatermarkPosition = "topLeft"
)

// Settings holds the user-selected processing options.
type Settings struct {
	Preset                  PresetKey
	CustomWidth             int
	CustomHeight            int
	Quality                 int
	EnableWatermark         bool
	WatermarkText           string
	WatermarkPosition       WatermarkPosition
	EnableBackgroundRemoval bool
}

// DefaultSettings mirrors the initial UI state.
func DefaultSettings() Settings {
	return Settings{
		Preset:            "instagram-square",
		CustomWidth:       1080,
		CustomHeight:      1080,
		Quality:           90,
		WatermarkPosition: WatermarkBottomRight,
	}
}

// ModelState is the coordination record for inference-model readiness.
type ModelState struct {
	Status   ModelStatus
	Progress int
	Message  string
	Device   Backend
}
