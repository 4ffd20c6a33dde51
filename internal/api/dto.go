package api

// FileResponse is the UI view of one queued file.
type FileResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Error    string `json:"error,omitempty"`
}

// RejectedResponse reports one rejected upload.
type RejectedResponse struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// AddFilesResponse partitions an upload into accepted and rejected files.
type AddFilesResponse struct {
	Added    int                `json:"added"`
	Rejected []RejectedResponse `json:"rejected"`
}

// SettingsRequest carries partial settings mutations; nil fields are left
// untouched.
type SettingsRequest struct {
	Preset            *string `json:"preset,omitempty"`
	CustomWidth       *int    `json:"custom_width,omitempty"`
	CustomHeight      *int    `json:"custom_height,omitempty"`
	Quality           *int    `json:"quality,omitempty"`
	EnableWatermark   *bool   `json:"enable_watermark,omitempty"`
	WatermarkText     *string `json:"watermark_text,omitempty"`
	WatermarkPosition *string `json:"watermark_position,omitempty"`
	BackgroundRemoval *bool   `json:"background_removal,omitempty"`
}

// SettingsResponse is the full current settings state.
type SettingsResponse struct {
	Preset            string `json:"preset"`
	CustomWidth       int    `json:"custom_width"`
	CustomHeight      int    `json:"custom_height"`
	Quality           int    `json:"quality"`
	EnableWatermark   bool   `json:"enable_watermark"`
	WatermarkText     string `json:"watermark_text"`
	WatermarkPosition string `json:"watermark_position"`
	BackgroundRemoval bool   `json:"background_removal"`
}

// ModelStateResponse is the UI view of inference-model readiness.
type ModelStateResponse struct {
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Message  string `json:"message"`
	Device   string `json:"device,omitempty"`
}

// ProcessedResponse describes one output available for download.
type ProcessedResponse struct {
	ID         string `json:"id"`
	OriginalID string `json:"original_id"`
	Name       string `json:"name"`
	Size       int    `json:"size"`
	Preset     string `json:"preset"`
}

// ModelCacheResponse describes the durable model cache.
type ModelCacheResponse struct {
	Cached                   bool   `json:"cached"`
	CachedAt                 string `json:"cached_at,omitempty"`
	SizeEstimate             int64  `json:"size_estimate"`
	EstimatedDownloadSeconds int    `json:"estimated_download_seconds"`
}

// MemoryResponse is a snapshot of memory-monitor diagnostics.
type MemoryResponse struct {
	CurrentUsage     int64   `json:"current_usage"`
	CurrentUsageText string  `json:"current_usage_text"`
	MaxBytes         int64   `json:"max_bytes"`
	UsageRatio       float64 `json:"usage_ratio"`
	Warning          bool    `json:"warning"`
	TrackedResources int     `json:"tracked_resources"`
}

// EstimateResponse is a rough duration forecast for the current queue.
type EstimateResponse struct {
	Files            int    `json:"files"`
	Backend          string `json:"backend"`
	EstimatedSeconds int    `json:"estimated_seconds"`
	EstimatedText    string `json:"estimated_text"`
}

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}
