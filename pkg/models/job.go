package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// ExportJob records one offline render of the timeline
type ExportJob struct {
	ID          string       `json:"id" db:"id"`
	ProjectPath string       `json:"project_path" db:"project_path"`
	OutputPath  string       `json:"output_path" db:"output_path"`
	Status      string       `json:"status" db:"status"`
	Progress    float64      `json:"progress" db:"progress"`
	ErrorMsg    string       `json:"error_msg,omitempty" db:"error_msg"`
	ObjectURL   string       `json:"object_url,omitempty" db:"object_url"`
	StartedAt   *time.Time   `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at" db:"updated_at"`
	Settings    ExportConfig `json:"settings" db:"settings"`
}

// ExportConfig holds the render settings for a job
type ExportConfig struct {
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	FPS         float64 `json:"fps"`
	TotalFrames int     `json:"total_frames"`
	VideoCodec  string  `json:"video_codec"`
	Preset      string  `json:"preset"`
	CRF         int     `json:"crf"`
	AudioCodec  string  `json:"audio_codec"`
	AudioKbps   int     `json:"audio_kbps"`
}

// Value implements driver.Valuer for database storage
func (c ExportConfig) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// Scan implements sql.Scanner for database retrieval
func (c *ExportConfig) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, c)
	case string:
		return json.Unmarshal([]byte(v), c)
	}
	return nil
}

// Duration returns the rendered length in seconds
func (c ExportConfig) Duration() float64 {
	if c.FPS <= 0 {
		return 0
	}
	return float64(c.TotalFrames) / c.FPS
}

// JobStatus constants
const (
	JobStatusPending   = "pending"
	JobStatusRendering = "rendering"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// Default encoder settings used by the export pipeline
const (
	DefaultVideoCodec = "libx264"
	DefaultPreset     = "medium"
	DefaultCRF        = 23
	DefaultAudioCodec = "aac"
	DefaultAudioKbps  = 192
)
