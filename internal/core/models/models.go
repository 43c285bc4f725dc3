package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Capture is one classified doorbell image
type Capture struct {
	gorm.Model
	Filename      string         `gorm:"uniqueIndex;not null" json:"filename"` // name inside the capture directory
	CapturedAt    time.Time      `gorm:"index" json:"captured_at"`
	Label         string         `gorm:"index" json:"label"`     // after the confidence threshold
	Predicted     string         `json:"predicted"`              // top label before the threshold
	Confidence    float64        `json:"confidence"`
	Probabilities datatypes.JSON `gorm:"type:json" json:"probabilities"`
	Deliveries    []Delivery     `gorm:"foreignKey:CaptureID;constraint:OnDelete:CASCADE;" json:"deliveries,omitempty"`
}

// Delivery records the outcome of one notification sink for a capture
type Delivery struct {
	gorm.Model
	CaptureID  uint   `gorm:"index;not null" json:"capture_id"`
	Sink       string `gorm:"index" json:"sink"` // remote_log, hardware, mqtt
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Statistics summarises the stored captures
type Statistics struct {
	TotalCaptures   int64            `json:"total_captures"`
	UnknownCaptures int64            `json:"unknown_captures"`
	LatestCapture   *time.Time       `json:"latest_capture,omitempty"`
	PerLabel        map[string]int64 `json:"per_label"`
	FailedDelivery  int64            `json:"failed_deliveries"`
}
