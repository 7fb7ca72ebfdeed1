package database

import (
	"time"
)

// TranscodeJob is the persisted record of one packaging job. List-valued
// fields are stored as JSON text.
type TranscodeJob struct {
	ID          string `gorm:"primaryKey;type:varchar(64)"`
	JobKey      string `gorm:"type:varchar(255);not null;index"`
	InputPath   string `gorm:"type:text;not null"`
	SubtitleDir string `gorm:"type:text"`
	TempDir     string `gorm:"type:text"`
	OutputRoot  string `gorm:"type:text"`
	Encrypted   bool   `gorm:"not null;default:false"`

	State       string `gorm:"type:varchar(32);not null;index"`
	FailedStage string `gorm:"type:varchar(32)"`
	Error       string `gorm:"type:text"`
	Diagnostics string `gorm:"type:text"`

	ManifestMPD  string `gorm:"type:text"`
	ManifestHLS  string `gorm:"type:text"`
	ClearKeyPath string `gorm:"type:text"`
	PosterPath   string `gorm:"type:text"`

	Source      string `gorm:"type:text"` // JSON SourceMetadata
	Renditions  string `gorm:"type:text"` // JSON []Rendition
	AudioTracks string `gorm:"type:text"` // JSON []AudioTrack
	Subtitles   string `gorm:"type:text"` // JSON []SubtitleTrack

	CreatedAt   time.Time  `gorm:"not null;index"`
	UpdatedAt   time.Time  `gorm:"not null"`
	CompletedAt *time.Time `gorm:"index"`
}

// TableName returns the table name for GORM
func (TranscodeJob) TableName() string {
	return "transcode_jobs"
}
