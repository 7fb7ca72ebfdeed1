package types

import "time"

// JobState is a job's position in the pipeline
type JobState string

const (
	JobStateCreated   JobState = "created"
	JobStateProbing   JobState = "probing"
	JobStateEncoding  JobState = "encoding"
	JobStatePackaging JobState = "packaging"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
	JobStateCancelled JobState = "cancelled"
)

// IsTerminal reports whether no further transitions are possible
func (s JobState) IsTerminal() bool {
	return s == JobStateCompleted || s == JobStateFailed || s == JobStateCancelled
}

// JobRequest asks for one source file to be packaged
type JobRequest struct {
	InputPath   string `json:"inputPath" binding:"required"`
	SubtitleDir string `json:"subtitleDir,omitempty"`
	JobKey      string `json:"jobKey,omitempty"`
	// Encrypt overrides the configured default when set
	Encrypt *bool `json:"encrypt,omitempty"`
}

// Job is the externally visible state of a transcode job
type Job struct {
	ID          string   `json:"id"`
	JobKey      string   `json:"jobKey"`
	InputPath   string   `json:"inputPath"`
	SubtitleDir string   `json:"subtitleDir,omitempty"`
	TempDir     string   `json:"tempDir"`
	OutputDir   string   `json:"outputDir"`
	Encrypted   bool     `json:"encrypted"`
	State       JobState `json:"state"`
	FailedStage JobState `json:"failedStage,omitempty"`
	Error       string   `json:"error,omitempty"`
	Diagnostics string   `json:"diagnostics,omitempty"`

	ManifestMPD  string `json:"manifestMpd,omitempty"`
	ManifestHLS  string `json:"manifestHls,omitempty"`
	ClearKeyPath string `json:"clearKeyPath,omitempty"`
	PosterPath   string `json:"posterPath,omitempty"`

	Source      *SourceMetadata `json:"source,omitempty"`
	Renditions  []Rendition     `json:"renditions,omitempty"`
	AudioTracks []AudioTrack    `json:"audioTracks,omitempty"`
	Subtitles   []SubtitleTrack `json:"subtitles,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// JobFilter narrows job listings
type JobFilter struct {
	States []JobState
	Limit  int
}
