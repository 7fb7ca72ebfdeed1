// Package types provides types and interfaces for the transcoding module.
package types

import "time"

// PipelineConfig holds the typed options every pipeline stage reads.
type PipelineConfig struct {
	// ResolutionLadder is the ladder the selector filters, ascending by width
	ResolutionLadder []ResolutionProfile

	// SegmentDurationSeconds is the packager's target segment duration
	SegmentDurationSeconds int

	// EncryptionEnabled is the default for jobs that do not say otherwise
	EncryptionEnabled bool

	// MaxConcurrentEncodes caps simultaneous encoder subprocesses within one job
	MaxConcurrentEncodes int

	// MaxConcurrentJobs caps jobs running at the same time
	MaxConcurrentJobs int

	// SubprocessTimeout bounds every probe, encode and package invocation. Zero disables it.
	SubprocessTimeout time.Duration

	// KillGracePeriod is the wait between SIGTERM and SIGKILL
	KillGracePeriod time.Duration

	FFmpegPath   string
	FFprobePath  string
	PackagerPath string

	// WorkDir holds per-job intermediate files
	WorkDir string

	// OutputDir is the root of published packages
	OutputDir string

	// Resume skips encodes whose output carries a completion marker
	Resume bool

	// Poster writes poster.webp next to the manifests
	Poster        bool
	PosterQuality float32
}

// DefaultPipelineConfig returns the default configuration
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		ResolutionLadder:       DefaultLadder(),
		SegmentDurationSeconds: 6,
		MaxConcurrentEncodes:   2,
		MaxConcurrentJobs:      1,
		SubprocessTimeout:      2 * time.Hour,
		KillGracePeriod:        5 * time.Second,
		FFmpegPath:             "ffmpeg",
		FFprobePath:            "ffprobe",
		PackagerPath:           "packager",
		WorkDir:                "/var/lib/vodpack/work",
		OutputDir:              "/var/lib/vodpack/output",
		PosterQuality:          80,
	}
}
