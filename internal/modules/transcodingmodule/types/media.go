package types

import "time"

// SourceMetadata describes a probed source file
type SourceMetadata struct {
	Width        int           `json:"width"`
	Height       int           `json:"height"`
	Duration     time.Duration `json:"duration"`
	VideoCodec   string        `json:"videoCodec"`
	AudioStreams []AudioStream `json:"audioStreams"`
}

// AudioStream is one audio stream of the source. Index is the ordinal among
// audio streams, as used by ffmpeg's 0:a:N selector.
type AudioStream struct {
	Index      int    `json:"index"`
	Language   string `json:"language,omitempty"`
	Codec      string `json:"codec"`
	Channels   int    `json:"channels"`
	SampleRate int    `json:"sampleRate"`
}

// Rendition is an encoded video intermediate
type Rendition struct {
	Profile ResolutionProfile `json:"profile"`
	Path    string            `json:"path"`
}

// AudioTrack is an encoded audio intermediate. Key is unique within a job and
// names the track's output directory.
type AudioTrack struct {
	Path        string `json:"path"`
	Lang        string `json:"lang"`
	Name        string `json:"name"`
	IsDefault   bool   `json:"isDefault"`
	Key         string `json:"key"`
	StreamIndex int    `json:"streamIndex"`
}

// SubtitleTrack is a normalized WebVTT caption file
type SubtitleTrack struct {
	Path string `json:"path"`
	Lang string `json:"lang"`
	Name string `json:"name"`
}

// ClearKey is a raw content key and its identifier, both 32 lowercase hex chars.
type ClearKey struct {
	KeyID string `json:"key_id"`
	Key   string `json:"key"`
}
