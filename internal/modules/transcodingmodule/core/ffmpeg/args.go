// Package ffmpeg builds ffmpeg/ffprobe invocations and parses ffprobe output.
//
// Every intermediate is a single-track MP4 the packager can segment on its
// own: video renditions force keyframes on segment boundaries and disable
// scene-cut keyframes so all renditions share GOP boundaries, and every file
// gets +faststart so the moov atom leads the file.
//
// Example usage:
//
//	builder := ffmpeg.NewArgsBuilder(6, 4, logger)
//	args := builder.VideoArgs(input, profile, "/work/job/720p/video_720p.mp4")
package ffmpeg

import (
	"fmt"
	"strconv"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/vodpack/internal/modules/transcodingmodule/types"
)

// Encoding constants shared by every job
const (
	VideoCodec   = "libx264"
	VideoPreset  = "fast"
	VideoProfile = "main"
	VideoCRF     = 20
	AudioCodec   = "aac"
	AudioBitrate = "128k"
)

// ArgsBuilder handles building ffmpeg command arguments
type ArgsBuilder struct {
	segmentDuration int
	threads         int
	logger          hclog.Logger
}

// NewArgsBuilder creates a builder. segmentDuration drives keyframe
// placement; threads > 0 adds -threads.
func NewArgsBuilder(segmentDuration, threads int, logger hclog.Logger) *ArgsBuilder {
	if segmentDuration <= 0 {
		segmentDuration = 6
	}
	return &ArgsBuilder{
		segmentDuration: segmentDuration,
		threads:         threads,
		logger:          logger.Named("ffmpeg-args"),
	}
}

// VideoArgs encodes the first video stream to one rendition. The scale
// filter keeps the aspect ratio with the width rounded to an even number.
func (b *ArgsBuilder) VideoArgs(input string, profile types.ResolutionProfile, output string) []string {
	args := []string{
		"-hide_banner", "-nostdin", "-y",
		"-i", input,
		"-map", "0:v:0",
		"-an",
		"-c:v", VideoCodec,
		"-preset", VideoPreset,
		"-profile:v", VideoProfile,
		"-crf", strconv.Itoa(VideoCRF),
		"-maxrate", profile.BitrateArg(),
		"-bufsize", profile.BufferArg(),
		"-vf", fmt.Sprintf("scale=-2:%d", profile.Height),
		"-pix_fmt", "yuv420p",
	}

	if b.threads > 0 {
		args = append(args, "-threads", strconv.Itoa(b.threads))
	}

	args = append(args, b.keyframeAlignmentArgs()...)
	args = append(args, "-movflags", "+faststart", output)

	b.logger.Trace("built video args", "profile", profile.Name, "args", args)
	return args
}

// AudioArgs encodes audio stream streamIndex (ordinal among audio streams)
// to a single-track AAC file, tagging the language when one is known.
func (b *ArgsBuilder) AudioArgs(input string, streamIndex int, language, output string) []string {
	args := []string{
		"-hide_banner", "-nostdin", "-y",
		"-i", input,
		"-map", fmt.Sprintf("0:a:%d", streamIndex),
		"-vn",
		"-c:a", AudioCodec,
		"-b:a", AudioBitrate,
	}

	if language != "" {
		args = append(args, "-metadata:s:a:0", "language="+language)
	}

	args = append(args, "-movflags", "+faststart", output)

	b.logger.Trace("built audio args", "stream", streamIndex, "args", args)
	return args
}

// PosterArgs grabs a single frame at offset and writes it as PNG to stdout
func (b *ArgsBuilder) PosterArgs(input string, offset time.Duration) []string {
	return []string{
		"-hide_banner", "-nostdin",
		"-ss", strconv.FormatFloat(offset.Seconds(), 'f', 3, 64),
		"-i", input,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"-",
	}
}

// keyframeAlignmentArgs places a keyframe at every segment boundary and
// turns off scene-cut keyframes so every rendition cuts at the same instants
func (b *ArgsBuilder) keyframeAlignmentArgs() []string {
	return []string{
		"-force_key_frames", fmt.Sprintf("expr:gte(t,n_forced*%d)", b.segmentDuration),
		"-sc_threshold", "0",
	}
}

// ProbeArgs inspects format and streams as JSON
func ProbeArgs(input string) []string {
	return []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		input,
	}
}
