package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/vodpack/internal/modules/transcodingmodule/core/process"
	tErrors "github.com/mantonx/vodpack/internal/modules/transcodingmodule/errors"
	"github.com/mantonx/vodpack/internal/modules/transcodingmodule/types"
)

// MediaProber uses ffprobe to extract source metadata
type MediaProber struct {
	exec        process.Executor
	ffprobePath string
	logger      hclog.Logger
}

// probeOutput mirrors the parts of ffprobe's JSON we read
type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []probeStream `json:"streams"`
}

type probeStream struct {
	Index       int    `json:"index"`
	CodecType   string `json:"codec_type"`
	CodecName   string `json:"codec_name"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Channels    int    `json:"channels"`
	SampleRate  string `json:"sample_rate"`
	Duration    string `json:"duration"`
	Disposition struct {
		AttachedPic int `json:"attached_pic"`
	} `json:"disposition"`
	Tags struct {
		Language string `json:"language"`
	} `json:"tags"`
}

// NewMediaProber creates a new media prober
func NewMediaProber(exec process.Executor, ffprobePath string, logger hclog.Logger) *MediaProber {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &MediaProber{
		exec:        exec,
		ffprobePath: ffprobePath,
		logger:      logger.Named("prober"),
	}
}

// Probe inspects inputPath. Any failure, including a source without a
// decodable video stream, is a ProbeError.
func (mp *MediaProber) Probe(ctx context.Context, jobID, inputPath string) (*types.SourceMetadata, error) {
	if _, err := os.Stat(inputPath); err != nil {
		return nil, tErrors.ProbeError(fmt.Errorf("source not readable: %w", err)).WithJob(jobID)
	}

	res, err := mp.exec.Run(ctx, process.Command{
		JobID: jobID,
		Label: "probe",
		Path:  mp.ffprobePath,
		Args:  ProbeArgs(inputPath),
	})
	if err != nil {
		pErr := tErrors.ProbeError(fmt.Errorf("ffprobe failed: %w", err)).WithJob(jobID)
		if res != nil {
			pErr.WithStderr(res.Stderr)
		}
		return nil, pErr
	}

	meta, err := ParseProbeOutput(res.Stdout)
	if err != nil {
		return nil, tErrors.ProbeError(err).WithJob(jobID)
	}

	mp.logger.Info("probed source",
		"job_id", jobID,
		"input", inputPath,
		"width", meta.Width,
		"height", meta.Height,
		"duration", meta.Duration,
		"audio_streams", len(meta.AudioStreams))

	return meta, nil
}

// ParseProbeOutput converts ffprobe JSON into SourceMetadata. The first
// video stream that is not cover art supplies the geometry.
func ParseProbeOutput(data []byte) (*types.SourceMetadata, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	meta := &types.SourceMetadata{}
	var video *probeStream
	audioIndex := 0

	for i := range out.Streams {
		s := &out.Streams[i]
		switch s.CodecType {
		case "video":
			if video == nil && s.Disposition.AttachedPic == 0 {
				video = s
			}
		case "audio":
			sampleRate, _ := strconv.Atoi(s.SampleRate)
			meta.AudioStreams = append(meta.AudioStreams, types.AudioStream{
				Index:      audioIndex,
				Language:   normalizeLanguageTag(s.Tags.Language),
				Codec:      s.CodecName,
				Channels:   s.Channels,
				SampleRate: sampleRate,
			})
			audioIndex++
		}
	}

	if video == nil {
		return nil, tErrors.ErrNoVideoStream
	}
	if video.Width <= 0 || video.Height <= 0 {
		return nil, fmt.Errorf("%w: video stream has no frame geometry", tErrors.ErrNoVideoStream)
	}

	meta.Width = video.Width
	meta.Height = video.Height
	meta.VideoCodec = video.CodecName
	meta.Duration = parseSeconds(out.Format.Duration)
	if meta.Duration == 0 {
		meta.Duration = parseSeconds(video.Duration)
	}

	return meta, nil
}

// normalizeLanguageTag drops the placeholder tags muxers write for
// "no language"
func normalizeLanguageTag(tag string) string {
	switch tag {
	case "", "und", "unknown":
		return ""
	}
	return tag
}

func parseSeconds(s string) time.Duration {
	if s == "" || s == "N/A" {
		return 0
	}
	seconds, err := strconv.ParseFloat(s, 64)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}
