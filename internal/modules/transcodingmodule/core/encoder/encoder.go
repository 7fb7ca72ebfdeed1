// Package encoder produces the single-track MP4 intermediates the packager
// consumes: one per selected rendition and one per source audio stream.
package encoder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/vodpack/internal/modules/transcodingmodule/core/ffmpeg"
	"github.com/mantonx/vodpack/internal/modules/transcodingmodule/core/process"
	tErrors "github.com/mantonx/vodpack/internal/modules/transcodingmodule/errors"
	"github.com/mantonx/vodpack/internal/modules/transcodingmodule/types"
	"golang.org/x/sync/errgroup"
)

// doneSuffix marks an intermediate whose encode finished. The marker holds
// the fingerprint of the input and arguments that produced it.
const doneSuffix = ".done"

// Options configures an Encoder
type Options struct {
	FFmpegPath string
	// MaxConcurrent caps simultaneous encoder subprocesses within one job
	MaxConcurrent int
	// Resume skips encodes whose output exists and whose completion marker
	// matches the current input and arguments
	Resume bool
}

// Encoder runs the encoding engine
type Encoder struct {
	exec   process.Executor
	args   *ffmpeg.ArgsBuilder
	opts   Options
	logger hclog.Logger
}

// Request lists everything one job needs encoded
type Request struct {
	JobID        string
	InputPath    string
	TempDir      string
	Profiles     []types.ResolutionProfile
	AudioStreams []types.AudioStream
	// LogDir receives per-invocation command logs when set
	LogDir string
}

// Result lists the intermediates actually produced, in request order
type Result struct {
	Renditions  []types.Rendition
	AudioTracks []types.AudioTrack
}

// NewEncoder creates an encoder
func NewEncoder(exec process.Executor, args *ffmpeg.ArgsBuilder, opts Options, logger hclog.Logger) *Encoder {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	return &Encoder{
		exec:   exec,
		args:   args,
		opts:   opts,
		logger: logger.Named("encoder"),
	}
}

// VideoOutputPath is <temp>/<rung>/video_<rung>.mp4
func VideoOutputPath(tempDir string, profile types.ResolutionProfile) string {
	return filepath.Join(tempDir, profile.Name, fmt.Sprintf("video_%s.mp4", profile.Name))
}

// AudioOutputPath is <temp>/audio/<key>/audio_<key>.mp4
func AudioOutputPath(tempDir, key string) string {
	return filepath.Join(tempDir, "audio", key, fmt.Sprintf("audio_%s.mp4", key))
}

// PlanAudioTracks assigns language, display name, directory key and the
// default flag to each source audio stream. The first stream is the default.
func PlanAudioTracks(tempDir string, streams []types.AudioStream) []types.AudioTrack {
	tracks := make([]types.AudioTrack, 0, len(streams))
	seen := make(map[string]int)

	for i, s := range streams {
		lang := s.Language
		name := fmt.Sprintf("%s Audio", lang)
		if lang == "" {
			lang = fmt.Sprintf("audio%d", s.Index)
			name = fmt.Sprintf("Audio Track %d", s.Index+1)
		}

		key := safeKey(lang)
		seen[key]++
		if n := seen[key]; n > 1 {
			key = fmt.Sprintf("%s_%d", key, n)
		}

		tracks = append(tracks, types.AudioTrack{
			Path:        AudioOutputPath(tempDir, key),
			Lang:        lang,
			Name:        name,
			IsDefault:   i == 0,
			Key:         key,
			StreamIndex: s.Index,
		})
	}
	return tracks
}

// EncodeAll fans every encode out to a pool bounded by MaxConcurrent and
// waits for all of them. The first failure cancels the rest and fails the
// whole request; intermediates already written are left in place.
func (e *Encoder) EncodeAll(ctx context.Context, req Request) (*Result, error) {
	result := &Result{
		Renditions:  make([]types.Rendition, len(req.Profiles)),
		AudioTracks: PlanAudioTracks(req.TempDir, req.AudioStreams),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.MaxConcurrent)

	for i, profile := range req.Profiles {
		out := VideoOutputPath(req.TempDir, profile)
		result.Renditions[i] = types.Rendition{Profile: profile, Path: out}

		g.Go(func() error {
			return e.EncodeVideo(gctx, req.JobID, req.InputPath, profile, out, req.LogDir)
		})
	}

	for i, track := range result.AudioTracks {
		lang := req.AudioStreams[i].Language
		g.Go(func() error {
			return e.EncodeAudio(gctx, req.JobID, req.InputPath, track.StreamIndex, lang, track.Path, req.LogDir)
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	e.logger.Info("encoded intermediates",
		"job_id", req.JobID,
		"renditions", len(result.Renditions),
		"audio_tracks", len(result.AudioTracks))

	return result, nil
}

// EncodeVideo encodes one rendition to outPath
func (e *Encoder) EncodeVideo(ctx context.Context, jobID, input string, profile types.ResolutionProfile, outPath, logDir string) error {
	target := profile.Name
	return e.run(ctx, jobID, target, input, outPath, logDir, e.args.VideoArgs(input, profile, outPath))
}

// EncodeAudio encodes audio stream streamIndex to outPath. An empty
// language leaves the stream untagged.
func (e *Encoder) EncodeAudio(ctx context.Context, jobID, input string, streamIndex int, language, outPath, logDir string) error {
	target := fmt.Sprintf("audio %d", streamIndex)
	return e.run(ctx, jobID, target, input, outPath, logDir, e.args.AudioArgs(input, streamIndex, language, outPath))
}

func (e *Encoder) run(ctx context.Context, jobID, target, input, outPath, logDir string, args []string) error {
	stamp := fingerprint(input, args)
	if e.opts.Resume && isComplete(outPath, stamp) {
		e.logger.Info("skipping finished encode", "job_id", jobID, "target", target, "output", outPath)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return tErrors.EncodeError(target, fmt.Errorf("failed to create output directory: %w", err)).WithJob(jobID)
	}
	// a stale marker must not vouch for a file this run is about to rewrite
	_ = os.Remove(outPath + doneSuffix)

	e.logger.Debug("encoding", "job_id", jobID, "target", target, "output", outPath)

	res, err := e.exec.Run(ctx, process.Command{
		JobID:  jobID,
		Label:  "encode " + target,
		Path:   e.opts.FFmpegPath,
		Args:   args,
		LogDir: logDir,
	})
	if err != nil {
		pErr := tErrors.EncodeError(target, err).WithJob(jobID)
		if res != nil {
			pErr.WithStderr(res.Stderr)
		}
		return pErr
	}

	info, err := os.Stat(outPath)
	if err != nil || info.Size() == 0 {
		return tErrors.EncodeError(target, fmt.Errorf("encoder exited 0 but produced no output at %s", outPath)).WithJob(jobID)
	}

	if e.opts.Resume {
		if err := os.WriteFile(outPath+doneSuffix, []byte(stamp), 0644); err != nil {
			e.logger.Warn("failed to write completion marker", "output", outPath, "error", err)
		}
	}

	e.logger.Info("encode finished", "job_id", jobID, "target", target, "duration", res.Duration)
	return nil
}

// fingerprint identifies one encode: the input's path, size and mtime plus
// the full argument vector. An unreadable input hashes with size -1.
func fingerprint(input string, args []string) string {
	size, mtime := int64(-1), int64(0)
	if info, err := os.Stat(input); err == nil {
		size, mtime = info.Size(), info.ModTime().UnixNano()
	}

	h := sha256.New()
	fmt.Fprintf(h, "%s\n%d\n%d\n", input, size, mtime)
	h.Write([]byte(strings.Join(args, "\x00")))
	return hex.EncodeToString(h.Sum(nil))
}

func isComplete(outPath, stamp string) bool {
	marker, err := os.ReadFile(outPath + doneSuffix)
	if err != nil || strings.TrimSpace(string(marker)) != stamp {
		return false
	}
	info, err := os.Stat(outPath)
	return err == nil && info.Size() > 0
}

// safeKey keeps a language tag usable as a directory name
func safeKey(lang string) string {
	key := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '_'
		}
	}, lang)
	if key == "" {
		return "audio"
	}
	return key
}
