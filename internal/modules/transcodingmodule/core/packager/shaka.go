// Package packager drives Shaka Packager to turn finished intermediates into
// a segmented DASH + HLS tree.
package packager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/vodpack/internal/modules/transcodingmodule/core/process"
	tErrors "github.com/mantonx/vodpack/internal/modules/transcodingmodule/errors"
	"github.com/mantonx/vodpack/internal/modules/transcodingmodule/types"
)

const (
	// ManifestMPD is the DASH manifest written at the root of an output tree
	ManifestMPD = "manifest.mpd"
	// ManifestHLS is the HLS master playlist written next to it
	ManifestHLS = "master.m3u8"

	defaultLanguage = "und"
)

var isoLanguage = regexp.MustCompile(`^[A-Za-z]{2,3}$`)

// Request is everything one packaging run consumes
type Request struct {
	JobID      string
	OutputDir  string
	Renditions []types.Rendition
	Audio      []types.AudioTrack
	Subtitles  []types.SubtitleTrack
	// Key enables raw-key encryption of every stream when set
	Key    *types.ClearKey
	LogDir string
}

// Result names the manifests the packager produced
type Result struct {
	ManifestMPD string
	ManifestHLS string
}

// ShakaPackager invokes the packager binary once per job
type ShakaPackager struct {
	exec            process.Executor
	path            string
	segmentDuration int
	logger          hclog.Logger
}

// NewShakaPackager creates a packager using the given binary path
func NewShakaPackager(exec process.Executor, path string, segmentDuration int, logger hclog.Logger) *ShakaPackager {
	if path == "" {
		path = "packager"
	}
	if segmentDuration <= 0 {
		segmentDuration = 6
	}
	return &ShakaPackager{
		exec:            exec,
		path:            path,
		segmentDuration: segmentDuration,
		logger:          logger.Named("packager"),
	}
}

// Package verifies every input exists, then runs the packager against the
// whole set. A non-zero exit is returned as a PackagingError carrying stderr.
func (p *ShakaPackager) Package(ctx context.Context, req Request) (*Result, error) {
	if len(req.Renditions) == 0 {
		return nil, tErrors.PackagingError(fmt.Errorf("no video renditions to package"), "")
	}
	if err := checkInputs(req); err != nil {
		return nil, tErrors.PackagingError(err, "")
	}

	args, dirs := p.BuildArgs(req)
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, tErrors.PackagingError(fmt.Errorf("failed to create %s: %w", dir, err), "")
		}
	}

	p.logger.Info("packaging content",
		"job_id", req.JobID,
		"output", req.OutputDir,
		"renditions", len(req.Renditions),
		"audio", len(req.Audio),
		"subtitles", len(req.Subtitles),
		"encrypted", req.Key != nil)

	res, err := p.exec.Run(ctx, process.Command{
		JobID:  req.JobID,
		Label:  "package",
		Path:   p.path,
		Args:   args,
		LogDir: req.LogDir,
	})
	if err != nil {
		stderr := ""
		if res != nil {
			stderr = res.Stderr
		}
		return nil, tErrors.PackagingError(err, stderr).WithJob(req.JobID)
	}

	out := &Result{
		ManifestMPD: filepath.Join(req.OutputDir, ManifestMPD),
		ManifestHLS: filepath.Join(req.OutputDir, ManifestHLS),
	}
	for _, m := range []string{out.ManifestMPD, out.ManifestHLS} {
		if _, err := os.Stat(m); err != nil {
			return nil, tErrors.PackagingError(fmt.Errorf("packager exited cleanly but %s is missing", filepath.Base(m)), res.Stderr).WithJob(req.JobID)
		}
	}

	p.logger.Info("packaging completed", "job_id", req.JobID, "duration", res.Duration)
	return out, nil
}

// BuildArgs renders the stream descriptors followed by the global flags. It
// also returns the per-stream directories that must exist before the run.
func (p *ShakaPackager) BuildArgs(req Request) ([]string, []string) {
	var args, dirs []string
	out := req.OutputDir

	for _, r := range req.Renditions {
		name := r.Profile.Name
		dirs = append(dirs, filepath.Join(out, name))
		args = append(args, descriptor(
			"in", r.Path,
			"stream", "video",
			"init_segment", filepath.Join(out, name, "init.mp4"),
			"segment_template", filepath.Join(out, name, "seg_$Number$.m4s"),
			"playlist_name", name+"/playlist.m3u8",
			"hls_group_id", "video",
			"hls_name", strings.ToUpper(name),
		))
	}

	for _, a := range req.Audio {
		rel := "audio/" + a.Key
		dirs = append(dirs, filepath.Join(out, "audio", a.Key))
		args = append(args, descriptor(
			"in", a.Path,
			"stream", "audio",
			"language", packagerLanguage(a.Lang),
			"init_segment", filepath.Join(out, "audio", a.Key, "init.mp4"),
			"segment_template", filepath.Join(out, "audio", a.Key, "seg_$Number$.m4s"),
			"playlist_name", rel+"/playlist.m3u8",
			"hls_group_id", "audio",
			"hls_name", hlsName(a.Name),
		))
	}

	seen := make(map[string]int)
	for _, s := range req.Subtitles {
		key := s.Lang
		if key == "" {
			key = defaultLanguage
		}
		seen[key]++
		if n := seen[key]; n > 1 {
			key = key + "_" + strconv.Itoa(n)
		}
		dirs = append(dirs, filepath.Join(out, "subtitles", key))
		args = append(args, descriptor(
			"in", s.Path,
			"stream", "text",
			"language", packagerLanguage(s.Lang),
			"format", "webvtt",
			"segment_template", filepath.Join(out, "subtitles", key, "sub_$Number$.vtt"),
			"playlist_name", "subtitles/"+key+"/playlist.m3u8",
			"hls_group_id", "subtitles",
			"hls_name", hlsName(s.Name),
		))
	}

	if req.Key != nil {
		args = append(args,
			"--enable_raw_key_encryption",
			"--keys", fmt.Sprintf("label=:key_id=%s:key=%s", req.Key.KeyID, req.Key.Key),
		)
	}

	args = append(args,
		"--mpd_output", filepath.Join(out, ManifestMPD),
		"--hls_master_playlist_output", filepath.Join(out, ManifestHLS),
		"--generate_static_live_mpd",
		"--segment_duration", strconv.Itoa(p.segmentDuration),
		"--hls_playlist_type", "VOD",
	)
	for _, a := range req.Audio {
		if a.IsDefault {
			args = append(args, "--default_language", packagerLanguage(a.Lang))
			break
		}
	}

	return args, dirs
}

func descriptor(kv ...string) string {
	parts := make([]string, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		parts = append(parts, kv[i]+"="+kv[i+1])
	}
	return strings.Join(parts, ",")
}

func packagerLanguage(lang string) string {
	if isoLanguage.MatchString(lang) {
		return strings.ToLower(lang)
	}
	return defaultLanguage
}

func hlsName(name string) string {
	return strings.Join(strings.Fields(strings.ToUpper(name)), "_")
}

// checkInputs enforces that every referenced intermediate is on disk and can
// be expressed inside a comma-separated descriptor
func checkInputs(req Request) error {
	var paths []string
	for _, r := range req.Renditions {
		paths = append(paths, r.Path)
	}
	for _, a := range req.Audio {
		paths = append(paths, a.Path)
	}
	for _, s := range req.Subtitles {
		paths = append(paths, s.Path)
	}

	for _, path := range append(paths, req.OutputDir) {
		if strings.ContainsAny(path, ",") {
			return fmt.Errorf("%w: path %q contains a comma", tErrors.ErrInvalidInput, path)
		}
	}
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil || info.Size() == 0 {
			return fmt.Errorf("%w: %s", tErrors.ErrMissingInput, path)
		}
	}
	return nil
}
