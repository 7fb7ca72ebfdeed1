// Package poster grabs a representative frame from the source and stores it
// as WebP next to the manifests.
package poster

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/vodpack/internal/modules/transcodingmodule/core/ffmpeg"
	"github.com/mantonx/vodpack/internal/modules/transcodingmodule/core/process"
)

// FileName is the poster written into the output tree
const FileName = "poster.webp"

// Generator extracts poster frames with ffmpeg
type Generator struct {
	exec       process.Executor
	args       *ffmpeg.ArgsBuilder
	ffmpegPath string
	quality    float32
	logger     hclog.Logger
}

// NewGenerator creates a poster generator. quality is the lossy WebP
// quality factor, 0-100.
func NewGenerator(exec process.Executor, args *ffmpeg.ArgsBuilder, ffmpegPath string, quality float32, logger hclog.Logger) *Generator {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if quality <= 0 || quality > 100 {
		quality = 80
	}
	return &Generator{
		exec:       exec,
		args:       args,
		ffmpegPath: ffmpegPath,
		quality:    quality,
		logger:     logger.Named("poster"),
	}
}

// Offset picks the frame at 10% of the duration
func Offset(duration time.Duration) time.Duration {
	return duration / 10
}

// Generate writes outDir/poster.webp and returns its path
func (g *Generator) Generate(ctx context.Context, jobID, input string, duration time.Duration, outDir string) (string, error) {
	var frame bytes.Buffer
	res, err := g.exec.Run(ctx, process.Command{
		JobID:  jobID,
		Label:  "poster",
		Path:   g.ffmpegPath,
		Args:   g.args.PosterArgs(input, Offset(duration)),
		Stdout: &frame,
	})
	if err != nil {
		if res != nil && res.Stderr != "" {
			return "", fmt.Errorf("frame extraction failed: %w: %s", err, lastLine(res.Stderr))
		}
		return "", fmt.Errorf("frame extraction failed: %w", err)
	}

	img, err := png.Decode(&frame)
	if err != nil {
		return "", fmt.Errorf("failed to decode frame: %w", err)
	}

	path := filepath.Join(outDir, FileName)
	if err := g.write(path, img); err != nil {
		return "", err
	}

	g.logger.Debug("poster written", "job_id", jobID, "path", path, "bounds", img.Bounds().Size())
	return path, nil
}

func (g *Generator) write(path string, img image.Image) error {
	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, &webp.Options{Lossless: false, Quality: g.quality}); err != nil {
		return fmt.Errorf("failed to encode as WebP: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write poster: %w", err)
	}
	return nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
