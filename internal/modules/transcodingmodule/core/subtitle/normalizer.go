// Package subtitle turns a directory of SubRip/WebVTT caption files into the
// WebVTT tracks the packager accepts.
package subtitle

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/hashicorp/go-hclog"
	tErrors "github.com/mantonx/vodpack/internal/modules/transcodingmodule/errors"
	"github.com/mantonx/vodpack/internal/modules/transcodingmodule/types"
)

const webvttHeader = "WEBVTT\n\n"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Normalizer finds caption tracks and converts SubRip files to WebVTT
type Normalizer struct {
	logger hclog.Logger
}

// NewNormalizer creates a normalizer
func NewNormalizer(logger hclog.Logger) *Normalizer {
	return &Normalizer{logger: logger.Named("subtitles")}
}

// FindSubtitles converts every .srt in dir that has no .vtt sibling, then
// returns one track per usable .vtt file sorted by file name. A missing or
// empty dir yields no tracks. Files that fail conversion or validation are
// logged and skipped; their errors are returned in skipped.
func (n *Normalizer) FindSubtitles(dir string) (tracks []types.SubtitleTrack, skipped []error, err error) {
	if dir == "" {
		return nil, nil, nil
	}

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		n.logger.Debug("subtitle directory absent", "dir", dir)
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read subtitle directory: %w", err)
	}

	existing := make(map[string]bool, len(entries))
	for _, e := range entries {
		existing[strings.ToLower(e.Name())] = true
	}

	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.EqualFold(filepath.Ext(e.Name()), ".srt") {
			continue
		}

		vttName := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())) + ".vtt"
		if existing[strings.ToLower(vttName)] {
			continue
		}

		srcPath := filepath.Join(dir, e.Name())
		if strings.Contains(e.Name(), ",") {
			skipped = append(skipped, n.skip(srcPath, errCommaInName))
			continue
		}
		if err := convertFile(srcPath, filepath.Join(dir, vttName)); err != nil {
			skipped = append(skipped, n.skip(srcPath, err))
			continue
		}
		n.logger.Info("converted subtitle", "file", srcPath, "output", vttName)
	}

	entries, err = os.ReadDir(dir)
	if err != nil {
		return nil, skipped, fmt.Errorf("failed to read subtitle directory: %w", err)
	}

	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.EqualFold(filepath.Ext(e.Name()), ".vtt") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := validateVTT(path); err != nil {
			skipped = append(skipped, n.skip(path, err))
			continue
		}

		lang := strings.ToLower(strings.SplitN(e.Name(), ".", 2)[0])
		tracks = append(tracks, types.SubtitleTrack{
			Path: path,
			Lang: lang,
			Name: LanguageName(lang),
		})
	}

	sort.Slice(tracks, func(i, j int) bool { return tracks[i].Path < tracks[j].Path })
	return tracks, skipped, nil
}

var errCommaInName = errors.New("file name contains a comma")

func (n *Normalizer) skip(path string, err error) error {
	n.logger.Warn("skipping subtitle", "file", path, "error", err)
	return tErrors.SubtitleConversionError(path, err)
}

// validateVTT rejects tracks the packager cannot take: comma-separated
// stream descriptors rule out commas in the path, and the file must carry
// the WEBVTT signature.
func validateVTT(path string) error {
	if strings.Contains(filepath.Base(path), ",") {
		return errCommaInName
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	head := make([]byte, len(utf8BOM)+len("WEBVTT"))
	n, _ := io.ReadFull(f, head)
	head = bytes.TrimPrefix(head[:n], utf8BOM)
	if len(head) == 0 {
		return fmt.Errorf("subtitle file is empty")
	}
	if !bytes.HasPrefix(head, []byte("WEBVTT")) {
		return fmt.Errorf("missing WEBVTT header")
	}
	return nil
}

func convertFile(srcPath, dstPath string) error {
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return err
	}

	vtt, err := ConvertSRT(data)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dstPath), ".vtt-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(vtt); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dstPath)
}

// ConvertSRT converts SubRip text to WebVTT: the WEBVTT header is prepended,
// line endings become LF, and the millisecond comma of cue timings becomes
// the dot WebVTT requires. Input that is empty, not UTF-8, or has no cue
// timing line is rejected.
func ConvertSRT(data []byte) ([]byte, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("subtitle file is empty")
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("subtitle file is not valid UTF-8")
	}

	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	cues := 0
	for i, line := range lines {
		if strings.Contains(line, "-->") {
			lines[i] = strings.ReplaceAll(line, ",", ".")
			cues++
		}
	}
	if cues == 0 {
		return nil, fmt.Errorf("no cue timings found")
	}

	return []byte(webvttHeader + strings.Join(lines, "\n")), nil
}
