package subtitle

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	tErrors "github.com/mantonx/vodpack/internal/modules/transcodingmodule/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSRT = "1\r\n00:00:01,000 --> 00:00:04,250\r\nHello, world\r\n\r\n2\r\n00:00:05,000 --> 00:00:06,000\r\nBye\r\n"

func write(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestConvertSRT(t *testing.T) {
	out, err := ConvertSRT(append([]byte{0xEF, 0xBB, 0xBF}, sampleSRT...))
	require.NoError(t, err)

	want := "WEBVTT\n\n1\n00:00:01.000 --> 00:00:04.250\nHello, world\n\n2\n00:00:05.000 --> 00:00:06.000\nBye\n"
	assert.Equal(t, want, string(out))
}

func TestConvertSRTRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", []byte("  \n\n")},
		{"binary", []byte{0xff, 0xfe, 0x00, 0x2d, 0x2d, 0x3e}},
		{"no timings", []byte("just some text\nwithout cues\n")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ConvertSRT(tt.data)
			assert.Error(t, err)
		})
	}
}

func TestFindSubtitles(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "en.srt", sampleSRT)
	write(t, dir, "es.vtt", "WEBVTT\n\n00:00:01.000 --> 00:00:02.000\nHola\n")
	write(t, dir, "fr.srt", sampleSRT)
	write(t, dir, "fr.vtt", "WEBVTT\n\nexisting\n")
	write(t, dir, "xx.forced.SRT", sampleSRT)
	write(t, dir, "notes.txt", "ignored")

	n := NewNormalizer(hclog.NewNullLogger())
	tracks, skipped, err := n.FindSubtitles(dir)
	require.NoError(t, err)
	assert.Empty(t, skipped)

	require.Len(t, tracks, 4)
	assert.Equal(t, filepath.Join(dir, "en.vtt"), tracks[0].Path)
	assert.Equal(t, "en", tracks[0].Lang)
	assert.Equal(t, "English", tracks[0].Name)
	assert.Equal(t, "Spanish", tracks[1].Name)
	assert.Equal(t, "fr", tracks[2].Lang)
	assert.Equal(t, "xx", tracks[3].Lang)
	assert.Equal(t, "XX", tracks[3].Name)

	fr, err := os.ReadFile(filepath.Join(dir, "fr.vtt"))
	require.NoError(t, err)
	assert.Equal(t, "WEBVTT\n\nexisting\n", string(fr), "existing .vtt siblings are not overwritten")
}

func TestFindSubtitlesIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "de.srt", sampleSRT)
	write(t, dir, "ja.srt", sampleSRT)

	n := NewNormalizer(hclog.NewNullLogger())
	first, _, err := n.FindSubtitles(dir)
	require.NoError(t, err)

	vtt := filepath.Join(dir, "de.vtt")
	old := time.Now().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(vtt, old, old))

	second, _, err := n.FindSubtitles(dir)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	info, err := os.Stat(vtt)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(old), "converted file was rewritten")
}

func TestFindSubtitlesSkipsMalformed(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "en.srt", sampleSRT)
	bad := write(t, dir, "it.srt", "no cues here")

	tracks, skipped, err := NewNormalizer(hclog.NewNullLogger()).FindSubtitles(dir)
	require.NoError(t, err)

	require.Len(t, tracks, 1)
	assert.Equal(t, "en", tracks[0].Lang)
	require.Len(t, skipped, 1)
	assert.Equal(t, tErrors.ErrorTypeSubtitle, tErrors.GetType(skipped[0]))
	assert.Contains(t, skipped[0].Error(), bad)
	assert.NoFileExists(t, filepath.Join(dir, "it.vtt"))
}

func TestFindSubtitlesSkipsUnusableTracks(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "en.vtt", "\xEF\xBB\xBFWEBVTT\n\n00:00:01.000 --> 00:00:02.000\nHi\n")
	write(t, dir, "fr.vtt", "")
	write(t, dir, "pt.vtt", "1\n00:00:01,000 --> 00:00:02,000\nOla\n")
	write(t, dir, "de,forced.srt", sampleSRT)

	tracks, skipped, err := NewNormalizer(hclog.NewNullLogger()).FindSubtitles(dir)
	require.NoError(t, err)

	require.Len(t, tracks, 1)
	assert.Equal(t, "en", tracks[0].Lang)
	require.Len(t, skipped, 3)
	for _, s := range skipped {
		assert.Equal(t, tErrors.ErrorTypeSubtitle, tErrors.GetType(s))
	}
	assert.NoFileExists(t, filepath.Join(dir, "de,forced.vtt"))
}

func TestFindSubtitlesMissingDirectory(t *testing.T) {
	n := NewNormalizer(hclog.NewNullLogger())

	tracks, skipped, err := n.FindSubtitles(filepath.Join(t.TempDir(), "nope"))
	assert.NoError(t, err)
	assert.Empty(t, tracks)
	assert.Empty(t, skipped)

	tracks, _, err = n.FindSubtitles("")
	assert.NoError(t, err)
	assert.Empty(t, tracks)
}

func TestLanguageName(t *testing.T) {
	assert.Equal(t, "Filipino", LanguageName("fil"))
	assert.Equal(t, "Haitian Creole", LanguageName("HT"))
	assert.Equal(t, "Zulu", LanguageName("zu"))
	assert.Equal(t, "KLINGON", LanguageName("klingon"))
	assert.Len(t, languageNames, 87)
}
