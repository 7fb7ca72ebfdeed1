package encoder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/vodpack/internal/modules/transcodingmodule/core/abr"
	"github.com/mantonx/vodpack/internal/modules/transcodingmodule/core/ffmpeg"
	"github.com/mantonx/vodpack/internal/modules/transcodingmodule/core/process"
	tErrors "github.com/mantonx/vodpack/internal/modules/transcodingmodule/errors"
	"github.com/mantonx/vodpack/internal/modules/transcodingmodule/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFFmpeg writes its output file and records every invocation
type fakeFFmpeg struct {
	mu       sync.Mutex
	calls    []process.Command
	inFlight atomic.Int32
	peak     atomic.Int32
	failOn   string
	delay    time.Duration
}

func (f *fakeFFmpeg) Run(ctx context.Context, cmd process.Command) (*process.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	f.mu.Unlock()

	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return &process.Result{ExitCode: -1}, tErrors.ErrCancelled
		}
	}

	out := cmd.Args[len(cmd.Args)-1]
	if f.failOn != "" && strings.Contains(out, f.failOn) {
		return &process.Result{ExitCode: 1, Stderr: "Error while opening encoder"}, errors.New("exit status 1")
	}
	if err := os.WriteFile(out, []byte("mp4"), 0644); err != nil {
		return nil, err
	}
	return &process.Result{}, nil
}

func (f *fakeFFmpeg) labels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		out = append(out, c.Label)
	}
	return out
}

func newEncoder(exec process.Executor, max int, resume bool) *Encoder {
	args := ffmpeg.NewArgsBuilder(6, 0, hclog.NewNullLogger())
	return NewEncoder(exec, args, Options{MaxConcurrent: max, Resume: resume}, hclog.NewNullLogger())
}

func ladderFor(t *testing.T, width int) []types.ResolutionProfile {
	profiles, err := abr.NewSelector(types.DefaultLadder(), hclog.NewNullLogger()).Select(width)
	require.NoError(t, err)
	return profiles
}

func TestEncodeAll1080pTwoAudio(t *testing.T) {
	fake := &fakeFFmpeg{}
	enc := newEncoder(fake, 3, false)
	temp := t.TempDir()

	res, err := enc.EncodeAll(context.Background(), Request{
		JobID:     "job-1",
		InputPath: "/in/movie.mkv",
		TempDir:   temp,
		Profiles:  ladderFor(t, 1920),
		AudioStreams: []types.AudioStream{
			{Index: 0, Language: "en"},
			{Index: 1, Language: "es"},
		},
	})
	require.NoError(t, err)

	require.Len(t, res.Renditions, 5)
	require.Len(t, res.AudioTracks, 2)
	assert.Len(t, fake.labels(), 7)

	for _, r := range res.Renditions {
		assert.FileExists(t, r.Path)
		assert.Equal(t, filepath.Join(temp, r.Profile.Name, "video_"+r.Profile.Name+".mp4"), r.Path)
	}
	assert.Equal(t, "1080p", res.Renditions[4].Profile.Name)

	en, es := res.AudioTracks[0], res.AudioTracks[1]
	assert.Equal(t, types.AudioTrack{Path: filepath.Join(temp, "audio", "en", "audio_en.mp4"), Lang: "en", Name: "en Audio", IsDefault: true, Key: "en", StreamIndex: 0}, en)
	assert.Equal(t, "es", es.Lang)
	assert.False(t, es.IsDefault)
	assert.FileExists(t, es.Path)
}

func TestEncodeAllRespectsConcurrencyCap(t *testing.T) {
	fake := &fakeFFmpeg{delay: 30 * time.Millisecond}
	enc := newEncoder(fake, 2, false)

	_, err := enc.EncodeAll(context.Background(), Request{
		JobID:        "job-1",
		InputPath:    "/in/movie.mkv",
		TempDir:      t.TempDir(),
		Profiles:     ladderFor(t, 3840),
		AudioStreams: []types.AudioStream{{Index: 0}, {Index: 1}, {Index: 2}},
	})
	require.NoError(t, err)
	assert.Len(t, fake.labels(), 10)
	assert.LessOrEqual(t, fake.peak.Load(), int32(2))
}

func TestEncodeAllFailsOnOneRendition(t *testing.T) {
	fake := &fakeFFmpeg{failOn: "video_480p.mp4"}
	enc := newEncoder(fake, 1, false)

	res, err := enc.EncodeAll(context.Background(), Request{
		JobID:     "job-1",
		InputPath: "/in/movie.mkv",
		TempDir:   t.TempDir(),
		Profiles:  ladderFor(t, 1280),
	})
	assert.Nil(t, res)
	require.Error(t, err)
	assert.Equal(t, tErrors.ErrorTypeEncode, tErrors.GetType(err))
	assert.Contains(t, err.Error(), "480p")
	assert.Contains(t, tErrors.GetStderr(err), "Error while opening encoder")
}

func TestEncodeAllMissingOutputIsAnError(t *testing.T) {
	silent := process.ExecutorFunc(func(ctx context.Context, cmd process.Command) (*process.Result, error) {
		return &process.Result{}, nil
	})
	enc := newEncoder(silent, 1, false)

	_, err := enc.EncodeAll(context.Background(), Request{
		JobID:     "job-1",
		InputPath: "/in/movie.mkv",
		TempDir:   t.TempDir(),
		Profiles:  ladderFor(t, 426),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "produced no output")
}

func TestEncodeAllResume(t *testing.T) {
	temp := t.TempDir()
	req := Request{
		JobID:        "job-1",
		InputPath:    "/in/movie.mkv",
		TempDir:      temp,
		Profiles:     ladderFor(t, 640),
		AudioStreams: []types.AudioStream{{Index: 0, Language: "en"}},
	}

	first := &fakeFFmpeg{}
	_, err := newEncoder(first, 2, true).EncodeAll(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, first.labels(), 3)
	assert.FileExists(t, VideoOutputPath(temp, req.Profiles[0])+doneSuffix)

	// drop one marker: only that encode reruns
	require.NoError(t, os.Remove(VideoOutputPath(temp, req.Profiles[1])+doneSuffix))

	second := &fakeFFmpeg{}
	_, err = newEncoder(second, 2, true).EncodeAll(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"encode 360p"}, second.labels())
}

func TestEncodeAllResumeReencodesChangedInput(t *testing.T) {
	temp := t.TempDir()
	input := filepath.Join(t.TempDir(), "movie.mkv")
	require.NoError(t, os.WriteFile(input, []byte("first cut"), 0644))

	req := Request{
		JobID:     "job-1",
		InputPath: input,
		TempDir:   temp,
		Profiles:  ladderFor(t, 640),
	}

	first := &fakeFFmpeg{}
	_, err := newEncoder(first, 2, true).EncodeAll(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, first.labels(), 2)

	unchanged := &fakeFFmpeg{}
	_, err = newEncoder(unchanged, 2, true).EncodeAll(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, unchanged.labels())

	// same path, new content and mtime
	require.NoError(t, os.WriteFile(input, []byte("director's cut, longer"), 0644))
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(input, later, later))

	changed := &fakeFFmpeg{}
	_, err = newEncoder(changed, 2, true).EncodeAll(context.Background(), req)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"encode 240p", "encode 360p"}, changed.labels())
}

func TestEncodeAllResumeIgnoresMarkerFromOtherArguments(t *testing.T) {
	temp := t.TempDir()
	req := Request{
		JobID:     "job-1",
		InputPath: "/in/movie.mkv",
		TempDir:   temp,
		Profiles:  ladderFor(t, 640),
	}

	first := &fakeFFmpeg{}
	_, err := newEncoder(first, 2, true).EncodeAll(context.Background(), req)
	require.NoError(t, err)

	// a marker from an older layout carries no fingerprint
	require.NoError(t, os.WriteFile(VideoOutputPath(temp, req.Profiles[0])+doneSuffix, nil, 0644))

	second := &fakeFFmpeg{}
	_, err = newEncoder(second, 2, true).EncodeAll(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"encode " + req.Profiles[0].Name}, second.labels())
}

func TestEncodeAllCancelled(t *testing.T) {
	fake := &fakeFFmpeg{delay: 5 * time.Second}
	enc := newEncoder(fake, 4, false)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := enc.EncodeAll(ctx, Request{
		JobID:     "job-1",
		InputPath: "/in/movie.mkv",
		TempDir:   t.TempDir(),
		Profiles:  ladderFor(t, 1920),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, tErrors.ErrCancelled))
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestPlanAudioTracks(t *testing.T) {
	tracks := PlanAudioTracks("/tmp/job", []types.AudioStream{
		{Index: 0, Language: "eng"},
		{Index: 1},
		{Index: 2, Language: "eng"},
		{Index: 3, Language: "pt/BR"},
	})

	require.Len(t, tracks, 4)
	assert.True(t, tracks[0].IsDefault)
	assert.Equal(t, "eng", tracks[0].Key)

	assert.Equal(t, "audio1", tracks[1].Lang)
	assert.Equal(t, "Audio Track 2", tracks[1].Name)
	assert.False(t, tracks[1].IsDefault)

	assert.Equal(t, "eng_2", tracks[2].Key, "duplicate languages get distinct directories")
	assert.Equal(t, "eng", tracks[2].Lang)
	assert.Equal(t, "pt_br", tracks[3].Key)
	assert.Equal(t, filepath.Join("/tmp/job", "audio", "pt_br", "audio_pt_br.mp4"), tracks[3].Path)
}
