package cleanup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	tErrors "github.com/mantonx/vodpack/internal/modules/transcodingmodule/errors"
	"github.com/mantonx/vodpack/internal/modules/transcodingmodule/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJobs struct {
	active map[string]*types.Job
	err    error
}

func (f *fakeJobs) GetActiveByKey(key string) (*types.Job, error) {
	if f.err != nil {
		return nil, f.err
	}
	if j, ok := f.active[key]; ok {
		return j, nil
	}
	return nil, fmt.Errorf("%w: key %s", tErrors.ErrJobNotFound, key)
}

// mkWorkDir creates a job work directory whose whole tree is age old
func mkWorkDir(t *testing.T, root, name string, age time.Duration) string {
	t.Helper()
	dir := filepath.Join(root, name)
	file := filepath.Join(dir, "720p", "video_720p.mp4")
	require.NoError(t, os.MkdirAll(filepath.Dir(file), 0755))
	require.NoError(t, os.WriteFile(file, make([]byte, 2048), 0644))

	old := time.Now().Add(-age)
	for _, p := range []string{file, filepath.Dir(file), dir} {
		require.NoError(t, os.Chtimes(p, old, old))
	}
	return dir
}

func TestSweep(t *testing.T) {
	work := t.TempDir()
	stale := mkWorkDir(t, work, "movie-a", 48*time.Hour)
	fresh := mkWorkDir(t, work, "movie-b", time.Minute)
	active := mkWorkDir(t, work, "movie-c", 48*time.Hour)

	// an old directory with one recently written file is still in use
	touched := mkWorkDir(t, work, "movie-d", 48*time.Hour)
	require.NoError(t, os.WriteFile(filepath.Join(touched, "720p", "video_720p.mp4.done"), nil, 0644))

	require.NoError(t, os.WriteFile(filepath.Join(work, "stray.txt"), []byte("x"), 0644))

	jobs := &fakeJobs{active: map[string]*types.Job{"movie-c": {ID: "job-c", State: types.JobStateEncoding}}}
	svc := NewService(Config{WorkDir: work, Retention: 24 * time.Hour}, jobs, hclog.NewNullLogger())

	stats, err := svc.Sweep()
	require.NoError(t, err)

	assert.Equal(t, 1, stats.RemovedDirs)
	assert.Equal(t, int64(2048), stats.FreedBytes)
	assert.NoDirExists(t, stale)
	assert.DirExists(t, fresh)
	assert.DirExists(t, active)
	assert.DirExists(t, touched)
	assert.FileExists(t, filepath.Join(work, "stray.txt"))
}

func TestSweepKeepsDirectoriesOnLookupError(t *testing.T) {
	work := t.TempDir()
	dir := mkWorkDir(t, work, "movie", 48*time.Hour)

	jobs := &fakeJobs{err: errors.New("database is locked")}
	stats, err := NewService(Config{WorkDir: work, Retention: time.Hour}, jobs, hclog.NewNullLogger()).Sweep()
	require.NoError(t, err)
	assert.Zero(t, stats.RemovedDirs)
	assert.DirExists(t, dir)
}

func TestSweepMissingWorkDir(t *testing.T) {
	svc := NewService(Config{WorkDir: filepath.Join(t.TempDir(), "none"), Retention: time.Hour}, &fakeJobs{}, hclog.NewNullLogger())
	stats, err := svc.Sweep()
	require.NoError(t, err)
	assert.Zero(t, stats.RemovedDirs)
}

func TestEnabled(t *testing.T) {
	assert.False(t, NewService(Config{}, &fakeJobs{}, hclog.NewNullLogger()).Enabled())
	assert.True(t, NewService(Config{Retention: time.Hour}, &fakeJobs{}, hclog.NewNullLogger()).Enabled())
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KiB", formatBytes(1536))
	assert.Equal(t, "2.0 GiB", formatBytes(2<<30))
}
