package jobstore

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/vodpack/internal/database"
	tErrors "github.com/mantonx/vodpack/internal/modules/transcodingmodule/errors"
	"github.com/mantonx/vodpack/internal/modules/transcodingmodule/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.Open(database.Options{Type: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	return NewStore(db, hclog.NewNullLogger())
}

func newJob(id, key string) *types.Job {
	return &types.Job{
		ID:        id,
		JobKey:    key,
		InputPath: "/media/" + key + ".mkv",
		TempDir:   "/work/" + id,
		OutputDir: "/out/" + key + "/lock",
		Encrypted: true,
	}
}

func TestCreateAndGet(t *testing.T) {
	store := newTestStore(t)
	job := newJob("job-1", "movie")
	require.NoError(t, store.Create(job))
	assert.Equal(t, types.JobStateCreated, job.State)

	got, err := store.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, "movie", got.JobKey)
	assert.Equal(t, "/out/movie/lock", got.OutputDir)
	assert.True(t, got.Encrypted)
	assert.Equal(t, types.JobStateCreated, got.State)
	assert.Nil(t, got.Source)
	assert.Nil(t, got.CompletedAt)

	_, err = store.Get("nope")
	assert.True(t, errors.Is(err, tErrors.ErrJobNotFound))
}

func TestTransitionPersistsArtifacts(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Create(newJob("job-1", "movie")))

	_, err := store.Transition("job-1", types.JobStateProbing, nil)
	require.NoError(t, err)

	_, err = store.Transition("job-1", types.JobStateEncoding, func(job *types.Job) {
		job.Source = &types.SourceMetadata{Width: 1280, Height: 720, Duration: 90 * time.Second}
	})
	require.NoError(t, err)

	_, err = store.Transition("job-1", types.JobStatePackaging, func(job *types.Job) {
		job.Renditions = []types.Rendition{{Profile: types.DefaultLadder()[3], Path: "/work/job-1/720p/video_720p.mp4"}}
		job.AudioTracks = []types.AudioTrack{{Path: "/work/job-1/audio/en/audio_en.mp4", Lang: "en", Name: "en Audio", IsDefault: true, Key: "en"}}
		job.Subtitles = []types.SubtitleTrack{{Path: "/subs/en.vtt", Lang: "en", Name: "English"}}
	})
	require.NoError(t, err)

	done, err := store.Transition("job-1", types.JobStateCompleted, func(job *types.Job) {
		job.ManifestMPD = "/out/movie/lock/manifest.mpd"
	})
	require.NoError(t, err)
	require.NotNil(t, done.CompletedAt)

	got, err := store.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobStateCompleted, got.State)
	assert.Equal(t, 1280, got.Source.Width)
	assert.Equal(t, 90*time.Second, got.Source.Duration)
	require.Len(t, got.Renditions, 1)
	assert.Equal(t, "720p", got.Renditions[0].Profile.Name)
	assert.Equal(t, "en", got.AudioTracks[0].Key)
	assert.Equal(t, "English", got.Subtitles[0].Name)
	assert.Equal(t, "/out/movie/lock/manifest.mpd", got.ManifestMPD)
	assert.NotNil(t, got.CompletedAt)
}

func TestTransitionRejectsInvalidMoves(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Create(newJob("job-1", "movie")))

	_, err := store.Transition("job-1", types.JobStatePackaging, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, tErrors.ErrInvalidTransition))

	var tErr *StateTransitionError
	require.True(t, errors.As(err, &tErr))
	assert.Equal(t, types.JobStateCreated, tErr.From)

	got, err := store.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobStateCreated, got.State, "rejected transitions leave the job untouched")

	_, err = store.Transition("missing", types.JobStateProbing, nil)
	assert.True(t, errors.Is(err, tErrors.ErrJobNotFound))
}

func TestFailRecordsStageAndDiagnostics(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Create(newJob("job-1", "movie")))
	_, err := store.Transition("job-1", types.JobStateProbing, nil)
	require.NoError(t, err)
	_, err = store.Transition("job-1", types.JobStateEncoding, nil)
	require.NoError(t, err)

	encErr := tErrors.EncodeError("480p", errors.New("exit status 1")).WithStderr("Conversion failed!")
	failed, err := store.Fail("job-1", encErr)
	require.NoError(t, err)

	assert.Equal(t, types.JobStateFailed, failed.State)
	assert.Equal(t, types.JobStateEncoding, failed.FailedStage)
	assert.Contains(t, failed.Error, "480p")
	assert.Equal(t, "Conversion failed!", failed.Diagnostics)
	assert.NotNil(t, failed.CompletedAt)

	_, err = store.Transition("job-1", types.JobStateProbing, nil)
	assert.True(t, errors.Is(err, tErrors.ErrInvalidTransition), "terminal states are final")
}

func TestFailWithCancellation(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Create(newJob("job-1", "movie")))

	job, err := store.Fail("job-1", fmt.Errorf("encode 720p: %w", tErrors.ErrCancelled))
	require.NoError(t, err)
	assert.Equal(t, types.JobStateCancelled, job.State)
	assert.Equal(t, types.JobStateCreated, job.FailedStage)
}

func TestListAndActiveByKey(t *testing.T) {
	store := newTestStore(t)
	for i := 1; i <= 3; i++ {
		require.NoError(t, store.Create(newJob(fmt.Sprintf("job-%d", i), fmt.Sprintf("key-%d", i))))
		time.Sleep(5 * time.Millisecond)
	}
	_, err := store.Fail("job-1", errors.New("boom"))
	require.NoError(t, err)

	all, err := store.List(types.JobFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "job-3", all[0].ID, "newest first")

	failed, err := store.List(types.JobFilter{States: []types.JobState{types.JobStateFailed}})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "job-1", failed[0].ID)

	limited, err := store.List(types.JobFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	active, err := store.GetActiveByKey("key-2")
	require.NoError(t, err)
	assert.Equal(t, "job-2", active.ID)

	_, err = store.GetActiveByKey("key-1")
	assert.True(t, errors.Is(err, tErrors.ErrJobNotFound), "finished jobs do not hold their key")
}

func TestRecoverInterrupted(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Create(newJob("job-1", "a")))
	require.NoError(t, store.Create(newJob("job-2", "b")))
	_, err := store.Transition("job-2", types.JobStateProbing, nil)
	require.NoError(t, err)

	n, err := store.RecoverInterrupted()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	job, err := store.Get("job-2")
	require.NoError(t, err)
	assert.Equal(t, types.JobStateFailed, job.State)
	assert.Equal(t, types.JobStateProbing, job.FailedStage)
	assert.Equal(t, "interrupted by restart", job.Error)
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	}), &gorm.Config{})
	require.NoError(t, err)
	return NewStore(db, hclog.NewNullLogger()), mock
}

func TestGetPostgres(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "job_key", "input_path", "state", "renditions"}).
		AddRow("job-1", "movie", "/media/movie.mkv", "encoding", `[{"profile":{"name":"720p","width":1280,"height":720,"bitrate":2500},"path":"/w/720p.mp4"}]`)
	mock.ExpectQuery(`SELECT \* FROM "transcode_jobs" WHERE id = \$1 ORDER BY "transcode_jobs"."id" LIMIT \$2`).
		WithArgs("job-1", 1).
		WillReturnRows(rows)

	job, err := store.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobStateEncoding, job.State)
	require.Len(t, job.Renditions, 1)
	assert.Equal(t, 2500, job.Renditions[0].Profile.Bitrate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPostgresErrors(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT \* FROM "transcode_jobs"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	_, err := store.Get("missing")
	assert.True(t, errors.Is(err, tErrors.ErrJobNotFound))

	mock.ExpectQuery(`SELECT \* FROM "transcode_jobs"`).
		WillReturnError(errors.New("connection reset"))
	_, err = store.Get("job-1")
	require.Error(t, err)
	assert.Equal(t, tErrors.ErrorTypeStorage, tErrors.GetType(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStateMachine(t *testing.T) {
	sm := NewStateMachine()
	assert.NoError(t, sm.Validate("j", types.JobStateCreated, types.JobStateProbing))
	assert.NoError(t, sm.Validate("j", types.JobStatePackaging, types.JobStateCompleted))
	assert.NoError(t, sm.Validate("j", types.JobStateEncoding, types.JobStateCancelled))
	assert.Error(t, sm.Validate("j", types.JobStateProbing, types.JobStateCompleted))

	for _, terminal := range []types.JobState{types.JobStateCompleted, types.JobStateFailed, types.JobStateCancelled} {
		for _, to := range []types.JobState{types.JobStateProbing, types.JobStateEncoding, types.JobStateFailed, types.JobStateCancelled} {
			assert.Error(t, sm.Validate("j", terminal, to), "%s -> %s", terminal, to)
		}
	}
}
