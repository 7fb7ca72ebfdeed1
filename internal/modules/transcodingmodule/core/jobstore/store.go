// Package jobstore persists transcode jobs and enforces their lifecycle.
package jobstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/vodpack/internal/database"
	tErrors "github.com/mantonx/vodpack/internal/modules/transcodingmodule/errors"
	"github.com/mantonx/vodpack/internal/modules/transcodingmodule/types"
	"gorm.io/gorm"
)

// Store is the database-backed job store
type Store struct {
	db     *gorm.DB
	states *StateMachine
	logger hclog.Logger
}

// NewStore creates a new job store
func NewStore(db *gorm.DB, logger hclog.Logger) *Store {
	return &Store{
		db:     db,
		states: NewStateMachine(),
		logger: logger.Named("job-store"),
	}
}

// Create inserts a job in the created state
func (s *Store) Create(job *types.Job) error {
	now := time.Now()
	job.State = types.JobStateCreated
	job.CreatedAt = now
	job.UpdatedAt = now

	model, err := toModel(job)
	if err != nil {
		return err
	}
	if err := s.db.Create(model).Error; err != nil {
		return tErrors.StorageError("create job", err)
	}

	s.logger.Debug("created job", "job_id", job.ID, "job_key", job.JobKey)
	return nil
}

// Get retrieves a job by ID
func (s *Store) Get(id string) (*types.Job, error) {
	var model database.TranscodeJob
	if err := s.db.Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", tErrors.ErrJobNotFound, id)
		}
		return nil, tErrors.StorageError("get job", err)
	}
	return fromModel(&model)
}

// GetActiveByKey returns the non-terminal job using key, if any
func (s *Store) GetActiveByKey(key string) (*types.Job, error) {
	var model database.TranscodeJob
	err := s.db.Where("job_key = ? AND state NOT IN ?", key, terminalStates()).
		Order("created_at DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: key %s", tErrors.ErrJobNotFound, key)
		}
		return nil, tErrors.StorageError("get job by key", err)
	}
	return fromModel(&model)
}

// List returns jobs newest first
func (s *Store) List(filter types.JobFilter) ([]*types.Job, error) {
	query := s.db.Model(&database.TranscodeJob{}).Order("created_at DESC")
	if len(filter.States) > 0 {
		query = query.Where("state IN ?", stateStrings(filter.States))
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var models []database.TranscodeJob
	if err := query.Find(&models).Error; err != nil {
		return nil, tErrors.StorageError("list jobs", err)
	}

	jobs := make([]*types.Job, 0, len(models))
	for i := range models {
		job, err := fromModel(&models[i])
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Transition moves a job to state to, applying update to the loaded job
// first. The read, validation and write happen in one transaction.
func (s *Store) Transition(id string, to types.JobState, update func(*types.Job)) (*types.Job, error) {
	var result *types.Job

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var model database.TranscodeJob
		if err := tx.Where("id = ?", id).First(&model).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", tErrors.ErrJobNotFound, id)
			}
			return err
		}

		job, err := fromModel(&model)
		if err != nil {
			return err
		}
		if err := s.states.Validate(id, job.State, to); err != nil {
			return err
		}

		if update != nil {
			update(job)
		}
		job.State = to
		job.UpdatedAt = time.Now()
		if to.IsTerminal() && job.CompletedAt == nil {
			now := job.UpdatedAt
			job.CompletedAt = &now
		}

		updated, err := toModel(job)
		if err != nil {
			return err
		}
		if err := tx.Save(updated).Error; err != nil {
			return err
		}
		result = job
		return nil
	})
	if err != nil {
		var pErr *tErrors.PipelineError
		var tErr *StateTransitionError
		if errors.Is(err, tErrors.ErrJobNotFound) || errors.As(err, &tErr) || errors.As(err, &pErr) {
			return nil, err
		}
		return nil, tErrors.StorageError("transition job", err)
	}

	s.logger.Debug("job transitioned", "job_id", id, "state", to)
	return result, nil
}

// Fail ends a job in the failed state, or cancelled when err is a
// cancellation. The stage the job was in is recorded.
func (s *Store) Fail(id string, err error) (*types.Job, error) {
	to := types.JobStateFailed
	if errors.Is(err, tErrors.ErrCancelled) {
		to = types.JobStateCancelled
	}

	return s.Transition(id, to, func(job *types.Job) {
		job.FailedStage = job.State
		if err != nil {
			job.Error = err.Error()
			job.Diagnostics = tErrors.GetStderr(err)
		}
	})
}

// RecoverInterrupted fails every job left non-terminal by a previous process.
// Jobs are not resumed across restarts.
func (s *Store) RecoverInterrupted() (int, error) {
	var models []database.TranscodeJob
	if err := s.db.Where("state NOT IN ?", terminalStates()).Find(&models).Error; err != nil {
		return 0, tErrors.StorageError("find interrupted jobs", err)
	}

	interrupted := errors.New("interrupted by restart")
	for _, m := range models {
		if _, err := s.Fail(m.ID, interrupted); err != nil {
			return 0, err
		}
		s.logger.Warn("marked interrupted job as failed", "job_id", m.ID, "state", m.State)
	}
	return len(models), nil
}

func terminalStates() []string {
	return stateStrings([]types.JobState{types.JobStateCompleted, types.JobStateFailed, types.JobStateCancelled})
}

func stateStrings(states []types.JobState) []string {
	out := make([]string, len(states))
	for i, st := range states {
		out[i] = string(st)
	}
	return out
}

func toModel(job *types.Job) (*database.TranscodeJob, error) {
	model := &database.TranscodeJob{
		ID:           job.ID,
		JobKey:       job.JobKey,
		InputPath:    job.InputPath,
		SubtitleDir:  job.SubtitleDir,
		TempDir:      job.TempDir,
		OutputRoot:   job.OutputDir,
		Encrypted:    job.Encrypted,
		State:        string(job.State),
		FailedStage:  string(job.FailedStage),
		Error:        job.Error,
		Diagnostics:  job.Diagnostics,
		ManifestMPD:  job.ManifestMPD,
		ManifestHLS:  job.ManifestHLS,
		ClearKeyPath: job.ClearKeyPath,
		PosterPath:   job.PosterPath,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
		CompletedAt:  job.CompletedAt,
	}

	fields := []struct {
		dst *string
		src interface{}
		ok  bool
	}{
		{&model.Source, job.Source, job.Source != nil},
		{&model.Renditions, job.Renditions, len(job.Renditions) > 0},
		{&model.AudioTracks, job.AudioTracks, len(job.AudioTracks) > 0},
		{&model.Subtitles, job.Subtitles, len(job.Subtitles) > 0},
	}
	for _, f := range fields {
		if !f.ok {
			continue
		}
		data, err := json.Marshal(f.src)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize job %s: %w", job.ID, err)
		}
		*f.dst = string(data)
	}
	return model, nil
}

func fromModel(m *database.TranscodeJob) (*types.Job, error) {
	job := &types.Job{
		ID:           m.ID,
		JobKey:       m.JobKey,
		InputPath:    m.InputPath,
		SubtitleDir:  m.SubtitleDir,
		TempDir:      m.TempDir,
		OutputDir:    m.OutputRoot,
		Encrypted:    m.Encrypted,
		State:        types.JobState(m.State),
		FailedStage:  types.JobState(m.FailedStage),
		Error:        m.Error,
		Diagnostics:  m.Diagnostics,
		ManifestMPD:  m.ManifestMPD,
		ManifestHLS:  m.ManifestHLS,
		ClearKeyPath: m.ClearKeyPath,
		PosterPath:   m.PosterPath,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
		CompletedAt:  m.CompletedAt,
	}

	fields := []struct {
		src string
		dst interface{}
	}{
		{m.Source, &job.Source},
		{m.Renditions, &job.Renditions},
		{m.AudioTracks, &job.AudioTracks},
		{m.Subtitles, &job.Subtitles},
	}
	for _, f := range fields {
		if f.src == "" {
			continue
		}
		if err := json.Unmarshal([]byte(f.src), f.dst); err != nil {
			return nil, fmt.Errorf("failed to parse stored job %s: %w", m.ID, err)
		}
	}
	return job, nil
}
