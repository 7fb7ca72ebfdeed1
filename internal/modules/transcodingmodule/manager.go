package transcodingmodule

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/vodpack/internal/events"
	"github.com/mantonx/vodpack/internal/modules/transcodingmodule/core/abr"
	"github.com/mantonx/vodpack/internal/modules/transcodingmodule/core/clearkey"
	"github.com/mantonx/vodpack/internal/modules/transcodingmodule/core/encoder"
	"github.com/mantonx/vodpack/internal/modules/transcodingmodule/core/ffmpeg"
	"github.com/mantonx/vodpack/internal/modules/transcodingmodule/core/jobstore"
	"github.com/mantonx/vodpack/internal/modules/transcodingmodule/core/packager"
	"github.com/mantonx/vodpack/internal/modules/transcodingmodule/core/poster"
	"github.com/mantonx/vodpack/internal/modules/transcodingmodule/core/process"
	"github.com/mantonx/vodpack/internal/modules/transcodingmodule/core/subtitle"
	"github.com/mantonx/vodpack/internal/modules/transcodingmodule/core/system"
	tErrors "github.com/mantonx/vodpack/internal/modules/transcodingmodule/errors"
	"github.com/mantonx/vodpack/internal/modules/transcodingmodule/types"
	"gorm.io/gorm"
)

// Manager owns the job lifecycle: it lays out each job's directories, runs
// the pipeline stages in order and records every transition.
type Manager struct {
	config   types.PipelineConfig
	store    *jobstore.Store
	eventBus events.EventBus
	registry *process.Registry
	reporter tErrors.ErrorReporter
	logger   hclog.Logger

	prober    *ffmpeg.MediaProber
	selector  *abr.Selector
	encoder   *encoder.Encoder
	subtitles *subtitle.Normalizer
	keys      *clearkey.Generator
	packager  *packager.ShakaPackager
	poster    *poster.Generator

	// slots gates how many jobs run their pipeline at once
	slots chan struct{}
	// keyMu serializes the active-key check with job creation
	keyMu sync.Mutex

	mu      sync.Mutex
	running map[string]context.CancelFunc

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates a manager whose engines run as real subprocesses
func NewManager(config types.PipelineConfig, db *gorm.DB, eventBus events.EventBus, logger hclog.Logger) (*Manager, error) {
	logger = logger.Named("transcoding-manager")

	if len(config.ResolutionLadder) == 0 {
		config.ResolutionLadder = types.DefaultLadder()
	}
	if config.MaxConcurrentJobs <= 0 {
		config.MaxConcurrentJobs = 1
	}

	info, err := system.Detect(context.Background())
	if err != nil {
		logger.Warn("failed to detect system resources", "error", err)
	}
	if config.MaxConcurrentEncodes <= 0 {
		config.MaxConcurrentEncodes = system.DefaultEncodeConcurrency(info)
	}
	threads := ffmpeg.ThreadsPerEncode(info.LogicalCPUs, config.MaxConcurrentEncodes)

	for _, dir := range []string{config.WorkDir, config.OutputDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	registry := process.NewRegistry(config.KillGracePeriod, logger)
	runner := process.NewRunner(registry, config.SubprocessTimeout, config.KillGracePeriod, logger)
	args := ffmpeg.NewArgsBuilder(config.SegmentDurationSeconds, threads, logger)

	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		config:    config,
		store:     jobstore.NewStore(db, logger),
		eventBus:  eventBus,
		registry:  registry,
		reporter:  tErrors.NewErrorReporter(logger),
		logger:    logger,
		prober:    ffmpeg.NewMediaProber(runner, config.FFprobePath, logger),
		selector:  abr.NewSelector(config.ResolutionLadder, logger),
		subtitles: subtitle.NewNormalizer(logger),
		keys:      clearkey.NewGenerator(),
		packager:  packager.NewShakaPackager(runner, config.PackagerPath, config.SegmentDurationSeconds, logger),
		encoder: encoder.NewEncoder(runner, args, encoder.Options{
			FFmpegPath:    config.FFmpegPath,
			MaxConcurrent: config.MaxConcurrentEncodes,
			Resume:        config.Resume,
		}, logger),
		slots:   make(chan struct{}, config.MaxConcurrentJobs),
		running: make(map[string]context.CancelFunc),
		ctx:     ctx,
		cancel:  cancel,
	}
	if config.Poster {
		m.poster = poster.NewGenerator(runner, args, config.FFmpegPath, config.PosterQuality, logger)
	}

	logger.Info("transcoding manager created",
		"max_concurrent_jobs", config.MaxConcurrentJobs,
		"max_concurrent_encodes", config.MaxConcurrentEncodes,
		"threads_per_encode", threads,
		"segment_duration", config.SegmentDurationSeconds,
		"ladder", len(config.ResolutionLadder))

	return m, nil
}

// RecoverInterrupted fails jobs a previous server process left unfinished.
// Only the long-running server owns the job table this way; a one-off run
// sharing the database must not call it.
func (m *Manager) RecoverInterrupted() error {
	n, err := m.store.RecoverInterrupted()
	if err != nil {
		return err
	}
	if n > 0 {
		m.logger.Warn("recovered interrupted jobs", "count", n)
	}
	return nil
}

// Shutdown cancels every running job and waits for them to settle
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		killed := m.registry.KillAll()
		m.logger.Warn("shutdown timed out, killed remaining processes", "count", killed)
		return ctx.Err()
	}
}

// Store exposes the job store to supporting services
func (m *Manager) Store() *jobstore.Store {
	return m.store
}

// Config returns the effective pipeline configuration
func (m *Manager) Config() types.PipelineConfig {
	return m.config
}

// Submit creates a job and runs it in the background. The returned job is a
// snapshot in the created state.
func (m *Manager) Submit(ctx context.Context, req types.JobRequest) (*types.Job, error) {
	jobCtx, cancel := context.WithCancel(m.ctx)
	job, err := m.create(req, cancel)
	if err != nil {
		cancel()
		return nil, err
	}
	snapshot := *job

	m.wg.Add(1)
	tErrors.SafeGo(m.reporter, m.logger, "job "+job.ID, func() error {
		return m.process(jobCtx, job)
	}, func(err error) {
		defer m.wg.Done()
		defer cancel()
		defer m.untrack(job.ID)
		if err != nil {
			m.fail(job, err)
		}
	})

	return &snapshot, nil
}

// Run executes a job in the caller's goroutine and returns its final state.
// A failed job is returned together with the error that ended it.
func (m *Manager) Run(ctx context.Context, req types.JobRequest) (*types.Job, error) {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	job, err := m.create(req, cancel)
	if err != nil {
		return nil, err
	}
	defer m.untrack(job.ID)

	if err := m.process(jobCtx, job); err != nil {
		return m.fail(job, err), err
	}
	return m.store.Get(job.ID)
}

// Cancel stops a running job. Its subprocess groups are terminated and the
// job ends in the cancelled state.
func (m *Manager) Cancel(id string) error {
	job, err := m.store.Get(id)
	if err != nil {
		return err
	}
	if job.State.IsTerminal() {
		return fmt.Errorf("%w: job %s is already %s", tErrors.ErrInvalidTransition, id, job.State)
	}

	m.mu.Lock()
	cancel, ok := m.running[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: job %s is not running in this process", tErrors.ErrJobNotFound, id)
	}

	m.logger.Info("cancelling job", "job_id", id)
	cancel()
	go func() {
		if n := m.registry.KillJob(id); n > 0 {
			m.logger.Debug("killed job processes", "job_id", id, "count", n)
		}
	}()
	return nil
}

// Get returns a job by ID
func (m *Manager) Get(id string) (*types.Job, error) {
	return m.store.Get(id)
}

// List returns jobs newest first
func (m *Manager) List(filter types.JobFilter) ([]*types.Job, error) {
	return m.store.List(filter)
}

// License returns the ClearKey license of a completed encrypted job
func (m *Manager) License(id string) (*clearkey.License, error) {
	job, err := m.store.Get(id)
	if err != nil {
		return nil, err
	}
	if !job.Encrypted || job.State != types.JobStateCompleted || job.ClearKeyPath == "" {
		return nil, fmt.Errorf("%w: job %s", tErrors.ErrNoKey, id)
	}

	key, err := clearkey.ReadFile(job.ClearKeyPath)
	if err != nil {
		return nil, tErrors.InternalError("read clearkey", err).WithJob(id)
	}
	return clearkey.NewLicense(key)
}

// create persists a new job. cancel is registered under the job's ID before
// the job becomes visible, so a Cancel that finds the job can always reach it.
func (m *Manager) create(req types.JobRequest, cancel context.CancelFunc) (*types.Job, error) {
	if req.InputPath == "" {
		return nil, tErrors.ValidationError("submit", fmt.Errorf("%w: input path is required", tErrors.ErrInvalidInput))
	}

	key := req.JobKey
	if key == "" {
		key = uuid.New().String()
	}
	if err := ValidateJobKey(key); err != nil {
		return nil, tErrors.ValidationError("submit", err)
	}

	encrypted := m.config.EncryptionEnabled
	if req.Encrypt != nil {
		encrypted = *req.Encrypt
	}

	input, err := filepath.Abs(req.InputPath)
	if err != nil {
		return nil, tErrors.ValidationError("submit", err)
	}

	layout := NewLayout(m.config.OutputDir, m.config.WorkDir, key, encrypted)
	job := &types.Job{
		ID:          uuid.New().String(),
		JobKey:      key,
		InputPath:   input,
		SubtitleDir: req.SubtitleDir,
		TempDir:     layout.Temp,
		OutputDir:   layout.Output,
		Encrypted:   encrypted,
	}

	m.keyMu.Lock()
	defer m.keyMu.Unlock()

	if active, err := m.store.GetActiveByKey(key); err == nil {
		return nil, fmt.Errorf("%w: %s (job %s)", tErrors.ErrJobExists, key, active.ID)
	} else if !errors.Is(err, tErrors.ErrJobNotFound) {
		return nil, err
	}

	m.track(job.ID, cancel)
	if err := m.store.Create(job); err != nil {
		m.untrack(job.ID)
		return nil, err
	}

	m.logger.Info("job created", "job_id", job.ID, "job_key", key, "input", input, "encrypted", encrypted)
	m.publish(events.NewJobEvent(events.EventJobCreated, job.ID, key, "Job created"))
	return job, nil
}

// process waits for a job slot, then runs the pipeline
func (m *Manager) process(ctx context.Context, job *types.Job) error {
	select {
	case m.slots <- struct{}{}:
		defer func() { <-m.slots }()
	case <-ctx.Done():
		return fmt.Errorf("waiting for a job slot: %w", tErrors.ErrCancelled)
	}

	err := m.execute(ctx, job)
	if err != nil && ctx.Err() != nil && !errors.Is(err, tErrors.ErrCancelled) {
		err = fmt.Errorf("%w (%w)", err, tErrors.ErrCancelled)
	}
	return err
}

// execute runs probe, select, encode, package in order. Any stage error
// aborts the job; only subtitle conversion problems are tolerated.
func (m *Manager) execute(ctx context.Context, job *types.Job) error {
	layout := NewLayout(m.config.OutputDir, m.config.WorkDir, job.JobKey, job.Encrypted)
	log := m.logger.With("job_id", job.ID, "job_key", job.JobKey)

	if !m.config.Resume {
		if err := os.RemoveAll(layout.Temp); err != nil {
			return tErrors.InternalError("prepare work directory", err).WithJob(job.ID)
		}
	}
	if err := os.MkdirAll(layout.Logs, 0755); err != nil {
		return tErrors.InternalError("prepare work directory", err).WithJob(job.ID)
	}

	if err := m.advance(job, types.JobStateProbing, nil); err != nil {
		return err
	}
	meta, err := m.prober.Probe(ctx, job.ID, job.InputPath)
	if err != nil {
		return err
	}
	profiles, err := m.selector.Select(meta.Width)
	if err != nil {
		return err
	}
	log.Info("source probed",
		"width", meta.Width,
		"height", meta.Height,
		"duration", meta.Duration,
		"audio_streams", len(meta.AudioStreams),
		"renditions", len(profiles),
		"estimated_mb", abr.EstimateStorageMB(profiles, len(meta.AudioStreams), meta.Duration))

	if err := m.advance(job, types.JobStateEncoding, func(j *types.Job) { j.Source = meta }); err != nil {
		return err
	}
	subs := m.findSubtitles(ctx, job)
	encoded, err := m.encoder.EncodeAll(ctx, encoder.Request{
		JobID:        job.ID,
		InputPath:    job.InputPath,
		TempDir:      layout.Temp,
		Profiles:     profiles,
		AudioStreams: meta.AudioStreams,
		LogDir:       layout.Logs,
	})
	if err != nil {
		return err
	}

	if err := m.advance(job, types.JobStatePackaging, func(j *types.Job) {
		j.Renditions = encoded.Renditions
		j.AudioTracks = encoded.AudioTracks
		j.Subtitles = subs
	}); err != nil {
		return err
	}
	if err := os.MkdirAll(layout.Output, 0755); err != nil {
		return tErrors.PackagingError(err, "").WithJob(job.ID)
	}

	req := packager.Request{
		JobID:      job.ID,
		OutputDir:  layout.Output,
		Renditions: encoded.Renditions,
		Audio:      encoded.AudioTracks,
		Subtitles:  subs,
		LogDir:     layout.Logs,
	}
	var keyPath string
	if job.Encrypted {
		key, err := m.keys.Generate()
		if err != nil {
			return tErrors.InternalError("generate content key", err).WithJob(job.ID)
		}
		if keyPath, err = clearkey.WriteFile(layout.Output, key); err != nil {
			return tErrors.InternalError("write content key", err).WithJob(job.ID)
		}
		req.Key = &key
	}

	packaged, err := m.packager.Package(ctx, req)
	if err != nil {
		return err
	}
	posterPath := m.generatePoster(ctx, job, meta)

	done, err := m.store.Transition(job.ID, types.JobStateCompleted, func(j *types.Job) {
		j.ManifestMPD = packaged.ManifestMPD
		j.ManifestHLS = packaged.ManifestHLS
		j.ClearKeyPath = keyPath
		j.PosterPath = posterPath
	})
	if err != nil {
		return err
	}
	*job = *done

	if err := os.RemoveAll(layout.Temp); err != nil {
		log.Warn("failed to remove intermediates", "dir", layout.Temp, "error", err)
	}

	log.Info("job completed", "manifest", packaged.ManifestMPD)
	e := events.NewJobEvent(events.EventJobCompleted, job.ID, job.JobKey, "Job completed")
	e.Data["manifest_mpd"] = packaged.ManifestMPD
	e.Data["manifest_hls"] = packaged.ManifestHLS
	m.publish(e)
	return nil
}

// advance records a stage change and announces it
func (m *Manager) advance(job *types.Job, to types.JobState, update func(*types.Job)) error {
	updated, err := m.store.Transition(job.ID, to, update)
	if err != nil {
		return err
	}
	*job = *updated
	m.publish(events.NewStageEvent(job.ID, job.JobKey, string(to)))
	return nil
}

// fail records a failed or cancelled job and withdraws anything it published
func (m *Manager) fail(job *types.Job, err error) *types.Job {
	cancelled := errors.Is(err, tErrors.ErrCancelled)
	stage := job.State

	if n := m.registry.KillJob(job.ID); n > 0 {
		m.logger.Warn("killed leftover processes", "job_id", job.ID, "count", n)
	}
	m.withdrawOutput(job)

	failed, ferr := m.store.Fail(job.ID, err)
	if ferr != nil {
		m.logger.Error("failed to record job failure", "job_id", job.ID, "error", ferr)
		failed = job
	}

	if cancelled {
		m.logger.Info("job cancelled", "job_id", job.ID, "stage", stage)
		m.publish(events.NewJobEvent(events.EventJobCancelled, job.ID, job.JobKey, "Job cancelled"))
	} else {
		m.logger.Error("job failed", "job_id", job.ID, "stage", stage, "error", err)
		m.reporter.ReportError(context.Background(), err)
		m.publish(events.NewFailedEvent(job.ID, job.JobKey, string(stage), err))
	}
	return failed
}

// withdrawOutput removes the manifests, key and poster of a job that did not
// complete, so no client is pointed at a partial package
func (m *Manager) withdrawOutput(job *types.Job) {
	if job.OutputDir == "" {
		return
	}
	for _, name := range []string{packager.ManifestMPD, packager.ManifestHLS, clearkey.FileName, poster.FileName} {
		path := filepath.Join(job.OutputDir, name)
		if err := os.Remove(path); err == nil {
			m.logger.Debug("removed output of failed job", "job_id", job.ID, "path", path)
		}
	}
}

func (m *Manager) findSubtitles(ctx context.Context, job *types.Job) []types.SubtitleTrack {
	if job.SubtitleDir == "" {
		return nil
	}

	tracks, skipped, err := m.subtitles.FindSubtitles(job.SubtitleDir)
	if err != nil {
		m.logger.Warn("subtitle directory unreadable, continuing without captions",
			"job_id", job.ID, "dir", job.SubtitleDir, "error", err)
		return nil
	}
	for _, s := range skipped {
		m.reporter.ReportError(ctx, s)
	}
	return tracks
}

func (m *Manager) generatePoster(ctx context.Context, job *types.Job, meta *types.SourceMetadata) string {
	if m.poster == nil {
		return ""
	}
	path, err := m.poster.Generate(ctx, job.ID, job.InputPath, meta.Duration, job.OutputDir)
	if err != nil {
		m.logger.Warn("poster generation failed", "job_id", job.ID, "error", err)
		return ""
	}
	return path
}

func (m *Manager) track(id string, cancel context.CancelFunc) {
	m.mu.Lock()
	m.running[id] = cancel
	m.mu.Unlock()
}

func (m *Manager) untrack(id string) {
	m.mu.Lock()
	delete(m.running, id)
	m.mu.Unlock()
}

func (m *Manager) publish(e events.Event) {
	if m.eventBus != nil {
		m.eventBus.Publish(e)
	}
}
