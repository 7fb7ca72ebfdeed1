// Package watcher submits a transcode job for every media file dropped into a
// watched directory.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"
	tErrors "github.com/mantonx/vodpack/internal/modules/transcodingmodule/errors"
	"github.com/mantonx/vodpack/internal/modules/transcodingmodule/types"
)

// SubtitleDirSuffix names the caption directory that accompanies a source:
// movie.mkv looks for movie.subs/ next to it.
const SubtitleDirSuffix = ".subs"

// Submitter accepts jobs for background processing
type Submitter interface {
	Submit(ctx context.Context, req types.JobRequest) (*types.Job, error)
}

// Config holds watch-folder settings
type Config struct {
	Dir        string
	Extensions []string
	Debounce   time.Duration
	Encrypt    bool
}

// Watcher debounces filesystem activity in one directory and submits a job
// per settled media file, keyed by the file's stem.
type Watcher struct {
	config    Config
	submitter Submitter
	logger    hclog.Logger
	exts      map[string]bool

	watcher *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]*time.Timer

	// wg covers the event loop and every armed debounce timer
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewWatcher creates a watcher; nothing is observed until Start
func NewWatcher(config Config, submitter Submitter, logger hclog.Logger) (*Watcher, error) {
	if config.Dir == "" {
		return nil, fmt.Errorf("%w: watch directory is required", tErrors.ErrInvalidInput)
	}
	if config.Debounce <= 0 {
		config.Debounce = 2 * time.Second
	}

	exts := make(map[string]bool, len(config.Extensions))
	for _, ext := range config.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts[ext] = true
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		config:    config,
		submitter: submitter,
		logger:    logger.Named("watcher"),
		exts:      exts,
		watcher:   fw,
		pending:   make(map[string]*time.Timer),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start begins observing the directory
func (w *Watcher) Start() error {
	if err := os.MkdirAll(w.config.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create watch directory: %w", err)
	}
	if err := w.watcher.Add(w.config.Dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.config.Dir, err)
	}

	w.wg.Add(1)
	go w.eventLoop()

	w.logger.Info("watching for new media", "dir", w.config.Dir, "debounce", w.config.Debounce)
	return nil
}

// Stop ends observation and drops submissions that have not fired yet. A
// submission already in flight finishes before Stop returns; none starts after.
func (w *Watcher) Stop() error {
	w.cancel()
	err := w.watcher.Close()

	w.mu.Lock()
	for path, timer := range w.pending {
		if timer.Stop() {
			w.wg.Done()
		}
		delete(w.pending, path)
	}
	w.mu.Unlock()

	w.wg.Wait()
	return err
}

func (w *Watcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("file watcher error", "error", err)

		case <-w.ctx.Done():
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	if !w.IsMedia(event.Name) {
		return
	}
	w.schedule(event.Name)
}

// IsMedia reports whether path has one of the configured extensions
func (w *Watcher) IsMedia(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return w.exts[strings.ToLower(filepath.Ext(base))]
}

// schedule restarts the debounce timer of path
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.ctx.Err() != nil {
		return
	}
	if old, ok := w.pending[path]; ok && old.Stop() {
		w.wg.Done()
	}

	var timer *time.Timer
	w.wg.Add(1)
	timer = time.AfterFunc(w.config.Debounce, func() {
		defer w.wg.Done()

		w.mu.Lock()
		if w.pending[path] == timer {
			delete(w.pending, path)
		}
		w.mu.Unlock()

		w.submit(path)
	})
	w.pending[path] = timer
}

func (w *Watcher) submit(path string) {
	if w.ctx.Err() != nil {
		w.logger.Debug("watcher stopped, dropping submission", "path", path)
		return
	}

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		w.logger.Debug("watched file vanished before submission", "path", path)
		return
	}

	req := BuildRequest(path, w.config.Encrypt)
	job, err := w.submitter.Submit(w.ctx, req)
	switch {
	case errors.Is(err, tErrors.ErrJobExists):
		w.logger.Debug("job for file already active", "path", path, "job_key", req.JobKey)
	case err != nil:
		w.logger.Warn("failed to submit watched file", "path", path, "error", err)
	default:
		w.logger.Info("submitted watched file", "path", path, "job_id", job.ID, "job_key", job.JobKey)
	}
}

// BuildRequest turns a media file into a job request keyed by its stem. A
// sibling <stem>.subs directory supplies the captions when it exists.
func BuildRequest(path string, encrypt bool) types.JobRequest {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	req := types.JobRequest{
		InputPath: path,
		JobKey:    stem,
		Encrypt:   &encrypt,
	}

	subs := filepath.Join(filepath.Dir(path), stem+SubtitleDirSuffix)
	if info, err := os.Stat(subs); err == nil && info.IsDir() {
		req.SubtitleDir = subs
	}
	return req
}
