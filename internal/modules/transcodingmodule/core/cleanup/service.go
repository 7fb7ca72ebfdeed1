// Package cleanup removes intermediate files that jobs left behind in the
// work directory. Output trees are never touched.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	tErrors "github.com/mantonx/vodpack/internal/modules/transcodingmodule/errors"
	"github.com/mantonx/vodpack/internal/modules/transcodingmodule/types"
)

// JobSource is the slice of the job store the sweep needs
type JobSource interface {
	GetActiveByKey(key string) (*types.Job, error)
}

// Config contains cleanup configuration
type Config struct {
	WorkDir   string
	Retention time.Duration
	Interval  time.Duration
}

// Stats summarizes one sweep
type Stats struct {
	RemovedDirs int
	FreedBytes  int64
}

// Service periodically sweeps the work directory
type Service struct {
	config Config
	jobs   JobSource
	logger hclog.Logger
	now    func() time.Time
}

// NewService creates a new cleanup service
func NewService(config Config, jobs JobSource, logger hclog.Logger) *Service {
	if config.Interval <= 0 {
		config.Interval = time.Hour
	}
	return &Service{
		config: config,
		jobs:   jobs,
		logger: logger.Named("cleanup"),
		now:    time.Now,
	}
}

// Enabled reports whether a retention period is configured
func (s *Service) Enabled() bool {
	return s.config.Retention > 0
}

// Run sweeps once immediately and then on every interval until ctx ends
func (s *Service) Run(ctx context.Context) {
	if !s.Enabled() {
		s.logger.Debug("cleanup disabled")
		return
	}

	s.logger.Info("starting cleanup service",
		"interval", s.config.Interval,
		"retention", s.config.Retention,
		"work_dir", s.config.WorkDir)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.sweepAndLog()
	for {
		select {
		case <-ticker.C:
			s.sweepAndLog()
		case <-ctx.Done():
			s.logger.Info("cleanup service stopped")
			return
		}
	}
}

func (s *Service) sweepAndLog() {
	stats, err := s.Sweep()
	if err != nil {
		s.logger.Error("cleanup sweep failed", "error", err)
		return
	}
	if stats.RemovedDirs > 0 {
		s.logger.Info("cleanup sweep finished",
			"removed_dirs", stats.RemovedDirs,
			"freed", formatBytes(stats.FreedBytes))
	}
}

// Sweep removes job work directories (named by job key) whose contents
// have not changed for the retention period and that no active job owns.
func (s *Service) Sweep() (Stats, error) {
	var stats Stats
	cutoff := s.now().Add(-s.config.Retention)

	entries, err := os.ReadDir(s.config.WorkDir)
	if err != nil {
		if os.IsNotExist(err) {
			return stats, nil
		}
		return stats, fmt.Errorf("failed to read work directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(s.config.WorkDir, entry.Name())
		modified, err := lastModified(dir)
		if err != nil || modified.After(cutoff) {
			continue
		}
		if job, err := s.jobs.GetActiveByKey(entry.Name()); err == nil {
			s.logger.Debug("skipping work directory of active job", "dir", dir, "job_id", job.ID)
			continue
		} else if !errors.Is(err, tErrors.ErrJobNotFound) {
			s.logger.Warn("failed to look up job for work directory", "dir", dir, "error", err)
			continue
		}
		s.remove(dir, &stats)
	}

	return stats, nil
}

func (s *Service) remove(dir string, stats *Stats) {
	if dir == "" || !s.withinWorkDir(dir) {
		return
	}
	size, err := dirSize(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to measure directory", "dir", dir, "error", err)
		}
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		s.logger.Warn("failed to remove directory", "dir", dir, "error", err)
		return
	}
	s.logger.Debug("removed job directory", "dir", dir, "size", formatBytes(size))
	stats.RemovedDirs++
	stats.FreedBytes += size
}

func (s *Service) withinWorkDir(dir string) bool {
	root, err := filepath.Abs(s.config.WorkDir)
	if err != nil {
		return false
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(root, abs)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}

// lastModified is the newest modification time of anything under dir
func lastModified(dir string) (time.Time, error) {
	var newest time.Time
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
		return nil
	})
	return newest, err
}

func dirSize(dir string) (int64, error) {
	var size int64
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			if info, err := d.Info(); err == nil {
				size += info.Size()
			}
		}
		return nil
	})
	return size, err
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
