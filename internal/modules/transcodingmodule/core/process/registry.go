// Package process runs engine subprocesses in their own process groups and
// tracks them per job so a whole job can be torn down at once.
package process

import (
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
)

// ProcessInfo holds information about a managed process
type ProcessInfo struct {
	PID       int
	JobID     string
	Label     string
	StartTime time.Time
}

// Registry maps live subprocesses to the jobs that own them
type Registry struct {
	processes map[int]*ProcessInfo // PID -> ProcessInfo
	jobs      map[string][]int     // JobID -> PIDs
	grace     time.Duration
	mu        sync.RWMutex
	logger    hclog.Logger
}

// NewRegistry creates a registry. grace is the wait between SIGTERM and
// SIGKILL when a job is killed.
func NewRegistry(grace time.Duration, logger hclog.Logger) *Registry {
	if grace <= 0 {
		grace = 5 * time.Second
	}
	return &Registry{
		processes: make(map[int]*ProcessInfo),
		jobs:      make(map[string][]int),
		grace:     grace,
		logger:    logger.Named("process-registry"),
	}
}

// Register records a started process
func (r *Registry) Register(pid int, jobID, label string) error {
	if pid <= 0 {
		return fmt.Errorf("invalid PID: %d", pid)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, exists := r.processes[pid]; exists {
		return fmt.Errorf("process %d already registered for job %s", pid, existing.JobID)
	}

	r.processes[pid] = &ProcessInfo{
		PID:       pid,
		JobID:     jobID,
		Label:     label,
		StartTime: time.Now(),
	}
	r.jobs[jobID] = append(r.jobs[jobID], pid)

	r.logger.Debug("registered process", "pid", pid, "job_id", jobID, "label", label)
	return nil
}

// Unregister forgets a process once it has been waited on
func (r *Registry) Unregister(pid int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, exists := r.processes[pid]
	if !exists {
		return
	}
	delete(r.processes, pid)

	pids := r.jobs[info.JobID]
	for i, p := range pids {
		if p == pid {
			pids = append(pids[:i], pids[i+1:]...)
			break
		}
	}
	if len(pids) == 0 {
		delete(r.jobs, info.JobID)
	} else {
		r.jobs[info.JobID] = pids
	}
}

// ProcessesForJob returns the live processes of one job
func (r *Registry) ProcessesForJob(jobID string) []ProcessInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []ProcessInfo
	for _, pid := range r.jobs[jobID] {
		out = append(out, *r.processes[pid])
	}
	return out
}

// Count returns the number of live processes
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.processes)
}

// KillJob terminates every process group the job owns and returns how many
// were signalled. It blocks until each group is gone or has been SIGKILLed.
func (r *Registry) KillJob(jobID string) int {
	procs := r.ProcessesForJob(jobID)
	r.killAll(procs)
	return len(procs)
}

// KillAll terminates every registered process group
func (r *Registry) KillAll() int {
	r.mu.RLock()
	procs := make([]ProcessInfo, 0, len(r.processes))
	for _, p := range r.processes {
		procs = append(procs, *p)
	}
	r.mu.RUnlock()

	r.killAll(procs)
	return len(procs)
}

func (r *Registry) killAll(procs []ProcessInfo) {
	var wg sync.WaitGroup
	for _, p := range procs {
		wg.Add(1)
		go func(p ProcessInfo) {
			defer wg.Done()
			r.logger.Info("killing process group", "pid", p.PID, "job_id", p.JobID, "label", p.Label)
			if err := KillProcessGroup(p.PID, r.grace); err != nil {
				r.logger.Warn("failed to kill process group", "pid", p.PID, "error", err)
			}
		}(p)
	}
	wg.Wait()
}

// KillProcessGroup sends SIGTERM to the process group led by pid, then
// SIGKILL if the leader is still alive after grace.
func KillProcessGroup(pid int, grace time.Duration) error {
	if err := signalGroup(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to terminate process %d: %w", pid, err)
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !isProcessAlive(pid) {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}

	_ = signalGroup(pid, syscall.SIGKILL)
	return nil
}

// signalGroup signals the whole group, falling back to the process itself
// when it never became a group leader.
func signalGroup(pid int, sig syscall.Signal) error {
	if err := syscall.Kill(-pid, sig); err != nil {
		if err == syscall.ESRCH {
			if err := syscall.Kill(pid, sig); err != nil && err != syscall.ESRCH {
				return err
			}
			return nil
		}
		return err
	}
	return nil
}

func isProcessAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
