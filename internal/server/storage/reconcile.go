package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"templaterepo/internal/server/database"
)

// ScratchPrefix names the per-export directories created in the work dir.
const ScratchPrefix = "sync-"

// MinSweepAge is the youngest a staging file or scratch entry can be and
// still be swept, whatever the interval.
const MinSweepAge = time.Hour

// TemplateLister is the subset of the template repository the reconciler reads.
type TemplateLister interface {
	List(ctx context.Context) ([]*database.Template, error)
}

// Report summarises one reconciliation pass.
type Report struct {
	Templates      int      `json:"templates"`
	MissingBlobs   []string `json:"missingBlobs"`
	OrphanBlobs    []string `json:"orphanBlobs"`
	RemovedStaged  int      `json:"removedStaged"`
	RemovedScratch int      `json:"removedScratch"`
}

// Reconciler periodically compares template rows against the blobs in the
// storage directory. It only reports mismatches; the files it deletes are
// abandoned staging files and export scratch entries older than maxAge.
type Reconciler struct {
	repo     TemplateLister
	store    *FileSystemStore
	workDir  string
	interval time.Duration
	maxAge   time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu   sync.Mutex
	last *Report
	done chan struct{}
}

// NewReconciler creates a reconciler. Leftovers are swept once they are
// older than both interval and MinSweepAge.
func NewReconciler(repo TemplateLister, store *FileSystemStore, workDir string, interval time.Duration, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		repo:     repo,
		store:    store,
		workDir:  workDir,
		interval: interval,
		maxAge:   max(interval, MinSweepAge),
		logger:   logger,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// Start begins the reconcile loop in a background goroutine. A non-positive
// interval disables the loop; Reconcile can still be called directly.
func (r *Reconciler) Start(ctx context.Context) {
	if r.interval <= 0 {
		r.logger.Warn("reconciler disabled", "interval", r.interval)
		close(r.done)
		return
	}
	r.logger.Info("reconciler started",
		"interval", r.interval,
		"storage_path", r.store.BasePath(),
		"work_dir", r.workDir,
	)

	go func() {
		defer close(r.done)

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		// Run once immediately on start
		r.runOnce(ctx)

		for {
			select {
			case <-ticker.C:
				r.runOnce(ctx)
			case <-ctx.Done():
				r.logger.Info("reconciler stopping")
				return
			}
		}
	}()
}

// Wait blocks until the reconciler has fully stopped.
func (r *Reconciler) Wait() {
	<-r.done
}

// Last returns the report of the most recent pass, or nil.
func (r *Reconciler) Last() *Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func (r *Reconciler) runOnce(ctx context.Context) {
	report, err := r.Reconcile(ctx)
	if err != nil {
		r.logger.Error("reconcile failed", "error", err)
		return
	}
	if len(report.MissingBlobs) > 0 {
		r.logger.Warn("templates without blobs", "endpoints", report.MissingBlobs)
	}
	if len(report.OrphanBlobs) > 0 {
		r.logger.Info("blobs without templates", "files", report.OrphanBlobs)
	}
	r.logger.Info("reconcile cycle complete",
		"templates", report.Templates,
		"missing_blobs", len(report.MissingBlobs),
		"orphan_blobs", len(report.OrphanBlobs),
		"removed_staged", report.RemovedStaged,
		"removed_scratch", report.RemovedScratch,
	)
}

// Reconcile runs a single pass and returns its report.
func (r *Reconciler) Reconcile(ctx context.Context) (*Report, error) {
	templates, err := r.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	entries, err := r.store.Entries()
	if err != nil {
		return nil, err
	}

	cutoff := r.now().Add(-r.maxAge).Unix()
	report := &Report{
		Templates:    len(templates),
		MissingBlobs: []string{},
		OrphanBlobs:  []string{},
	}

	onDisk := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.Staged {
			if e.ModTime < cutoff {
				if err := r.store.RemoveFile(e.Name); err != nil {
					r.logger.Error("failed to remove staging file", "file", e.Name, "error", err)
					continue
				}
				report.RemovedStaged++
			}
			continue
		}
		onDisk[e.Name] = true
	}

	for _, t := range templates {
		name := BlobName(t.Endpoint, t.Extension)
		if onDisk[name] {
			delete(onDisk, name)
			continue
		}
		report.MissingBlobs = append(report.MissingBlobs, t.Endpoint)
	}
	for name := range onDisk {
		report.OrphanBlobs = append(report.OrphanBlobs, name)
	}
	slices.Sort(report.OrphanBlobs)

	report.RemovedScratch = r.sweepWorkDir(cutoff)

	r.mu.Lock()
	r.last = report
	r.mu.Unlock()
	return report, nil
}

func (r *Reconciler) sweepWorkDir(cutoff int64) int {
	if r.workDir == "" {
		return 0
	}
	dirents, err := os.ReadDir(r.workDir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			r.logger.Error("failed to read work directory", "error", err)
		}
		return 0
	}
	removed := 0
	for _, d := range dirents {
		if !strings.HasPrefix(d.Name(), ScratchPrefix) {
			continue
		}
		info, err := d.Info()
		if err != nil || info.ModTime().Unix() >= cutoff {
			continue
		}
		if err := os.RemoveAll(filepath.Join(r.workDir, d.Name())); err != nil {
			r.logger.Error("failed to remove scratch entry", "name", d.Name(), "error", err)
			continue
		}
		removed++
	}
	return removed
}
