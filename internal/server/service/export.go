package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"templaterepo/internal/server/archive"
	"templaterepo/internal/server/storage"
)

// Selection maps a category to the endpoints requested in it.
type Selection map[string][]string

// ParseSelection validates a sync payload as a whole before any file is
// touched. An empty payload selects nothing.
func ParseSelection(data string) (Selection, error) {
	if strings.TrimSpace(data) == "" {
		data = "{}"
	}
	syntaxErr := badRequest("Request data syntax error.")

	var raw any
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return nil, syntaxErr
	}
	groups, ok := raw.(map[string]any)
	if !ok {
		return nil, syntaxErr
	}

	sel := make(Selection, len(groups))
	for category, v := range groups {
		if !archive.IsSegment(category) {
			return nil, syntaxErr
		}
		items, ok := v.([]any)
		if !ok {
			return nil, syntaxErr
		}
		endpoints := make([]string, 0, len(items))
		for _, item := range items {
			obj, ok := item.(map[string]any)
			if !ok {
				return nil, syntaxErr
			}
			endpoint, ok := obj["endpt"].(string)
			if !ok {
				return nil, syntaxErr
			}
			endpoints = append(endpoints, endpoint)
		}
		sel[category] = endpoints
	}
	return sel, nil
}

// Export is a built archive on disk. Close removes it together with the
// scratch tree it was built from.
type Export struct {
	ZipPath string
	Files   int
	Size    int64 // uncompressed bytes
	scratch *archive.Scratch
}

// Close removes the archive and scratch directory.
func (e *Export) Close() error {
	var errs []error
	if e.ZipPath != "" {
		if err := os.Remove(e.ZipPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
		e.ZipPath = ""
	}
	if e.scratch != nil {
		errs = append(errs, e.scratch.Close())
	}
	return errors.Join(errs...)
}

// Exporter assembles category-structured zip archives of stored templates.
type Exporter struct {
	templates *RepositoryService
	store     storage.Store
	workDir   string
}

// NewExporter creates an exporter that builds archives under workDir.
func NewExporter(templates *RepositoryService, store storage.Store, workDir string) *Exporter {
	return &Exporter{
		templates: templates,
		store:     store,
		workDir:   workDir,
	}
}

// Export parses data and builds the archive. The caller must Close the
// returned Export once the archive has been sent.
func (x *Exporter) Export(ctx context.Context, data string) (*Export, error) {
	sel, err := ParseSelection(data)
	if err != nil {
		return nil, err
	}
	return x.Build(ctx, sel)
}

// Build copies the selected blobs into a fresh scratch tree, one directory
// per category, and compresses it. Unknown endpoints and missing blobs are
// skipped.
func (x *Exporter) Build(ctx context.Context, sel Selection) (_ *Export, err error) {
	scratch, err := archive.NewScratch(x.workDir, storage.ScratchPrefix)
	if err != nil {
		slog.Error("failed to create scratch directory", "op", "sync", "error", err)
		return nil, err
	}
	exp := &Export{scratch: scratch}
	defer func() {
		if err != nil {
			exp.Close()
		}
	}()

	copied := 0
	for category, endpoints := range sel {
		dir, err := scratch.Mkdir(category)
		if err != nil {
			return nil, err
		}
		for _, endpoint := range endpoints {
			t := x.templates.Find(ctx, endpoint)
			if t.ID == 0 {
				continue
			}
			name := t.DownloadName()
			if !archive.IsSegment(name) {
				slog.Warn("skipping template with unusable name", "op", "sync", "endpt", endpoint, "name", name)
				continue
			}
			err := x.store.CopyTo(t.Endpoint, t.Extension, filepath.Join(dir, name))
			if errors.Is(err, storage.ErrNotExist) {
				continue
			}
			if err != nil {
				slog.Error("failed to copy template", "op", "sync", "endpt", endpoint, "error", err)
				return nil, err
			}
			copied++
		}
	}

	tree, err := archive.BuildFiletree(scratch.Path())
	if err != nil {
		return nil, err
	}
	exp.Files = copied
	if exp.Size, err = tree.GetUncompressedSize(); err != nil {
		return nil, fmt.Errorf("failed to size export: %w", err)
	}

	zipFile, err := os.CreateTemp(x.workDir, storage.ScratchPrefix+"*.zip")
	if err != nil {
		return nil, fmt.Errorf("failed to create archive file: %w", err)
	}
	exp.ZipPath = zipFile.Name()
	if err := tree.WriteZip(zipFile); err != nil {
		zipFile.Close()
		slog.Error("failed to write archive", "op", "sync", "error", err)
		return nil, err
	}
	if err := zipFile.Close(); err != nil {
		return nil, fmt.Errorf("failed to close archive: %w", err)
	}

	slog.Info("export built", "categories", len(sel), "files", copied, "uncompressed_bytes", exp.Size)
	return exp, nil
}
