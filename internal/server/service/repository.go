package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"templaterepo/internal/server/archive"
	"templaterepo/internal/server/database"
	"templaterepo/internal/server/storage"
)

// TemplateForm holds the form fields of an upload or update request.
type TemplateForm struct {
	Category    string // cname
	Endpoint    string // endpt
	DisplayName string // docname
	Extension   string // extname
	UpdatedAt   string // uptime
}

// CatalogEntry is one template as rendered by the list endpoint.
type CatalogEntry struct {
	DocName   string `json:"docname"`
	Endpoint  string `json:"endpt"`
	Extension string `json:"extname"`
	UpdatedAt string `json:"uptime"`
}

// Catalog groups templates by category.
type Catalog map[string][]CatalogEntry

// RepositoryService keeps template rows and blobs in step.
type RepositoryService struct {
	repo  *database.Repository
	store storage.Store
}

// NewRepositoryService creates a new repository service.
func NewRepositoryService(repo *database.Repository, store storage.Store) *RepositoryService {
	return &RepositoryService{
		repo:  repo,
		store: store,
	}
}

// List returns every template grouped by category.
func (s *RepositoryService) List(ctx context.Context) (Catalog, error) {
	templates, err := s.repo.List(ctx)
	if err != nil {
		slog.Error("failed to list templates", "op", "list", "error", err)
		return nil, err
	}

	catalog := make(Catalog)
	for _, t := range templates {
		catalog[t.Category] = append(catalog[t.Category], CatalogEntry{
			DocName:   t.DisplayName,
			Endpoint:  t.Endpoint,
			Extension: t.Extension,
			UpdatedAt: t.UpdatedAt,
		})
	}
	return catalog, nil
}

// Find returns the template for endpoint, or a zero Template (ID 0) when
// there is none. Lookup failures are logged and reported as a miss.
func (s *RepositoryService) Find(ctx context.Context, endpoint string) database.Template {
	t, err := s.repo.GetByEndpoint(ctx, endpoint)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			slog.Error("failed to find template", "op", "find", "endpt", endpoint, "error", err)
		}
		return database.Template{}
	}
	return *t
}

// Add inserts a template row.
func (s *RepositoryService) Add(ctx context.Context, t *database.Template) error {
	if err := s.repo.Create(ctx, t); err != nil {
		if errors.Is(err, database.ErrConflict) {
			return conflict(fmt.Sprintf("Template %s already exists.", t.Endpoint))
		}
		slog.Error("failed to add template", "op", "add", "endpt", t.Endpoint, "error", err)
		return err
	}
	return nil
}

// Remove deletes the row for endpoint. An absent endpoint is not an error.
func (s *RepositoryService) Remove(ctx context.Context, endpoint string) error {
	if err := s.repo.DeleteByEndpoint(ctx, endpoint); err != nil {
		slog.Error("failed to remove template", "op", "remove", "endpt", endpoint, "error", err)
		return err
	}
	return nil
}

// Upload stores a new template. file is nil when the request carried none.
func (s *RepositoryService) Upload(ctx context.Context, form TemplateForm, file io.Reader) error {
	if file == nil {
		return badRequest("File not received.")
	}
	if err := form.validate(); err != nil {
		return err
	}

	staged, size, err := s.store.Stage(file)
	if err != nil {
		slog.Error("failed to stage upload", "op", "upload", "error", err)
		return err
	}

	t := form.template()
	err = s.repo.CreateWith(ctx, t, func() error {
		return s.store.Commit(staged, t.Endpoint, t.Extension)
	})
	if err != nil {
		s.store.Discard(staged)
		if errors.Is(err, database.ErrConflict) {
			return conflict(fmt.Sprintf("Template %s already exists.", t.Endpoint))
		}
		slog.Error("failed to store template", "op", "upload", "endpt", t.Endpoint, "error", err)
		return err
	}

	slog.Info("template uploaded",
		"id", t.ID,
		"endpt", t.Endpoint,
		"category", t.Category,
		"size", size,
	)
	return nil
}

// Replace swaps the blob and row for form.Endpoint. The category and
// display name of an existing template are kept; without one, the form
// values are used as for a fresh upload.
func (s *RepositoryService) Replace(ctx context.Context, form TemplateForm, file io.Reader) error {
	if file == nil {
		return badRequest("File not received.")
	}
	if err := form.validate(); err != nil {
		return err
	}

	old, err := s.repo.GetByEndpoint(ctx, form.Endpoint)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		slog.Error("failed to load template", "op", "replace", "endpt", form.Endpoint, "error", err)
		return err
	}

	staged, size, err := s.store.Stage(file)
	if err != nil {
		slog.Error("failed to stage upload", "op", "replace", "error", err)
		return err
	}

	t := form.template()
	if old != nil {
		t.Category = old.Category
		t.DisplayName = old.DisplayName
	}

	err = s.repo.Replace(ctx, t, func() error {
		return s.store.Commit(staged, t.Endpoint, t.Extension)
	})
	if err != nil {
		s.store.Discard(staged)
		slog.Error("failed to replace template", "op", "replace", "endpt", t.Endpoint, "error", err)
		return err
	}

	if old != nil && old.Extension != t.Extension {
		if err := s.store.Delete(old.Endpoint, old.Extension); err != nil {
			slog.Error("failed to remove previous blob", "op", "replace", "endpt", old.Endpoint, "error", err)
		}
	}

	slog.Info("template replaced",
		"id", t.ID,
		"endpt", t.Endpoint,
		"extname", t.Extension,
		"size", size,
	)
	return nil
}

// Delete removes the blob for endpoint.extension and then its row. When the
// blob is already gone nothing is changed and NotFound is returned.
func (s *RepositoryService) Delete(ctx context.Context, endpoint, extension string) error {
	if endpoint == "" {
		return badRequest("No endpt provided.")
	}
	if !validEndpoint(endpoint) || !validExtension(extension) {
		return badRequest("Invalid endpt or extname.")
	}

	exists, err := s.store.Exists(endpoint, extension)
	if err != nil {
		slog.Error("failed to check blob", "op", "delete", "endpt", endpoint, "error", err)
		return err
	}
	if !exists {
		return notFound("The file to be deleted does not exist")
	}

	if err := s.store.Delete(endpoint, extension); err != nil {
		slog.Error("failed to delete blob", "op", "delete", "endpt", endpoint, "error", err)
		return err
	}
	if err := s.Remove(ctx, endpoint); err != nil {
		return err
	}

	slog.Info("template deleted", "endpt", endpoint, "extname", extension)
	return nil
}

// Download resolves endpoint to the blob path and the file name offered to
// the client.
func (s *RepositoryService) Download(ctx context.Context, endpoint string) (path string, filename string, err error) {
	t := s.Find(ctx, endpoint)
	if t.ID == 0 {
		return "", "", notFound("Template not found.")
	}

	exists, err := s.store.Exists(t.Endpoint, t.Extension)
	if err != nil {
		slog.Error("failed to check blob", "op", "download", "endpt", endpoint, "error", err)
		return "", "", err
	}
	if !exists {
		return "", "", notFound("Template not found.")
	}

	return s.store.Path(t.Endpoint, t.Extension), t.DownloadName(), nil
}

func (f TemplateForm) validate() error {
	if f.Endpoint == "" {
		return badRequest("No endpt provided.")
	}
	if !validEndpoint(f.Endpoint) {
		return badRequest("Invalid endpt.")
	}
	if !validExtension(f.Extension) {
		return badRequest("Invalid extname.")
	}
	if f.DisplayName != "" && !archive.IsSegment(f.DisplayName+"."+f.Extension) {
		return badRequest("Invalid docname.")
	}
	return nil
}

func (f TemplateForm) template() *database.Template {
	return &database.Template{
		Category:    f.Category,
		Endpoint:    f.Endpoint,
		DisplayName: f.DisplayName,
		Extension:   f.Extension,
		UpdatedAt:   f.UpdatedAt,
	}
}

// validEndpoint rejects names that are not a single path element and
// dot-prefixed names, which would clash with staging files.
func validEndpoint(endpoint string) bool {
	return archive.IsSegment(endpoint) && !strings.HasPrefix(endpoint, ".")
}

// validExtension allows an empty extension but never a path separator.
func validExtension(ext string) bool {
	return !strings.ContainsAny(ext, `/\`+"\x00")
}
