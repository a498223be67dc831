package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"templaterepo/internal/server/database"
	"templaterepo/internal/server/service"
	"templaterepo/internal/server/storage"

	"github.com/labstack/echo/v4"
)

// archiveName is the attachment name of sync responses.
const archiveName = "templates.zip"

// ReportSource exposes the most recent reconcile report.
type ReportSource interface {
	Last() *storage.Report
}

// Handler contains the HTTP handlers for the template repository API.
type Handler struct {
	templates *service.RepositoryService
	exporter  *service.Exporter
	db        *database.DB
	reports   ReportSource
}

// NewHandler creates a new handler with the given service dependencies.
// reports may be nil.
func NewHandler(templates *service.RepositoryService, exporter *service.Exporter, db *database.DB, reports ReportSource) *Handler {
	return &Handler{templates: templates, exporter: exporter, db: db, reports: reports}
}

// HandleList returns the catalog grouped by category.
func (h *Handler) HandleList(c echo.Context) error {
	catalog, err := h.templates.List(c.Request().Context())
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSONPretty(http.StatusOK, catalog, "    ")
}

// HandleSync builds a zip of the templates selected by the "data" field.
func (h *Handler) HandleSync(c echo.Context) error {
	exp, err := h.exporter.Export(c.Request().Context(), c.FormValue("data"))
	if err != nil {
		return mapServiceError(c, err)
	}
	defer exp.Close()

	return c.Attachment(exp.ZipPath, archiveName)
}

// HandleUpload stores a new template from a multipart form.
func (h *Handler) HandleUpload(c echo.Context) error {
	file, err := uploadedFile(c)
	if err != nil {
		return mapServiceError(c, err)
	}
	if file != nil {
		defer file.Close()
	}

	form := service.TemplateForm{
		Category:    c.FormValue("cname"),
		Endpoint:    c.FormValue("endpt"),
		DisplayName: c.FormValue("docname"),
		Extension:   c.FormValue("extname"),
		UpdatedAt:   c.FormValue("uptime"),
	}
	if err := h.templates.Upload(c.Request().Context(), form, readerOrNil(file)); err != nil {
		return mapServiceError(c, err)
	}
	return c.String(http.StatusOK, "Upload Success.")
}

// HandleUpdate replaces the blob of an existing template.
func (h *Handler) HandleUpdate(c echo.Context) error {
	file, err := uploadedFile(c)
	if err != nil {
		return mapServiceError(c, err)
	}
	if file != nil {
		defer file.Close()
	}

	form := service.TemplateForm{
		Category:    c.FormValue("cname"),
		Endpoint:    c.FormValue("endpt"),
		DisplayName: c.FormValue("docname"),
		Extension:   c.FormValue("extname"),
		UpdatedAt:   c.FormValue("uptime"),
	}
	if err := h.templates.Replace(c.Request().Context(), form, readerOrNil(file)); err != nil {
		return mapServiceError(c, err)
	}
	return c.String(http.StatusOK, "Update Success.")
}

// HandleDelete removes a template and its blob.
func (h *Handler) HandleDelete(c echo.Context) error {
	err := h.templates.Delete(c.Request().Context(), c.FormValue("endpt"), c.FormValue("extname"))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.String(http.StatusOK, "Delete success.")
}

// HandleDownload serves one template as an attachment named after its
// display name.
func (h *Handler) HandleDownload(c echo.Context) error {
	path, filename, err := h.templates.Download(c.Request().Context(), c.FormValue("endpt"))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.Attachment(path, filename)
}

// HandleHealth handles GET /health.
// Returns the health status of the server, including database connectivity
// and the last reconcile report when one has run.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "healthy"
	dbStatus := "connected"

	if err := h.db.HealthCheck(c.Request().Context()); err != nil {
		status = "degraded"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	body := echo.Map{
		"status":   status,
		"database": dbStatus,
		"dialect":  h.db.Dialect().String(),
	}
	if h.reports != nil {
		if report := h.reports.Last(); report != nil {
			body["reconcile"] = report
		}
	}
	return c.JSON(http.StatusOK, body)
}

// uploadedFile returns the uploaded file part, preferring the "file" field
// and falling back to the first file part of any name. A request without a
// file yields (nil, nil).
func uploadedFile(c echo.Context) (multipart.File, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, nil
	}

	var fh *multipart.FileHeader
	if fhs := form.File["file"]; len(fhs) > 0 {
		fh = fhs[0]
	} else {
		for _, fhs := range form.File {
			if len(fhs) > 0 {
				fh = fhs[0]
				break
			}
		}
	}
	if fh == nil {
		return nil, nil
	}

	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to read uploaded file: %w", err)
	}
	return f, nil
}

// readerOrNil keeps a nil multipart.File from becoming a non-nil io.Reader.
func readerOrNil(f multipart.File) io.Reader {
	if f == nil {
		return nil
	}
	return f
}

// mapServiceError translates service-layer errors into appropriate HTTP responses.
func mapServiceError(c echo.Context, err error) error {
	var se *service.Error
	msg := ""
	if errors.As(err, &se) {
		msg = se.Message
	}

	switch {
	case errors.Is(err, service.ErrBadRequest):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
	case errors.Is(err, service.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": msg})
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": msg})
	case errors.Is(err, service.ErrConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": msg})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
}
