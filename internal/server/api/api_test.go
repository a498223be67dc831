package api

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"templaterepo/internal/server/config"
	"templaterepo/internal/server/database"
	"templaterepo/internal/server/logging"
	"templaterepo/internal/server/service"
	"templaterepo/internal/server/storage"
)

const (
	loopback = "127.0.0.1:40000"
	outsider = "203.0.113.9:40000"
	labIP    = "10.0.0.5"
	labMAC   = "AA:BB:CC:DD:EE:FF"
)

type testServer struct {
	e          *echo.Echo
	storeDir   string
	workDir    string
	templates  *service.RepositoryService
	reconciler *storage.Reconciler
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()
	ctx := context.Background()
	root := t.TempDir()

	cfg := config.Defaults()
	cfg.DataDir = root
	cfg.StoragePath = filepath.Join(root, "repository")
	cfg.WorkDir = filepath.Join(root, "work")
	if mutate != nil {
		mutate(cfg)
	}

	db, err := database.New(ctx, filepath.Join(root, "data.db"), 4)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.RunMigrations(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	allowlist := database.NewAllowlistRepository(db)
	if _, err := allowlist.Create(ctx, database.KindIP, labIP, "lab"); err != nil {
		t.Fatal(err)
	}
	if _, err := allowlist.Create(ctx, database.KindMAC, labMAC, "lab"); err != nil {
		t.Fatal(err)
	}

	store := storage.NewFileSystemStore(cfg.StoragePath)
	if err := store.EnsureDir(); err != nil {
		t.Fatal(err)
	}
	repo := database.NewRepository(db)
	templates := service.NewRepositoryService(repo, store)
	exporter := service.NewExporter(templates, store, cfg.WorkDir)
	reconciler := storage.NewReconciler(repo, store, cfg.WorkDir, cfg.ReconcileInterval, logging.Discard())

	handler := NewHandler(templates, exporter, db, reconciler)
	dispatcher := NewDispatcher(handler, service.NewAccessControl(allowlist))
	e := SetupRouter(handler, dispatcher, nil, cfg)

	return &testServer{
		e:          e,
		storeDir:   cfg.StoragePath,
		workDir:    cfg.WorkDir,
		templates:  templates,
		reconciler: reconciler,
	}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func formRequest(method, target, remote string, fields map[string]string) *http.Request {
	values := url.Values{}
	for k, v := range fields {
		values.Set(k, v)
	}
	req := httptest.NewRequest(method, target, strings.NewReader(values.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	req.RemoteAddr = remote
	return req
}

func multipartRequest(t *testing.T, target, remote string, fields map[string]string, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if content != "" {
		part, err := w.CreateFormFile("file", "upload.bin")
		if err != nil {
			t.Fatal(err)
		}
		part.Write([]byte(content))
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	req.RemoteAddr = remote
	return req
}

func (s *testServer) upload(t *testing.T, cname, endpt, docname, ext, content string) {
	t.Helper()
	req := multipartRequest(t, "/templaterepo/upload", loopback, map[string]string{
		"cname": cname, "endpt": endpt, "docname": docname, "extname": ext, "uptime": "2024-01-01",
	}, content)
	rec := s.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload %s: status %d: %s", endpt, rec.Code, rec.Body.String())
	}
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body["error"]
}

// assertUntouched fails if endpt has a row or the storage dir holds any file.
func (s *testServer) assertUntouched(t *testing.T, endpt string) {
	t.Helper()
	if got := s.templates.Find(context.Background(), endpt); got.ID != 0 {
		t.Errorf("expected no row for %s, got %+v", endpt, got)
	}
	entries, err := os.ReadDir(s.storeDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty storage dir, found %d entries", len(entries))
	}
}

func TestDispatch_Routing(t *testing.T) {
	s := newTestServer(t, nil)
	uploadFields := map[string]string{"cname": "Letters", "endpt": "ghost", "docname": "Ghost", "extname": "odt"}

	t.Run("unknown api", func(t *testing.T) {
		req := multipartRequest(t, "/templaterepo/nope", loopback, uploadFields, "G")
		rec := s.do(req)
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
		s.assertUntouched(t, "ghost")
	})

	t.Run("wrong method", func(t *testing.T) {
		req := multipartRequest(t, "/templaterepo/upload", loopback, uploadFields, "G")
		req.Method = http.MethodPut
		rec := s.do(req)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", rec.Code)
		}
		if rec.Header().Get(echo.HeaderAllow) != http.MethodPost {
			t.Errorf("expected Allow: POST, got %q", rec.Header().Get(echo.HeaderAllow))
		}
		s.assertUntouched(t, "ghost")
	})

	t.Run("list with wrong method", func(t *testing.T) {
		rec := s.do(formRequest(http.MethodPost, "/templaterepo/list", loopback, nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", rec.Code)
		}
	})

	t.Run("health", func(t *testing.T) {
		rec := s.do(httptest.NewRequest(http.MethodGet, "/health", nil))
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"healthy"`) {
			t.Errorf("unexpected health response %d %s", rec.Code, rec.Body.String())
		}
		if strings.Contains(rec.Body.String(), `"reconcile"`) {
			t.Errorf("expected no reconcile report before a pass, got %s", rec.Body.String())
		}
	})

	t.Run("health includes last reconcile report", func(t *testing.T) {
		if _, err := s.reconciler.Reconcile(context.Background()); err != nil {
			t.Fatal(err)
		}
		rec := s.do(httptest.NewRequest(http.MethodGet, "/health", nil))
		var body struct {
			Status    string          `json:"status"`
			Reconcile *storage.Report `json:"reconcile"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatal(err)
		}
		if body.Reconcile == nil || body.Reconcile.Templates != 0 {
			t.Errorf("unexpected reconcile report %+v", body.Reconcile)
		}
	})
}

func TestDispatch_AccessControl(t *testing.T) {
	s := newTestServer(t, nil)

	t.Run("loopback may upload", func(t *testing.T) {
		s.upload(t, "Letters", "a", "Cover", "odt", "A")
	})

	t.Run("listed ip may delete", func(t *testing.T) {
		s.upload(t, "Letters", "b", "Memo", "odt", "B")
		rec := s.do(formRequest(http.MethodPost, "/templaterepo/delete", labIP+":1234", map[string]string{"endpt": "b", "extname": "odt"}))
		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("unlisted ip is denied", func(t *testing.T) {
		req := multipartRequest(t, "/templaterepo/upload", outsider, map[string]string{"endpt": "x", "extname": "odt"}, "X")
		rec := s.do(req)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", rec.Code)
		}
		if msg := errorMessage(t, rec); msg != "Deny access to your IP address." {
			t.Errorf("unexpected message %q", msg)
		}
		if got := s.templates.Find(context.Background(), "x"); got.ID != 0 {
			t.Error("handler must not run on denial")
		}
	})

	t.Run("forwarded header ignored without trust", func(t *testing.T) {
		req := formRequest(http.MethodPost, "/templaterepo/delete", outsider, map[string]string{"endpt": "a", "extname": "odt"})
		req.Header.Set(echo.HeaderXForwardedFor, "127.0.0.1")
		if rec := s.do(req); rec.Code != http.StatusForbidden {
			t.Errorf("expected 403, got %d", rec.Code)
		}
	})

	t.Run("mac check is case-insensitive", func(t *testing.T) {
		rec := s.do(formRequest(http.MethodPost, "/templaterepo/download", outsider, map[string]string{
			"mac_addr": strings.ToLower(labMAC), "endpt": "a",
		}))
		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("missing or unknown mac is denied", func(t *testing.T) {
		for _, mac := range []string{"", "00:11:22:33:44:55"} {
			rec := s.do(formRequest(http.MethodPost, "/templaterepo/download", loopback, map[string]string{
				"mac_addr": mac, "endpt": "a",
			}))
			if rec.Code != http.StatusForbidden {
				t.Errorf("mac %q: expected 403, got %d", mac, rec.Code)
				continue
			}
			if msg := errorMessage(t, rec); msg != "Deny access to your Mac address." {
				t.Errorf("unexpected message %q", msg)
			}
		}
	})
}

func TestDispatch_TrustProxy(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) { cfg.TrustProxy = true })

	req := formRequest(http.MethodPost, "/templaterepo/delete", loopback, map[string]string{"endpt": "x", "extname": "odt"})
	req.Header.Set(echo.HeaderXForwardedFor, "198.51.100.7")
	if rec := s.do(req); rec.Code != http.StatusForbidden {
		t.Errorf("expected the forwarded client to be denied, got %d", rec.Code)
	}

	req = formRequest(http.MethodPost, "/templaterepo/delete", loopback, map[string]string{"endpt": "x", "extname": "odt"})
	req.Header.Set(echo.HeaderXForwardedFor, labIP)
	if rec := s.do(req); rec.Code != http.StatusNotFound {
		t.Errorf("expected the listed forwarded client to pass the guard, got %d", rec.Code)
	}
}

func TestHandlers_Lifecycle(t *testing.T) {
	s := newTestServer(t, nil)

	t.Run("upload without file", func(t *testing.T) {
		req := multipartRequest(t, "/templaterepo/upload", loopback, map[string]string{"endpt": "nofile", "extname": "odt"}, "")
		rec := s.do(req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
		if msg := errorMessage(t, rec); msg != "File not received." {
			t.Errorf("unexpected message %q", msg)
		}
	})

	s.upload(t, "Reports", "r1", "Quarterly", "ods", "Q")
	s.upload(t, "Letters", "l1", "Cover", "odt", "L")

	t.Run("duplicate upload conflicts", func(t *testing.T) {
		req := multipartRequest(t, "/templaterepo/upload", loopback, map[string]string{"endpt": "r1", "extname": "ods"}, "again")
		if rec := s.do(req); rec.Code != http.StatusConflict {
			t.Errorf("expected 409, got %d", rec.Code)
		}
	})

	t.Run("list", func(t *testing.T) {
		rec := s.do(httptest.NewRequest(http.MethodGet, "/templaterepo/list", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "\n    \"Letters\"") {
			t.Errorf("expected 4-space indentation, got %s", rec.Body.String())
		}
		var catalog map[string][]map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &catalog); err != nil {
			t.Fatal(err)
		}
		want := map[string]string{"docname": "Quarterly", "endpt": "r1", "extname": "ods", "uptime": "2024-01-01"}
		got := catalog["Reports"]
		if len(got) != 1 {
			t.Fatalf("unexpected Reports group %v", got)
		}
		for k, v := range want {
			if got[0][k] != v {
				t.Errorf("%s: expected %q, got %q", k, v, got[0][k])
			}
		}
	})

	t.Run("download", func(t *testing.T) {
		rec := s.do(formRequest(http.MethodPost, "/templaterepo/download", loopback, map[string]string{"mac_addr": labMAC, "endpt": "r1"}))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if rec.Body.String() != "Q" {
			t.Errorf("unexpected body %q", rec.Body.String())
		}
		if cd := rec.Header().Get(echo.HeaderContentDisposition); !strings.Contains(cd, "Quarterly.ods") || !strings.HasPrefix(cd, "attachment") {
			t.Errorf("unexpected Content-Disposition %q", cd)
		}
	})

	t.Run("update", func(t *testing.T) {
		req := multipartRequest(t, "/templaterepo/update", loopback, map[string]string{"endpt": "r1", "extname": "xlsx", "uptime": "2024-02-02"}, "Q2")
		rec := s.do(req)
		if rec.Code != http.StatusOK || rec.Body.String() != "Update Success." {
			t.Fatalf("unexpected update response %d %s", rec.Code, rec.Body.String())
		}
		if _, err := os.Stat(filepath.Join(s.storeDir, "r1.ods")); !os.IsNotExist(err) {
			t.Error("expected previous blob removed")
		}
		got := s.templates.Find(context.Background(), "r1")
		if got.Extension != "xlsx" || got.DisplayName != "Quarterly" || got.Category != "Reports" {
			t.Errorf("unexpected record %+v", got)
		}
	})

	t.Run("delete", func(t *testing.T) {
		rec := s.do(formRequest(http.MethodPost, "/templaterepo/delete", loopback, map[string]string{"endpt": "l1", "extname": "odt"}))
		if rec.Code != http.StatusOK || rec.Body.String() != "Delete success." {
			t.Fatalf("unexpected delete response %d %s", rec.Code, rec.Body.String())
		}

		rec = s.do(formRequest(http.MethodPost, "/templaterepo/delete", loopback, map[string]string{"endpt": "l1", "extname": "odt"}))
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404 on second delete, got %d", rec.Code)
		}

		rec = s.do(formRequest(http.MethodPost, "/templaterepo/delete", loopback, map[string]string{"extname": "odt"}))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400 without endpt, got %d", rec.Code)
		}
	})

	t.Run("download missing", func(t *testing.T) {
		rec := s.do(formRequest(http.MethodPost, "/templaterepo/download", loopback, map[string]string{"mac_addr": labMAC, "endpt": "l1"}))
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})
}

func TestHandlers_Sync(t *testing.T) {
	s := newTestServer(t, nil)
	s.upload(t, "Letters", "a", "Cover", "odt", "A")
	s.upload(t, "Reports", "b", "Quarterly", "ods", "B")

	t.Run("round trip", func(t *testing.T) {
		rec := s.do(formRequest(http.MethodPost, "/templaterepo/sync", loopback, map[string]string{
			"mac_addr": labMAC,
			"data":     `{"X":[{"endpt":"a"}],"Y":[{"endpt":"b"}]}`,
		}))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if cd := rec.Header().Get(echo.HeaderContentDisposition); !strings.Contains(cd, "templates.zip") {
			t.Errorf("unexpected Content-Disposition %q", cd)
		}

		body := rec.Body.Bytes()
		zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
		if err != nil {
			t.Fatalf("read zip: %v", err)
		}
		files := map[string]string{}
		for _, f := range zr.File {
			if f.FileInfo().IsDir() {
				continue
			}
			rc, _ := f.Open()
			b, _ := io.ReadAll(rc)
			rc.Close()
			files[f.Name] = string(b)
		}
		if len(files) != 2 || files["X/Cover.odt"] != "A" || files["Y/Quarterly.ods"] != "B" {
			t.Errorf("unexpected archive contents %v", files)
		}

		if entries, _ := os.ReadDir(s.workDir); len(entries) != 0 {
			t.Errorf("expected no temporary files left, found %d", len(entries))
		}
	})

	t.Run("syntax error", func(t *testing.T) {
		rec := s.do(formRequest(http.MethodPost, "/templaterepo/sync", loopback, map[string]string{
			"mac_addr": labMAC,
			"data":     `{"X":"a"}`,
		}))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
		if msg := errorMessage(t, rec); msg != "Request data syntax error." {
			t.Errorf("unexpected message %q", msg)
		}
	})
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	defer rl.Stop()

	base := time.Unix(1_700_000_000, 0)
	now := base
	rl.now = func() time.Time { return now }

	if !rl.allow("1.1.1.1") || !rl.allow("1.1.1.1") {
		t.Fatal("expected burst of two")
	}
	if rl.allow("1.1.1.1") {
		t.Fatal("expected third request to be limited")
	}
	if !rl.allow("2.2.2.2") {
		t.Error("expected independent bucket per ip")
	}

	now = base.Add(1500 * time.Millisecond)
	if !rl.allow("1.1.1.1") {
		t.Error("expected refill after a second")
	}

	now = base.Add(time.Hour)
	rl.cleanup()
	rl.mu.Lock()
	n := len(rl.visitors)
	rl.mu.Unlock()
	if n != 0 {
		t.Errorf("expected stale visitors swept, %d left", n)
	}
	rl.Stop()
}
