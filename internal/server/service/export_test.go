package service

import (
	"archive/zip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseSelection(t *testing.T) {
	t.Run("valid payloads", func(t *testing.T) {
		sel, err := ParseSelection(`{"X":[{"endpt":"a","docname":"ignored"}],"Y":[{"endpt":"b"},{"endpt":"c"}],"Z":[]}`)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(sel) != 3 || len(sel["Y"]) != 2 || sel["X"][0] != "a" || len(sel["Z"]) != 0 {
			t.Errorf("unexpected selection %v", sel)
		}

		for _, empty := range []string{"", "{}", "  "} {
			sel, err := ParseSelection(empty)
			if err != nil || len(sel) != 0 {
				t.Errorf("%q: expected empty selection, got %v (%v)", empty, sel, err)
			}
		}
	})

	t.Run("syntax errors", func(t *testing.T) {
		for _, data := range []string{
			`not json`,
			`[]`,
			`null`,
			`{"X":"a"}`,
			`{"X":{"endpt":"a"}}`,
			`{"X":["a"]}`,
			`{"X":[{"docname":"a"}]}`,
			`{"X":[{"endpt":5}]}`,
			`{"X":[{"endpt":"a"}],"Y":3}`,
			`{"../up":[{"endpt":"a"}]}`,
			`{"":[]}`,
		} {
			_, err := ParseSelection(data)
			if !errors.Is(err, ErrBadRequest) {
				t.Errorf("%s: expected ErrBadRequest, got %v", data, err)
				continue
			}
			if err.Error() != "Request data syntax error." {
				t.Errorf("%s: unexpected message %q", data, err.Error())
			}
		}
	})
}

func readArchive(t *testing.T, path string) map[string]string {
	t.Helper()
	r, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer r.Close()

	entries := make(map[string]string)
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			entries[f.Name] = ""
			continue
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		b, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatal(err)
		}
		entries[f.Name] = string(b)
	}
	return entries
}

func TestExporter_Export(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.upload(t, TemplateForm{Category: "Letters", Endpoint: "a", DisplayName: "Cover", Extension: "odt"}, "A")
	f.upload(t, TemplateForm{Category: "Reports", Endpoint: "b", DisplayName: "Quarterly", Extension: "ods"}, "B")
	f.upload(t, TemplateForm{Category: "Reports", Endpoint: "gone", DisplayName: "Gone", Extension: "ods"}, "G")
	os.Remove(filepath.Join(f.storeDir, "gone.ods"))

	x := NewExporter(f.svc, f.store, f.workDir)

	t.Run("round trip", func(t *testing.T) {
		exp, err := x.Export(ctx, `{"X":[{"endpt":"a"}],"Y":[{"endpt":"b"},{"endpt":"gone"},{"endpt":"unknown"}]}`)
		if err != nil {
			t.Fatalf("export: %v", err)
		}

		if exp.Files != 2 || exp.Size != 2 {
			t.Errorf("expected 2 files totalling 2 bytes, got %d files and %d bytes", exp.Files, exp.Size)
		}

		got := readArchive(t, exp.ZipPath)
		want := map[string]string{
			"X/":              "",
			"X/Cover.odt":     "A",
			"Y/":              "",
			"Y/Quarterly.ods": "B",
		}
		if len(got) != len(want) {
			t.Errorf("expected %d entries, got %v", len(want), got)
		}
		for name, content := range want {
			if c, ok := got[name]; !ok || c != content {
				t.Errorf("%s: expected %q, got %q (present=%v)", name, content, c, ok)
			}
		}

		if err := exp.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
		entries, err := os.ReadDir(f.workDir)
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 0 {
			t.Errorf("expected clean work dir, found %d entries", len(entries))
		}
	})

	t.Run("syntax error creates nothing", func(t *testing.T) {
		_, err := x.Export(ctx, `{"X":"a"}`)
		if !errors.Is(err, ErrBadRequest) {
			t.Fatalf("expected ErrBadRequest, got %v", err)
		}
		entries, _ := os.ReadDir(f.workDir)
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), "sync-") {
				t.Errorf("unexpected leftover %s", e.Name())
			}
		}
	})

	t.Run("empty selection yields empty archive", func(t *testing.T) {
		exp, err := x.Export(ctx, "")
		if err != nil {
			t.Fatalf("export: %v", err)
		}
		defer exp.Close()
		if got := readArchive(t, exp.ZipPath); len(got) != 0 {
			t.Errorf("expected empty archive, got %v", got)
		}
	})
}
