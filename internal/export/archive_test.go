package export

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"

	"github.com/retina/retina-export-back/internal/domain"
)

func TestZipDirectoryPreservesRelativeLayout(t *testing.T) {
	srcDir := t.TempDir()
	writeFile(t, filepath.Join(srcDir, "uploads.xlsx"), "manifest")
	writeFile(t, filepath.Join(srcDir, "Maharashtra", "West", "Pune", "photo-1.jpg"), "first")
	writeFile(t, filepath.Join(srcDir, "Maharashtra", "West", "Pune", "photo-2.jpg"), "second")

	destPath := filepath.Join(t.TempDir(), "export.zip")
	if err := ZipDirectory(srcDir, destPath); err != nil {
		t.Fatalf("zip: %v", err)
	}

	reader, err := zip.OpenReader(destPath)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer reader.Close()

	contents := make(map[string]string)
	for _, entry := range reader.File {
		file, err := entry.Open()
		if err != nil {
			t.Fatalf("open entry %s: %v", entry.Name, err)
		}
		data, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			t.Fatalf("read entry %s: %v", entry.Name, err)
		}
		contents[entry.Name] = string(data)
	}

	want := map[string]string{
		"uploads.xlsx":                      "manifest",
		"Maharashtra/West/Pune/photo-1.jpg": "first",
		"Maharashtra/West/Pune/photo-2.jpg": "second",
	}
	if len(contents) != len(want) {
		t.Fatalf("expected %d entries, got %d: %v", len(want), len(contents), contents)
	}
	for name, body := range want {
		if contents[name] != body {
			t.Fatalf("entry %s: expected %q, got %q", name, body, contents[name])
		}
	}
}

func TestZipDirectoryRemovesArchiveOnFailure(t *testing.T) {
	destPath := filepath.Join(t.TempDir(), "export.zip")
	if err := ZipDirectory(filepath.Join(t.TempDir(), "missing"), destPath); err == nil {
		t.Fatalf("expected error for missing source dir")
	}
	if _, err := os.Stat(destPath); !os.IsNotExist(err) {
		t.Fatalf("expected partial archive removed, stat err=%v", err)
	}
}

func TestWriteManifestProducesWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), ManifestFilename)
	fixture := newPipelineFixture(t, 2)
	photos, err := fixture.photos.FindPhotos(context.Background(), domain.PhotoFilter{})
	if err != nil {
		t.Fatalf("find photos: %v", err)
	}

	if err := WriteManifest(path, photos); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat manifest: %v", err)
	}
	if info.Size() == 0 {
		t.Fatalf("expected non-empty manifest")
	}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}
