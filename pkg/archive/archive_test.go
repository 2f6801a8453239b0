package archive

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func TestCreateExtractRoundTrip(t *testing.T) {
	srcDir := t.TempDir()
	writeFile(t, filepath.Join(srcDir, "X1.txt"), "hello")
	writeFile(t, filepath.Join(srcDir, "X2.docx"), "docx-bytes")
	writeFile(t, filepath.Join(srcDir, "_manifest.json"), `{"Files":[]}`)

	archivePath := filepath.Join(t.TempDir(), "out.zip")
	if err := Create(context.Background(), srcDir, archivePath); err != nil {
		t.Fatalf("Create: %v", err)
	}

	names, err := MemberNames(archivePath)
	if err != nil {
		t.Fatalf("MemberNames: %v", err)
	}
	sort.Strings(names)
	want := []string{"X1.txt", "X2.docx", "_manifest.json"}
	sort.Strings(want)
	if len(names) != len(want) {
		t.Fatalf("got members %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("member[%d] = %q, want %q", i, names[i], want[i])
		}
	}

	destDir := t.TempDir()
	if err := ExtractAll(context.Background(), archivePath, destDir); err != nil {
		t.Fatalf("ExtractAll: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(destDir, "X1.txt"))
	if err != nil || string(data) != "hello" {
		t.Errorf("X1.txt content = %q, err=%v", data, err)
	}
}

func TestCreateUnicodeFilename(t *testing.T) {
	srcDir := t.TempDir()
	writeFile(t, filepath.Join(srcDir, "X9.txt"), "éè日本")

	archivePath := filepath.Join(t.TempDir(), "out.zip")
	if err := Create(context.Background(), srcDir, archivePath); err != nil {
		t.Fatalf("Create: %v", err)
	}

	destDir := t.TempDir()
	if err := ExtractAll(context.Background(), archivePath, destDir); err != nil {
		t.Fatalf("ExtractAll: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(destDir, "X9.txt"))
	if err != nil {
		t.Fatalf("read extracted file: %v", err)
	}
	if string(data) != "éè日本" {
		t.Errorf("unexpected content: %q", data)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
