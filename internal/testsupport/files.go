package testsupport

import (
	"archive/zip"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// WriteDeck writes a minimal OOXML deck archive with the given slide count
// and returns its path.
func WriteDeck(t testing.TB, dir, name string, slides int) string {
	t.Helper()

	if slides <= 0 {
		slides = 1
	}
	path := filepath.Join(dir, name)
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	writer := zip.NewWriter(file)
	for i := 1; i <= slides; i++ {
		entry, err := writer.Create(fmt.Sprintf("ppt/slides/slide%d.xml", i))
		if err != nil {
			t.Fatalf("create slide entry: %v", err)
		}
		if _, err := entry.Write([]byte("<sld/>")); err != nil {
			t.Fatalf("write slide entry: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close archive: %v", err)
	}
	if err := file.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}
	return path
}

// WriteFile fills the target path with size bytes of a repeating pattern.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	const chunkSize = 32 * 1024
	buf := make([]byte, chunkSize)
	for i := range buf {
		buf[i] = 0x42
	}

	remaining := size
	for remaining > 0 {
		toWrite := int64(chunkSize)
		if remaining < toWrite {
			toWrite = remaining
		}
		if _, err := f.Write(buf[:toWrite]); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
		remaining -= toWrite
	}
}
