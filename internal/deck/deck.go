// Package deck validates uploaded slide decks before a job is accepted.
// Validation is structural only: the archive must be readable and contain at
// least one slide; content quality is the pipeline's problem.
package deck

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"deckforge/internal/services"
)

var zipMagic = []byte{'P', 'K'}

// Info describes a validated deck.
type Info struct {
	Path       string
	Name       string
	Title      string
	SizeBytes  int64
	SlideCount int
}

// Validate checks an uploaded deck file. maxSizeBytes of zero disables the
// size cap. All failures are services.ErrValidation, keeping upload errors
// distinct from pipeline breakage.
func Validate(path string, maxSizeBytes int64) (*Info, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, services.Wrap(
			services.ErrValidation, "ingest", "stat upload",
			"uploaded file is missing or unreadable", err)
	}
	if stat.IsDir() {
		return nil, services.Wrap(
			services.ErrValidation, "ingest", "stat upload",
			"upload is a directory, expected a deck file", nil)
	}
	if maxSizeBytes > 0 && stat.Size() > maxSizeBytes {
		return nil, services.Wrap(
			services.ErrValidation, "ingest", "check size",
			fmt.Sprintf("deck is %d bytes, limit is %d", stat.Size(), maxSizeBytes), nil)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, services.Wrap(
			services.ErrValidation, "ingest", "open upload",
			"uploaded file could not be opened", err)
	}
	defer file.Close()

	header := make([]byte, len(zipMagic))
	if _, err := io.ReadFull(file, header); err != nil || !bytes.Equal(header, zipMagic) {
		return nil, services.Wrap(
			services.ErrValidation, "ingest", "check format",
			"file is not a deck archive; expected pptx or odp", err)
	}

	reader, err := zip.OpenReader(path)
	if err != nil {
		return nil, services.Wrap(
			services.ErrValidation, "ingest", "read archive",
			"deck archive is corrupt or truncated", err)
	}
	defer reader.Close()

	slides := countSlides(reader.File)
	if slides == 0 {
		return nil, services.Wrap(
			services.ErrValidation, "ingest", "scan slides",
			"deck contains no slides", nil)
	}

	name := filepath.Base(path)
	return &Info{
		Path:       path,
		Name:       name,
		Title:      DeriveTitle(name),
		SizeBytes:  stat.Size(),
		SlideCount: slides,
	}, nil
}

// countSlides recognizes both the OOXML layout (ppt/slides/slideN.xml) and
// the OpenDocument layout (a content.xml with a slides/ media tree is
// treated as one slide minimum).
func countSlides(files []*zip.File) int {
	slides := 0
	hasContent := false
	for _, f := range files {
		name := strings.ToLower(f.Name)
		switch {
		case strings.HasPrefix(name, "ppt/slides/slide") && strings.HasSuffix(name, ".xml"):
			slides++
		case name == "content.xml":
			hasContent = true
		}
	}
	if slides == 0 && hasContent {
		return 1
	}
	return slides
}

// DeriveTitle builds a presentable title from a deck filename.
func DeriveTitle(sourceName string) string {
	if sourceName == "" {
		return "Untitled Deck"
	}
	base := filepath.Base(sourceName)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	cleaned := strings.Builder{}
	prevSpace := false
	for _, r := range base {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			cleaned.WriteRune(r)
			prevSpace = false
		case unicode.IsSpace(r) || r == '-' || r == '_' || r == '.':
			if !prevSpace {
				cleaned.WriteRune(' ')
				prevSpace = true
			}
		}
	}
	title := strings.TrimSpace(cleaned.String())
	if title == "" {
		return "Untitled Deck"
	}
	return cases.Title(language.Und).String(title)
}
