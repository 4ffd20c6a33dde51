// Package export saves processed images to disk, packaging multi-file
// batches into a ZIP archive.
package export

import (
	"archive/zip"
	"compress/flate"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/hyuraku/snapresize-ai/internal/models"
)

const archiveFolder = "snapresize-ai"

// ProgressFunc receives 0-100 export progress: 0-50 while the archive is
// assembled, 50-100 while entries are compressed.
type ProgressFunc func(percent int)

// SaveFile writes one processed image directly and returns its path.
func SaveFile(dir string, img *models.ProcessedImage) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, img.Name)
	if err := os.WriteFile(path, img.Data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", img.Name, err)
	}
	return path, nil
}

// SaveAll writes the batch: a single image is saved directly, multiple images
// are packaged into one ZIP archive. It returns the written path.
func SaveAll(dir string, images []*models.ProcessedImage, onProgress ProgressFunc) (string, error) {
	if onProgress == nil {
		onProgress = func(int) {}
	}
	if len(images) == 0 {
		return "", fmt.Errorf("nothing to export")
	}

	if len(images) == 1 {
		path, err := SaveFile(dir, images[0])
		if err != nil {
			return "", err
		}
		onProgress(100)
		return path, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, ArchiveName(time.Now()))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create archive: %w", err)
	}
	defer f.Close()

	if err := WriteArchive(f, images, onProgress); err != nil {
		return "", err
	}
	return path, nil
}

// WriteArchive streams all images into w as a ZIP with per-entry deflate.
func WriteArchive(w io.Writer, images []*models.ProcessedImage, onProgress ProgressFunc) error {
	if onProgress == nil {
		onProgress = func(int) {}
	}

	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.DefaultCompression)
	})

	// Assembly phase: resolve entry names up front.
	entries := make([]string, len(images))
	for i, img := range images {
		entries[i] = archiveFolder + "/" + img.Name
		onProgress((i + 1) * 50 / len(images))
	}

	// Compression phase: write the deflated entries.
	for i, img := range images {
		entry, err := zw.CreateHeader(&zip.FileHeader{
			Name:     entries[i],
			Method:   zip.Deflate,
			Modified: time.Now(),
		})
		if err != nil {
			zw.Close()
			return fmt.Errorf("create archive entry %s: %w", img.Name, err)
		}
		if _, err := entry.Write(img.Data); err != nil {
			zw.Close()
			return fmt.Errorf("write archive entry %s: %w", img.Name, err)
		}
		onProgress(50 + (i+1)*50/len(images))
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize archive: %w", err)
	}
	onProgress(100)
	return nil
}

// ArchiveName builds the date-stamped archive file name.
func ArchiveName(now time.Time) string {
	return fmt.Sprintf("%s_%s.zip", archiveFolder, now.Format("2006-01-02"))
}
