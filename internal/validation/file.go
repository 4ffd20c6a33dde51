package validation

import (
	"bytes"
	"fmt"
)

type FileType string

const (
	FileTypePNG  FileType = "image/png"
	FileTypeJPEG FileType = "image/jpeg"
	FileTypeWebP FileType = "image/webp"
)

// headerLen is how many leading bytes are inspected. The longest signature
// (WebP) needs bytes 0-11.
const headerLen = 12

var magicBytes = map[FileType][]byte{
	FileTypePNG:  {0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A},
	FileTypeJPEG: {0xFF, 0xD8, 0xFF},
}

var (
	webpRIFF = []byte{0x52, 0x49, 0x46, 0x46} // "RIFF" at offset 0
	webpTag  = []byte{0x57, 0x45, 0x42, 0x50} // "WEBP" at offset 8
)

// DetectContentType identifies PNG, JPEG or WebP from the first bytes of data.
func DetectContentType(data []byte) (FileType, error) {
	if len(data) < headerLen {
		return "", ErrFileTooShort
	}

	for fileType, signature := range magicBytes {
		if bytes.HasPrefix(data, signature) {
			return fileType, nil
		}
	}

	if bytes.HasPrefix(data, webpRIFF) && bytes.Equal(data[8:12], webpTag) {
		return FileTypeWebP, nil
	}

	return "", ErrInvalidFileType
}

// NormalizeMime folds the image/jpg alias into image/jpeg.
func NormalizeMime(mimeType string) string {
	if mimeType == "image/jpg" {
		return "image/jpeg"
	}
	return mimeType
}

// ValidateImage checks the declared MIME type against the magic bytes of data.
// It returns the detected type on success and a wrapped sentinel error when the
// content is unrecognized, the declared type is unsupported, or the two
// disagree.
func ValidateImage(declaredMime string, data []byte) (FileType, error) {
	detected, err := DetectContentType(data)
	if err != nil {
		return "", err
	}

	mime := NormalizeMime(declaredMime)
	switch FileType(mime) {
	case FileTypePNG, FileTypeJPEG, FileTypeWebP:
	default:
		return detected, fmt.Errorf("%w: %s", ErrUnsupportedMime, declaredMime)
	}

	if FileType(mime) != detected {
		return detected, fmt.Errorf("%w: declared as %s but detected as %s", ErrContentMismatch, declaredMime, detected)
	}

	return detected, nil
}
