package validation

import "errors"

var (
	ErrInvalidFileType  = errors.New("invalid image file format, only PNG, JPEG and WebP are supported")
	ErrUnsupportedMime  = errors.New("unsupported MIME type")
	ErrContentMismatch  = errors.New("file content does not match its declared type")
	ErrFileTooLarge     = errors.New("file size exceeds the 50MB limit")
	ErrFileLimitReached = errors.New("file limit reached")
	ErrFileTooShort     = errors.New("file is too short to identify")
)
