package validate

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// File validation errors
var (
	ErrInvalidMIMEType = errors.New("invalid MIME type")
	ErrFileTooLarge    = errors.New("file too large")
	ErrFileTooSmall    = errors.New("file too small")
	ErrContentMismatch = errors.New("file content does not match its type")
)

// MIME types accepted by the signing API.
const (
	MIMEApplicationPDF = "application/pdf"
	MIMEImagePNG       = "image/png"
	MIMEImageJPEG      = "image/jpeg"
)

// Size limits.
const (
	MaxDocumentBytes  = 25 * 1024 * 1024
	MaxSignatureBytes = 2 * 1024 * 1024
)

// AllowedSignatureImageTypes are the formats accepted for drawn signatures.
var AllowedSignatureImageTypes = []string{
	MIMEImagePNG,
	MIMEImageJPEG,
}

var magicNumbers = map[string][]byte{
	MIMEApplicationPDF: []byte("%PDF-"),
	MIMEImagePNG:       {0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'},
	MIMEImageJPEG:      {0xff, 0xd8, 0xff},
}

// FileConstraints defines validation constraints for file uploads.
type FileConstraints struct {
	AllowedTypes []string // Allowed MIME types
	MaxSizeBytes int64    // Maximum file size in bytes
	MinSizeBytes int64    // Minimum file size in bytes (0 = no minimum)
}

// MIMEType validates a MIME type against allowed types.
// Returns the normalized MIME type (lowercased) and an error if invalid.
func MIMEType(mimeType string, allowedTypes []string) (string, error) {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	// Drop parameters such as "; charset=binary"
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}

	if mimeType == "" {
		return "", ErrEmpty
	}

	for _, allowed := range allowedTypes {
		if mimeType == strings.ToLower(allowed) {
			return mimeType, nil
		}
	}

	return "", fmt.Errorf("%w: %q not in allowed types", ErrInvalidMIMEType, mimeType)
}

// FileSize validates a file size against constraints.
func FileSize(sizeBytes int64, constraints FileConstraints) error {
	if sizeBytes <= 0 {
		return errors.New("file size must be positive")
	}

	if constraints.MinSizeBytes > 0 && sizeBytes < constraints.MinSizeBytes {
		return fmt.Errorf("%w: got %d bytes, minimum is %d", ErrFileTooSmall, sizeBytes, constraints.MinSizeBytes)
	}

	if constraints.MaxSizeBytes > 0 && sizeBytes > constraints.MaxSizeBytes {
		return fmt.Errorf("%w: got %d bytes, maximum is %d", ErrFileTooLarge, sizeBytes, constraints.MaxSizeBytes)
	}

	return nil
}

// File validates MIME type and size, then checks the leading bytes match the
// declared type.
func File(mimeType string, data []byte, constraints FileConstraints) (string, error) {
	validatedType, err := MIMEType(mimeType, constraints.AllowedTypes)
	if err != nil {
		return "", err
	}

	if err := FileSize(int64(len(data)), constraints); err != nil {
		return "", err
	}

	if magic, ok := magicNumbers[validatedType]; ok && !bytes.HasPrefix(data, magic) {
		return "", fmt.Errorf("%w: expected %s", ErrContentMismatch, validatedType)
	}

	return validatedType, nil
}

// Document validates an uploaded source document: PDF only, max 25MB.
func Document(mimeType string, data []byte) (string, error) {
	return File(mimeType, data, FileConstraints{
		AllowedTypes: []string{MIMEApplicationPDF},
		MaxSizeBytes: MaxDocumentBytes,
	})
}

// SignatureImage validates a drawn signature image: PNG or JPEG, max 2MB.
func SignatureImage(mimeType string, data []byte) (string, error) {
	return File(mimeType, data, FileConstraints{
		AllowedTypes: AllowedSignatureImageTypes,
		MaxSizeBytes: MaxSignatureBytes,
	})
}
