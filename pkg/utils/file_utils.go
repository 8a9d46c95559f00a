package utils

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"phasesim/internal/domain"
)

const DefaultMaxFileSize int64 = 10 * 1024 * 1024 // 10MB

var sizeUnits = []string{"Bytes", "KB", "MB", "GB"}

var now = time.Now

type ValidationResult struct {
	IsValid bool   `json:"is_valid"`
	Error   string `json:"error,omitempty"`
}

type Blob struct {
	Data     []byte
	MIMEType string
}

func ValidateImageFile(file *domain.SelectedFile, maxSize int64) ValidationResult {
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}

	if file == nil || !strings.HasPrefix(file.MIMEType, "image/") {
		return ValidationResult{IsValid: false, Error: "Please select a valid image file"}
	}

	if file.Size > maxSize {
		return ValidationResult{
			IsValid: false,
			Error:   "File size must be less than " + FormatFileSize(maxSize),
		}
	}

	return ValidationResult{IsValid: true}
}

func FormatFileSize(bytes int64) string {
	if bytes <= 0 {
		return "0 Bytes"
	}

	value := float64(bytes)
	i := 0
	for value >= 1024 && i < len(sizeUnits)-1 {
		value /= 1024
		i++
	}

	rounded := math.Round(value*100) / 100
	return strconv.FormatFloat(rounded, 'f', -1, 64) + " " + sizeUnits[i]
}

// CreateImagePreview читает payload целиком и возвращает data URL.
func CreateImagePreview(ctx context.Context, r io.Reader, mimeType string) (string, error) {
	type result struct {
		data []byte
		err  error
	}

	done := make(chan result, 1)
	go func() {
		data, err := io.ReadAll(r)
		done <- result{data: data, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("failed to read file: %w", ctx.Err())
	case res := <-done:
		if res.err != nil {
			return "", fmt.Errorf("failed to read file: %w", res.err)
		}
		return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(res.data), nil
	}
}

// Base64ToBlob panics on malformed input.
func Base64ToBlob(b64, mimeType string) Blob {
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		panic(fmt.Sprintf("base64ToBlob: malformed input: %v", err))
	}

	return Blob{Data: data, MIMEType: mimeType}
}

func GenerateFilename(prefix, extension string) string {
	if extension == "" {
		extension = "jpg"
	}

	timestamp := now().UTC().Format("2006-01-02T15:04:05.000Z")
	timestamp = strings.NewReplacer(":", "-", ".", "-").Replace(timestamp)

	return prefix + "-" + timestamp + "." + extension
}

func Capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func TruncateText(text string, maxLength int) string {
	if len(text) <= maxLength {
		return text
	}
	return text[:maxLength] + "..."
}
