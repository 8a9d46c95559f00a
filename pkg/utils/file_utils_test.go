package utils

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"phasesim/internal/domain"
)

func TestValidateImageFile(t *testing.T) {
	tests := []struct {
		name    string
		file    *domain.SelectedFile
		maxSize int64
		valid   bool
		errMsg  string
	}{
		{
			name:  "png within limit",
			file:  &domain.SelectedFile{Name: "scan.png", MIMEType: "image/png", Size: 1024},
			valid: true,
		},
		{
			name:  "exactly max size",
			file:  &domain.SelectedFile{Name: "scan.jpg", MIMEType: "image/jpeg", Size: DefaultMaxFileSize},
			valid: true,
		},
		{
			name:   "one byte over",
			file:   &domain.SelectedFile{Name: "scan.jpg", MIMEType: "image/jpeg", Size: DefaultMaxFileSize + 1},
			errMsg: "File size must be less than 10 MB",
		},
		{
			name:   "pdf",
			file:   &domain.SelectedFile{Name: "report.pdf", MIMEType: "application/pdf", Size: 10},
			errMsg: "Please select a valid image file",
		},
		{
			name:   "empty mime type",
			file:   &domain.SelectedFile{Name: "scan", Size: 10},
			errMsg: "Please select a valid image file",
		},
		{
			name:    "custom max size",
			file:    &domain.SelectedFile{Name: "scan.gif", MIMEType: "image/gif", Size: 2048},
			maxSize: 1024,
			errMsg:  "File size must be less than 1 KB",
		},
		{
			name:   "nil file",
			errMsg: "Please select a valid image file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValidateImageFile(tt.file, tt.maxSize)
			if got.IsValid != tt.valid {
				t.Fatalf("IsValid = %v, want %v (error %q)", got.IsValid, tt.valid, got.Error)
			}
			if got.Error != tt.errMsg {
				t.Errorf("Error = %q, want %q", got.Error, tt.errMsg)
			}
		})
	}
}

func TestFormatFileSize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 Bytes"},
		{1, "1 Bytes"},
		{1023, "1023 Bytes"},
		{1024, "1 KB"},
		{1536, "1.5 KB"},
		{1048576, "1 MB"},
		{10 * 1024 * 1024, "10 MB"},
		{1234567, "1.18 MB"},
		{1073741824, "1 GB"},
		{5 * 1024 * 1024 * 1024 * 1024, "5120 GB"},
	}

	for _, tt := range tests {
		if got := FormatFileSize(tt.bytes); got != tt.want {
			t.Errorf("FormatFileSize(%d) = %q, want %q", tt.bytes, got, tt.want)
		}
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("disk on fire")
}

func TestCreateImagePreview(t *testing.T) {
	preview, err := CreateImagePreview(context.Background(), strings.NewReader("abc"), "image/png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if preview != "data:image/png;base64,YWJj" {
		t.Errorf("preview = %q", preview)
	}

	_, err = CreateImagePreview(context.Background(), failingReader{}, "image/png")
	if err == nil || !strings.Contains(err.Error(), "failed to read file") {
		t.Errorf("expected read error, got %v", err)
	}
}

func TestBase64ToBlob(t *testing.T) {
	blob := Base64ToBlob("YWJj", "image/png")
	if string(blob.Data) != "abc" || blob.MIMEType != "image/png" {
		t.Errorf("unexpected blob: %+v", blob)
	}

	if blob := Base64ToBlob("YWJj", ""); blob.MIMEType != "image/jpeg" {
		t.Errorf("default mime type = %q", blob.MIMEType)
	}

	defer func() {
		if recover() == nil {
			t.Error("expected panic on malformed base64")
		}
	}()
	Base64ToBlob("%%%not-base64", "image/png")
}

func TestGenerateFilename(t *testing.T) {
	orig := now
	defer func() { now = orig }()
	now = func() time.Time {
		return time.Date(2026, 10, 19, 12, 34, 56, 789000000, time.UTC)
	}

	if got := GenerateFilename("processed", "png"); got != "processed-2026-10-19T12-34-56-789Z.png" {
		t.Errorf("GenerateFilename = %q", got)
	}
	if got := GenerateFilename("original", ""); got != "original-2026-10-19T12-34-56-789Z.jpg" {
		t.Errorf("GenerateFilename default ext = %q", got)
	}
}

func TestCapitalizeAndTruncate(t *testing.T) {
	if got := Capitalize("arterial"); got != "Arterial" {
		t.Errorf("Capitalize = %q", got)
	}
	if got := Capitalize(""); got != "" {
		t.Errorf("Capitalize empty = %q", got)
	}
	if got := TruncateText("abcdef", 3); got != "abc..." {
		t.Errorf("TruncateText = %q", got)
	}
	if got := TruncateText("abc", 3); got != "abc" {
		t.Errorf("TruncateText short = %q", got)
	}
}
