package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/adverant/nexus/ocrlayer-worker/internal/logging"
)

// Downloader fetches job documents referenced by URL with retry logic
// Supports Google Drive, HTTP, HTTPS, and other URL-based sources
type Downloader struct {
	client         *http.Client
	maxFileSize    int64
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	logger         *logging.Logger
}

// NewDownloader creates a downloader capped at maxFileSize bytes
func NewDownloader(maxFileSize int64, logger *logging.Logger) *Downloader {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Downloader{
		client: &http.Client{
			Timeout: 10 * time.Minute,
		},
		maxFileSize:    maxFileSize,
		maxRetries:     5,
		initialBackoff: 1 * time.Second,
		maxBackoff:     32 * time.Second,
		logger:         logger,
	}
}

// Download fetches fileURL. Network errors, 5xx, 408 and 429 responses are
// retried with exponential backoff; other client errors fail immediately.
func (d *Downloader) Download(ctx context.Context, jobID, fileURL string, expectedSize int64) ([]byte, error) {
	var lastErr error
	backoff := d.initialBackoff

	for attempt := 1; attempt <= d.maxRetries; attempt++ {
		d.logger.Debug("Download attempt", "job", jobID, "attempt", attempt, "maxRetries", d.maxRetries, "url", fileURL)

		data, retry, err := d.fetch(ctx, jobID, fileURL, expectedSize)
		if err == nil {
			d.logger.Info("Download successful", "job", jobID, "attempt", attempt, "bytes", len(data))
			return data, nil
		}
		lastErr = err
		if !retry {
			return nil, err
		}

		d.logger.Warn("Download attempt failed", "job", jobID, "attempt", attempt, "error", err)
		if attempt == d.maxRetries {
			break
		}

		d.logger.Debug("Retrying download", "job", jobID, "backoff", backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled during retry backoff: %w", ctx.Err())
		}
		backoff *= 2
		if backoff > d.maxBackoff {
			backoff = d.maxBackoff
		}
	}

	return nil, fmt.Errorf("failed to download file after %d attempts: %w", d.maxRetries, lastErr)
}

// fetch performs one attempt and reports whether a failure is retryable
func (d *Downloader) fetch(ctx context.Context, jobID, fileURL string, expectedSize int64) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("invalid file URL: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		retry := resp.StatusCode >= 500 || resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests
		return nil, retry, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	contentLength := resp.ContentLength
	if contentLength > 0 && expectedSize > 0 && contentLength != expectedSize {
		d.logger.Warn("Content-Length mismatch", "job", jobID, "expected", expectedSize, "got", contentLength)
	}

	if d.maxFileSize > 0 && contentLength > d.maxFileSize {
		return nil, false, fmt.Errorf("file size exceeds maximum: %d > %d bytes", contentLength, d.maxFileSize)
	}

	limit := d.maxFileSize
	if limit <= 0 {
		limit = 10 * 1024 * 1024 * 1024 // 10GB safety limit
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, ctx.Err() == nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, false, fmt.Errorf("file size exceeds maximum of %d bytes", limit)
	}

	return data, false, nil
}

// detectMimeTypeFromMagicBytes detects the actual MIME type from file content magic bytes
// This is essential when sources like Google Drive return generic "application/octet-stream"
func detectMimeTypeFromMagicBytes(data []byte) string {
	if len(data) < 4 {
		return ""
	}

	switch {
	case bytes.HasPrefix(data, []byte("%PDF")):
		return "application/pdf"
	case bytes.HasPrefix(data, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}):
		return "image/png"
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}):
		return "image/jpeg"
	case bytes.HasPrefix(data, []byte("GIF87a")), bytes.HasPrefix(data, []byte("GIF89a")):
		return "image/gif"
	case len(data) > 12 && bytes.HasPrefix(data, []byte("RIFF")) && string(data[8:12]) == "WEBP":
		return "image/webp"
	case bytes.HasPrefix(data, []byte{0x49, 0x49, 0x2A, 0x00}), bytes.HasPrefix(data, []byte{0x4D, 0x4D, 0x00, 0x2A}):
		return "image/tiff"
	case bytes.HasPrefix(data, []byte("BM")):
		return "image/bmp"
	case bytes.HasPrefix(data, []byte{0x50, 0x4B, 0x03, 0x04}):
		// DOCX, XLSX, PPTX, EPUB or plain ZIP
		return "application/zip"
	case bytes.HasPrefix(data, []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}):
		return "application/msword"
	}

	return ""
}
