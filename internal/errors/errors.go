package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

/**
 * Custom error types for the OCR layer worker
 *
 * Error taxonomy:
 * - ENGINE_UNAVAILABLE: fatal to a whole batch
 * - PAGE_*: recovered locally, the page is passed through without text
 * - FRAGMENT_PLACEMENT_FAILED: recovered locally, fragment skipped
 * - DOCUMENT_*: fatal to one document, batch continues
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Batch errors
	ErrorEngineUnavailable ErrorCode = "ENGINE_UNAVAILABLE"
	ErrorBatchCancelled    ErrorCode = "BATCH_CANCELLED"
	ErrorProcessingTimeout ErrorCode = "PROCESSING_TIMEOUT"

	// Page errors
	ErrorPageRenderFailed    ErrorCode = "PAGE_RENDER_FAILED"
	ErrorPageRecognizeFailed ErrorCode = "PAGE_RECOGNIZE_FAILED"
	ErrorFragmentPlacement   ErrorCode = "FRAGMENT_PLACEMENT_FAILED"

	// Document errors
	ErrorDocumentLoadFailed      ErrorCode = "DOCUMENT_LOAD_FAILED"
	ErrorDocumentSerializeFailed ErrorCode = "DOCUMENT_SERIALIZE_FAILED"
	ErrorUnsupportedFormat       ErrorCode = "UNSUPPORTED_FORMAT"

	// Storage errors
	ErrorStorageFailed ErrorCode = "STORAGE_FAILED"
)

// ProcessingError represents a structured processing error
type ProcessingError struct {
	Code      ErrorCode
	Message   string
	JobID     string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// Reason is the short caller-facing description of the failure.
func (e *ProcessingError) Reason() string {
	return e.Message
}

// CodeOf returns the ErrorCode carried by err, or "" if it has none.
func CodeOf(err error) ErrorCode {
	var pe *ProcessingError
	if stderrors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// Factory functions for common errors

func NewEngineUnavailableError(engine string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorEngineUnavailable,
		Message:   fmt.Sprintf("%s unavailable", engine),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"engine": engine,
		},
		Cause: cause,
	}
}

func NewBatchCancelledError(filename string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorBatchCancelled,
		Message:   "batch cancelled",
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"filename": filename,
		},
		Cause: cause,
	}
}

func NewProcessingTimeoutError(jobID string, duration time.Duration, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorProcessingTimeout,
		Message:   fmt.Sprintf("Processing timed out after %v", duration),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"timeout_duration": duration.String(),
		},
		Cause: cause,
	}
}

func NewPageRenderError(page int, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorPageRenderFailed,
		Message:   fmt.Sprintf("render failed for page %d", page),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"page": page,
		},
		Cause: cause,
	}
}

func NewPageRecognizeError(page int, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorPageRecognizeFailed,
		Message:   fmt.Sprintf("recognize failed for page %d", page),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"page": page,
		},
		Cause: cause,
	}
}

func NewFragmentPlacementError(text string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorFragmentPlacement,
		Message:   "fragment could not be placed",
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"text": text,
		},
		Cause: cause,
	}
}

func NewDocumentLoadError(filename string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorDocumentLoadFailed,
		Message:   "load failed",
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"filename": filename,
		},
		Cause: cause,
	}
}

func NewDocumentSerializeError(filename string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorDocumentSerializeFailed,
		Message:   "serialize failed",
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"filename": filename,
		},
		Cause: cause,
	}
}

func NewUnsupportedFormatError(jobID string, mimeType string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorUnsupportedFormat,
		Message:   fmt.Sprintf("Unsupported file format: %s", mimeType),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"mime_type": mimeType,
		},
	}
}

func NewStorageFailedError(jobID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorStorageFailed,
		Message:   "Failed to store processing results",
		JobID:     jobID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

// ToMap converts error to map for database storage
func (e *ProcessingError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
