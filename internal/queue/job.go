/**
 * Job model shared by the queue consumers
 *
 * Compatible with the TypeScript RedisQueue producer: file buffers arrive
 * either as base64 strings or as serialized Node.js Buffer objects.
 */

package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"
)

// TaskTypeOCRBatch is the asynq task type and the RedisJobData type
const TaskTypeOCRBatch = "ocr-batch"

// RedisJobData represents a job from the Redis queue
type RedisJobData struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Payload    JobPayload `json:"payload"`
	CreatedAt  time.Time  `json:"createdAt"`
	Attempts   int        `json:"attempts"`
	MaxRetries int        `json:"maxRetries"`
}

// JobPayload contains the actual job data
type JobPayload struct {
	JobID     string                 `json:"jobId"`
	UserID    string                 `json:"userId"`
	Documents []JobDocument          `json:"documents"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// JobDocument is one input file. Either FileBuffer or FileURL is set.
type JobDocument struct {
	Filename   string `json:"filename"`
	MimeType   string `json:"mimeType,omitempty"`
	FileSize   int64  `json:"fileSize,omitempty"`
	FileURL    string `json:"fileUrl,omitempty"`
	FileBuffer []byte `json:"-"` // Set by custom UnmarshalJSON
}

// Validate checks the payload before any processing
func (p *JobPayload) Validate() error {
	if p.JobID == "" {
		return fmt.Errorf("jobId is required")
	}
	if len(p.Documents) == 0 {
		return fmt.Errorf("job %s has no documents", p.JobID)
	}
	for i, doc := range p.Documents {
		if doc.Filename == "" {
			return fmt.Errorf("document %d has no filename", i)
		}
		if len(doc.FileBuffer) == 0 && doc.FileURL == "" {
			return fmt.Errorf("document %d (%s) has no file source (buffer or URL)", i, doc.Filename)
		}
	}
	return nil
}

// MarshalJSON always emits fileBuffer as base64
func (d JobDocument) MarshalJSON() ([]byte, error) {
	type Alias JobDocument
	return json.Marshal(&struct {
		Alias
		FileBuffer string `json:"fileBuffer,omitempty"`
	}{
		Alias:      Alias(d),
		FileBuffer: base64.StdEncoding.EncodeToString(d.FileBuffer),
	})
}

// UnmarshalJSON implements custom JSON unmarshaling for JobDocument to handle Buffer serialization
// Supports both base64 string format (new) and Node.js Buffer object format (legacy)
func (d *JobDocument) UnmarshalJSON(data []byte) error {
	type Alias JobDocument
	aux := &struct {
		FileBuffer interface{} `json:"fileBuffer,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(d),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("failed to unmarshal JobDocument: %w", err)
	}

	buf, err := decodeFileBuffer(aux.FileBuffer)
	if err != nil {
		return fmt.Errorf("document %q: %w", d.Filename, err)
	}
	d.FileBuffer = buf
	return nil
}

func decodeFileBuffer(raw interface{}) ([]byte, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil

	case string:
		// Base64 string format (new format from TypeScript)
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("failed to decode base64 fileBuffer: %w", err)
		}
		return decoded, nil

	case map[string]interface{}:
		// Node.js Buffer object format (legacy compatibility)
		bufferType, ok := v["type"].(string)
		if !ok || bufferType != "Buffer" {
			return nil, fmt.Errorf("invalid Buffer object format (missing or incorrect 'type' field)")
		}
		dataArray, ok := v["data"].([]interface{})
		if !ok {
			return nil, fmt.Errorf("Buffer object missing 'data' array")
		}
		buf := make([]byte, len(dataArray))
		for i, val := range dataArray {
			byteVal, ok := val.(float64)
			if !ok || byteVal < 0 || byteVal > 255 {
				return nil, fmt.Errorf("invalid byte value in Buffer data array at index %d", i)
			}
			buf[i] = byte(byteVal)
		}
		return buf, nil

	default:
		return nil, fmt.Errorf("fileBuffer must be either base64 string or Buffer object, got %T", v)
	}
}

// JobResult is what a handler reports for a finished job
type JobResult struct {
	JobID            string           `json:"jobId"`
	Status           string           `json:"status"` // completed, partial, failed
	Succeeded        int              `json:"succeeded"`
	Failed           int              `json:"failed"`
	Confidence       float64          `json:"confidence"`
	ProcessingTimeMs int64            `json:"processingTimeMs"`
	Documents        []DocumentReport `json:"documents"`
}

// DocumentReport describes one document of a finished job
type DocumentReport struct {
	Filename        string  `json:"filename"`
	Succeeded       bool    `json:"succeeded"`
	Reason          string  `json:"reason,omitempty"`
	ErrorCode       string  `json:"errorCode,omitempty"`
	OutputFilename  string  `json:"outputFilename,omitempty"`
	OutputPath      string  `json:"outputPath,omitempty"`
	OutputSize      int     `json:"outputSize,omitempty"`
	PageCount       int     `json:"pageCount,omitempty"`
	SearchablePages int     `json:"searchablePages,omitempty"`
	Confidence      float64 `json:"confidence,omitempty"`
	DocumentID      string  `json:"documentId,omitempty"`
	ArtifactID      string  `json:"artifactId,omitempty"`
	ArtifactURL     string  `json:"artifactUrl,omitempty"`
	IndexedPages    int     `json:"indexedPages,omitempty"`
}

// Handler processes one job. A returned error means the job as a whole
// failed and may be retried unless it is marked permanent.
type Handler interface {
	Handle(ctx context.Context, job *JobPayload) (*JobResult, error)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var pe *permanentError
	return stderrors.As(err, &pe)
}
