package queue

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobDocumentDecoding(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    []byte
		wantErr string
	}{
		{
			name: "base64 string",
			raw:  `{"filename":"a.pdf","fileBuffer":"JVBERi0="}`,
			want: []byte("%PDF-"),
		},
		{
			name: "node buffer object",
			raw:  `{"filename":"a.pdf","fileBuffer":{"type":"Buffer","data":[37,80,68,70]}}`,
			want: []byte("%PDF"),
		},
		{
			name: "url only",
			raw:  `{"filename":"a.pdf","fileUrl":"https://example.com/a.pdf"}`,
		},
		{
			name:    "bad base64",
			raw:     `{"filename":"a.pdf","fileBuffer":"***"}`,
			wantErr: "base64",
		},
		{
			name:    "wrong buffer type",
			raw:     `{"filename":"a.pdf","fileBuffer":{"type":"Blob","data":[1]}}`,
			wantErr: "type",
		},
		{
			name:    "byte out of range",
			raw:     `{"filename":"a.pdf","fileBuffer":{"type":"Buffer","data":[300]}}`,
			wantErr: "index 0",
		},
		{
			name:    "number",
			raw:     `{"filename":"a.pdf","fileBuffer":42}`,
			wantErr: "float64",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var doc JobDocument
			err := json.Unmarshal([]byte(tt.raw), &doc)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "a.pdf", doc.Filename)
			assert.Equal(t, tt.want, doc.FileBuffer)
		})
	}
}

func TestRedisJobDataDecoding(t *testing.T) {
	raw := `{
		"id": "q-1",
		"type": "ocr-batch",
		"attempts": 1,
		"maxRetries": 3,
		"payload": {
			"jobId": "job-1",
			"userId": "user-1",
			"documents": [
				{"filename": "one.pdf", "fileBuffer": "JVBERi0="},
				{"filename": "two.pdf", "fileUrl": "https://example.com/two.pdf", "fileSize": 10}
			],
			"metadata": {"source": "upload"}
		}
	}`

	var job RedisJobData
	require.NoError(t, json.Unmarshal([]byte(raw), &job))
	assert.Equal(t, "q-1", job.ID)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, "job-1", job.Payload.JobID)
	require.Len(t, job.Payload.Documents, 2)
	assert.Equal(t, []byte("%PDF-"), job.Payload.Documents[0].FileBuffer)
	assert.Equal(t, int64(10), job.Payload.Documents[1].FileSize)
	assert.Equal(t, "upload", job.Payload.Metadata["source"])
	require.NoError(t, job.Payload.Validate())
}

func TestJobDocumentEncodesBase64(t *testing.T) {
	doc := JobDocument{Filename: "a.pdf", FileBuffer: []byte("%PDF-")}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.JSONEq(t, `{"filename":"a.pdf","fileBuffer":"JVBERi0="}`, string(data))

	var back JobDocument
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, doc, back)
}

func TestJobPayloadValidate(t *testing.T) {
	doc := JobDocument{Filename: "a.pdf", FileURL: "https://example.com/a.pdf"}

	assert.Error(t, (&JobPayload{Documents: []JobDocument{doc}}).Validate())
	assert.Error(t, (&JobPayload{JobID: "j"}).Validate())
	assert.Error(t, (&JobPayload{JobID: "j", Documents: []JobDocument{{Filename: "a.pdf"}}}).Validate())
	assert.Error(t, (&JobPayload{JobID: "j", Documents: []JobDocument{{FileURL: "x"}}}).Validate())
	assert.NoError(t, (&JobPayload{JobID: "j", Documents: []JobDocument{doc}}).Validate())
}

func TestPermanent(t *testing.T) {
	assert.Nil(t, Permanent(nil))

	base := fmt.Errorf("bad input")
	err := fmt.Errorf("job x: %w", Permanent(base))
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, base)
	assert.False(t, IsPermanent(base))
}

func TestBuildEvent(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	event := buildEvent("job-1", "progress", map[string]interface{}{"percent": 50, "event": "ignored"}, now)

	assert.Equal(t, "job:progress", event["event"])
	assert.Equal(t, "job-1", event["jobId"])
	assert.Equal(t, "2026-01-02T03:04:05Z", event["timestamp"])
	assert.Equal(t, 50, event["percent"])
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, 5*time.Second, retryDelay(0, nil, nil))
	assert.Equal(t, 20*time.Second, retryDelay(2, nil, nil))
	assert.Equal(t, 60*time.Second, retryDelay(10, nil, nil))
	assert.Equal(t, 60*time.Second, retryDelay(70, nil, nil))
}

func TestNewTask(t *testing.T) {
	payload := &JobPayload{Documents: []JobDocument{{Filename: "a.pdf", FileBuffer: []byte("%PDF-")}}}
	task, err := NewTask(payload)
	require.NoError(t, err)
	assert.NotEmpty(t, payload.JobID)
	assert.Equal(t, TaskTypeOCRBatch, task.Type())

	var back JobPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &back))
	assert.Equal(t, payload.JobID, back.JobID)
	assert.Equal(t, []byte("%PDF-"), back.Documents[0].FileBuffer)

	_, err = NewTask(&JobPayload{})
	assert.Error(t, err)
}
