/**
 * Embedding Client
 *
 * Generates VoyageAI voyage-3 embeddings (1024 dimensions) for recognized
 * page text so searchable documents can also be found semantically.
 */

package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/adverant/nexus/ocrlayer-worker/internal/logging"
)

const (
	// EmbeddingDimensions is the vector size produced by voyage-3.
	EmbeddingDimensions = 1024

	voyageModel     = "voyage-3"
	voyageURL       = "https://api.voyageai.com/v1/embeddings"
	maxEmbedChars   = 16000 // approximate token limit
	embedBatchLimit = 100   // VoyageAI texts per request
)

// EmbeddingClient handles VoyageAI embedding generation
type EmbeddingClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// voyageRequest is the request body for single and batch calls
type voyageRequest struct {
	Input     []string `json:"input"`
	Model     string   `json:"model"`
	InputType string   `json:"input_type,omitempty"`
}

// voyageResponse represents the response from VoyageAI API
type voyageResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// NewEmbeddingClient creates a new embedding client. baseURL may be empty
// to use the public VoyageAI endpoint.
func NewEmbeddingClient(apiKey, baseURL string) (*EmbeddingClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("VoyageAI API key is required")
	}
	if baseURL == "" {
		baseURL = voyageURL
	}

	return &EmbeddingClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logging.NewLogger("EmbeddingClient"),
	}, nil
}

// GenerateEmbedding generates one embedding for a search query
func (e *EmbeddingClient) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("text is required")
	}
	embeddings, err := e.embed(ctx, []string{text}, "query")
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// GenerateEmbeddingBatch embeds page texts in chunks of 100. A failed chunk
// is retried one text at a time before giving up.
func (e *EmbeddingClient) GenerateEmbeddingBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("no texts provided")
	}

	all := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += embedBatchLimit {
		end := i + embedBatchLimit
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[i:end]

		embeddings, err := e.embed(ctx, batch, "document")
		if err == nil {
			all = append(all, embeddings...)
			continue
		}

		e.logger.Warn("Batch embedding failed, falling back to individual requests",
			"from", i, "to", end-1, "error", err)
		for j, text := range batch {
			single, err := e.embed(ctx, []string{text}, "document")
			if err != nil {
				return nil, fmt.Errorf("failed to generate embedding for text %d (fallback): %w", i+j, err)
			}
			all = append(all, single[0])
		}
	}

	e.logger.Debug("Batch embedding complete", "embeddings", len(all))
	return all, nil
}

func (e *EmbeddingClient) embed(ctx context.Context, texts []string, inputType string) ([][]float32, error) {
	input := make([]string, len(texts))
	for i, t := range texts {
		input[i] = truncateRunes(t, maxEmbedChars)
	}

	jsonData, err := json.Marshal(voyageRequest{Input: input, Model: voyageModel, InputType: inputType})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	start := time.Now()
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("VoyageAI API returned status %d: %s", resp.StatusCode, string(body))
	}

	var voyageResp voyageResponse
	if err := json.Unmarshal(body, &voyageResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(voyageResp.Data) != len(texts) {
		return nil, fmt.Errorf("unexpected number of embeddings: got %d, expected %d", len(voyageResp.Data), len(texts))
	}

	embeddings := make([][]float32, len(texts))
	for _, d := range voyageResp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("invalid embedding index: %d", d.Index)
		}
		if len(d.Embedding) != EmbeddingDimensions {
			return nil, fmt.Errorf("unexpected embedding dimensions for text %d: got %d, expected %d",
				d.Index, len(d.Embedding), EmbeddingDimensions)
		}
		embeddings[d.Index] = d.Embedding
	}

	e.logger.Debug("VoyageAI embeddings generated",
		"texts", len(texts), "tokens", voyageResp.Usage.TotalTokens, "duration", time.Since(start))

	return embeddings, nil
}

// truncateRunes cuts s to at most max bytes without splitting a UTF-8 sequence.
func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
