/**
 * Qdrant Vector Database Client for the OCR layer worker
 *
 * Stores one vector per recognized page so searchable documents can also be
 * found semantically. Uses Qdrant's native gRPC API.
 */

package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	qdrant "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// VectorDimensions matches the VoyageAI voyage-3 embedding size
const VectorDimensions = 1024

// Payload keys
const (
	payloadJobID      = "job_id"
	payloadDocumentID = "document_id"
	payloadFilename   = "filename"
	payloadPage       = "page"
	payloadText       = "text"
	payloadConfidence = "confidence"
)

// QdrantClient handles vector database operations
type QdrantClient struct {
	client           qdrant.PointsClient
	collectionClient qdrant.CollectionsClient
	conn             *grpc.ClientConn
	collectionName   string
}

// PagePoint is one indexed page
type PagePoint struct {
	ID         string
	Vector     []float32
	JobID      string
	DocumentID string
	Filename   string
	PageNumber int
	Text       string
	Confidence float64
}

// PageMatch is a search hit
type PageMatch struct {
	PagePoint
	Score float32
}

// NewQdrantClient creates a new Qdrant client
func NewQdrantClient(address string, collectionName string) (*QdrantClient, error) {
	if address == "" {
		return nil, fmt.Errorf("qdrant address is required")
	}

	if collectionName == "" {
		return nil, fmt.Errorf("collection name is required")
	}

	conn, err := grpc.Dial(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant: %w", err)
	}

	qc := &QdrantClient{
		client:           qdrant.NewPointsClient(conn),
		collectionClient: qdrant.NewCollectionsClient(conn),
		conn:             conn,
		collectionName:   collectionName,
	}

	if err := qc.ensureCollection(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ensure collection: %w", err)
	}

	return qc, nil
}

// ensureCollection creates the collection if it doesn't exist
func (q *QdrantClient) ensureCollection(ctx context.Context) error {
	listResp, err := q.collectionClient.List(ctx, &qdrant.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}

	for _, col := range listResp.Collections {
		if col.Name == q.collectionName {
			return nil
		}
	}

	_, err = q.collectionClient.Create(ctx, &qdrant.CreateCollection{
		CollectionName: q.collectionName,
		VectorsConfig: &qdrant.VectorsConfig{
			Config: &qdrant.VectorsConfig_Params{
				Params: &qdrant.VectorParams{
					Size:     VectorDimensions,
					Distance: qdrant.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	return nil
}

// UpsertPages stores page vectors in one request
func (q *QdrantClient) UpsertPages(ctx context.Context, pages []*PagePoint) error {
	if len(pages) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, 0, len(pages))
	for _, page := range pages {
		point, err := toPointStruct(page)
		if err != nil {
			return err
		}
		points = append(points, point)
	}

	wait := true
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collectionName,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert %d page vectors: %w", len(points), err)
	}

	return nil
}

// SearchPages performs similarity search, optionally restricted to one job
func (q *QdrantClient) SearchPages(ctx context.Context, queryVector []float32, limit int, jobID string) ([]*PageMatch, error) {
	if len(queryVector) != VectorDimensions {
		return nil, fmt.Errorf("invalid query vector dimensions: expected %d, got %d", VectorDimensions, len(queryVector))
	}

	if limit <= 0 {
		limit = 10
	}

	searchReq := &qdrant.SearchPoints{
		CollectionName: q.collectionName,
		Vector:         queryVector,
		Limit:          uint64(limit),
		WithPayload: &qdrant.WithPayloadSelector{
			SelectorOptions: &qdrant.WithPayloadSelector_Enable{
				Enable: true,
			},
		},
	}
	if jobID != "" {
		searchReq.Filter = keywordFilter(payloadJobID, jobID)
	}

	results, err := q.client.Search(ctx, searchReq)
	if err != nil {
		return nil, fmt.Errorf("failed to search page vectors: %w", err)
	}

	matches := make([]*PageMatch, 0, len(results.Result))
	for _, result := range results.Result {
		page := fromPayload(result.Payload)
		if result.Id != nil {
			page.ID = result.Id.GetUuid()
		}
		matches = append(matches, &PageMatch{PagePoint: *page, Score: result.Score})
	}

	return matches, nil
}

// DeleteDocument removes every page vector of a document
func (q *QdrantClient) DeleteDocument(ctx context.Context, documentID string) error {
	if documentID == "" {
		return fmt.Errorf("document ID is required")
	}

	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collectionName,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: keywordFilter(payloadDocumentID, documentID),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete vectors of document %s: %w", documentID, err)
	}

	return nil
}

// GetCollectionInfo returns collection statistics
func (q *QdrantClient) GetCollectionInfo(ctx context.Context) (map[string]interface{}, error) {
	info, err := q.collectionClient.Get(ctx, &qdrant.GetCollectionInfoRequest{
		CollectionName: q.collectionName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get collection info: %w", err)
	}

	return map[string]interface{}{
		"collection_name": q.collectionName,
		"vectors_count":   info.Result.GetVectorsCount(),
		"points_count":    info.Result.GetPointsCount(),
		"indexed_vectors": info.Result.GetIndexedVectorsCount(),
		"status":          info.Result.GetStatus().String(),
	}, nil
}

// Close closes the Qdrant client connection
func (q *QdrantClient) Close() error {
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

func toPointStruct(page *PagePoint) (*qdrant.PointStruct, error) {
	if page == nil {
		return nil, fmt.Errorf("page point is required")
	}
	if len(page.Vector) != VectorDimensions {
		return nil, fmt.Errorf("invalid vector dimensions for page %d: expected %d, got %d",
			page.PageNumber, VectorDimensions, len(page.Vector))
	}
	if page.ID == "" {
		page.ID = uuid.New().String()
	}

	return &qdrant.PointStruct{
		Id: &qdrant.PointId{
			PointIdOptions: &qdrant.PointId_Uuid{Uuid: page.ID},
		},
		Vectors: &qdrant.Vectors{
			VectorsOptions: &qdrant.Vectors_Vector{
				Vector: &qdrant.Vector{Data: page.Vector},
			},
		},
		Payload: toPayload(page),
	}, nil
}

func toPayload(page *PagePoint) map[string]*qdrant.Value {
	str := func(s string) *qdrant.Value {
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
	}
	return map[string]*qdrant.Value{
		payloadJobID:      str(page.JobID),
		payloadDocumentID: str(page.DocumentID),
		payloadFilename:   str(page.Filename),
		payloadText:       str(page.Text),
		payloadPage: {
			Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(page.PageNumber)},
		},
		payloadConfidence: {
			Kind: &qdrant.Value_DoubleValue{DoubleValue: page.Confidence},
		},
	}
}

func fromPayload(payload map[string]*qdrant.Value) *PagePoint {
	page := &PagePoint{}
	for k, v := range payload {
		if v == nil {
			continue
		}
		switch k {
		case payloadJobID:
			page.JobID = v.GetStringValue()
		case payloadDocumentID:
			page.DocumentID = v.GetStringValue()
		case payloadFilename:
			page.Filename = v.GetStringValue()
		case payloadText:
			page.Text = v.GetStringValue()
		case payloadPage:
			page.PageNumber = int(v.GetIntegerValue())
		case payloadConfidence:
			page.Confidence = v.GetDoubleValue()
		}
	}
	return page
}

func keywordFilter(key, value string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			{
				ConditionOneOf: &qdrant.Condition_Field{
					Field: &qdrant.FieldCondition{
						Key: key,
						Match: &qdrant.Match{
							MatchValue: &qdrant.Match_Keyword{Keyword: value},
						},
					},
				},
			},
		},
	}
}
