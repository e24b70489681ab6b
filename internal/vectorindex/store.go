package vectorindex

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/convstate/core/internal/coreerr"
)

// VectorPoint is one chunk's embedding plus the payload needed to join
// search hits back to a task.
type VectorPoint struct {
	TaskID     string
	ChunkIndex int
	Vector     []float32
	Snippet    string
	Workspace  string
}

// Store wraps the Qdrant client for the single collection this core
// indexes into.
type Store struct {
	client     *qdrant.Client
	collection string
}

// NewStore connects to a Qdrant-compatible endpoint described by rawURL
// (host:port, optionally with a qdrant:// or http:// scheme) and ensures
// the configured collection exists with the given vector dimensionality.
func NewStore(ctx context.Context, rawURL, apiKey, collection string, dimensions uint64) (*Store, error) {
	host, port, useTLS := parseQdrantURL(rawURL)

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: apiKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, coreerr.VectorStoreError("connect to vector store", err)
	}

	exists, err := client.CollectionExists(ctx, collection)
	if err != nil {
		return nil, coreerr.VectorStoreError("check collection existence", err)
	}
	if !exists {
		err = client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     dimensions,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return nil, coreerr.VectorStoreError("create collection", err)
		}
	}

	return &Store{client: client, collection: collection}, nil
}

func parseQdrantURL(raw string) (host string, port int, useTLS bool) {
	host, port, useTLS = raw, 6334, false
	s := raw
	if strings.HasPrefix(s, "https://") {
		useTLS = true
		s = strings.TrimPrefix(s, "https://")
	} else {
		s = strings.TrimPrefix(s, "http://")
		s = strings.TrimPrefix(s, "qdrant://")
	}
	if idx := strings.LastIndex(s, ":"); idx >= 0 {
		host = s[:idx]
		fmt.Sscanf(s[idx+1:], "%d", &port)
	} else {
		host = s
	}
	return host, port, useTLS
}

// pointUUID derives a deterministic point ID from taskID/chunkIndex so
// repeated upserts of the same chunk overwrite rather than duplicate.
func pointUUID(taskID string, chunkIndex int) string {
	name := fmt.Sprintf("%s:%d", taskID, chunkIndex)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

// Upsert writes points into the collection, keyed by {taskId, chunkIndex}.
func (s *Store) Upsert(ctx context.Context, points []VectorPoint) error {
	if len(points) == 0 {
		return nil
	}
	qpoints := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		payload := map[string]any{
			"taskId":     p.TaskID,
			"chunkIndex": p.ChunkIndex,
			"snippet":    p.Snippet,
		}
		if p.Workspace != "" {
			payload["workspace"] = p.Workspace
		}
		qpoints = append(qpoints, &qdrant.PointStruct{
			Id:      qdrant.NewID(pointUUID(p.TaskID, p.ChunkIndex)),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         qpoints,
	})
	if err != nil {
		return coreerr.VectorStoreError("upsert points", err)
	}
	return nil
}

// SearchHit is one k-NN result.
type SearchHit struct {
	TaskID  string
	Score   float32
	Snippet string
}

// Search runs a k-NN query for vector, optionally filtered to workspace.
func (s *Store) Search(ctx context.Context, vector []float32, k uint64, workspace string) ([]SearchHit, error) {
	query := &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &k,
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if workspace != "" {
		query.Filter = &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("workspace", workspace),
			},
		}
	}

	result, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, coreerr.VectorStoreError("k-NN query", err)
	}

	hits := make([]SearchHit, 0, len(result))
	for _, point := range result {
		fields := point.GetPayload()
		taskID := ""
		snippet := ""
		if v, ok := fields["taskId"]; ok {
			taskID = v.GetStringValue()
		}
		if v, ok := fields["snippet"]; ok {
			snippet = v.GetStringValue()
		}
		hits = append(hits, SearchHit{TaskID: taskID, Score: point.GetScore(), Snippet: snippet})
	}
	return hits, nil
}

// Close releases the underlying gRPC connection.
func (s *Store) Close() error {
	return s.client.Close()
}
