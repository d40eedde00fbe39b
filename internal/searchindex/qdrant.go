package searchindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ntufar/intellivault/internal/embeddings"
)

const (
	upsertBatchSize      = 128
	defaultQdrantTimeout = 15 * time.Second
	defaultSnippetLength = 200
)

// Point ids in Qdrant must be UUIDs; entry ids are mapped through a fixed
// namespace so the same chunk always lands on the same point.
var pointNamespace = uuid.MustParse("8e7f4a3e-6f4f-4e7b-9a0a-2f6d1c5e8b91")

// Qdrant is a REST client to a Qdrant collection. It assumes cosine distance
// and creates the collection on Init if missing.
type Qdrant struct {
	url        string
	apiKey     string
	collection string
	client     *http.Client
}

type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

func NewQdrant(cfg QdrantConfig) *Qdrant {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultQdrantTimeout
	}
	return &Qdrant{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
	}
}

// Init creates the collection with the given vector dimension. Qdrant
// returns OK when the collection already exists with the same schema.
func (q *Qdrant) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("invalid dimension %d", dimension)
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	return q.do(ctx, http.MethodPut, fmt.Sprintf("%s/collections/%s", q.url, q.collection), body, nil)
}

func (q *Qdrant) Upsert(ctx context.Context, entries []Entry) error {
	var accepted, rejected int
	var firstErr error

	for start := 0; start < len(entries); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(entries) {
			end = len(entries)
		}
		batch := entries[start:end]

		points := make([]map[string]any, len(batch))
		for i, e := range batch {
			points[i] = map[string]any{
				"id":     uuid.NewSHA1(pointNamespace, []byte(e.ID)).String(),
				"vector": e.Embedding,
				"payload": map[string]any{
					"entry_id":    e.ID,
					"tenant_id":   e.TenantID,
					"document_id": e.DocumentID.String(),
					"chunk_index": e.ChunkIndex,
					"content":     e.Content,
					"filename":    e.Filename,
				},
			}
		}
		body := map[string]any{"points": points}
		err := q.do(ctx, http.MethodPut,
			fmt.Sprintf("%s/collections/%s/points?wait=true", q.url, q.collection), body, nil)
		if err != nil {
			rejected += len(batch)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		accepted += len(batch)
	}

	if firstErr == nil {
		return nil
	}
	if accepted == 0 {
		return firstErr
	}
	return &PartialUpsertError{Accepted: accepted, Rejected: rejected, Err: firstErr}
}

func (q *Qdrant) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	points := make([]string, len(ids))
	for i, id := range ids {
		points[i] = uuid.NewSHA1(pointNamespace, []byte(id)).String()
	}
	body := map[string]any{"points": points}
	return q.do(ctx, http.MethodPost,
		fmt.Sprintf("%s/collections/%s/points/delete?wait=true", q.url, q.collection), body, nil)
}

func (q *Qdrant) Query(ctx context.Context, tenantID string, vector embeddings.Vector, k int) ([]Hit, error) {
	if k <= 0 {
		k = 5
	}
	// Tenant scoping is enforced here, server-side, for every query.
	req := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
		"filter": map[string]any{
			"must": []map[string]any{
				{"key": "tenant_id", "match": map[string]any{"value": tenantID}},
			},
		},
	}
	var resp struct {
		Result []struct {
			Score   float32        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	err := q.do(ctx, http.MethodPost,
		fmt.Sprintf("%s/collections/%s/points/search", q.url, q.collection), req, &resp)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(resp.Result))
	for _, r := range resp.Result {
		h := Hit{Score: r.Score}
		if v, ok := r.Payload["entry_id"].(string); ok {
			h.ID = v
		}
		if v, ok := r.Payload["tenant_id"].(string); ok {
			h.TenantID = v
		}
		if v, ok := r.Payload["document_id"].(string); ok {
			if id, err := uuid.Parse(v); err == nil {
				h.DocumentID = id
			}
		}
		if v, ok := r.Payload["chunk_index"].(float64); ok {
			h.ChunkIndex = int(v)
		}
		if v, ok := r.Payload["content"].(string); ok {
			h.Content = v
			h.Snippet = Snippet(v, defaultSnippetLength)
		}
		if v, ok := r.Payload["filename"].(string); ok {
			h.Filename = v
		}
		hits = append(hits, h)
	}
	return hits, nil
}

func (q *Qdrant) do(ctx context.Context, method, url string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}
	resp, err := q.client.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("qdrant %s %s: status %d: %s", method, url, resp.StatusCode, msg)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
