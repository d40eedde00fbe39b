package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ntufar/intellivault/internal/cache"
	"github.com/ntufar/intellivault/internal/embeddings"
	"github.com/ntufar/intellivault/internal/llm"
	"github.com/ntufar/intellivault/internal/searchindex"
)

// ErrServiceUnavailable marks failures of the index or a provider. Callers
// must be able to tell "the service is down" apart from a grounded "no
// answer" result, which is a success.
var ErrServiceUnavailable = errors.New("retrieval service unavailable")

const (
	defaultTopK = 5
	maxTopK     = 20

	snippetLen = 200
)

// citationPattern matches [docID:idx] references in generated answers.
var citationPattern = regexp.MustCompile(`\[([0-9a-fA-F-]{36}):(\d+)\]`)

const systemPrompt = `You answer questions using ONLY the context chunks provided by the user. Each chunk is introduced by a marker of the form [[chunk <documentID>:<chunkIndex>]].

Rules:
- Base every statement on the provided chunks. Never use outside knowledge.
- After each claim, cite its source as [<documentID>:<chunkIndex>], copying the id from the chunk marker.
- If the chunks do not contain the answer, reply exactly: NO_ANSWER`

// noAnswerMarker is what the model is instructed to emit when the context
// cannot support an answer.
const noAnswerMarker = "NO_ANSWER"

// Citation points at the chunk a statement in the answer is grounded on.
type Citation struct {
	DocumentID uuid.UUID `json:"documentId"`
	ChunkIndex int       `json:"chunkIndex"`
	Snippet    string    `json:"snippet"`
}

// QAResult is the outcome of one question. Grounded is false when no indexed
// content supported an answer; that is a success, not an error.
type QAResult struct {
	Answer    string     `json:"answer"`
	Grounded  bool       `json:"grounded"`
	Citations []Citation `json:"citations"`
}

// Engine answers questions over a tenant's indexed documents: retrieve,
// assemble a bounded context, generate with mandatory citations.
type Engine struct {
	log             *slog.Logger
	embedder        embeddings.Embedder
	index           searchindex.Index
	generator       llm.Generator
	cache           cache.Cache
	cacheTTL        time.Duration
	maxContextBytes int
}

var (
	ErrEmbedderRequired  = errors.New("rag: embedder is required")
	ErrIndexRequired     = errors.New("rag: search index is required")
	ErrGeneratorRequired = errors.New("rag: generator is required")
)

func NewEngine(
	log *slog.Logger,
	embedder embeddings.Embedder,
	index searchindex.Index,
	generator llm.Generator,
	c cache.Cache,
	cacheTTL time.Duration,
	maxContextBytes int,
) (*Engine, error) {
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if index == nil {
		return nil, ErrIndexRequired
	}
	if generator == nil {
		return nil, ErrGeneratorRequired
	}
	if log == nil {
		log = slog.Default()
	}
	if c == nil {
		c = cache.NewNoOpCache()
	}
	if maxContextBytes <= 0 {
		maxContextBytes = 12000
	}
	return &Engine{
		log:             log,
		embedder:        embedder,
		index:           index,
		generator:       generator,
		cache:           c,
		cacheTTL:        cacheTTL,
		maxContextBytes: maxContextBytes,
	}, nil
}

// Search returns the tenant's top-k chunks ranked by similarity to the query.
func (e *Engine) Search(ctx context.Context, tenantID, query string, k int) ([]searchindex.Hit, error) {
	k = clampTopK(k)
	vec, err := e.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	hits, err := e.index.Query(ctx, tenantID, vec, k)
	if err != nil {
		return nil, fmt.Errorf("%w: querying index: %v", ErrServiceUnavailable, err)
	}
	return hits, nil
}

// Ask answers a question using only the tenant's indexed chunks. With no
// retrieved chunks it returns an ungrounded result without calling the
// generation provider at all.
func (e *Engine) Ask(ctx context.Context, tenantID, question string, k int) (QAResult, error) {
	k = clampTopK(k)

	cacheKey := cache.Key("qa", tenantID, question, strconv.Itoa(k))
	if cached, err := e.cache.Get(ctx, cacheKey); err != nil {
		e.log.Warn("qa cache read failed", "err", err)
	} else if cached != nil {
		var result QAResult
		if err := json.Unmarshal(cached, &result); err == nil {
			return result, nil
		}
	}

	vec, err := e.embedQuery(ctx, question)
	if err != nil {
		return QAResult{}, err
	}
	hits, err := e.index.Query(ctx, tenantID, vec, k)
	if err != nil {
		return QAResult{}, fmt.Errorf("%w: querying index: %v", ErrServiceUnavailable, err)
	}
	if len(hits) == 0 {
		return QAResult{
			Answer:    "No indexed documents contain information relevant to this question.",
			Grounded:  false,
			Citations: []Citation{},
		}, nil
	}

	contextText, included := e.assembleContext(hits)

	answer, err := e.generator.Generate(ctx, systemPrompt,
		fmt.Sprintf("Context:\n\n%s\n\nQuestion: %s", contextText, question))
	if err != nil {
		return QAResult{}, fmt.Errorf("%w: generating answer: %v", ErrServiceUnavailable, err)
	}

	result := e.buildResult(answer, included)

	if data, err := json.Marshal(result); err == nil {
		if err := e.cache.Set(ctx, cacheKey, data, e.cacheTTL); err != nil {
			e.log.Warn("qa cache write failed", "err", err)
		}
	}
	return result, nil
}

func (e *Engine) embedQuery(ctx context.Context, text string) (embeddings.Vector, error) {
	vecs, err := e.embedder.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("%w: embedding query: %v", ErrServiceUnavailable, err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: expected 1 query vector, got %d", ErrServiceUnavailable, len(vecs))
	}
	return vecs[0], nil
}

// assembleContext concatenates hits under the byte budget, each preceded by
// its [[chunk docID:idx]] marker. Hits arrive ranked, so truncation drops the
// least relevant ones first. Returns the built context and the set of entry
// ids actually included, which bounds what the answer may cite.
func (e *Engine) assembleContext(hits []searchindex.Hit) (string, map[string]searchindex.Hit) {
	var b strings.Builder
	included := make(map[string]searchindex.Hit, len(hits))
	for _, hit := range hits {
		block := fmt.Sprintf("[[chunk %s]]\n%s\n\n", hit.ID, hit.Content)
		if b.Len() > 0 && b.Len()+len(block) > e.maxContextBytes {
			break
		}
		b.WriteString(block)
		included[hit.ID] = hit
	}
	return b.String(), included
}

// buildResult parses [docID:idx] citations out of the answer, keeping only
// those that reference a chunk actually present in the assembled context.
func (e *Engine) buildResult(answer string, included map[string]searchindex.Hit) QAResult {
	answer = strings.TrimSpace(answer)
	if answer == "" || strings.HasPrefix(answer, noAnswerMarker) {
		return QAResult{
			Answer:    "The indexed documents do not contain an answer to this question.",
			Grounded:  false,
			Citations: []Citation{},
		}
	}

	citations := []Citation{}
	seen := map[string]bool{}
	for _, m := range citationPattern.FindAllStringSubmatch(answer, -1) {
		docID, err := uuid.Parse(m[1])
		if err != nil {
			continue
		}
		idx, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		id := searchindex.EntryID(docID, idx)
		hit, ok := included[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		citations = append(citations, Citation{
			DocumentID: docID,
			ChunkIndex: idx,
			Snippet:    searchindex.Snippet(hit.Content, snippetLen),
		})
	}

	return QAResult{
		Answer:    answer,
		Grounded:  len(citations) > 0,
		Citations: citations,
	}
}

func clampTopK(k int) int {
	if k <= 0 {
		return defaultTopK
	}
	if k > maxTopK {
		return maxTopK
	}
	return k
}
