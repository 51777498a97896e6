package matching

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"google.golang.org/genai"
)

// Embedder turns a text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// GeminiEmbedder calls the Gemini embeddings endpoint.
type GeminiEmbedder struct {
	client *genai.Client
	model  string
}

// NewGeminiEmbedder creates an embedder authenticated with apiKey.
func NewGeminiEmbedder(ctx context.Context, apiKey, model string) (*GeminiEmbedder, error) {
	if apiKey == "" {
		return nil, errors.New("NewGeminiEmbedder: api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("NewGeminiEmbedder: create genai client: %w", err)
	}
	return &GeminiEmbedder{client: client, model: model}, nil
}

func (g *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	contents := []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}
	resp, err := g.client.Models.EmbedContent(ctx, g.model, contents, &genai.EmbedContentConfig{
		TaskType: "SEMANTIC_SIMILARITY",
	})
	if err != nil {
		return nil, fmt.Errorf("Embed: embed content: %w", err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, errors.New("Embed: empty embedding response")
	}
	return resp.Embeddings[0].Values, nil
}

// EmbeddingScorer scores by cosine similarity of text embeddings. Vectors are memoised
// per text, so a query compared against many candidates is embedded once.
type EmbeddingScorer struct {
	embedder Embedder
	cache    *ttlcache.Cache[string, []float32]
}

// NewEmbeddingScorer wraps embedder with a TTL cache. capacity 0 means unbounded.
func NewEmbeddingScorer(embedder Embedder, ttl time.Duration, capacity uint64) *EmbeddingScorer {
	opts := []ttlcache.Option[string, []float32]{
		ttlcache.WithTTL[string, []float32](ttl),
		ttlcache.WithDisableTouchOnHit[string, []float32](),
	}
	if capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, []float32](capacity))
	}
	return &EmbeddingScorer{
		embedder: embedder,
		cache:    ttlcache.New(opts...),
	}
}

func (e *EmbeddingScorer) Similarity(ctx context.Context, a, b string) (float64, error) {
	if a == "" || b == "" {
		return 0, nil
	}
	va, err := e.vector(ctx, a)
	if err != nil {
		return 0, err
	}
	vb, err := e.vector(ctx, b)
	if err != nil {
		return 0, err
	}
	return cosineSimilarity(va, vb), nil
}

// CachedTexts reports how many texts currently have a memoised vector.
func (e *EmbeddingScorer) CachedTexts() int {
	return e.cache.Len()
}

func (e *EmbeddingScorer) vector(ctx context.Context, text string) ([]float32, error) {
	if item := e.cache.Get(text); item != nil {
		return item.Value(), nil
	}
	v, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Set(text, v, ttlcache.DefaultTTL)
	return v, nil
}

func cosineSimilarity(v1, v2 []float32) float64 {
	if len(v1) != len(v2) || len(v1) == 0 {
		return 0
	}
	var dot, n1, n2 float64
	for i := range v1 {
		dot += float64(v1[i]) * float64(v2[i])
		n1 += float64(v1[i]) * float64(v1[i])
		n2 += float64(v2[i]) * float64(v2[i])
	}
	if n1 == 0 || n2 == 0 {
		return 0
	}
	return dot / (math.Sqrt(n1) * math.Sqrt(n2))
}
