// Package memory is the semantic knowledge layer: fixed-dimension
// embeddings over textual summaries, a vector store holding three
// collections, and typed record/recall facades over them.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"hash/fnv"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/optiinfra/optiinfra/internal/apperrors"
	"github.com/optiinfra/optiinfra/internal/config"
)

// Embedder turns a textual summary into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// NewEmbedder builds the configured embedder: "remote" calls an HTTP
// embedding model, "deterministic" hashes tokens locally.
func NewEmbedder(cfg config.MemoryConfig, timeout time.Duration) (Embedder, error) {
	switch cfg.Embedder {
	case "remote":
		if cfg.Endpoint == "" {
			return nil, apperrors.New(apperrors.KindValidation, "memory",
				"remote embedder requires an endpoint")
		}
		return &RemoteEmbedder{
			endpoint:  cfg.Endpoint,
			dimension: cfg.Dimension,
			timeout:   timeout,
			client:    &http.Client{Timeout: timeout},
		}, nil
	case "deterministic", "":
		return NewDeterministicEmbedder(cfg.Dimension), nil
	default:
		return nil, apperrors.Newf(apperrors.KindValidation, "memory",
			"unknown embedder %q", cfg.Embedder)
	}
}

// DeterministicEmbedder hashes tokens into dimension buckets and
// L2-normalizes, so texts sharing vocabulary land near each other. Good
// enough for recall ordering in tests and broker-less dev runs.
type DeterministicEmbedder struct {
	dimension int
}

// NewDeterministicEmbedder builds the hashing embedder.
func NewDeterministicEmbedder(dimension int) *DeterministicEmbedder {
	if dimension <= 0 {
		dimension = 256
	}
	return &DeterministicEmbedder{dimension: dimension}
}

func (e *DeterministicEmbedder) Dimension() int { return e.dimension }

// Embed maps each lowercase token into a bucket by FNV-64a and
// normalizes the result to unit length.
func (e *DeterministicEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dimension)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		token = strings.Trim(token, ".,;:!?\"'()[]{}")
		if token == "" {
			continue
		}
		h := fnv.New64a()
		h.Write([]byte(token))
		sum := h.Sum64()
		bucket := int(sum % uint64(e.dimension))
		// The next hash bit picks the sign so antonym-free token
		// collisions do not always accumulate.
		if (sum>>63)&1 == 1 {
			vec[bucket] -= 1
		} else {
			vec[bucket] += 1
		}
	}
	normalize(vec)
	return vec, nil
}

// RemoteEmbedder calls an HTTP embedding model.
type RemoteEmbedder struct {
	endpoint  string
	dimension int
	timeout   time.Duration
	client    *http.Client
}

func (e *RemoteEmbedder) Dimension() int { return e.dimension }

// Embed posts the text and expects {"embedding": [...]} back within the
// embedding deadline.
func (e *RemoteEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindInternal, "memory", "encode embed request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindInternal, "memory", "build embed request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindTransient, "memory", "call embedding model")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.Newf(apperrors.KindTransient, "memory",
			"embedding model returned %d", resp.StatusCode)
	}

	var payload struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindTransient, "memory", "decode embedding")
	}
	if len(payload.Embedding) != e.dimension {
		return nil, apperrors.Newf(apperrors.KindValidation, "memory",
			"embedding dimension %d, want %d", len(payload.Embedding), e.dimension)
	}
	return payload.Embedding, nil
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}
