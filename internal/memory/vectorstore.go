package memory

import "context"

// Point is one stored vector with its payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]interface{}
}

// Match is one search hit; Score is cosine similarity, higher is closer.
type Match struct {
	ID      string
	Score   float32
	Payload map[string]interface{}
}

// Filter holds equality predicates over payload fields; all must match.
type Filter map[string]interface{}

// VectorStore is the collection backend. Qdrant serves production; the
// local store serves tests and dev runs without a broker.
type VectorStore interface {
	EnsureCollection(ctx context.Context, name string, dimension int) error
	Upsert(ctx context.Context, collection string, point Point) error
	Search(ctx context.Context, collection string, vector []float32, limit int, filter Filter) ([]Match, error)
	Close() error
}
