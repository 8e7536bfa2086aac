package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/optiinfra/optiinfra/internal/apperrors"
)

// LocalStore is a process-local cosine store. It exists for tests and
// for dev runs without a Qdrant endpoint; the interface contract matches
// the Qdrant backend exactly.
type LocalStore struct {
	mu          sync.RWMutex
	collections map[string]*localCollection
}

type localCollection struct {
	dimension int
	points    map[string]Point
}

// NewLocalStore builds an empty in-process store.
func NewLocalStore() *LocalStore {
	return &LocalStore{collections: make(map[string]*localCollection)}
}

func (s *LocalStore) EnsureCollection(_ context.Context, name string, dimension int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.collections[name]; ok {
		if c.dimension != dimension {
			return apperrors.Newf(apperrors.KindConflict, "memory",
				"collection %s exists with dimension %d", name, c.dimension)
		}
		return nil
	}
	s.collections[name] = &localCollection{
		dimension: dimension,
		points:    make(map[string]Point),
	}
	return nil
}

func (s *LocalStore) Upsert(_ context.Context, collection string, point Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[collection]
	if !ok {
		return apperrors.Newf(apperrors.KindNotFound, "memory", "collection %s not found", collection)
	}
	if len(point.Vector) != c.dimension {
		return apperrors.Newf(apperrors.KindValidation, "memory",
			"vector dimension %d, want %d", len(point.Vector), c.dimension)
	}
	c.points[point.ID] = point
	return nil
}

func (s *LocalStore) Search(_ context.Context, collection string, vector []float32, limit int, filter Filter) ([]Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[collection]
	if !ok {
		return nil, apperrors.Newf(apperrors.KindNotFound, "memory", "collection %s not found", collection)
	}

	matches := make([]Match, 0, limit)
	for _, p := range c.points {
		if !payloadMatches(p.Payload, filter) {
			continue
		}
		matches = append(matches, Match{
			ID:      p.ID,
			Score:   cosine(vector, p.Vector),
			Payload: p.Payload,
		})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (s *LocalStore) Close() error { return nil }

func payloadMatches(payload map[string]interface{}, filter Filter) bool {
	for k, want := range filter {
		got, ok := payload[k]
		if !ok || fmt.Sprintf("%v", got) != fmt.Sprintf("%v", want) {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
