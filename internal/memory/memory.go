package memory

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/optiinfra/optiinfra/internal/apperrors"
	"github.com/optiinfra/optiinfra/internal/logger"
)

// Collection names; one per knowledge domain.
const (
	CollectionCostKnowledge       = "cost_optimization_knowledge"
	CollectionPerformancePatterns = "performance_patterns"
	CollectionCustomerContext     = "customer_context"
)

// Outcome values recorded with cost knowledge.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
	OutcomePartial = "partial"
)

// DefaultTopK bounds recall when the caller does not ask for a limit.
const DefaultTopK = 5

// Memory is the record/recall facade the agents use. Writes are
// synchronous: embed the summary, upsert the point, return the point id.
type Memory struct {
	store VectorStore
	embed Embedder
	log   logger.Logger
}

// New builds the facade and ensures all three collections exist.
func New(ctx context.Context, store VectorStore, embed Embedder) (*Memory, error) {
	m := &Memory{store: store, embed: embed, log: logger.New("memory")}
	for _, name := range []string{
		CollectionCostKnowledge,
		CollectionPerformancePatterns,
		CollectionCustomerContext,
	} {
		if err := store.EnsureCollection(ctx, name, embed.Dimension()); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// CostKnowledge is one recorded optimization outcome.
type CostKnowledge struct {
	OptimizationID          string  `json:"optimization_id"`
	CustomerID              string  `json:"customer_id"`
	Type                    string  `json:"type"`
	Context                 string  `json:"context"`
	Outcome                 string  `json:"outcome"`
	SavingsPercent          float64 `json:"savings_percent"`
	CostImpact              float64 `json:"cost_impact"`
	CloudProvider           string  `json:"cloud_provider"`
	InstanceType            string  `json:"instance_type,omitempty"`
	WorkloadCharacteristics string  `json:"workload_characteristics,omitempty"`
	LessonsLearned          string  `json:"lessons_learned,omitempty"`
	RecordedAt              string  `json:"recorded_at,omitempty"`
}

func (k CostKnowledge) summary() string {
	return k.Type + " " + k.Context + " " + k.WorkloadCharacteristics + " " + k.LessonsLearned
}

// PerformancePattern is one recorded tuning pattern.
type PerformancePattern struct {
	OptimizationID      string  `json:"optimization_id"`
	CustomerID          string  `json:"customer_id"`
	ServiceType         string  `json:"service_type"`
	ModelName           string  `json:"model_name,omitempty"`
	ProblemDescription  string  `json:"problem_description"`
	SolutionDescription string  `json:"solution_description"`
	BeforeLatencyMs     float64 `json:"before_latency_ms"`
	AfterLatencyMs      float64 `json:"after_latency_ms"`
	ImprovementFactor   float64 `json:"improvement_factor"`
	ConfigChanges       string  `json:"config_changes,omitempty"`
	Replicable          bool    `json:"replicable"`
	RecordedAt          string  `json:"recorded_at,omitempty"`
}

func (p PerformancePattern) summary() string {
	return p.ServiceType + " " + p.ProblemDescription + " " + p.SolutionDescription
}

// CustomerContext is one recorded fact about a tenant.
type CustomerContext struct {
	CustomerID      string   `json:"customer_id"`
	ContextType     string   `json:"context_type"`
	Topic           string   `json:"topic"`
	Content         string   `json:"content"`
	Confidence      float64  `json:"confidence"`
	Source          string   `json:"source,omitempty"`
	Priority        int      `json:"priority,omitempty"`
	AppliesToAgents []string `json:"applies_to_agents,omitempty"`
	RecordedAt      string   `json:"recorded_at,omitempty"`
}

func (c CustomerContext) summary() string {
	return c.ContextType + " " + c.Topic + " " + c.Content
}

// RecordCostKnowledge stores one optimization outcome and returns the
// point id.
func (m *Memory) RecordCostKnowledge(ctx context.Context, k CostKnowledge) (string, error) {
	if k.RecordedAt == "" {
		k.RecordedAt = nowStamp()
	}
	return m.record(ctx, CollectionCostKnowledge, k.summary(), k)
}

// RecordPerformancePattern stores one tuning pattern.
func (m *Memory) RecordPerformancePattern(ctx context.Context, p PerformancePattern) (string, error) {
	if p.RecordedAt == "" {
		p.RecordedAt = nowStamp()
	}
	return m.record(ctx, CollectionPerformancePatterns, p.summary(), p)
}

// RecordCustomerContext stores one tenant fact.
func (m *Memory) RecordCustomerContext(ctx context.Context, c CustomerContext) (string, error) {
	if c.RecordedAt == "" {
		c.RecordedAt = nowStamp()
	}
	return m.record(ctx, CollectionCustomerContext, c.summary(), c)
}

func nowStamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// record expects the payload's recorded_at field to already be stamped:
// the payload is serialized as passed.
func (m *Memory) record(ctx context.Context, collection, summary string, payload interface{}) (string, error) {
	vec, err := m.embed.Embed(ctx, summary)
	if err != nil {
		return "", err
	}

	fields, err := toPayloadMap(payload)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	if err := m.store.Upsert(ctx, collection, Point{ID: id, Vector: vec, Payload: fields}); err != nil {
		return "", err
	}
	m.log.Debug("memory point stored",
		logger.String("collection", collection),
		logger.String("point_id", id))
	return id, nil
}

// Query is one recall request: a free-text probe plus equality filters
// over payload fields.
type Query struct {
	Text   string
	Filter Filter
	TopK   int
}

// CostKnowledgeMatch pairs a recalled record with its similarity.
type CostKnowledgeMatch struct {
	Score     float32       `json:"score"`
	Knowledge CostKnowledge `json:"knowledge"`
}

// SearchCostKnowledge recalls the nearest optimization outcomes.
func (m *Memory) SearchCostKnowledge(ctx context.Context, q Query) ([]CostKnowledgeMatch, error) {
	matches, err := m.search(ctx, CollectionCostKnowledge, q)
	if err != nil {
		return nil, err
	}
	out := make([]CostKnowledgeMatch, 0, len(matches))
	for _, match := range matches {
		var k CostKnowledge
		if err := fromPayloadMap(match.Payload, &k); err != nil {
			return nil, err
		}
		out = append(out, CostKnowledgeMatch{Score: match.Score, Knowledge: k})
	}
	return out, nil
}

// PerformancePatternMatch pairs a recalled pattern with its similarity.
type PerformancePatternMatch struct {
	Score   float32            `json:"score"`
	Pattern PerformancePattern `json:"pattern"`
}

// SearchPerformancePatterns recalls the nearest tuning patterns.
func (m *Memory) SearchPerformancePatterns(ctx context.Context, q Query) ([]PerformancePatternMatch, error) {
	matches, err := m.search(ctx, CollectionPerformancePatterns, q)
	if err != nil {
		return nil, err
	}
	out := make([]PerformancePatternMatch, 0, len(matches))
	for _, match := range matches {
		var p PerformancePattern
		if err := fromPayloadMap(match.Payload, &p); err != nil {
			return nil, err
		}
		out = append(out, PerformancePatternMatch{Score: match.Score, Pattern: p})
	}
	return out, nil
}

// CustomerContextMatch pairs a recalled fact with its similarity.
type CustomerContextMatch struct {
	Score   float32         `json:"score"`
	Context CustomerContext `json:"context"`
}

// SearchCustomerContext recalls the nearest tenant facts.
func (m *Memory) SearchCustomerContext(ctx context.Context, q Query) ([]CustomerContextMatch, error) {
	matches, err := m.search(ctx, CollectionCustomerContext, q)
	if err != nil {
		return nil, err
	}
	out := make([]CustomerContextMatch, 0, len(matches))
	for _, match := range matches {
		var c CustomerContext
		if err := fromPayloadMap(match.Payload, &c); err != nil {
			return nil, err
		}
		out = append(out, CustomerContextMatch{Score: match.Score, Context: c})
	}
	return out, nil
}

func (m *Memory) search(ctx context.Context, collection string, q Query) ([]Match, error) {
	if q.Text == "" {
		return nil, apperrors.New(apperrors.KindValidation, "memory", "query text is required")
	}
	topK := q.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	vec, err := m.embed.Embed(ctx, q.Text)
	if err != nil {
		return nil, err
	}
	return m.store.Search(ctx, collection, vec, topK, q.Filter)
}

// Close releases the backing store.
func (m *Memory) Close() error {
	return m.store.Close()
}

func toPayloadMap(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindInternal, "memory", "encode payload")
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindInternal, "memory", "decode payload")
	}
	return out, nil
}

func fromPayloadMap(payload map[string]interface{}, v interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindInternal, "memory", "encode recall payload")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperrors.Wrap(err, apperrors.KindInternal, "memory", "decode recall payload")
	}
	return nil
}
