package memory

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/optiinfra/optiinfra/internal/apperrors"
)

// QdrantStore is the production vector backend over Qdrant's gRPC API.
type QdrantStore struct {
	conn        *grpc.ClientConn
	collections pb.CollectionsClient
	points      pb.PointsClient
}

// NewQdrantStore dials the Qdrant endpoint.
func NewQdrantStore(addr string) (*QdrantStore, error) {
	conn, err := grpc.Dial(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindUnavailable, "memory", "dial qdrant")
	}
	return &QdrantStore{
		conn:        conn,
		collections: pb.NewCollectionsClient(conn),
		points:      pb.NewPointsClient(conn),
	}, nil
}

func (s *QdrantStore) EnsureCollection(ctx context.Context, name string, dimension int) error {
	list, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindUnavailable, "memory", "list collections")
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == name {
			return nil
		}
	}

	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dimension),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindUnavailable, "memory",
			fmt.Sprintf("create collection %s", name))
	}
	return nil
}

func (s *QdrantStore) Upsert(ctx context.Context, collection string, point Point) error {
	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points: []*pb.PointStruct{{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: point.ID},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: point.Vector},
				},
			},
			Payload: toQdrantPayload(point.Payload),
		}},
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindUnavailable, "memory",
			fmt.Sprintf("upsert into %s", collection))
	}
	return nil
}

func (s *QdrantStore) Search(ctx context.Context, collection string, vector []float32, limit int, filter Filter) ([]Match, error) {
	req := &pb.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          uint64(limit),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	}
	if len(filter) > 0 {
		req.Filter = toQdrantFilter(filter)
	}

	resp, err := s.points.Search(ctx, req)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindUnavailable, "memory",
			fmt.Sprintf("search %s", collection))
	}

	matches := make([]Match, 0, len(resp.GetResult()))
	for _, hit := range resp.GetResult() {
		matches = append(matches, Match{
			ID:      hit.GetId().GetUuid(),
			Score:   hit.GetScore(),
			Payload: fromQdrantPayload(hit.GetPayload()),
		})
	}
	return matches, nil
}

func (s *QdrantStore) Close() error {
	return s.conn.Close()
}

func toQdrantFilter(filter Filter) *pb.Filter {
	must := make([]*pb.Condition, 0, len(filter))
	for key, value := range filter {
		var match *pb.Match
		switch v := value.(type) {
		case string:
			match = &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: v}}
		case bool:
			match = &pb.Match{MatchValue: &pb.Match_Boolean{Boolean: v}}
		case int:
			match = &pb.Match{MatchValue: &pb.Match_Integer{Integer: int64(v)}}
		case int64:
			match = &pb.Match{MatchValue: &pb.Match_Integer{Integer: v}}
		default:
			match = &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: fmt.Sprintf("%v", v)}}
		}
		must = append(must, &pb.Condition{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{Key: key, Match: match},
			},
		})
	}
	return &pb.Filter{Must: must}
}

func toQdrantPayload(payload map[string]interface{}) map[string]*pb.Value {
	out := make(map[string]*pb.Value, len(payload))
	for k, v := range payload {
		out[k] = toQdrantValue(v)
	}
	return out
}

func toQdrantValue(v interface{}) *pb.Value {
	switch t := v.(type) {
	case nil:
		return &pb.Value{Kind: &pb.Value_NullValue{}}
	case string:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: t}}
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: t}}
	case int:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(t)}}
	case int64:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: t}}
	case float64:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: t}}
	case float32:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: float64(t)}}
	case []string:
		values := make([]*pb.Value, 0, len(t))
		for _, s := range t {
			values = append(values, toQdrantValue(s))
		}
		return &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: values}}}
	case []interface{}:
		values := make([]*pb.Value, 0, len(t))
		for _, item := range t {
			values = append(values, toQdrantValue(item))
		}
		return &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: values}}}
	case map[string]interface{}:
		return &pb.Value{Kind: &pb.Value_StructValue{StructValue: &pb.Struct{Fields: toQdrantPayload(t)}}}
	default:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprintf("%v", t)}}
	}
}

func fromQdrantPayload(payload map[string]*pb.Value) map[string]interface{} {
	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		out[k] = fromQdrantValue(v)
	}
	return out
}

func fromQdrantValue(v *pb.Value) interface{} {
	switch kind := v.GetKind().(type) {
	case *pb.Value_StringValue:
		return kind.StringValue
	case *pb.Value_BoolValue:
		return kind.BoolValue
	case *pb.Value_IntegerValue:
		return kind.IntegerValue
	case *pb.Value_DoubleValue:
		return kind.DoubleValue
	case *pb.Value_ListValue:
		items := make([]interface{}, 0, len(kind.ListValue.GetValues()))
		for _, item := range kind.ListValue.GetValues() {
			items = append(items, fromQdrantValue(item))
		}
		return items
	case *pb.Value_StructValue:
		return fromQdrantPayload(kind.StructValue.GetFields())
	default:
		return nil
	}
}
