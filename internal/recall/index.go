package recall

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/nidhogg/reflecta/internal/broadcast"
)

// QdrantConfig holds connection settings for a Qdrant instance.
type QdrantConfig struct {
	Host       string  `json:"host"`
	Port       int     `json:"port"`
	Collection string  `json:"collection"`
	MinScore   float32 `json:"min_score"`
}

// Index stores one point per insight and searches them per session.
type Index struct {
	conn        *grpc.ClientConn
	collections pb.CollectionsClient
	points      pb.PointsClient
	cfg         QdrantConfig
	embedder    Embedder
	logger      *zap.Logger
}

// NewIndex dials the Qdrant gRPC endpoint.
func NewIndex(cfg QdrantConfig, embedder Embedder, logger *zap.Logger) (*Index, error) {
	if cfg.Collection == "" {
		cfg.Collection = "reflecta_insights"
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect %s: %w", addr, err)
	}
	return &Index{
		conn:        conn,
		collections: pb.NewCollectionsClient(conn),
		points:      pb.NewPointsClient(conn),
		cfg:         cfg,
		embedder:    embedder,
		logger:      logger,
	}, nil
}

// EnsureCollection creates the collection if it does not already exist.
func (x *Index) EnsureCollection(ctx context.Context) error {
	_, err := x.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: x.cfg.Collection})
	if err == nil {
		return nil
	}
	_, err = x.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: x.cfg.Collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(x.embedder.Dimension()),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", x.cfg.Collection, err)
	}
	x.logger.Info("qdrant collection created",
		zap.String("collection", x.cfg.Collection),
		zap.Int("dimension", x.embedder.Dimension()))
	return nil
}

func (x *Index) Name() string { return "qdrant" }

// Notify indexes insight events. Other events are ignored.
func (x *Index) Notify(ctx context.Context, ev broadcast.Event) error {
	in, ok := ev.(broadcast.InsightEvent)
	if !ok {
		return nil
	}
	vecs, err := x.embedder.Embed(ctx, []string{in.Content})
	if err != nil {
		return fmt.Errorf("embed insight: %w", err)
	}
	wait := true
	_, err = x.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: x.cfg.Collection,
		Wait:           &wait,
		Points: []*pb.PointStruct{{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: uuid.New().String()}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vecs[0]}}},
			Payload: map[string]*pb.Value{
				"session_id": stringValue(in.SessionID),
				"kind":       stringValue(in.InsightKind),
				"content":    stringValue(in.Content),
			},
		}},
	})
	if err != nil {
		return fmt.Errorf("upsert insight: %w", err)
	}
	return nil
}

// Recall returns the contents of the insights of sessionID nearest to
// query, skipping hits under the configured minimum score.
func (x *Index) Recall(ctx context.Context, sessionID, query string, limit int) ([]string, error) {
	vecs, err := x.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	resp, err := x.points.Search(ctx, &pb.SearchPoints{
		CollectionName: x.cfg.Collection,
		Vector:         vecs[0],
		Limit:          uint64(limit),
		Filter: &pb.Filter{Must: []*pb.Condition{{
			ConditionOneOf: &pb.Condition_Field{Field: &pb.FieldCondition{
				Key:   "session_id",
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: sessionID}},
			}},
		}}},
		WithPayload: &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", x.cfg.Collection, err)
	}

	out := make([]string, 0, len(resp.Result))
	for _, r := range resp.Result {
		if r.Score < x.cfg.MinScore {
			continue
		}
		if v, ok := r.Payload["content"].GetKind().(*pb.Value_StringValue); ok {
			out = append(out, v.StringValue)
		}
	}
	return out, nil
}

// Close tears down the underlying gRPC connection.
func (x *Index) Close() error {
	return x.conn.Close()
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}
