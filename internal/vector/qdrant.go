package vector

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/zulandar/switchboard/internal/logging"
	"go.uber.org/zap"
)

// keyNamespace derives stable Qdrant point UUIDs from caller keys.
var keyNamespace = uuid.MustParse("6f1c2a4e-8d3b-4c5a-9e7f-0a1b2c3d4e5f")

// keyField is the payload field holding the caller's key.
const keyField = "key"

// QdrantConfig addresses one Qdrant collection.
type QdrantConfig struct {
	URL          string // e.g. "http://localhost:6333"; REST ports map to gRPC 6334
	APIKey       string
	Collection   string
	Dims         uint64
	FilterFields []string // payload fields to index as keywords
}

// Qdrant is an Index backed by a Qdrant collection.
type Qdrant struct {
	client     *qdrant.Client
	collection string
	dims       uint64
	fields     []string
	logger     *zap.Logger
}

// PointID returns the Qdrant UUID for a caller key.
func PointID(key string) string {
	return uuid.NewSHA1(keyNamespace, []byte(key)).String()
}

func parseQdrantURL(rawURL string) (host string, port int, useTLS bool, err error) {
	u, parseErr := url.Parse(rawURL)
	if parseErr != nil || u.Host == "" {
		return "", 0, false, fmt.Errorf("vector: invalid qdrant URL: %q", rawURL)
	}
	useTLS = u.Scheme == "https"
	host = u.Hostname()
	port = 6334
	if portStr := u.Port(); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return "", 0, false, fmt.Errorf("vector: invalid port in qdrant URL: %q", portStr)
		}
		if p != 6333 {
			port = p
		}
	}
	return host, port, useTLS, nil
}

// NewQdrant connects to Qdrant. Call EnsureCollection before use.
func NewQdrant(cfg QdrantConfig, logger *zap.Logger) (*Qdrant, error) {
	if cfg.Collection == "" {
		return nil, fmt.Errorf("vector: qdrant collection is required")
	}
	host, port, useTLS, err := parseQdrantURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("vector: connect to qdrant at %s:%d: %w", host, port, err)
	}
	return &Qdrant{
		client:     client,
		collection: cfg.Collection,
		dims:       cfg.Dims,
		fields:     cfg.FilterFields,
		logger:     logging.OrNop(logger).Named("qdrant"),
	}, nil
}

// EnsureCollection creates the collection and its keyword payload indexes
// if they are missing.
func (q *Qdrant) EnsureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("vector: check collection %q: %w", q.collection, err)
	}
	if !exists {
		if err := q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: q.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     q.dims,
				Distance: qdrant.Distance_Cosine,
			}),
		}); err != nil {
			return fmt.Errorf("vector: create collection %q: %w", q.collection, err)
		}
		q.logger.Info("created collection", zap.String("collection", q.collection), zap.Uint64("dims", q.dims))
	}

	keywordType := qdrant.FieldType_FieldTypeKeyword
	for _, field := range q.fields {
		if _, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: q.collection,
			FieldName:      field,
			FieldType:      &keywordType,
		}); err != nil {
			return fmt.Errorf("vector: ensure index on %q: %w", field, err)
		}
	}
	return nil
}

// Upsert implements Index.
func (q *Qdrant) Upsert(ctx context.Context, points ...Point) error {
	if len(points) == 0 {
		return nil
	}
	qpoints := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		payload := make(map[string]any, len(p.Payload)+1)
		for k, v := range p.Payload {
			payload[k] = v
		}
		payload[keyField] = p.Key
		qpoints[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(PointID(p.Key)),
			Vectors: qdrant.NewVectorsDense(p.Vector),
			Payload: qdrant.NewValueMap(payload),
		}
	}
	if _, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qpoints,
	}); err != nil {
		return fmt.Errorf("vector: qdrant upsert %d points: %w", len(points), err)
	}
	return nil
}

// Query implements Index.
func (q *Qdrant) Query(ctx context.Context, vec []float32, filter map[string]string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 10
	}
	var qfilter *qdrant.Filter
	if len(filter) > 0 {
		must := make([]*qdrant.Condition, 0, len(filter))
		for k, v := range filter {
			must = append(must, qdrant.NewMatch(k, v))
		}
		qfilter = &qdrant.Filter{Must: must}
	}
	fetch := uint64(limit)
	scored, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vec),
		Filter:         qfilter,
		Limit:          &fetch,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("vector: qdrant query: %w", err)
	}

	hits := make([]Hit, 0, len(scored))
	for _, sp := range scored {
		payload := make(map[string]string, len(sp.Payload))
		for k, v := range sp.Payload {
			payload[k] = v.GetStringValue()
		}
		key := payload[keyField]
		if key == "" {
			q.logger.Warn("point without key payload", zap.String("id", sp.Id.GetUuid()))
			continue
		}
		delete(payload, keyField)
		hits = append(hits, Hit{Key: key, Score: sp.Score, Payload: payload})
	}
	return hits, nil
}

// Delete implements Index.
func (q *Qdrant) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ids := make([]*qdrant.PointId, len(keys))
	for i, k := range keys {
		ids[i] = qdrant.NewID(PointID(k))
	}
	if _, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: ids},
			},
		},
	}); err != nil {
		return fmt.Errorf("vector: qdrant delete %d points: %w", len(keys), err)
	}
	return nil
}

// Close releases the gRPC connection.
func (q *Qdrant) Close() error {
	return q.client.Close()
}
