package rag

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/hasanmiraz/shakespeareChatBot/internal/rag/store"
)

// Common errors for Milvus operations
var (
	ErrEmptyRecords     = errors.New("no vectors provided for insertion")
	ErrConnectionFailed = errors.New("failed to connect to Milvus")
	ErrInsertFailed     = errors.New("failed to insert vectors")
)

const (
	milvusPositionField = "pos"
	milvusVectorField   = "embedding"
)

// MilvusConfig holds configuration for Milvus connection and collection
type MilvusConfig struct {
	Address        string // Milvus server address (e.g., "localhost:19530")
	CollectionName string // Name of the collection
	Dimension      int    // Vector dimension (768 for all-mpnet-base-v2)
	MetricType     Metric // L2, IP or COSINE

	// HNSW index parameters
	M              int // HNSW M parameter (default: 16)
	EfConstruction int // HNSW efConstruction (default: 256)
	Ef             int // HNSW search ef (default: 64)
}

// DefaultMilvusConfig returns the connection and HNSW defaults for a local
// Milvus holding all-mpnet-base-v2 vectors.
func DefaultMilvusConfig() MilvusConfig {
	return MilvusConfig{
		Address:        "localhost:19530",
		CollectionName: "shakespeare_passages",
		Dimension:      768,
		MetricType:     MetricL2,
		M:              16,
		EfConstruction: 256,
		Ef:             64,
	}
}

func (c MilvusConfig) entityMetric() (entity.MetricType, error) {
	switch c.MetricType {
	case MetricL2, "":
		return entity.L2, nil
	case MetricInnerProduct:
		return entity.IP, nil
	case MetricCosine:
		return entity.COSINE, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMetric, c.MetricType)
	}
}

// MilvusIndex is an Index backed by a Milvus collection whose primary key
// is the passage position.
type MilvusIndex struct {
	client client.Client
	config MilvusConfig
	metric entity.MetricType
}

// NewMilvusIndex connects to Milvus and ensures the collection exists with
// the positional schema and an HNSW index.
func NewMilvusIndex(ctx context.Context, config MilvusConfig) (*MilvusIndex, error) {
	if config.Dimension <= 0 {
		return nil, ErrInvalidDimension
	}
	metric, err := config.entityMetric()
	if err != nil {
		return nil, err
	}
	if config.MetricType == "" {
		config.MetricType = MetricL2
	}

	c, err := client.NewGrpcClient(ctx, config.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	idx := &MilvusIndex{
		client: c,
		config: config,
		metric: metric,
	}

	if err := idx.ensureCollection(ctx); err != nil {
		c.Close()
		return nil, err
	}

	return idx, nil
}

func (m *MilvusIndex) schema() *entity.Schema {
	return &entity.Schema{
		CollectionName: m.config.CollectionName,
		Description:    "Shakespeare passage embeddings keyed by corpus position",
		AutoID:         false,
		Fields: []*entity.Field{
			{
				Name:       milvusPositionField,
				DataType:   entity.FieldTypeInt64,
				PrimaryKey: true,
				AutoID:     false,
			},
			{
				Name:     milvusVectorField,
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": strconv.Itoa(m.config.Dimension),
				},
			},
		},
	}
}

// ensureCollection creates the collection with schema if it doesn't exist
func (m *MilvusIndex) ensureCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.config.CollectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}

	if !has {
		if err := m.client.CreateCollection(ctx, m.schema(), entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}

		idx, err := entity.NewIndexHNSW(m.metric, m.config.M, m.config.EfConstruction)
		if err != nil {
			return fmt.Errorf("failed to create index config: %w", err)
		}
		if err := m.client.CreateIndex(ctx, m.config.CollectionName, milvusVectorField, idx, false); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	if err := m.client.LoadCollection(ctx, m.config.CollectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}
	return nil
}

// Insert uploads rows of vectors with primary keys offset, offset+1, ...
func (m *MilvusIndex) Insert(ctx context.Context, offset int, vectors [][]float32) error {
	if len(vectors) == 0 {
		return ErrEmptyRecords
	}

	positions := make([]int64, len(vectors))
	for i, v := range vectors {
		if len(v) != m.config.Dimension {
			return fmt.Errorf("%w: row %d has %d values, want %d", ErrInvalidDimension, offset+i, len(v), m.config.Dimension)
		}
		positions[i] = int64(offset + i)
	}

	columns := []entity.Column{
		entity.NewColumnInt64(milvusPositionField, positions),
		entity.NewColumnFloatVector(milvusVectorField, m.config.Dimension, vectors),
	}
	if _, err := m.client.Insert(ctx, m.config.CollectionName, "", columns...); err != nil {
		return fmt.Errorf("%w: %v", ErrInsertFailed, err)
	}
	return nil
}

// Flush persists pending inserts.
func (m *MilvusIndex) Flush(ctx context.Context) error {
	if err := m.client.Flush(ctx, m.config.CollectionName, false); err != nil {
		return fmt.Errorf("failed to flush data: %w", err)
	}
	return nil
}

// Search performs top-K similarity search. Scores are the raw values Milvus
// reports for the collection metric.
func (m *MilvusIndex) Search(ctx context.Context, query []float32, k int) ([]Neighbor, error) {
	if len(query) != m.config.Dimension {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrInvalidDimension, m.config.Dimension, len(query))
	}
	if k <= 0 {
		return []Neighbor{}, nil
	}

	sp, err := entity.NewIndexHNSWSearchParam(m.config.Ef)
	if err != nil {
		return nil, fmt.Errorf("failed to create search params: %w", err)
	}

	results, err := m.client.Search(
		ctx,
		m.config.CollectionName,
		nil, // partition names
		"",
		[]string{milvusPositionField},
		[]entity.Vector{entity.FloatVector(query)},
		milvusVectorField,
		m.metric,
		k,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchFailed, err)
	}
	if len(results) == 0 {
		return []Neighbor{}, nil
	}

	ids, ok := results[0].IDs.(*entity.ColumnInt64)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected primary key column %T", ErrSearchFailed, results[0].IDs)
	}
	positions := ids.Data()

	neighbors := make([]Neighbor, 0, results[0].ResultCount)
	for i := 0; i < results[0].ResultCount && i < len(positions); i++ {
		neighbors = append(neighbors, Neighbor{
			Position: int(positions[i]),
			Distance: results[0].Scores[i],
		})
	}
	return neighbors, nil
}

// Size returns the collection row count, or 0 when stats are unavailable.
func (m *MilvusIndex) Size() int {
	stats, err := m.GetStats(context.Background())
	if err != nil {
		return 0
	}
	return stats.RowCount
}

// Dim returns the configured vector dimension.
func (m *MilvusIndex) Dim() int { return m.config.Dimension }

// Metric returns the collection metric.
func (m *MilvusIndex) Metric() Metric { return m.config.MetricType }

// MilvusStats summarises a collection.
type MilvusStats struct {
	Collection string `json:"collection"`
	RowCount   int    `json:"row_count"`
	Dimension  int    `json:"dimension"`
	Metric     Metric `json:"metric"`
}

// GetStats returns collection statistics
func (m *MilvusIndex) GetStats(ctx context.Context) (MilvusStats, error) {
	stats, err := m.client.GetCollectionStatistics(ctx, m.config.CollectionName)
	if err != nil {
		return MilvusStats{}, fmt.Errorf("failed to get stats: %w", err)
	}

	rows, err := strconv.Atoi(stats["row_count"])
	if err != nil {
		return MilvusStats{}, fmt.Errorf("failed to parse row count %q: %w", stats["row_count"], err)
	}
	return MilvusStats{
		Collection: m.config.CollectionName,
		RowCount:   rows,
		Dimension:  m.config.Dimension,
		Metric:     m.config.MetricType,
	}, nil
}

// Drop removes the collection.
func (m *MilvusIndex) Drop(ctx context.Context) error {
	if err := m.client.DropCollection(ctx, m.config.CollectionName); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	return nil
}

// Close releases resources and closes the Milvus connection
func (m *MilvusIndex) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}

// MilvusIndexOpener returns an IndexOpener that connects to the configured
// collection. The dimension is taken from the loaded vectors.
func MilvusIndexOpener(config MilvusConfig) IndexOpener {
	return func(ctx context.Context, _ store.Source, vectors *Matrix) (Index, error) {
		if vectors != nil && vectors.Dim > 0 {
			config.Dimension = vectors.Dim
		}
		return NewMilvusIndex(ctx, config)
	}
}
