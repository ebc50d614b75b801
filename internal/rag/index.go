package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hasanmiraz/shakespeareChatBot/internal/rag/store"
)

// Common errors for index operations
var (
	ErrInvalidDimension    = errors.New("invalid vector dimension")
	ErrSearchFailed        = errors.New("failed to search vectors")
	ErrUnsupportedIndex    = errors.New("unsupported index format")
	ErrUnsupportedMetric   = errors.New("unsupported metric type")
	ErrIndexNotInitialized = errors.New("index not initialized")
)

// Metric is the native distance of an ANN index.
type Metric string

const (
	MetricL2           Metric = "L2"
	MetricInnerProduct Metric = "IP"
	MetricCosine       Metric = "COSINE"
)

// ParseMetric parses a metric name case-insensitively.
func ParseMetric(s string) (Metric, error) {
	switch Metric(strings.ToUpper(strings.TrimSpace(s))) {
	case MetricL2, "":
		return MetricL2, nil
	case MetricInnerProduct:
		return MetricInnerProduct, nil
	case MetricCosine:
		return MetricCosine, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMetric, s)
	}
}

// ScoreKind returns the score scale produced by searching with this metric.
func (m Metric) ScoreKind() ScoreKind {
	switch m {
	case MetricInnerProduct:
		return ScoreInnerProduct
	case MetricCosine:
		return ScoreCosine
	default:
		return ScoreL2Distance
	}
}

// Neighbor is one hit from an index search. Position references the
// passage sequence of the store the index was built for.
type Neighbor struct {
	Position int
	Distance float32
}

// Index is a nearest-neighbor structure over the passage vectors.
// Results come back most-similar first by the index's own convention.
type Index interface {
	// Search returns up to k neighbors of the query vector
	Search(ctx context.Context, query []float32, k int) ([]Neighbor, error)

	// Size returns the number of indexed vectors
	Size() int

	// Dim returns the vector dimension
	Dim() int

	// Metric returns the native distance
	Metric() Metric

	// Close releases resources held by the index
	Close() error
}

// IndexOpener builds the Index for a store whose artifacts live in src.
// The vectors are passed so that remote indexes can validate against them.
type IndexOpener func(ctx context.Context, src store.Source, vectors *Matrix) (Index, error)
