package rag

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/hasanmiraz/shakespeareChatBot/internal/rag/store"
)

// faiss metric_type values
const (
	faissMetricInnerProduct int32 = 0
	faissMetricL2           int32 = 1
)

// FlatIndex is an exhaustive index loaded from a serialized faiss IndexFlat.
// Search scans every vector, so results are exact.
type FlatIndex struct {
	dim     int
	metric  Metric
	vectors []float32
}

// NewFlatIndex builds a flat index over the rows of m.
func NewFlatIndex(m *Matrix, metric Metric) (*FlatIndex, error) {
	if metric != MetricL2 && metric != MetricInnerProduct {
		return nil, fmt.Errorf("%w: flat index supports L2 and IP, got %s", ErrUnsupportedMetric, metric)
	}
	return &FlatIndex{dim: m.Dim, metric: metric, vectors: m.Data}, nil
}

// ReadFlatIndex decodes a faiss IndexFlatL2 / IndexFlatIP file as written
// by faiss.write_index.
func ReadFlatIndex(r io.Reader) (*FlatIndex, error) {
	var fourcc [4]byte
	if _, err := io.ReadFull(r, fourcc[:]); err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", ErrUnsupportedIndex, err)
	}
	switch string(fourcc[:]) {
	case "IxF2", "IxFI", "IxFl":
	default:
		return nil, fmt.Errorf("%w: fourcc %q is not a flat index", ErrUnsupportedIndex, fourcc[:])
	}

	var hdr struct {
		Dim       int32
		NTotal    int64
		Dummy1    int64
		Dummy2    int64
		IsTrained uint8
		Metric    int32
	}
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", ErrUnsupportedIndex, err)
	}
	if hdr.Metric > faissMetricL2 {
		var metricArg float32
		if err := binary.Read(r, binary.LittleEndian, &metricArg); err != nil {
			return nil, fmt.Errorf("%w: reading metric arg: %v", ErrUnsupportedIndex, err)
		}
	}

	var metric Metric
	switch hdr.Metric {
	case faissMetricL2:
		metric = MetricL2
	case faissMetricInnerProduct:
		metric = MetricInnerProduct
	default:
		return nil, fmt.Errorf("%w: faiss metric type %d", ErrUnsupportedMetric, hdr.Metric)
	}
	if hdr.Dim <= 0 || hdr.NTotal < 0 {
		return nil, fmt.Errorf("%w: d=%d ntotal=%d", ErrUnsupportedIndex, hdr.Dim, hdr.NTotal)
	}

	var count uint64
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("%w: reading vector count: %v", ErrUnsupportedIndex, err)
	}
	if count != uint64(hdr.NTotal)*uint64(hdr.Dim) {
		return nil, fmt.Errorf("%w: %d floats stored for %d vectors of dim %d", ErrUnsupportedIndex, count, hdr.NTotal, hdr.Dim)
	}

	vectors := make([]float32, count)
	if err := binary.Read(r, binary.LittleEndian, vectors); err != nil {
		return nil, fmt.Errorf("%w: reading vectors: %v", ErrUnsupportedIndex, err)
	}

	return &FlatIndex{dim: int(hdr.Dim), metric: metric, vectors: vectors}, nil
}

// WriteFlatIndex serializes f in the faiss IndexFlat layout read by
// ReadFlatIndex and faiss.read_index.
func WriteFlatIndex(w io.Writer, f *FlatIndex) error {
	fourcc, metric := "IxF2", faissMetricL2
	if f.metric == MetricInnerProduct {
		fourcc, metric = "IxFI", faissMetricInnerProduct
	}
	if _, err := io.WriteString(w, fourcc); err != nil {
		return err
	}
	hdr := struct {
		Dim       int32
		NTotal    int64
		Dummy1    int64
		Dummy2    int64
		IsTrained uint8
		Metric    int32
		Count     uint64
	}{
		Dim:       int32(f.dim),
		NTotal:    int64(f.Size()),
		Dummy1:    1 << 20,
		Dummy2:    1 << 20,
		IsTrained: 1,
		Metric:    metric,
		Count:     uint64(len(f.vectors)),
	}
	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, f.vectors)
}

// Search returns the k nearest vectors. L2 distances are squared and
// ascending; inner products are descending. Ties keep insertion order.
func (f *FlatIndex) Search(ctx context.Context, query []float32, k int) ([]Neighbor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(query) != f.dim {
		return nil, fmt.Errorf("%w: query dimension %d, index dimension %d", ErrInvalidDimension, len(query), f.dim)
	}
	n := f.Size()
	if k > n {
		k = n
	}
	if k <= 0 {
		return []Neighbor{}, nil
	}

	hits := make([]Neighbor, n)
	for i := 0; i < n; i++ {
		row := f.vectors[i*f.dim : (i+1)*f.dim]
		var d float32
		if f.metric == MetricInnerProduct {
			d = dot(query, row)
		} else {
			d = squaredL2(query, row)
		}
		hits[i] = Neighbor{Position: i, Distance: d}
	}

	if f.metric == MetricInnerProduct {
		sort.SliceStable(hits, func(a, b int) bool { return hits[a].Distance > hits[b].Distance })
	} else {
		sort.SliceStable(hits, func(a, b int) bool { return hits[a].Distance < hits[b].Distance })
	}
	return hits[:k], nil
}

// Size returns the number of stored vectors.
func (f *FlatIndex) Size() int {
	if f.dim == 0 {
		return 0
	}
	return len(f.vectors) / f.dim
}

// Dim returns the vector dimension.
func (f *FlatIndex) Dim() int { return f.dim }

// Metric returns L2 or IP.
func (f *FlatIndex) Metric() Metric { return f.metric }

// Close is a no-op.
func (f *FlatIndex) Close() error { return nil }

// FaissIndexOpener returns an IndexOpener that reads a serialized flat
// index from the named artifact.
func FaissIndexOpener(name string) IndexOpener {
	return func(ctx context.Context, src store.Source, _ *Matrix) (Index, error) {
		rc, err := src.Open(ctx, name)
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return ReadFlatIndex(rc)
	}
}

func dot(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func squaredL2(a, b []float32) float32 {
	var s float32
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}

func norm(a []float32) float32 {
	return float32(math.Sqrt(float64(dot(a, a))))
}

// cosine returns the cosine similarity of a and b, or 0 when either has
// zero norm.
func cosine(a, b []float32) float32 {
	na, nb := norm(a), norm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	return dot(a, b) / (na * nb)
}
