package rag

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/hasanmiraz/shakespeareChatBot/internal/rag/store"
)

// npyBytes encodes rows as a little-endian float32 .npy v1.0 file.
func npyBytes(rows [][]float32) []byte {
	dim := 0
	if len(rows) > 0 {
		dim = len(rows[0])
	}
	header := fmt.Sprintf("{'descr': '<f4', 'fortran_order': False, 'shape': (%d, %d), }", len(rows), dim)
	// magic(6) + version(2) + header length(2) + header + '\n' is padded to 64
	total := 10 + len(header) + 1
	if pad := total % 64; pad != 0 {
		header += strings.Repeat(" ", 64-pad)
	}
	header += "\n"

	var buf bytes.Buffer
	buf.WriteString("\x93NUMPY")
	buf.Write([]byte{1, 0})
	binary.Write(&buf, binary.LittleEndian, uint16(len(header)))
	buf.WriteString(header)
	for _, row := range rows {
		binary.Write(&buf, binary.LittleEndian, row)
	}
	return buf.Bytes()
}

// faissFlatBytes encodes rows as a faiss IndexFlat file. metricType is
// faiss's numbering: 0 inner product, 1 L2.
func faissFlatBytes(fourcc string, metricType int32, rows [][]float32) []byte {
	dim := 0
	if len(rows) > 0 {
		dim = len(rows[0])
	}
	var buf bytes.Buffer
	buf.WriteString(fourcc)
	binary.Write(&buf, binary.LittleEndian, int32(dim))
	binary.Write(&buf, binary.LittleEndian, int64(len(rows)))
	binary.Write(&buf, binary.LittleEndian, int64(1<<20))
	binary.Write(&buf, binary.LittleEndian, int64(1<<20))
	buf.WriteByte(1)
	binary.Write(&buf, binary.LittleEndian, metricType)
	binary.Write(&buf, binary.LittleEndian, uint64(len(rows)*dim))
	for _, row := range rows {
		binary.Write(&buf, binary.LittleEndian, row)
	}
	return buf.Bytes()
}

// memSource is an in-memory store.Source.
type memSource map[string][]byte

func (m memSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	data, ok := m[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrArtifactNotFound, name)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m memSource) Describe() string { return "memory" }
func (m memSource) Close() error     { return nil }

// mockEmbedder implements Embedder interface for testing
type mockEmbedder struct {
	vectors   map[string][]float32
	fallback  []float32
	embedFunc func(ctx context.Context, texts []string) ([]EmbeddingRecord, error)
	calls     int
}

func (m *mockEmbedder) Embed(ctx context.Context, texts []string) ([]EmbeddingRecord, error) {
	m.calls++
	if m.embedFunc != nil {
		return m.embedFunc(ctx, texts)
	}
	if len(texts) == 0 {
		return nil, ErrEmptyTexts
	}
	records := make([]EmbeddingRecord, len(texts))
	for i, text := range texts {
		vec, ok := m.vectors[text]
		if !ok {
			vec = m.fallback
		}
		records[i] = EmbeddingRecord{
			Text:      text,
			Embedding: vec,
			Index:     i,
			Model:     "mock",
		}
	}
	return records, nil
}

func (m *mockEmbedder) GetModel() string  { return "mock" }
func (m *mockEmbedder) GetDimension() int { return len(m.fallback) }

func intPtr(n int) *int { return &n }

// fixturePassages is a small corpus tagged like the real documents file.
func fixturePassages() []Passage {
	tag := func(act, scene string) Metadata {
		return Metadata{"act": act, "scene": scene, "play": "Hamlet"}
	}
	return []Passage{
		{ID: "p0", Text: "Who's there?", Metadata: tag("1", "1")},
		{ID: "p1", Text: "Nay, answer me: stand, and unfold yourself.", Metadata: tag("1", "1")},
		{ID: "p2", Text: "Long live the king!", Metadata: tag("1", "1")},
		{ID: "p3", Text: "Though yet of Hamlet our dear brother's death", Metadata: tag("1", "2")},
		{ID: "p4", Text: "To be, or not to be, that is the question", Metadata: tag("3", "1")},
		{ID: "p5", Text: "The play's the thing", Metadata: tag("2", "2")},
		{ID: "p6", Text: "Exeunt.", Metadata: Metadata{}},
	}
}

func fixtureVectors() [][]float32 {
	return [][]float32{
		{1, 0, 0},
		{0.8, 0.6, 0},
		{0, 1, 0},
		{0.6, 0.8, 0},
		{0, 0, 1},
		{0.5, 0.5, 0.7071},
		{0, 0, 0},
	}
}

func fixtureStore(metric Metric) (*PassageStore, error) {
	m, err := NewMatrix(fixtureVectors())
	if err != nil {
		return nil, err
	}
	idx, err := NewFlatIndex(m, metric)
	if err != nil {
		return nil, err
	}
	return NewPassageStore(fixturePassages(), m, idx)
}

const fixtureDocuments = `[
  {"id": "p0", "text": "Who's there?", "metadata": {"act": "1", "scene": "1", "play": "Hamlet"}},
  {"id": 7, "text": "Nay, answer me", "metadata": {"act": "1", "scene": "1"}},
  {"text": "Long live the king!", "metadata": {"act": "1", "scene": "1"}}
]`
