package rag

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hasanmiraz/shakespeareChatBot/internal/rag/store"
)

// ErrInconsistentArtifacts is returned when the vectors, index and
// documents do not describe the same passage sequence.
var ErrInconsistentArtifacts = errors.New("inconsistent retrieval artifacts")

// ConsistencyError reports which count or dimension disagreed.
type ConsistencyError struct {
	What string
	Want int
	Got  int
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("%s: %s: want %d, got %d", ErrInconsistentArtifacts, e.What, e.Want, e.Got)
}

func (e *ConsistencyError) Unwrap() error { return ErrInconsistentArtifacts }

// ArtifactPaths names the three artifacts inside a store.Source.
type ArtifactPaths struct {
	Vectors   string `yaml:"vectors"`
	Index     string `yaml:"index"`
	Documents string `yaml:"documents"`
}

// PassageStore holds the passages, their vectors and the ANN index over
// them. Position i in each refers to the same passage. It is read-only
// after construction.
type PassageStore struct {
	passages []Passage
	vectors  *Matrix
	index    Index
}

// NewPassageStore validates and assembles a store from loaded parts.
func NewPassageStore(passages []Passage, vectors *Matrix, index Index) (*PassageStore, error) {
	if vectors == nil {
		return nil, &ConsistencyError{What: "vector rows", Want: len(passages), Got: 0}
	}
	if index == nil {
		return nil, ErrIndexNotInitialized
	}
	if vectors.Rows != len(passages) {
		return nil, &ConsistencyError{What: "vector rows", Want: len(passages), Got: vectors.Rows}
	}
	if n := index.Size(); n != len(passages) {
		return nil, &ConsistencyError{What: "index size", Want: len(passages), Got: n}
	}
	if len(passages) > 0 && index.Dim() != vectors.Dim {
		return nil, &ConsistencyError{What: "index dimension", Want: vectors.Dim, Got: index.Dim()}
	}

	ps := make([]Passage, len(passages))
	copy(ps, passages)
	for i := range ps {
		ps[i].Position = i
	}
	return &PassageStore{passages: ps, vectors: vectors, index: index}, nil
}

// LoadPassageStore reads vectors, documents and index from src and checks
// that they agree.
func LoadPassageStore(ctx context.Context, src store.Source, paths ArtifactPaths, opener IndexOpener) (*PassageStore, error) {
	if opener == nil {
		opener = FaissIndexOpener(paths.Index)
	}

	vectors, err := readArtifact(ctx, src, paths.Vectors, ReadVectors)
	if err != nil {
		return nil, err
	}
	passages, err := readArtifact(ctx, src, paths.Documents, ReadDocuments)
	if err != nil {
		return nil, err
	}
	// Fail before touching the index when the cheap check already fails.
	if vectors.Rows != len(passages) {
		return nil, &ConsistencyError{What: "vector rows", Want: len(passages), Got: vectors.Rows}
	}

	index, err := opener(ctx, src, vectors)
	if err != nil {
		return nil, fmt.Errorf("opening index: %w", err)
	}

	ps, err := NewPassageStore(passages, vectors, index)
	if err != nil {
		index.Close()
		return nil, err
	}
	return ps, nil
}

// LoadVectors reads only the vector matrix artifact from src.
func LoadVectors(ctx context.Context, src store.Source, name string) (*Matrix, error) {
	return readArtifact(ctx, src, name, ReadVectors)
}

func readArtifact[T any](ctx context.Context, src store.Source, name string, decode func(io.Reader) (T, error)) (T, error) {
	var zero T
	rc, err := src.Open(ctx, name)
	if err != nil {
		return zero, fmt.Errorf("opening %s: %w", name, err)
	}
	defer rc.Close()

	v, err := decode(rc)
	if err != nil {
		return zero, fmt.Errorf("reading %s: %w", name, err)
	}
	return v, nil
}

// Len returns the number of passages.
func (s *PassageStore) Len() int { return len(s.passages) }

// Passage returns the passage at position i.
func (s *PassageStore) Passage(i int) Passage { return s.passages[i] }

// Passages returns the passages in corpus order. Callers must not modify it.
func (s *PassageStore) Passages() []Passage { return s.passages }

// Vectors returns the passage vector matrix.
func (s *PassageStore) Vectors() *Matrix { return s.vectors }

// Index returns the ANN index.
func (s *PassageStore) Index() Index { return s.index }

// Dim returns the embedding dimension.
func (s *PassageStore) Dim() int { return s.vectors.Dim }

// Close releases the index.
func (s *PassageStore) Close() error { return s.index.Close() }
