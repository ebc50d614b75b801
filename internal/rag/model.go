package rag

import (
	"fmt"
	"strconv"
)

// NoCandidatesMessage is the error text carried by a filtered retrieval that
// matched no passages.
const NoCandidatesMessage = "No documents match the Act and Scene filter"

// Metadata is the decoded metadata object of a passage record.
// The act, scene and play fields are string-typed in the source data.
type Metadata map[string]any

// String returns the value under key when it is a JSON string.
func (m Metadata) String(key string) (string, bool) {
	if m == nil {
		return "", false
	}
	s, ok := m[key].(string)
	return s, ok
}

// Act returns the act tag of the passage, if any.
func (m Metadata) Act() (string, bool) { return m.String("act") }

// Scene returns the scene tag of the passage, if any.
func (m Metadata) Scene() (string, bool) { return m.String("scene") }

// Play returns the play title of the passage, if any.
func (m Metadata) Play() (string, bool) { return m.String("play") }

// Passage is one pre-chunked span of a play.
type Passage struct {
	// ID is the document id, or the positional index when the record has none
	ID string `json:"id"`

	// Position is the row of this passage in the vector matrix and index
	Position int `json:"position"`

	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata"`
}

// QueryFilter narrows retrieval to passages tagged with an act and/or scene.
// A nil field places no constraint.
type QueryFilter struct {
	Act   *int `json:"act,omitempty"`
	Scene *int `json:"scene,omitempty"`
}

// IsEmpty reports whether the filter constrains nothing.
func (f QueryFilter) IsEmpty() bool {
	return f.Act == nil && f.Scene == nil
}

// Matches reports whether the passage metadata satisfies every non-nil
// field. Comparison is on the decimal string form of the filter value.
func (f QueryFilter) Matches(m Metadata) bool {
	if f.Act != nil {
		act, ok := m.Act()
		if !ok || act != strconv.Itoa(*f.Act) {
			return false
		}
	}
	if f.Scene != nil {
		scene, ok := m.Scene()
		if !ok || scene != strconv.Itoa(*f.Scene) {
			return false
		}
	}
	return true
}

func (f QueryFilter) String() string {
	act, scene := "any", "any"
	if f.Act != nil {
		act = strconv.Itoa(*f.Act)
	}
	if f.Scene != nil {
		scene = strconv.Itoa(*f.Scene)
	}
	return fmt.Sprintf("act=%s scene=%s", act, scene)
}

// RetrievalPath identifies which ranking strategy produced a Retrieval.
type RetrievalPath string

const (
	// PathFiltered is exact cosine ranking over the act/scene subset
	PathFiltered RetrievalPath = "filtered"
	// PathIndex is a nearest-neighbor query against the prebuilt index
	PathIndex RetrievalPath = "index"
)

// ScoreKind names the scale of Result.Score.
type ScoreKind string

const (
	// ScoreCosine is cosine similarity in [-1, 1], higher is closer
	ScoreCosine ScoreKind = "cosine"
	// ScoreL2Distance is squared euclidean distance, lower is closer
	ScoreL2Distance ScoreKind = "l2_distance"
	// ScoreInnerProduct is a raw dot product, higher is closer
	ScoreInnerProduct ScoreKind = "inner_product"
)

// Result is a retrieved passage together with its ranking score.
type Result struct {
	ID       string   `json:"id"`
	Position int      `json:"position"`
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata"`
	Score    float32  `json:"score"`
}

// Retrieval is the outcome of one Retrieve call.
//
// The two paths score on different scales: PathFiltered returns cosine
// similarity sorted descending, PathIndex returns whatever the index
// reports (see ScoreKind) in the index's own order.
type Retrieval struct {
	Results   []Result      `json:"results"`
	Filter    QueryFilter   `json:"filter"`
	Path      RetrievalPath `json:"path"`
	ScoreKind ScoreKind     `json:"score_kind"`

	// Error is set when a filtered retrieval matched no passages
	Error string `json:"error,omitempty"`
}

// NoCandidates reports whether the retrieval is the structured
// no-candidates outcome rather than a list of passages.
func (r *Retrieval) NoCandidates() bool {
	return r != nil && r.Error != ""
}

func resultFromPassage(p Passage, score float32) Result {
	return Result{
		ID:       p.ID,
		Position: p.Position,
		Text:     p.Text,
		Metadata: p.Metadata,
		Score:    score,
	}
}
