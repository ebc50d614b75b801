package rag

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// ErrInvalidDocuments is returned for a malformed documents file.
var ErrInvalidDocuments = errors.New("invalid documents file")

type documentRecord struct {
	ID       json.RawMessage `json:"id"`
	Text     *string         `json:"text"`
	Metadata Metadata        `json:"metadata"`
}

// ReadDocuments decodes the JSON array of passage records. Records keep
// their file order; a record without an id gets its position as id.
func ReadDocuments(r io.Reader) ([]Passage, error) {
	var records []documentRecord
	dec := json.NewDecoder(r)
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocuments, err)
	}

	passages := make([]Passage, len(records))
	for i, rec := range records {
		if rec.Text == nil {
			return nil, fmt.Errorf("%w: record %d has no text", ErrInvalidDocuments, i)
		}
		id, err := decodeID(rec.ID, i)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrInvalidDocuments, i, err)
		}
		md := rec.Metadata
		if md == nil {
			md = Metadata{}
		}
		passages[i] = Passage{
			ID:       id,
			Position: i,
			Text:     *rec.Text,
			Metadata: md,
		}
	}
	return passages, nil
}

func decodeID(raw json.RawMessage, position int) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return strconv.Itoa(position), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("id must be a string or number, got %s", raw)
}
