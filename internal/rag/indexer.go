package rag

import (
	"context"
	"fmt"
)

// VectorUploader receives passage vectors keyed by corpus position.
type VectorUploader interface {
	Insert(ctx context.Context, offset int, vectors [][]float32) error
	Flush(ctx context.Context) error
}

// PushOptions controls how vectors are uploaded.
type PushOptions struct {
	BatchSize int

	// Progress, when set, is called after each batch with rows done so far
	Progress func(done, total int)
}

// DefaultPushOptions returns sensible defaults for uploading
func DefaultPushOptions() PushOptions {
	return PushOptions{BatchSize: 512}
}

// PushVectors uploads every row of vectors in batches, using the row index
// as primary key so that index hits map straight back to passages.
func PushVectors(ctx context.Context, vectors *Matrix, uploader VectorUploader, opts PushOptions) error {
	if vectors == nil || vectors.Rows == 0 {
		return ErrEmptyRecords
	}
	if uploader == nil {
		return fmt.Errorf("uploader cannot be nil")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultPushOptions().BatchSize
	}

	for start := 0; start < vectors.Rows; start += opts.BatchSize {
		end := start + opts.BatchSize
		if end > vectors.Rows {
			end = vectors.Rows
		}

		batch := make([][]float32, 0, end-start)
		for i := start; i < end; i++ {
			batch = append(batch, vectors.Row(i))
		}

		if err := uploader.Insert(ctx, start, batch); err != nil {
			return fmt.Errorf("failed to insert batch starting at %d: %w", start, err)
		}
		if opts.Progress != nil {
			opts.Progress(end, vectors.Rows)
		}
	}

	if err := uploader.Flush(ctx); err != nil {
		return fmt.Errorf("failed to flush vectors: %w", err)
	}
	return nil
}
