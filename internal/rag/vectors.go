package rag

import (
	"errors"
	"fmt"
	"io"

	"github.com/sbinet/npyio"
)

// ErrInvalidVectors is returned for vector files that are not a 2-D float matrix.
var ErrInvalidVectors = errors.New("invalid vector file")

// Matrix is a dense row-major float32 matrix; row i is the vector of passage i.
type Matrix struct {
	Rows int
	Dim  int
	Data []float32
}

// NewMatrix builds a matrix from rows of equal length.
func NewMatrix(rows [][]float32) (*Matrix, error) {
	m := &Matrix{Rows: len(rows)}
	if len(rows) == 0 {
		return m, nil
	}
	m.Dim = len(rows[0])
	m.Data = make([]float32, 0, len(rows)*m.Dim)
	for i, row := range rows {
		if len(row) != m.Dim {
			return nil, fmt.Errorf("%w: row %d has %d values, want %d", ErrInvalidDimension, i, len(row), m.Dim)
		}
		m.Data = append(m.Data, row...)
	}
	return m, nil
}

// Row returns a view of row i.
func (m *Matrix) Row(i int) []float32 {
	return m.Data[i*m.Dim : (i+1)*m.Dim]
}

// ReadVectors decodes a NumPy .npy file holding a [rows, dim] float32 or
// float64 array in C order.
func ReadVectors(r io.Reader) (*Matrix, error) {
	npy, err := npyio.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVectors, err)
	}

	descr := npy.Header.Descr
	if descr.Fortran {
		return nil, fmt.Errorf("%w: fortran-ordered arrays are not supported", ErrInvalidVectors)
	}
	if len(descr.Shape) != 2 {
		return nil, fmt.Errorf("%w: expected a 2-D array, got shape %v", ErrInvalidVectors, descr.Shape)
	}
	rows, dim := descr.Shape[0], descr.Shape[1]
	if dim <= 0 && rows > 0 {
		return nil, fmt.Errorf("%w: dimension %d", ErrInvalidDimension, dim)
	}

	m := &Matrix{Rows: rows, Dim: dim}
	switch descr.Type {
	case "<f4", "|f4":
		if err := npy.Read(&m.Data); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidVectors, err)
		}
	case "<f8", "|f8":
		var wide []float64
		if err := npy.Read(&wide); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidVectors, err)
		}
		m.Data = make([]float32, len(wide))
		for i, v := range wide {
			m.Data[i] = float32(v)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported dtype %q", ErrInvalidVectors, descr.Type)
	}
	if len(m.Data) != rows*dim {
		return nil, fmt.Errorf("%w: read %d values for shape (%d, %d)", ErrInvalidVectors, len(m.Data), rows, dim)
	}

	return m, nil
}
