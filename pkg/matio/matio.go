// Package matio reads and writes dense matrices in the lush binary matrix format.
//
// A file is a little endian int32 magic number (which also encodes the element type),
// an int32 dimension count, at least 3 int32 dimensions (unused ones are 1),
// followed by the elements in row major order.
package matio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

const (
	MagicFloat32 int32 = 0x1E3D4C51
	MagicInt32   int32 = 0x1E3D4C54
)

const maxDims = 8

var ErrBadMagic = errors.New("Not a matrix file")

// Matrix is an N-dimensional array. Exactly one of Float32 or Int32 is populated.
type Matrix struct {
	Dims    []int
	Float32 []float32
	Int32   []int32
}

func NumElements(dims []int) int {
	n := 1
	for _, d := range dims {
		n *= d
	}
	return n
}

func writeHeader(w io.Writer, magic int32, dims []int) error {
	if len(dims) == 0 || len(dims) > maxDims {
		return fmt.Errorf("Matrix must have between 1 and %v dimensions, not %v", maxDims, len(dims))
	}
	hdr := []int32{magic, int32(len(dims))}
	for _, d := range dims {
		hdr = append(hdr, int32(d))
	}
	for i := len(dims); i < 3; i++ {
		hdr = append(hdr, 1)
	}
	return binary.Write(w, binary.LittleEndian, hdr)
}

// WriteFloat32 writes a float32 matrix. len(data) must equal the product of dims.
func WriteFloat32(w io.Writer, dims []int, data []float32) error {
	if NumElements(dims) != len(data) {
		return fmt.Errorf("Matrix dimensions %v need %v elements, but there are %v", dims, NumElements(dims), len(data))
	}
	if err := writeHeader(w, MagicFloat32, dims); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, data)
}

// WriteInt32 writes an int32 matrix. len(data) must equal the product of dims.
func WriteInt32(w io.Writer, dims []int, data []int32) error {
	if NumElements(dims) != len(data) {
		return fmt.Errorf("Matrix dimensions %v need %v elements, but there are %v", dims, NumElements(dims), len(data))
	}
	if err := writeHeader(w, MagicInt32, dims); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, data)
}

// Read a matrix of either type
func Read(r io.Reader) (*Matrix, error) {
	var hdr [2]int32
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, err
	}
	magic, ndims := hdr[0], int(hdr[1])
	if magic != MagicFloat32 && magic != MagicInt32 {
		return nil, fmt.Errorf("%w (magic %x)", ErrBadMagic, magic)
	}
	if ndims < 1 || ndims > maxDims {
		return nil, fmt.Errorf("Invalid number of matrix dimensions %v", ndims)
	}
	raw := make([]int32, max(ndims, 3))
	if err := binary.Read(r, binary.LittleEndian, raw); err != nil {
		return nil, err
	}
	m := &Matrix{}
	for _, d := range raw[:ndims] {
		if d < 0 {
			return nil, fmt.Errorf("Invalid matrix dimension %v", d)
		}
		m.Dims = append(m.Dims, int(d))
	}
	n := NumElements(m.Dims)
	if magic == MagicFloat32 {
		m.Float32 = make([]float32, n)
		return m, binary.Read(r, binary.LittleEndian, m.Float32)
	}
	m.Int32 = make([]int32, n)
	return m, binary.Read(r, binary.LittleEndian, m.Int32)
}

// Save writes a matrix file, using write to produce the content
func Save(filename string, write func(w io.Writer) error) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	buf := bufio.NewWriter(f)
	err = write(buf)
	if err == nil {
		err = buf.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("Failed to write %v: %w", filename, err)
	}
	return nil
}

func Load(filename string) (*Matrix, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	m, err := Read(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("Failed to read %v: %w", filename, err)
	}
	return m, nil
}
