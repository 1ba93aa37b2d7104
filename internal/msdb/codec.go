package msdb

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Array cells are stored as little-endian packed blobs. A nil slice encodes
// to a NULL blob.

func EncodeComplex64(v []complex64) []byte {
	if v == nil {
		return nil
	}
	b := make([]byte, 8*len(v))
	for i, c := range v {
		binary.LittleEndian.PutUint32(b[8*i:], math.Float32bits(real(c)))
		binary.LittleEndian.PutUint32(b[8*i+4:], math.Float32bits(imag(c)))
	}
	return b
}

func DecodeComplex64(b []byte) ([]complex64, error) {
	if b == nil {
		return nil, nil
	}
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("complex blob length %d is not a multiple of 8", len(b))
	}
	v := make([]complex64, len(b)/8)
	for i := range v {
		re := math.Float32frombits(binary.LittleEndian.Uint32(b[8*i:]))
		im := math.Float32frombits(binary.LittleEndian.Uint32(b[8*i+4:]))
		v[i] = complex(re, im)
	}
	return v, nil
}

func EncodeFloat32(v []float32) []byte {
	if v == nil {
		return nil
	}
	b := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(f))
	}
	return b
}

func DecodeFloat32(b []byte) ([]float32, error) {
	if b == nil {
		return nil, nil
	}
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("float32 blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

func EncodeFloat64(v []float64) []byte {
	if v == nil {
		return nil
	}
	b := make([]byte, 8*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint64(b[8*i:], math.Float64bits(f))
	}
	return b
}

func DecodeFloat64(b []byte) ([]float64, error) {
	if b == nil {
		return nil, nil
	}
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("float64 blob length %d is not a multiple of 8", len(b))
	}
	v := make([]float64, len(b)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[8*i:]))
	}
	return v, nil
}

func EncodeBool(v []bool) []byte {
	if v == nil {
		return nil
	}
	b := make([]byte, len(v))
	for i, f := range v {
		if f {
			b[i] = 1
		}
	}
	return b
}

func DecodeBool(b []byte) []bool {
	if b == nil {
		return nil
	}
	v := make([]bool, len(b))
	for i, x := range b {
		v[i] = x != 0
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
