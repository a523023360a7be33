package store

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"math"
)

// encodeFloats packs values as little-endian float64 and gzips them. A nil
// slice encodes to nil so it round-trips as SQL NULL.
func encodeFloats(values []float64) ([]byte, error) {
	if values == nil {
		return nil, nil
	}
	raw := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(raw[8*i:], math.Float64bits(v))
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		return nil, fmt.Errorf("compress floats: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("close gzip: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeFloats reverses encodeFloats.
func decodeFloats(compressed []byte) ([]float64, error) {
	if compressed == nil {
		return nil, nil
	}
	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	defer gz.Close()

	raw, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("decompress floats: %w", err)
	}
	if len(raw)%8 != 0 {
		return nil, fmt.Errorf("decompress floats: %d bytes is not a multiple of 8", len(raw))
	}
	out := make([]float64, len(raw)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[8*i:]))
	}
	return out, nil
}

// hashFloats returns the hex sha256 of the packed arrays.
func hashFloats(arrays ...[]float64) string {
	h := sha256.New()
	var b [8]byte
	for _, a := range arrays {
		binary.LittleEndian.PutUint64(b[:], uint64(len(a)))
		h.Write(b[:])
		for _, v := range a {
			binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
			h.Write(b[:])
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// blobArg binds nil blobs as SQL NULL.
func blobArg(b []byte) any {
	if b == nil {
		return nil
	}
	return b
}
