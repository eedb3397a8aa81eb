package perf

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
)

// Codec serializes payloads for durable writes and transfers, optionally
// gzip-compressed. Decode is the exact inverse of Encode for the same
// enabled flag.
type Codec struct {
	enabled bool
}

// NewCodec builds a Codec. When disabled it produces plain JSON.
func NewCodec(enabled bool) Codec {
	return Codec{enabled: enabled}
}

// Encode serializes v to JSON, gzipping the result when compression is
// enabled.
func (c Codec) Encode(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	if !c.enabled {
		return raw, nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("compress payload: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress payload: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode reverses Encode into v.
func (c Codec) Decode(data []byte, v interface{}) error {
	raw := data
	if c.enabled {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("decompress payload: %w", err)
		}
		raw, err = io.ReadAll(zr)
		if err != nil {
			return fmt.Errorf("decompress payload: %w", err)
		}
		if err := zr.Close(); err != nil {
			return fmt.Errorf("decompress payload: %w", err)
		}
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
