package cache

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec serializes cache values with msgpack and optionally LZ4
type Codec struct {
	Compress bool
}

// NewCodec creates a codec
func NewCodec(compress bool) *Codec {
	return &Codec{Compress: compress}
}

// Encode serializes v
func (c *Codec) Encode(v interface{}) ([]byte, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cache value: %w", err)
	}
	if !c.Compress {
		return data, nil
	}
	return compressLZ4(data)
}

// Decode deserializes data into v
func (c *Codec) Decode(data []byte, v interface{}) error {
	if c.Compress {
		raw, err := decompressLZ4(data)
		if err != nil {
			return err
		}
		data = raw
	}
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal cache value: %w", err)
	}
	return nil
}

func compressLZ4(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	writer := lz4.NewWriter(&buf)
	if _, err := writer.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write compressed data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close lz4 writer: %w", err)
	}

	return buf.Bytes(), nil
}

func decompressLZ4(data []byte) ([]byte, error) {
	reader := lz4.NewReader(bytes.NewReader(data))

	out, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read decompressed data: %w", err)
	}
	return out, nil
}
