// Package zarr drives the on-disk chunked array format (zarr v2). It
// encodes datasets into group, array and attribute documents plus
// compressed chunk files, and reads them back. Cube writes leave the
// package as bytes and reach the filesystem through the caller, which is
// what lets the transaction engine journal every write. OpenGroup,
// ReadVariable and the unjournalled WriteDataset access the filesystem
// themselves.
package zarr

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"io"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/ajitpratap0/tessera/pkg/config"
	"github.com/ajitpratap0/tessera/pkg/errors"
)

// Codec compresses and decompresses chunk payloads. Implementations are
// safe for concurrent use.
type Codec interface {
	// ID returns the registry id stored in the array metadata.
	ID() string
	// Encode compresses data. The input is not modified.
	Encode(data []byte) ([]byte, error)
	// Decode decompresses data. The input is not modified.
	Decode(data []byte) ([]byte, error)
}

// DefaultCompressor is the compressor applied when a variable's encoding
// names none.
var DefaultCompressor = &config.CodecSpec{ID: "zlib", Level: 1}

// NewCodec builds the codec for spec. A nil spec or the id "null" yields
// nil, meaning chunks are stored raw.
func NewCodec(spec *config.CodecSpec) (Codec, error) {
	if spec == nil || spec.ID == "" || spec.ID == "null" {
		return nil, nil
	}
	switch spec.ID {
	case "zlib":
		return zlibCodec{level: normalizeLevel(spec.Level, zlib.DefaultCompression)}, nil
	case "gzip":
		return gzipCodec{level: normalizeLevel(spec.Level, gzip.DefaultCompression)}, nil
	case "zstd":
		return zstdCodec{level: spec.Level}, nil
	case "lz4":
		return lz4Codec{level: spec.Level}, nil
	case "snappy":
		return snappyCodec{}, nil
	case "s2":
		return s2Codec{}, nil
	}
	return nil, errors.Newf(errors.ErrorTypeConfig, "unknown compressor id %q", spec.ID)
}

func normalizeLevel(level, fallback int) int {
	if level == 0 {
		return fallback
	}
	return level
}

type zlibCodec struct{ level int }

func (zlibCodec) ID() string { return "zlib" }

func (c zlibCodec) Encode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (zlibCodec) Decode(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

type gzipCodec struct{ level int }

func (gzipCodec) ID() string { return "gzip" }

func (c gzipCodec) Encode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	level := c.level
	if level < flate.HuffmanOnly || level > gzip.BestCompression {
		level = gzip.DefaultCompression
	}
	w, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gzipCodec) Decode(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

type zstdCodec struct{ level int }

func (zstdCodec) ID() string { return "zstd" }

func (c zstdCodec) Encode(data []byte) ([]byte, error) {
	level := zstd.SpeedDefault
	if c.level > 0 {
		level = zstd.EncoderLevelFromZstd(c.level)
	}
	w, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, err
	}
	out := w.EncodeAll(data, nil)
	_ = w.Close()
	return out, nil
}

func (zstdCodec) Decode(data []byte) ([]byte, error) {
	r, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.DecodeAll(data, nil)
}

type lz4Codec struct{ level int }

func (lz4Codec) ID() string { return "lz4" }

func (c lz4Codec) Encode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if err := w.Apply(lz4.CompressionLevelOption(mapLZ4Level(c.level))); err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (lz4Codec) Decode(data []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(data))
	return io.ReadAll(r)
}

// mapLZ4Level converts a numeric 0-9 level to the lz4 v4 API's level
// constants.
func mapLZ4Level(level int) lz4.CompressionLevel {
	switch {
	case level <= 0:
		return lz4.Fast
	case level >= 9:
		return lz4.Level9
	}
	return [...]lz4.CompressionLevel{
		lz4.Level1, lz4.Level1, lz4.Level2, lz4.Level3,
		lz4.Level4, lz4.Level5, lz4.Level6, lz4.Level7, lz4.Level8,
	}[level]
}

type snappyCodec struct{}

func (snappyCodec) ID() string { return "snappy" }

func (snappyCodec) Encode(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (snappyCodec) Decode(data []byte) ([]byte, error) {
	return snappy.Decode(nil, data)
}

type s2Codec struct{}

func (s2Codec) ID() string { return "s2" }

func (s2Codec) Encode(data []byte) ([]byte, error) {
	return s2.Encode(nil, data), nil
}

func (s2Codec) Decode(data []byte) ([]byte, error) {
	return s2.Decode(nil, data)
}
