package zarr

import (
	"encoding/binary"
	"math"
	"strconv"
	"strings"

	"github.com/ajitpratap0/tessera/pkg/dataset"
	"github.com/ajitpratap0/tessera/pkg/errors"
)

// Packing is the optional storage-side integer representation of
// floating-point values: value = scale*stored + offset.
type Packing struct {
	Scale  *float64
	Offset *float64
}

// Enabled reports whether any packing factor is set.
func (p Packing) Enabled() bool {
	return p.Scale != nil || p.Offset != nil
}

func (p Packing) scale() float64 {
	if p.Scale != nil {
		return *p.Scale
	}
	return 1
}

func (p Packing) offset() float64 {
	if p.Offset != nil {
		return *p.Offset
	}
	return 0
}

// pack converts an in-memory value to its stored representation.
func (p Packing) pack(v float64) float64 {
	if !p.Enabled() {
		return v
	}
	return math.Round((v - p.offset()) / p.scale())
}

// unpack converts a stored value back to its in-memory representation.
func (p Packing) unpack(v float64) float64 {
	if !p.Enabled() {
		return v
	}
	return v*p.scale() + p.offset()
}

// ChunkKey renders grid indices as a chunk file name: "2.0.1". A scalar
// array stores its single chunk as "0".
func ChunkKey(indices []int) string {
	if len(indices) == 0 {
		return "0"
	}
	parts := make([]string, len(indices))
	for i, idx := range indices {
		parts[i] = strconv.Itoa(idx)
	}
	return strings.Join(parts, ".")
}

// ParseChunkKey parses a chunk file name back into grid indices.
func ParseChunkKey(key string) ([]int, bool) {
	parts := strings.Split(key, ".")
	indices := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, false
		}
		indices[i] = n
	}
	return indices, true
}

// GridShape returns the per-dimension chunk counts for shape under
// chunks.
func GridShape(shape, chunks []int) []int {
	grid := make([]int, len(shape))
	for i := range shape {
		grid[i] = (shape[i] + chunks[i] - 1) / chunks[i]
	}
	return grid
}

// gridIndices enumerates every position of a chunk grid in C order.
func gridIndices(grid []int) [][]int {
	total := 1
	for _, g := range grid {
		total *= g
	}
	out := make([][]int, 0, total)
	idx := make([]int, len(grid))
	for n := 0; n < total; n++ {
		pos := make([]int, len(idx))
		copy(pos, idx)
		out = append(out, pos)
		for axis := len(idx) - 1; axis >= 0; axis-- {
			idx[axis]++
			if idx[axis] < grid[axis] {
				break
			}
			idx[axis] = 0
		}
	}
	return out
}

// elementPut writes a float64 into buf at element index i using t's
// little-endian representation. Integer types use Go's plain
// float-to-integer conversion, so out-of-range values are not clamped.
func elementPut(buf []byte, i int, t dataset.DType, v float64) {
	off := i * t.Size()
	switch t {
	case dataset.Int8:
		buf[off] = byte(int8(v))
	case dataset.Uint8:
		buf[off] = byte(uint8(v))
	case dataset.Bool:
		if v != 0 {
			buf[off] = 1
		} else {
			buf[off] = 0
		}
	case dataset.Int16:
		binary.LittleEndian.PutUint16(buf[off:], uint16(int16(v)))
	case dataset.Uint16:
		binary.LittleEndian.PutUint16(buf[off:], uint16(v))
	case dataset.Int32:
		binary.LittleEndian.PutUint32(buf[off:], uint32(int32(v)))
	case dataset.Uint32:
		binary.LittleEndian.PutUint32(buf[off:], uint32(v))
	case dataset.Float32:
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(float32(v)))
	case dataset.Int64:
		binary.LittleEndian.PutUint64(buf[off:], uint64(int64(v)))
	case dataset.Uint64:
		binary.LittleEndian.PutUint64(buf[off:], uint64(v))
	case dataset.Float64:
		binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(v))
	}
}

// elementGet reads element i of buf as float64.
func elementGet(buf []byte, i int, t dataset.DType) float64 {
	off := i * t.Size()
	switch t {
	case dataset.Int8:
		return float64(int8(buf[off]))
	case dataset.Uint8:
		return float64(buf[off])
	case dataset.Bool:
		return float64(buf[off])
	case dataset.Int16:
		return float64(int16(binary.LittleEndian.Uint16(buf[off:])))
	case dataset.Uint16:
		return float64(binary.LittleEndian.Uint16(buf[off:]))
	case dataset.Int32:
		return float64(int32(binary.LittleEndian.Uint32(buf[off:])))
	case dataset.Uint32:
		return float64(binary.LittleEndian.Uint32(buf[off:]))
	case dataset.Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[off:])))
	case dataset.Int64:
		return float64(int64(binary.LittleEndian.Uint64(buf[off:])))
	case dataset.Uint64:
		return float64(binary.LittleEndian.Uint64(buf[off:]))
	case dataset.Float64:
		return math.Float64frombits(binary.LittleEndian.Uint64(buf[off:]))
	}
	return math.NaN()
}

// ChunkOp is one encoded chunk of a variable: the chunk file name and
// its compressed payload. Empty chunks (every element equal to the fill
// value) carry no data and are not written.
type ChunkOp struct {
	Key   string
	Data  []byte
	Empty bool
}

// EncodeChunks encodes every chunk of v under the array document doc.
// The variable's own shape drives the chunk grid; doc's chunks, dtype,
// fill value, filters and compressor drive the encoding. When
// appendAxis is non-negative, chunkOffset shifts the chunk index along
// that axis, which is how an append names its new chunk files.
func EncodeChunks(v *dataset.Variable, doc *ArrayDoc, packing Packing,
	appendAxis, chunkOffset int) ([]ChunkOp, error) {

	storageType, err := ParseTypeString(doc.DType)
	if err != nil {
		return nil, err
	}
	codec, err := NewCodec(codecSpec(doc.Compressor))
	if err != nil {
		return nil, err
	}
	filters, err := filterCodecs(doc.Filters)
	if err != nil {
		return nil, err
	}

	fill := doc.FillValue
	grid := GridShape(v.Shape, doc.Chunks)
	ops := make([]ChunkOp, 0, len(grid))

	for _, pos := range gridIndices(grid) {
		payload, empty := encodeOneChunk(v, doc.Chunks, storageType, fill, packing, pos)
		key := pos
		if appendAxis >= 0 {
			key = append([]int{}, pos...)
			key[appendAxis] += chunkOffset
		}
		if empty {
			ops = append(ops, ChunkOp{Key: ChunkKey(key), Empty: true})
			continue
		}
		for _, f := range filters {
			if payload, err = f.Encode(payload); err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeInternal, "filter failed")
			}
		}
		if codec != nil {
			if payload, err = codec.Encode(payload); err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeInternal, "compression failed")
			}
		}
		ops = append(ops, ChunkOp{Key: ChunkKey(key), Data: payload})
	}
	return ops, nil
}

func filterCodecs(docs []*CodecDoc) ([]Codec, error) {
	out := make([]Codec, 0, len(docs))
	for _, doc := range docs {
		c, err := NewCodec(codecSpec(doc))
		if err != nil {
			return nil, err
		}
		if c != nil {
			out = append(out, c)
		}
	}
	return out, nil
}

// encodeOneChunk fills a full-size chunk buffer in storage type, copies
// the covered hyperslab from v, and reports whether every element ended
// up equal to the fill value.
func encodeOneChunk(v *dataset.Variable, chunks []int, storageType dataset.DType,
	fill FillValue, packing Packing, pos []int) ([]byte, bool) {

	elements := 1
	for _, c := range chunks {
		elements *= c
	}
	buf := make([]byte, elements*storageType.Size())

	fillVal := math.NaN()
	if fill.Defined {
		fillVal = fill.Value
	}
	for i := 0; i < elements; i++ {
		elementPut(buf, i, storageType, fillVal)
	}

	// Element range covered by this chunk in each dimension.
	starts := make([]int, len(pos))
	counts := make([]int, len(pos))
	for i := range pos {
		starts[i] = pos[i] * chunks[i]
		end := starts[i] + chunks[i]
		if end > v.Shape[i] {
			end = v.Shape[i]
		}
		counts[i] = end - starts[i]
	}

	srcStrides := rowMajorStrides(v.Shape)
	dstStrides := rowMajorStrides(chunks)

	empty := true
	sameFill := func(val float64) bool {
		if math.IsNaN(fillVal) {
			return math.IsNaN(val)
		}
		return val == fillVal
	}

	// Walk the covered hyperslab in C order.
	idx := make([]int, len(counts))
	totalCovered := 1
	for _, c := range counts {
		totalCovered *= c
	}
	for n := 0; n < totalCovered; n++ {
		srcOff, dstOff := 0, 0
		for axis := range idx {
			srcOff += (starts[axis] + idx[axis]) * srcStrides[axis]
			dstOff += idx[axis] * dstStrides[axis]
		}
		val := packing.pack(v.FloatAt(srcOff))
		if empty && !sameFill(val) {
			empty = false
		}
		elementPut(buf, dstOff, storageType, val)
		for axis := len(idx) - 1; axis >= 0; axis-- {
			idx[axis]++
			if idx[axis] < counts[axis] {
				break
			}
			idx[axis] = 0
		}
	}
	if totalCovered == 0 {
		empty = true
	}
	return buf, empty
}

func rowMajorStrides(shape []int) []int {
	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

// DecodeChunk decompresses and copies one chunk payload into dst, a
// float64 buffer shaped like doc.Shape. Used by the read side.
func DecodeChunk(dst []float64, doc *ArrayDoc, packing Packing, pos []int, payload []byte) error {
	storageType, err := ParseTypeString(doc.DType)
	if err != nil {
		return err
	}
	codec, err := NewCodec(codecSpec(doc.Compressor))
	if err != nil {
		return err
	}
	filters, err := filterCodecs(doc.Filters)
	if err != nil {
		return err
	}

	if codec != nil {
		if payload, err = codec.Decode(payload); err != nil {
			return errors.Wrap(err, errors.ErrorTypeIO, "decompression failed")
		}
	}
	for i := len(filters) - 1; i >= 0; i-- {
		if payload, err = filters[i].Decode(payload); err != nil {
			return errors.Wrap(err, errors.ErrorTypeIO, "filter decode failed")
		}
	}

	elements := 1
	for _, c := range doc.Chunks {
		elements *= c
	}
	if len(payload) < elements*storageType.Size() {
		return errors.Newf(errors.ErrorTypeIO,
			"chunk payload too short: %d bytes for %d elements", len(payload), elements)
	}

	starts := make([]int, len(pos))
	counts := make([]int, len(pos))
	for i := range pos {
		starts[i] = pos[i] * doc.Chunks[i]
		end := starts[i] + doc.Chunks[i]
		if end > doc.Shape[i] {
			end = doc.Shape[i]
		}
		counts[i] = end - starts[i]
	}

	dstStrides := rowMajorStrides(doc.Shape)
	chunkStrides := rowMajorStrides(doc.Chunks)

	idx := make([]int, len(counts))
	totalCovered := 1
	for _, c := range counts {
		totalCovered *= c
	}
	for n := 0; n < totalCovered; n++ {
		srcOff, dstOff := 0, 0
		for axis := range idx {
			srcOff += idx[axis] * chunkStrides[axis]
			dstOff += (starts[axis] + idx[axis]) * dstStrides[axis]
		}
		dst[dstOff] = packing.unpack(elementGet(payload, srcOff, storageType))
		for axis := len(idx) - 1; axis >= 0; axis-- {
			idx[axis]++
			if idx[axis] < counts[axis] {
				break
			}
			idx[axis] = 0
		}
	}
	return nil
}
