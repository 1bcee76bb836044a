// Copyright 2024 The DevStore Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/devstore-io/devstore/pkg/types"
)

// Chunk wire layout, little-endian. Areas are 8-byte aligned.
//
//	header:  magic u32 | ncols u32 | nitems u32 | length u32
//	colmeta: ncols x { width i16 | align i16 | flags u16 | _ u16 |
//	                   valuesOffset u32 | extraSize u32 }
//
// Fixed-width column: nitems values at the column's stride, optionally
// followed by a null bitmap (LSB-first, set bit = not null); extraSize is
// the bitmap byte count. Variable-length column: nitems u32 offsets
// relative to the column base, offset 0 meaning NULL, followed by the
// deduplicated value area; each distinct value is a u32 byte length plus
// the bytes, 8-byte aligned; extraSize is the value-area byte count.
const (
	chunkMagic uint32 = 0x304b4443 // "CDK0"

	layoutAlign = 8
	headerSize  = 16
	colMetaSize = 16

	colHasNulls uint16 = 1 << 0
)

func alignUp(n int64) int64 {
	return (n + layoutAlign - 1) &^ (layoutAlign - 1)
}

func bitmapLen(nitems uint32) int64 {
	return (int64(nitems) + 7) / 8
}

func bitmapGet(bm []byte, idx uint32) bool {
	return bm[idx>>3]&(1<<(idx&7)) != 0
}

func bitmapSet(bm []byte, idx uint32) {
	bm[idx>>3] |= 1 << (idx & 7)
}

func bitmapClear(bm []byte, idx uint32) {
	bm[idx>>3] &^= 1 << (idx & 7)
}

type colMeta struct {
	width        int16
	align        int16
	flags        uint16
	valuesOffset uint32
	extraSize    uint32
}

func (m *colMeta) fixedWidth() bool { return m.width > 0 }

func (m *colMeta) stride() int64 {
	if !m.fixedWidth() {
		return 4
	}
	a := int64(m.align)
	return (int64(m.width) + a - 1) / a * a
}

// chunkView reads one encoded chunk in place.
type chunkView struct {
	data []byte
}

var errBadChunk = errors.New("store: malformed chunk image")

func newChunkView(data []byte) (chunkView, error) {
	if len(data) < headerSize || binary.LittleEndian.Uint32(data) != chunkMagic {
		return chunkView{}, errBadChunk
	}
	v := chunkView{data: data}
	if int64(v.length()) > int64(len(data)) || int64(v.length()) < chunkMetaLen(v.ncols()) {
		return chunkView{}, errBadChunk
	}
	return v, nil
}

// checkSchema verifies that the image's column metadata matches the table
// schema and that every column's data area lies inside the image. Readers
// trust the metadata after this.
func (v chunkView) checkSchema(schema *types.Schema) error {
	if v.ncols() != schema.ColCount() {
		return errors.Wrapf(ErrSchemaMismatch,
			"image has %d columns, table has %d", v.ncols(), schema.ColCount())
	}
	for col := range schema.Cols {
		def := &schema.Cols[col]
		m := v.meta(col)
		if m.width != def.Width {
			return errors.Wrapf(ErrSchemaMismatch,
				"column %q encoded with width %d, want %d", def.Name, m.width, def.Width)
		}
		if m.fixedWidth() && m.align != def.Alignment() {
			return errors.Wrapf(ErrSchemaMismatch,
				"column %q encoded with alignment %d, want %d", def.Name, m.align, def.Alignment())
		}
		end := int64(m.valuesOffset) + alignUp(m.stride()*int64(v.nitems())) + alignUp(int64(m.extraSize))
		if int64(m.valuesOffset) < chunkMetaLen(v.ncols()) || end > int64(v.length()) {
			return errors.Wrapf(errBadChunk, "column %q area out of range", def.Name)
		}
	}
	return nil
}

func (v chunkView) ncols() int     { return int(binary.LittleEndian.Uint32(v.data[4:])) }
func (v chunkView) nitems() uint32 { return binary.LittleEndian.Uint32(v.data[8:]) }
func (v chunkView) length() uint32 { return binary.LittleEndian.Uint32(v.data[12:]) }

func (v chunkView) meta(col int) colMeta {
	b := v.data[headerSize+col*colMetaSize:]
	return colMeta{
		width:        int16(binary.LittleEndian.Uint16(b)),
		align:        int16(binary.LittleEndian.Uint16(b[2:])),
		flags:        binary.LittleEndian.Uint16(b[4:]),
		valuesOffset: binary.LittleEndian.Uint32(b[8:]),
		extraSize:    binary.LittleEndian.Uint32(b[12:]),
	}
}

// fixedAt returns the value bytes of a fixed-width column at row idx, or
// nil if the row is null there.
func (v chunkView) fixedAt(m colMeta, idx uint32) []byte {
	base := int64(m.valuesOffset)
	if m.flags&colHasNulls != 0 && m.extraSize > 0 && idx < 8*m.extraSize {
		bm := v.data[base+alignUp(m.stride()*int64(v.nitems())):]
		if !bitmapGet(bm, idx) {
			return nil
		}
	}
	off := base + m.stride()*int64(idx)
	return v.data[off : off+int64(m.width)]
}

// varlenAt returns the value bytes of a variable-length column at row idx,
// or nil if the row is null there.
func (v chunkView) varlenAt(m colMeta, idx uint32) []byte {
	base := int64(m.valuesOffset)
	off := binary.LittleEndian.Uint32(v.data[base+4*int64(idx):])
	if off == 0 {
		return nil
	}
	vp := base + int64(off)
	size := binary.LittleEndian.Uint32(v.data[vp:])
	return v.data[vp+4 : vp+4+int64(size)]
}

func writeChunkHeader(data []byte, ncols int, nitems, length uint32) {
	binary.LittleEndian.PutUint32(data, chunkMagic)
	binary.LittleEndian.PutUint32(data[4:], uint32(ncols))
	binary.LittleEndian.PutUint32(data[8:], nitems)
	binary.LittleEndian.PutUint32(data[12:], length)
}

func writeColMeta(data []byte, col int, m colMeta) {
	b := data[headerSize+col*colMetaSize:]
	binary.LittleEndian.PutUint16(b, uint16(m.width))
	binary.LittleEndian.PutUint16(b[2:], uint16(m.align))
	binary.LittleEndian.PutUint16(b[4:], m.flags)
	binary.LittleEndian.PutUint16(b[6:], 0)
	binary.LittleEndian.PutUint32(b[8:], m.valuesOffset)
	binary.LittleEndian.PutUint32(b[12:], m.extraSize)
}

// chunkMetaLen is the aligned size of the header plus column metadata.
func chunkMetaLen(ncols int) int64 {
	return alignUp(headerSize + int64(ncols)*colMetaSize)
}

// relayoutChunk copies src into dst recomputing every column offset. Chunks
// are encoded independently, so a consolidated buffer cannot reuse source
// offsets as-is. dst must hold relayoutSize(src) bytes. Returns the number
// of bytes written.
func relayoutChunk(dst []byte, src chunkView) int64 {
	ncols := src.ncols()
	nitems := src.nitems()
	offset := chunkMetaLen(ncols)
	for col := 0; col < ncols; col++ {
		m := src.meta(col)
		area := alignUp(m.stride()*int64(nitems)) + alignUp(int64(m.extraSize))
		copy(dst[offset:offset+area], src.data[int64(m.valuesOffset):])
		m.valuesOffset = uint32(offset)
		writeColMeta(dst, col, m)
		offset += area
	}
	writeChunkHeader(dst, ncols, nitems, uint32(offset))
	return offset
}

// relayoutSize returns the byte size relayoutChunk will produce for src.
func relayoutSize(src chunkView) int64 {
	size := chunkMetaLen(src.ncols())
	for col := 0; col < src.ncols(); col++ {
		m := src.meta(col)
		size += alignUp(m.stride()*int64(src.nitems())) + alignUp(int64(m.extraSize))
	}
	return size
}
