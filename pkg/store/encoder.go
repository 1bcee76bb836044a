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
	"math"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/devstore-io/devstore/pkg/device"
	"github.com/devstore-io/devstore/pkg/logutil"
	"github.com/devstore-io/devstore/pkg/txnif"
	"github.com/devstore-io/devstore/pkg/types"
)

// dictEntry is one distinct variable-length value of a staged chunk. Every
// referencing row shares the entry; offset is assigned at flush time.
type dictEntry struct {
	value  []byte
	offset uint32
}

type colState struct {
	def    *types.ColDef
	stride int64

	// Fixed-width staging. nullmap is allocated on the first null only
	// and backfilled with not-null for all prior rows.
	values  []byte
	nullmap []byte

	// Variable-length staging: per-row entry pointer (nil = null) plus
	// the dedup dictionary in insertion order. extra is the aligned byte
	// usage of the future value area.
	refs    []*dictEntry
	dict    map[string]*dictEntry
	dictSeq []*dictEntry
	extra   int64
}

// Inserter accumulates rows for one table and flushes them into chunks.
// It belongs to a single transaction and is not safe for concurrent use.
type Inserter struct {
	store   *Store
	txn     txnif.Txn
	key     TableKey
	hash    uint32
	schema  *types.Schema
	pinning int

	// budget is the chunk byte budget minus header and column metadata.
	budget int64
	// nrooms is the conservative row bound: the most rows that fit with
	// no nulls and no variable-length payload.
	nrooms uint32

	nitems uint32
	cols   []colState
	closed bool
}

func newInserter(s *Store, txn txnif.Txn, entry *tableEntry) *Inserter {
	schema := entry.schema
	ncols := schema.ColCount()
	budget := s.cfg.ChunkSize - chunkMetaLen(ncols)

	var unit int64
	for i := range schema.Cols {
		unit += schema.Cols[i].StrideBytes()
	}
	// Leave an alignment margin per column, as the per-column areas are
	// each rounded up independently.
	nrooms := (budget - layoutAlign*int64(ncols)) / unit
	if nrooms < 1 {
		nrooms = 1
	}
	if nrooms > math.MaxUint32 {
		nrooms = math.MaxUint32
	}

	ins := &Inserter{
		store:   s,
		txn:     txn,
		key:     entry.key,
		hash:    entry.key.Hash(),
		schema:  schema,
		pinning: entry.opts.Pinning,
		budget:  budget,
		nrooms:  uint32(nrooms),
		cols:    make([]colState, ncols),
	}
	for i := range schema.Cols {
		def := &schema.Cols[i]
		col := &ins.cols[i]
		col.def = def
		col.stride = def.StrideBytes()
		if def.FixedWidth() {
			col.values = make([]byte, col.stride*nrooms)
		} else {
			col.dict = make(map[string]*dictEntry)
		}
	}
	return ins
}

func (ins *Inserter) checkRow(row Row) error {
	if len(row) != len(ins.cols) {
		return errors.Wrapf(ErrSchemaMismatch,
			"%d datums for %d columns", len(row), len(ins.cols))
	}
	for i := range ins.cols {
		def := ins.cols[i].def
		if row[i].Null {
			if def.NotNull {
				return errors.Wrapf(ErrNullViolation, "column %q", def.Name)
			}
			continue
		}
		if def.FixedWidth() && len(row[i].Bytes) != int(def.Width) {
			return errors.Wrapf(ErrSchemaMismatch,
				"column %q wants %d bytes, got %d", def.Name, def.Width, len(row[i].Bytes))
		}
	}
	return nil
}

// projectedUsage computes the encoded size of the staged chunk if row were
// admitted, including null-bitmap allocation and dictionary growth.
func (ins *Inserter) projectedUsage(row Row) int64 {
	n := int64(ins.nitems) + 1
	var usage int64
	for i := range ins.cols {
		col := &ins.cols[i]
		if col.def.FixedWidth() {
			usage += alignUp(col.stride * n)
			if col.nullmap != nil || row[i].Null {
				usage += alignUp((n + 7) / 8)
			}
			continue
		}
		usage += alignUp(4 * n)
		extra := col.extra
		if !row[i].Null {
			if _, ok := col.dict[string(row[i].Bytes)]; !ok {
				extra += alignUp(4 + int64(len(row[i].Bytes)))
			}
		}
		usage += extra
	}
	return usage
}

// Append stages one row, flushing the current chunk first when admitting
// the row would exceed the byte budget or the row bound.
func (ins *Inserter) Append(row Row) error {
	if ins.closed {
		return ErrInserterClosed
	}
	if err := ins.checkRow(row); err != nil {
		return err
	}
	if ins.nitems > 0 &&
		(ins.nitems >= ins.nrooms || ins.projectedUsage(row) > ins.budget) {
		if err := ins.flush(); err != nil {
			return err
		}
	}
	if ins.projectedUsage(row) > ins.budget {
		return errors.Wrapf(ErrRowTooLarge, "budget %d bytes", ins.budget)
	}
	ins.appendRow(row)
	return nil
}

func (ins *Inserter) appendRow(row Row) {
	idx := ins.nitems
	ins.nitems++
	for i := range ins.cols {
		col := &ins.cols[i]
		d := row[i]
		if !col.def.FixedWidth() {
			if d.Null {
				col.refs = append(col.refs, nil)
				continue
			}
			e, ok := col.dict[string(d.Bytes)]
			if !ok {
				e = &dictEntry{value: append([]byte(nil), d.Bytes...)}
				col.dict[string(d.Bytes)] = e
				col.dictSeq = append(col.dictSeq, e)
				col.extra += alignUp(4 + int64(len(d.Bytes)))
			}
			col.refs = append(col.refs, e)
			continue
		}
		if d.Null {
			if col.nullmap == nil {
				col.nullmap = make([]byte, bitmapLen(ins.nrooms))
				// All prior rows were not null.
				full := idx / 8
				for j := range col.nullmap[:full] {
					col.nullmap[j] = 0xff
				}
				for j := full * 8; j < idx; j++ {
					bitmapSet(col.nullmap, j)
				}
			}
			bitmapClear(col.nullmap, idx)
			continue
		}
		if col.nullmap != nil {
			bitmapSet(col.nullmap, idx)
		}
		dst := col.values[col.stride*int64(idx):]
		switch col.def.Width {
		case 1:
			dst[0] = d.Bytes[0]
		case 2:
			dst[0], dst[1] = d.Bytes[0], d.Bytes[1]
		case 4:
			binary.LittleEndian.PutUint32(dst, binary.LittleEndian.Uint32(d.Bytes))
		case 8:
			binary.LittleEndian.PutUint64(dst, binary.LittleEndian.Uint64(d.Bytes))
		default:
			copy(dst[:col.def.Width], d.Bytes)
		}
	}
}

// flush serializes the staged rows into a finalized chunk, stages it into
// device memory when the table is pinned, publishes the descriptor, and
// resets the staging state.
func (ins *Inserter) flush() error {
	if ins.nitems == 0 {
		return nil
	}
	nitems := ins.nitems
	ncols := len(ins.cols)

	// Final per-column placement.
	metas := make([]colMeta, ncols)
	offset := chunkMetaLen(ncols)
	for i := range ins.cols {
		col := &ins.cols[i]
		m := colMeta{
			width:        col.def.Width,
			align:        col.def.Alignment(),
			valuesOffset: uint32(offset),
		}
		if col.def.FixedWidth() {
			offset += alignUp(col.stride * int64(nitems))
			if col.nullmap != nil {
				m.flags |= colHasNulls
				m.extraSize = uint32(bitmapLen(nitems))
				offset += alignUp(bitmapLen(nitems))
			}
		} else {
			offset += alignUp(4 * int64(nitems))
			m.extraSize = uint32(col.extra)
			offset += col.extra
		}
		metas[i] = m
	}
	length := offset
	if length > math.MaxUint32 {
		return errors.Wrapf(ErrChunkTooLarge, "%d bytes", length)
	}

	seg, err := ins.store.segments.Create(length)
	if err != nil {
		return err
	}
	cleanupSegment := func() {
		handle := seg.Handle()
		if derr := seg.Detach(); derr != nil {
			logutil.Error("detach failed segment", zap.Error(derr))
		}
		if rerr := ins.store.segments.Remove(handle); rerr != nil {
			logutil.Error("remove failed segment", zap.Error(rerr))
		}
	}

	data := seg.Bytes()
	writeChunkHeader(data, ncols, nitems, uint32(length))
	for i := range ins.cols {
		col := &ins.cols[i]
		m := metas[i]
		base := int64(m.valuesOffset)
		if col.def.FixedWidth() {
			copy(data[base:], col.values[:col.stride*int64(nitems)])
			if col.nullmap != nil {
				bm := base + alignUp(col.stride*int64(nitems))
				copy(data[bm:], col.nullmap[:bitmapLen(nitems)])
			}
		} else {
			// Value area first, assigning each distinct value its
			// final offset, then the per-row offset array.
			cursor := alignUp(4 * int64(nitems))
			for _, e := range col.dictSeq {
				e.offset = uint32(cursor)
				binary.LittleEndian.PutUint32(data[base+cursor:], uint32(len(e.value)))
				copy(data[base+cursor+4:], e.value)
				cursor += alignUp(4 + int64(len(e.value)))
			}
			for j, e := range col.refs {
				if e != nil {
					binary.LittleEndian.PutUint32(data[base+4*int64(j):], e.offset)
				}
			}
		}
		writeColMeta(data, i, m)
	}

	// Device staging happens before publishing; a failure must release
	// the fresh device handle and segment without touching the directory.
	dhandle := device.InvalidHandle
	dindex := int32(-1)
	if ins.pinning >= 0 {
		h, err := ins.store.devices.Alloc(ins.pinning, length)
		if err != nil {
			cleanupSegment()
			return err
		}
		if err = ins.store.devices.CopyIn(ins.pinning, h, data); err != nil {
			if ferr := ins.store.devices.Free(ins.pinning, h); ferr != nil {
				logutil.Error("free device handle after failed copy", zap.Error(ferr))
			}
			cleanupSegment()
			return err
		}
		dhandle, dindex = h, int32(ins.pinning)
	}

	// The segment outlives this transaction until the chunk is released.
	seg.Pin()

	c, err := ins.store.dir.AcquireFree()
	if err != nil {
		if dindex >= 0 {
			if ferr := ins.store.devices.Free(int(dindex), dhandle); ferr != nil {
				logutil.Error("free device handle after pool exhaustion", zap.Error(ferr))
			}
		}
		cleanupSegment()
		return err
	}
	c.hash = ins.hash
	c.database = ins.key.Database
	c.table = ins.key.Table
	c.createdBy = ins.txn.ID()
	c.deletedBy = txnif.InvalidID
	c.commandID = ins.txn.CommandID()
	c.numRows = nitems
	c.length = uint32(length)
	c.deviceIndex = dindex
	c.deviceHandle = dhandle
	c.segment = seg.Handle()
	ins.store.dir.storeMapping(c.slot, seg)
	ins.store.dir.Publish(c)

	ins.store.mm.ChunksWritten.Inc()
	ins.store.mm.BytesWritten.Add(float64(length))
	logutil.Debug("chunk flushed",
		zap.Stringer("table", ins.key),
		zap.Uint32("rows", nitems),
		zap.Int64("bytes", length))

	// Reset staging for the next chunk.
	ins.nitems = 0
	for i := range ins.cols {
		col := &ins.cols[i]
		col.nullmap = nil
		if !col.def.FixedWidth() {
			col.refs = col.refs[:0]
			col.dictSeq = col.dictSeq[:0]
			col.dict = make(map[string]*dictEntry)
			col.extra = 0
		}
	}
	return nil
}

// Close flushes any staged rows and ends the insert statement.
func (ins *Inserter) Close() error {
	if ins.closed {
		return ErrInserterClosed
	}
	ins.closed = true
	if err := ins.flush(); err != nil {
		return err
	}
	ins.txn.NextCommand()
	return nil
}
