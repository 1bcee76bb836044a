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
	"github.com/devstore-io/devstore/pkg/txnif"
	"github.com/devstore-io/devstore/pkg/types"
)

// Iterator streams the rows of a table's visible chunks for one snapshot.
// Returned datum bytes alias the mapped chunk; callers copy what they keep
// past the next call. Not safe for concurrent use.
type Iterator struct {
	dir    *Directory
	key    TableKey
	snap   txnif.Snapshot
	schema *types.Schema
	cols   []int

	cur  *ChunkDescriptor
	view chunkView
	idx  uint32
	done bool
}

// Next returns the next row, or nil at end of stream. Projection applies in
// the order given to Scan.
func (it *Iterator) Next() (Row, error) {
	if it.done {
		return nil, nil
	}
	if it.cur == nil {
		c := it.dir.FirstChunk(it.key, it.snap)
		if c == nil {
			it.done = true
			return nil, nil
		}
		if err := it.mapChunk(c); err != nil {
			return nil, err
		}
	}
	for it.idx >= it.view.nitems() {
		c := it.dir.NextChunk(it.cur, it.snap)
		if c == nil {
			it.done = true
			return nil, nil
		}
		if err := it.mapChunk(c); err != nil {
			return nil, err
		}
	}

	idx := it.idx
	it.idx++
	row := make(Row, len(it.cols))
	for i, col := range it.cols {
		m := it.view.meta(col)
		var val []byte
		if m.fixedWidth() {
			val = it.view.fixedAt(m, idx)
		} else {
			val = it.view.varlenAt(m, idx)
		}
		if val == nil {
			row[i] = Datum{Null: true}
		} else {
			row[i] = Datum{Bytes: val}
		}
	}
	return row, nil
}

func (it *Iterator) mapChunk(c *ChunkDescriptor) error {
	data, err := it.dir.MappedChunk(c)
	if err != nil {
		return err
	}
	view, err := newChunkView(data)
	if err != nil {
		return err
	}
	it.cur = c
	it.view = view
	it.idx = 0
	return nil
}

// Reset rewinds the iterator to the start of the stream without releasing
// any resources.
func (it *Iterator) Reset() {
	it.cur = nil
	it.idx = 0
	it.done = false
}
