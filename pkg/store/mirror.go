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
	"runtime"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"

	"github.com/devstore-io/devstore/pkg/device"
	"github.com/devstore-io/devstore/pkg/txnif"
)

// Mirror buffer layout, little-endian:
//
//	magic u32 | nchunks u32 | totalRows u64 | nchunks x offset u64
//
// followed by every chunk re-laid-out at its offset. Chunks were encoded
// independently, so per-chunk column offsets are recomputed during the copy.
const (
	mirrorMagic uint32 = 0x304d4443 // "CDM0"

	mirrorHeaderSize = 16
)

// MirrorView is one consolidated, device-visible image of all chunks of a
// table that were visible to the snapshot at load time.
type MirrorView struct {
	region    device.Region
	offsets   []int64
	totalRows uint64
}

func (v *MirrorView) Bytes() []byte     { return v.region.Bytes() }
func (v *MirrorView) NumChunks() int    { return len(v.offsets) }
func (v *MirrorView) TotalRows() uint64 { return v.totalRows }
func (v *MirrorView) Free() error       { return v.region.Free() }

// ChunkAt returns the re-laid-out chunk image at position i.
func (v *MirrorView) ChunkAt(i int) ([]byte, error) {
	data := v.region.Bytes()[v.offsets[i]:]
	view, err := newChunkView(data)
	if err != nil {
		return nil, err
	}
	return data[:view.length()], nil
}

// mirrorLoad gathers every chunk of the table visible to snap into one
// contiguous device-accessible region.
func (s *Store) mirrorLoad(key TableKey, snap txnif.Snapshot) (*MirrorView, error) {
	// Enumerate under the directory lock; chunks visible to an active
	// snapshot cannot be reclaimed while it lives, so the slots stay
	// valid after the lock is dropped.
	var chunks []*ChunkDescriptor
	s.dir.mu.Lock()
	for c := s.dir.firstChunkLocked(key, snap); c != nil; c = s.dir.nextChunkLocked(c, snap) {
		chunks = append(chunks, c)
	}
	s.dir.mu.Unlock()
	if len(chunks) == 0 {
		return nil, nil
	}

	// Map every source chunk and size the consolidated buffer.
	views := make([]chunkView, len(chunks))
	offsets := make([]int64, len(chunks))
	var totalRows uint64
	size := alignUp(mirrorHeaderSize + 8*int64(len(chunks)))
	for i, c := range chunks {
		data, err := s.dir.MappedChunk(c)
		if err != nil {
			return nil, err
		}
		views[i], err = newChunkView(data)
		if err != nil {
			return nil, err
		}
		offsets[i] = size
		size += alignUp(relayoutSize(views[i]))
		totalRows += uint64(views[i].nitems())
	}

	region, err := s.devices.AllocManaged(size)
	if err != nil {
		return nil, err
	}
	dst := region.Bytes()
	binary.LittleEndian.PutUint32(dst, mirrorMagic)
	binary.LittleEndian.PutUint32(dst[4:], uint32(len(chunks)))
	binary.LittleEndian.PutUint64(dst[8:], totalRows)
	for i, off := range offsets {
		binary.LittleEndian.PutUint64(dst[mirrorHeaderSize+8*i:], uint64(off))
	}

	// Copy chunks concurrently; each job owns a disjoint slice of dst.
	workers := runtime.NumCPU()
	if workers > len(chunks) {
		workers = len(chunks)
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		region.Free()
		return nil, err
	}
	defer pool.Release()

	var wg sync.WaitGroup
	errCh := make(chan error, len(chunks))
	for i := range chunks {
		i := i
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			end := size
			if i+1 < len(offsets) {
				end = offsets[i+1]
			}
			relayoutChunk(dst[offsets[i]:end], views[i])
		}); err != nil {
			wg.Done()
			errCh <- err
		}
	}
	wg.Wait()
	select {
	case err := <-errCh:
		region.Free()
		return nil, errors.Wrap(err, "store: mirror copy")
	default:
	}

	return &MirrorView{region: region, offsets: offsets, totalRows: totalRows}, nil
}
