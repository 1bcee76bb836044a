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
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/devstore-io/devstore/pkg/device"
	"github.com/devstore-io/devstore/pkg/logutil"
	"github.com/devstore-io/devstore/pkg/metrics"
	"github.com/devstore-io/devstore/pkg/shm"
	"github.com/devstore-io/devstore/pkg/txnif"
)

// list is an intrusive doubly-linked list of descriptor slots.
type list struct {
	head, tail int32
}

// Directory is the shared chunk directory: a fixed arena of descriptors, a
// free list, and hash-bucketed active lists. One mutex guards all structural
// state and every visibility-flag mutation; critical sections stay short and
// never span memory copies or device calls.
type Directory struct {
	mu       sync.Mutex
	provider txnif.Provider
	segments shm.Service
	devices  device.Service
	mm       *metrics.Metrics

	chunks  []ChunkDescriptor
	free    list
	buckets []list

	// warm counts publishes and delete stampings since the last full
	// sweep; zero lets the lifecycle sweep return without scanning.
	warm atomic.Uint32

	// Local mappings are per-process state, not shared, so they get their
	// own lock; attaching may enter the kernel.
	mapMu sync.Mutex
	maps  []localMapping
}

// localMapping caches this process's attachment of a descriptor's segment.
// It never owns descriptor lifetime.
type localMapping struct {
	seg shm.Segment
}

func newDirectory(
	capacity, nbuckets int,
	provider txnif.Provider,
	segments shm.Service,
	devices device.Service,
	mm *metrics.Metrics,
) *Directory {
	d := &Directory{
		provider: provider,
		segments: segments,
		devices:  devices,
		mm:       mm,
		chunks:   make([]ChunkDescriptor, capacity),
		buckets:  make([]list, nbuckets),
		maps:     make([]localMapping, capacity),
	}
	d.free = list{head: nilSlot, tail: nilSlot}
	for i := range d.buckets {
		d.buckets[i] = list{head: nilSlot, tail: nilSlot}
	}
	for i := range d.chunks {
		c := &d.chunks[i]
		c.slot = int32(i)
		c.next, c.prev = nilSlot, nilSlot
		c.reset()
		d.pushTail(&d.free, c)
	}
	d.mm.FreeChunks.Set(float64(capacity))
	return d
}

func (d *Directory) pushTail(l *list, c *ChunkDescriptor) {
	c.next = nilSlot
	c.prev = l.tail
	if l.tail != nilSlot {
		d.chunks[l.tail].next = c.slot
	} else {
		l.head = c.slot
	}
	l.tail = c.slot
}

func (d *Directory) pushHead(l *list, c *ChunkDescriptor) {
	c.prev = nilSlot
	c.next = l.head
	if l.head != nilSlot {
		d.chunks[l.head].prev = c.slot
	} else {
		l.tail = c.slot
	}
	l.head = c.slot
}

func (d *Directory) unlink(l *list, c *ChunkDescriptor) {
	if c.prev != nilSlot {
		d.chunks[c.prev].next = c.next
	} else {
		l.head = c.next
	}
	if c.next != nilSlot {
		d.chunks[c.next].prev = c.prev
	} else {
		l.tail = c.prev
	}
	c.next, c.prev = nilSlot, nilSlot
}

func (d *Directory) bucketFor(hash uint32) *list {
	return &d.buckets[hash%uint32(len(d.buckets))]
}

// AcquireFree claims a zeroed descriptor from the free list. The caller
// fills the payload and lifecycle fields before Publish; until then the
// descriptor is unreachable.
func (d *Directory) AcquireFree() (*ChunkDescriptor, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.free.head == nilSlot {
		return nil, ErrResourceExhausted
	}
	c := &d.chunks[d.free.head]
	d.unlink(&d.free, c)
	c.reset()
	d.mm.FreeChunks.Dec()
	return c, nil
}

// Publish moves a finalized descriptor onto its active-list bucket and
// marks the directory warm.
func (d *Directory) Publish(c *ChunkDescriptor) {
	d.mu.Lock()
	d.pushTail(d.bucketFor(c.hash), c)
	d.mu.Unlock()
	d.warm.Add(1)
	d.mm.ActiveChunks.Inc()
}

// releaseLocked removes a chunk from its bucket, releases the device
// allocation and local mapping, and recycles the descriptor. Caller holds
// d.mu.
func (d *Directory) releaseLocked(c *ChunkDescriptor) {
	d.unlink(d.bucketFor(c.hash), c)
	if c.deviceIndex >= 0 {
		if err := d.devices.Free(int(c.deviceIndex), c.deviceHandle); err != nil {
			logutil.Error("release device allocation",
				zap.Int32("device", c.deviceIndex), zap.Error(err))
		}
	}
	d.dropMapping(c.slot)
	if c.segment != shm.InvalidHandle {
		if err := d.segments.Remove(c.segment); err != nil {
			logutil.Error("remove chunk segment",
				zap.Uint32("segment", uint32(c.segment)), zap.Error(err))
		}
	}
	c.reset()
	d.pushHead(&d.free, c)
	d.mm.FreeChunks.Inc()
	d.mm.ActiveChunks.Dec()
}

// firstChunkLocked returns the first chunk of the table visible to snap.
// Caller holds d.mu.
func (d *Directory) firstChunkLocked(key TableKey, snap txnif.Snapshot) *ChunkDescriptor {
	hash := key.Hash()
	l := d.bucketFor(hash)
	for slot := l.head; slot != nilSlot; {
		c := &d.chunks[slot]
		slot = c.next
		if c.matches(key, hash) && d.satisfiesVisibility(c, snap) {
			return c
		}
	}
	return nil
}

// nextChunkLocked continues a traversal from c. Caller holds d.mu.
func (d *Directory) nextChunkLocked(c *ChunkDescriptor, snap txnif.Snapshot) *ChunkDescriptor {
	key, hash := c.Key(), c.hash
	for slot := c.next; slot != nilSlot; {
		n := &d.chunks[slot]
		slot = n.next
		if n.matches(key, hash) && d.satisfiesVisibility(n, snap) {
			return n
		}
	}
	return nil
}

// FirstChunk and NextChunk are the locking forms used by scans.
func (d *Directory) FirstChunk(key TableKey, snap txnif.Snapshot) *ChunkDescriptor {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.firstChunkLocked(key, snap)
}

func (d *Directory) NextChunk(c *ChunkDescriptor, snap txnif.Snapshot) *ChunkDescriptor {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.nextChunkLocked(c, snap)
}

// visibleStats sums row and byte counts of the table's visible chunks under
// one critical section, so the numbers are mutually consistent.
func (d *Directory) visibleStats(key TableKey, snap txnif.Snapshot) (rows uint64, bytes uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for c := d.firstChunkLocked(key, snap); c != nil; c = d.nextChunkLocked(c, snap) {
		rows += uint64(c.numRows)
		bytes += uint64(c.length)
	}
	return rows, bytes
}

// MappedChunk returns this process's mapping of the chunk's backing
// segment, attaching or re-attaching lazily when the segment handle of the
// slot changed since the last use.
func (d *Directory) MappedChunk(c *ChunkDescriptor) ([]byte, error) {
	d.mapMu.Lock()
	defer d.mapMu.Unlock()
	m := &d.maps[c.slot]
	if m.seg != nil && m.seg.Handle() != c.segment {
		if err := m.seg.Detach(); err != nil {
			logutil.Error("detach stale mapping", zap.Error(err))
		}
		m.seg = nil
	}
	if m.seg == nil {
		seg, err := d.segments.Attach(c.segment)
		if err != nil {
			return nil, err
		}
		seg.Pin()
		m.seg = seg
	}
	return m.seg.Bytes(), nil
}

// storeMapping installs the creating process's segment as the slot mapping,
// saving the first Attach on the writer side.
func (d *Directory) storeMapping(slot int32, seg shm.Segment) {
	d.mapMu.Lock()
	defer d.mapMu.Unlock()
	old := d.maps[slot].seg
	if old != nil && old != seg {
		if err := old.Detach(); err != nil {
			logutil.Error("detach stale mapping", zap.Error(err))
		}
	}
	d.maps[slot].seg = seg
}

func (d *Directory) dropMapping(slot int32) {
	d.mapMu.Lock()
	defer d.mapMu.Unlock()
	if seg := d.maps[slot].seg; seg != nil {
		if err := seg.Detach(); err != nil {
			logutil.Error("detach mapping", zap.Error(err))
		}
		d.maps[slot].seg = nil
	}
}
