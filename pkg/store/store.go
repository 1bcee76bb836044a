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

// Package store implements a pool of columnar chunks in shared,
// device-visible memory with snapshot-isolation visibility at chunk
// granularity. Chunks are append-only: once published they are never
// mutated except for visibility bookkeeping on their descriptors.
package store

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/devstore-io/devstore/pkg/config"
	"github.com/devstore-io/devstore/pkg/device"
	"github.com/devstore-io/devstore/pkg/logutil"
	"github.com/devstore-io/devstore/pkg/metrics"
	"github.com/devstore-io/devstore/pkg/shm"
	"github.com/devstore-io/devstore/pkg/txnif"
	"github.com/devstore-io/devstore/pkg/types"
)

// Store ties the chunk directory to its collaborating services. None of the
// state below is crash-durable; a restart loses all chunks.
type Store struct {
	cfg      *config.Config
	provider txnif.Provider
	segments shm.Service
	devices  device.Service
	catalog  *catalog
	dir      *Directory
	mm       *metrics.Metrics
}

// New builds a store. reg may be nil to skip metric registration.
func New(
	cfg *config.Config,
	provider txnif.Provider,
	segments shm.Service,
	devices device.Service,
	reg prometheus.Registerer,
) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	mm := metrics.New(reg)
	s := &Store{
		cfg:      cfg,
		provider: provider,
		segments: segments,
		devices:  devices,
		catalog:  newCatalog(devices.DeviceCount()),
		mm:       mm,
	}
	s.dir = newDirectory(cfg.MaxChunks, cfg.HashBuckets, provider, segments, devices, mm)
	logutil.Info("chunk store ready",
		zap.Int("max-chunks", cfg.MaxChunks),
		zap.Int64("chunk-size", cfg.ChunkSize),
		zap.Int("hash-buckets", cfg.HashBuckets))
	return s, nil
}

// CreateTable registers a table with its schema and options.
func (s *Store) CreateTable(key TableKey, schema *types.Schema, opts Options) error {
	return s.catalog.register(key, schema, opts)
}

// Schema returns the registered schema of the table.
func (s *Store) Schema(key TableKey) (*types.Schema, error) {
	entry, err := s.catalog.lookup(key)
	if err != nil {
		return nil, err
	}
	return entry.schema, nil
}

// OnTxnEnd must be called by the host for every commit and abort. It is the
// only reclamation driver.
func (s *Store) OnTxnEnd(ev txnif.EndEvent) {
	s.dir.OnTxnEnd(ev)
}

// BeginInsert starts an insert statement on a primary table. Only empty
// tables accept inserts; bulk loads build a table in one shot.
func (s *Store) BeginInsert(txn txnif.Txn, key TableKey) (*Inserter, error) {
	entry, err := s.catalog.lookup(key)
	if err != nil {
		return nil, err
	}
	if entry.opts.Reference != nil {
		return nil, errors.Wrapf(ErrNotUpdatable, "%s is a reference table", key)
	}
	if c := s.dir.FirstChunk(key, txn.Snapshot()); c != nil {
		return nil, errors.Wrapf(ErrTableNotEmpty, "%s", key)
	}
	return newInserter(s, txn, entry), nil
}

// DeleteAll is the unfiltered delete: it stamps the deletion transaction on
// every chunk visible to the transaction's snapshot. Row-level deletes are
// out of scope at chunk granularity.
func (s *Store) DeleteAll(txn txnif.Txn, key TableKey) (uint64, error) {
	entry, err := s.catalog.lookup(key)
	if err != nil {
		return 0, err
	}
	if entry.opts.Reference != nil {
		return 0, errors.Wrapf(ErrNotUpdatable, "%s is a reference table", key)
	}
	snap := txn.Snapshot()

	s.dir.mu.Lock()
	// Validate before stamping so a conflict leaves nothing half-applied.
	for c := s.dir.firstChunkLocked(key, snap); c != nil; c = s.dir.nextChunkLocked(c, snap) {
		if c.deletedBy.IsValid() {
			s.dir.mu.Unlock()
			return 0, errors.Wrapf(ErrDeleteConflict, "%s by %s", c, c.deletedBy)
		}
	}
	var rows uint64
	for c := s.dir.firstChunkLocked(key, snap); c != nil; c = s.dir.nextChunkLocked(c, snap) {
		c.deletedBy = txn.ID()
		c.commandID = txn.CommandID()
		rows += uint64(c.numRows)
	}
	s.dir.mu.Unlock()

	s.dir.warm.Add(1)
	txn.NextCommand()
	return rows, nil
}

// Scan opens an iterator over the table's rows visible to snap. cols is a
// projection in output order; nil selects every column. Scanning without a
// snapshot is a programming error.
func (s *Store) Scan(key TableKey, snap txnif.Snapshot, cols []int) (*Iterator, error) {
	if snap == nil {
		logutil.Panic("scan without a snapshot", zap.Stringer("table", key))
	}
	entry, err := s.catalog.resolve(key)
	if err != nil {
		return nil, err
	}
	if cols == nil {
		cols = make([]int, entry.schema.ColCount())
		for i := range cols {
			cols[i] = i
		}
	}
	for _, col := range cols {
		if col < 0 || col >= entry.schema.ColCount() {
			return nil, errors.Wrapf(ErrSchemaMismatch, "no column %d", col)
		}
	}
	return &Iterator{
		dir:    s.dir,
		key:    entry.key,
		snap:   snap,
		schema: entry.schema,
		cols:   cols,
	}, nil
}

// Stats sums the rows and bytes of the table's chunks visible to snap, the
// way a planner sizes a relation.
func (s *Store) Stats(key TableKey, snap txnif.Snapshot) (rows uint64, bytes uint64, err error) {
	if snap == nil {
		logutil.Panic("stats without a snapshot", zap.Stringer("table", key))
	}
	entry, err := s.catalog.resolve(key)
	if err != nil {
		return 0, 0, err
	}
	rows, bytes = s.dir.visibleStats(entry.key, snap)
	return rows, bytes, nil
}

// MirrorLoad consolidates every chunk of the table visible to snap into one
// contiguous device-accessible region. Returns nil with no error when the
// table has no visible chunk. The device-pinned variant is a stubbed
// extension point.
func (s *Store) MirrorLoad(key TableKey, snap txnif.Snapshot) (*MirrorView, error) {
	if snap == nil {
		logutil.Panic("mirror load without a snapshot", zap.Stringer("table", key))
	}
	entry, err := s.catalog.resolve(key)
	if err != nil {
		return nil, err
	}
	if entry.opts.Pinning >= 0 {
		return nil, ErrPinnedLoadNotSupported
	}
	return s.mirrorLoad(entry.key, snap)
}

// ChunkInfo describes one visible chunk to enumeration callbacks.
type ChunkInfo struct {
	NumRows uint32
	Length  uint32
}

// ForEachVisibleChunk runs fn over the encoded image of every chunk of the
// table visible to snap, in active-list order. fn must not retain data.
func (s *Store) ForEachVisibleChunk(
	key TableKey,
	snap txnif.Snapshot,
	fn func(data []byte, info ChunkInfo) error,
) error {
	entry, err := s.catalog.resolve(key)
	if err != nil {
		return err
	}
	for c := s.dir.FirstChunk(entry.key, snap); c != nil; c = s.dir.NextChunk(c, snap) {
		data, err := s.dir.MappedChunk(c)
		if err != nil {
			return err
		}
		info := ChunkInfo{NumRows: c.numRows, Length: c.length}
		if err := fn(data[:c.length], info); err != nil {
			return err
		}
	}
	return nil
}

// ImportChunk publishes a pre-encoded chunk image under txn, used by the
// export/import tooling. The image must follow the chunk wire layout and
// encode the table's schema.
func (s *Store) ImportChunk(txn txnif.Txn, key TableKey, image []byte) error {
	entry, err := s.catalog.lookup(key)
	if err != nil {
		return err
	}
	if entry.opts.Reference != nil {
		return errors.Wrapf(ErrNotUpdatable, "%s is a reference table", key)
	}
	view, err := newChunkView(image)
	if err != nil {
		return err
	}
	if err := view.checkSchema(entry.schema); err != nil {
		return err
	}
	seg, err := s.segments.Create(int64(view.length()))
	if err != nil {
		return err
	}
	copy(seg.Bytes(), image[:view.length()])
	seg.Pin()

	c, err := s.dir.AcquireFree()
	if err != nil {
		handle := seg.Handle()
		if derr := seg.Detach(); derr != nil {
			logutil.Error("detach failed segment", zap.Error(derr))
		}
		if rerr := s.segments.Remove(handle); rerr != nil {
			logutil.Error("remove failed segment", zap.Error(rerr))
		}
		return err
	}
	c.hash = key.Hash()
	c.database = key.Database
	c.table = key.Table
	c.createdBy = txn.ID()
	c.deletedBy = txnif.InvalidID
	c.commandID = txn.CommandID()
	c.numRows = view.nitems()
	c.length = view.length()
	c.deviceIndex = -1
	c.deviceHandle = device.InvalidHandle
	c.segment = seg.Handle()
	s.dir.storeMapping(c.slot, seg)
	s.dir.Publish(c)
	return nil
}
