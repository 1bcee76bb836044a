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

	"github.com/google/btree"
	"github.com/pkg/errors"

	"github.com/devstore-io/devstore/pkg/types"
)

// Options configure one table. At most one of Reference and a non-negative
// Pinning may be set.
type Options struct {
	// Reference makes the table read another primary table's chunks. A
	// reference table is never updatable.
	Reference *TableKey

	// Pinning stages every flushed chunk into the given device's memory.
	// Negative means host-only.
	Pinning int
}

func DefaultOptions() Options {
	return Options{Pinning: -1}
}

// tableEntry is one registered table.
type tableEntry struct {
	key    TableKey
	schema *types.Schema
	opts   Options
}

func (e *tableEntry) Less(other btree.Item) bool {
	o := other.(*tableEntry)
	if e.key.Database != o.key.Database {
		return e.key.Database < o.key.Database
	}
	return e.key.Table < o.key.Table
}

// catalog resolves table keys to schemas and options. It is process-local
// configuration state, not part of the shared directory.
type catalog struct {
	mu      sync.RWMutex
	ndev    int
	entries *btree.BTree
}

func newCatalog(deviceCount int) *catalog {
	return &catalog{ndev: deviceCount, entries: btree.New(8)}
}

func (cat *catalog) register(key TableKey, schema *types.Schema, opts Options) error {
	if err := schema.Validate(); err != nil {
		return err
	}
	if opts.Reference != nil && opts.Pinning >= 0 {
		return errors.Wrap(ErrBadOptions, "cannot use reference and pinning together")
	}
	if opts.Pinning >= cat.ndev {
		return errors.Wrapf(ErrBadOptions, "pinning on unknown device %d", opts.Pinning)
	}
	cat.mu.Lock()
	defer cat.mu.Unlock()
	if opts.Reference != nil {
		item := cat.entries.Get(&tableEntry{key: *opts.Reference})
		if item == nil {
			return errors.Wrapf(ErrTableNotFound,
				"referenced table %s", *opts.Reference)
		}
		if item.(*tableEntry).opts.Reference != nil {
			return errors.Wrapf(ErrBadOptions,
				"%s is not a primary table", *opts.Reference)
		}
	}
	entry := &tableEntry{key: key, schema: schema, opts: opts}
	if cat.entries.Get(entry) != nil {
		return errors.Wrapf(ErrTableExists, "%s", key)
	}
	cat.entries.ReplaceOrInsert(entry)
	return nil
}

func (cat *catalog) lookup(key TableKey) (*tableEntry, error) {
	cat.mu.RLock()
	defer cat.mu.RUnlock()
	item := cat.entries.Get(&tableEntry{key: key})
	if item == nil {
		return nil, errors.Wrapf(ErrTableNotFound, "%s", key)
	}
	return item.(*tableEntry), nil
}

// resolve follows a reference option to the primary table whose chunks back
// the given key. The returned entry is always a primary table.
func (cat *catalog) resolve(key TableKey) (*tableEntry, error) {
	entry, err := cat.lookup(key)
	if err != nil {
		return nil, err
	}
	if entry.opts.Reference != nil {
		target, err := cat.lookup(*entry.opts.Reference)
		if err != nil {
			return nil, err
		}
		entry = target
	}
	return entry, nil
}
