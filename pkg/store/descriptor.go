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
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/devstore-io/devstore/pkg/device"
	"github.com/devstore-io/devstore/pkg/shm"
	"github.com/devstore-io/devstore/pkg/txnif"
)

// TableKey identifies one logical table.
type TableKey struct {
	Database uint64
	Table    uint64
}

// Hash is the precomputed bucket hash of the key.
func (k TableKey) Hash() uint32 {
	var b [16]byte
	binary.LittleEndian.PutUint64(b[:], k.Database)
	binary.LittleEndian.PutUint64(b[8:], k.Table)
	h := xxhash.Sum64(b[:])
	return uint32(h>>32) ^ uint32(h)
}

func (k TableKey) String() string {
	return fmt.Sprintf("%d.%d", k.Database, k.Table)
}

// nilSlot terminates the intrusive descriptor lists.
const nilSlot int32 = -1

// ChunkDescriptor is one slot of the shared chunk directory. Descriptors
// are pool-allocated and recycled, never freed. A descriptor is either on
// the free list with zeroed payload or on exactly one active-list bucket
// with a valid creation transaction.
type ChunkDescriptor struct {
	slot       int32
	next, prev int32

	hash     uint32
	database uint64
	table    uint64

	createdBy       txnif.ID
	deletedBy       txnif.ID
	commandID       txnif.CommandID
	createCommitted bool
	deleteCommitted bool

	numRows      uint32
	length       uint32
	deviceIndex  int32
	deviceHandle device.Handle
	segment      shm.Handle
}

func (c *ChunkDescriptor) Key() TableKey {
	return TableKey{Database: c.database, Table: c.table}
}

func (c *ChunkDescriptor) NumRows() uint32 { return c.numRows }
func (c *ChunkDescriptor) Length() uint32  { return c.length }

// reset zeroes everything but the slot index and list links.
func (c *ChunkDescriptor) reset() {
	c.hash = 0
	c.database = 0
	c.table = 0
	c.createdBy = txnif.InvalidID
	c.deletedBy = txnif.InvalidID
	c.commandID = 0
	c.createCommitted = false
	c.deleteCommitted = false
	c.numRows = 0
	c.length = 0
	c.deviceIndex = -1
	c.deviceHandle = device.InvalidHandle
	c.segment = shm.InvalidHandle
}

func (c *ChunkDescriptor) matches(key TableKey, hash uint32) bool {
	return c.hash == hash && c.database == key.Database && c.table == key.Table
}

func (c *ChunkDescriptor) String() string {
	return fmt.Sprintf("chunk[%d]{table=%d.%d rows=%d len=%d created=%s deleted=%s}",
		c.slot, c.database, c.table, c.numRows, c.length, c.createdBy, c.deletedBy)
}
