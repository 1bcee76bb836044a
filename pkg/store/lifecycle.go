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
	"go.uber.org/zap"

	"github.com/devstore-io/devstore/pkg/logutil"
	"github.com/devstore-io/devstore/pkg/txnif"
)

// OnTxnEnd reacts to a finished transaction. Cheap bookkeeping (commit-flag
// advancement, abort reversal) and expensive horizon-based reclamation are
// batched into one full-directory sweep, skipped entirely while no chunk
// has been touched since the last one.
func (d *Directory) OnTxnEnd(ev txnif.EndEvent) {
	if d.warm.Load() == 0 {
		return
	}
	d.mm.Sweeps.Inc()
	stillWarm := false
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.buckets {
		for slot := d.buckets[i].head; slot != nilSlot; {
			c := &d.chunks[slot]
			slot = c.next // c may be unlinked below
			if d.sweepChunkLocked(c, ev) {
				stillWarm = true
			}
		}
	}
	if !stillWarm {
		d.warm.Store(0)
	}
}

// sweepChunkLocked applies the transaction outcome to one chunk and runs
// the reclamation check. It reports whether the chunk still needs a future
// sweep. Caller holds d.mu.
func (d *Directory) sweepChunkLocked(c *ChunkDescriptor, ev txnif.EndEvent) bool {
	if c.deletedBy == ev.Txn {
		if ev.Committed {
			c.deleteCommitted = true
		} else {
			// Aborted deletion leaves the chunk un-deleted.
			c.deletedBy = txnif.InvalidID
		}
	}
	if c.createdBy == ev.Txn {
		if ev.Committed {
			c.createCommitted = true
		} else {
			// An aborted creation leaves nothing worth keeping.
			logutil.Debug("release chunk of aborted creator", zap.Stringer("chunk", c))
			d.releaseLocked(c)
			d.mm.Reclaimed.Inc()
			return false
		}
	}

	if c.deletedBy.IsValid() {
		if !c.deleteCommitted {
			return true // deletion still pending
		}
		if !c.deletedBy.Precedes(ev.Horizon) {
			// Some open snapshot may still read the chunk.
			return true
		}
		logutil.Debug("reclaim deleted chunk", zap.Stringer("chunk", c))
		d.releaseLocked(c)
		d.mm.Reclaimed.Inc()
	} else if c.createdBy.IsNormal() {
		if !c.createCommitted {
			return true // creation still pending
		}
		if !c.createdBy.Precedes(ev.Horizon) {
			// Still subject to per-snapshot in-progress checks.
			return true
		}
		// Visible to every possible future snapshot from now on.
		c.createdBy = txnif.FrozenID
		d.mm.Frozen.Inc()
	} else if !c.createdBy.IsValid() {
		// Orphaned by a crashed creator.
		logutil.Warn("release orphaned chunk", zap.Stringer("chunk", c))
		d.releaseLocked(c)
		d.mm.Reclaimed.Inc()
	}
	return false
}
