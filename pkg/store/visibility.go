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

import "github.com/devstore-io/devstore/pkg/txnif"

// satisfiesVisibility decides whether snap may see the chunk. It is the
// standard snapshot-isolation tuple check applied at chunk granularity.
//
// It memoizes commit outcomes into createCommitted/deleteCommitted and
// discards aborted transactions from the descriptor as a side effect, so
// the caller must hold d.mu. The memoization only narrows "in progress" to
// "committed"; it never changes the answer for a given snapshot.
func (d *Directory) satisfiesVisibility(c *ChunkDescriptor, snap txnif.Snapshot) bool {
	if !c.createCommitted {
		if !c.createdBy.IsValid() {
			return false // creation aborted or crashed
		}
		if c.createdBy == snap.TxnID() {
			if c.commandID >= snap.CommandID() {
				return false // created after the scan started
			}
			if !c.deletedBy.IsValid() {
				return true // nobody deleted it yet
			}
			if c.deletedBy != snap.TxnID() {
				// The deleting transaction is gone without committing.
				c.deletedBy = txnif.InvalidID
				return true
			}
			if c.commandID >= snap.CommandID() {
				return true // deleted after the scan started
			}
			return false // deleted before the scan started
		}
		if snap.InProgress(c.createdBy) {
			return false
		}
		if !d.provider.DidCommit(c.createdBy) {
			// Must have aborted or crashed.
			c.createdBy = txnif.InvalidID
			return false
		}
		c.createCommitted = true
	} else if c.createdBy != txnif.FrozenID && snap.InProgress(c.createdBy) {
		// Committed process-wide, but this snapshot predates the commit.
		return false
	}

	// By here the creating transaction has committed.
	if !c.deletedBy.IsValid() {
		return true
	}

	if !c.deleteCommitted {
		if c.deletedBy == snap.TxnID() {
			if c.commandID >= snap.CommandID() {
				return true // deleted after the scan started
			}
			return false // deleted before the scan started
		}
		if snap.InProgress(c.deletedBy) {
			return true
		}
		if !d.provider.DidCommit(c.deletedBy) {
			// Deletion aborted; the chunk is un-deleted.
			c.deletedBy = txnif.InvalidID
			return true
		}
		c.deleteCommitted = true
	} else if snap.InProgress(c.deletedBy) {
		return true // deleter committed, but not for this snapshot
	}
	return false
}
