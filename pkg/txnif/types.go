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

// Package txnif defines the transaction-facing interfaces the chunk store
// consumes. The store never decides transaction outcomes or horizons itself;
// the host environment supplies them through these interfaces.
package txnif

import "fmt"

// ID identifies a transaction. IDs are allocated monotonically by the host
// and never wrap within a store lifetime.
type ID uint64

// CommandID orders statements within one transaction.
type CommandID uint32

const (
	// InvalidID marks an unset creation/deletion transaction, or one known
	// to have aborted or crashed.
	InvalidID ID = 0

	// FrozenID marks a chunk whose creation predates every possible
	// snapshot. It compares valid but never normal.
	FrozenID ID = 1

	// FirstNormalID is the first id the host may allocate.
	FirstNormalID ID = 2
)

// IsValid reports whether the id is set at all.
func (id ID) IsValid() bool { return id != InvalidID }

// IsNormal reports whether the id belongs to a real transaction, i.e. it is
// neither unset nor the frozen marker.
func (id ID) IsNormal() bool { return id >= FirstNormalID }

// Precedes reports whether id committed-or-started strictly before other.
func (id ID) Precedes(other ID) bool { return id < other }

func (id ID) String() string {
	switch id {
	case InvalidID:
		return "txn(invalid)"
	case FrozenID:
		return "txn(frozen)"
	default:
		return fmt.Sprintf("txn(%d)", uint64(id))
	}
}

// Snapshot is an immutable view of which transactions a reader considers
// committed. Repeated queries against one snapshot are stable.
type Snapshot interface {
	// TxnID is the transaction the snapshot was taken in.
	TxnID() ID

	// CommandID is the command cursor at the time the snapshot was taken.
	// Work stamped with an equal or later command id is invisible to it.
	CommandID() CommandID

	// InProgress reports whether the given transaction was still running
	// when the snapshot was taken. Transactions that started after the
	// snapshot count as in progress too.
	InProgress(id ID) bool
}

// Txn is what a writing operation needs from its surrounding transaction.
type Txn interface {
	ID() ID
	CommandID() CommandID

	// NextCommand advances the command cursor. Hosts call it between
	// statements; the store calls it when an insert or delete statement
	// completes.
	NextCommand() CommandID

	Snapshot() Snapshot
}

// Provider supplies the process-global transaction facts the visibility
// engine and the lifecycle sweep depend on.
type Provider interface {
	// DidCommit reports whether the given transaction committed. It must
	// only be called for transactions that are no longer in progress
	// according to the caller's snapshot.
	DidCommit(id ID) bool

	// OldestActive returns the oldest transaction id that could still be
	// referenced by any live snapshot anywhere in the system.
	OldestActive() ID
}

// EndEvent notifies the store that a transaction finished. The host must
// deliver one event per commit or abort, after the outcome is durable in the
// provider.
type EndEvent struct {
	Txn       ID
	Committed bool
	// Horizon is the oldest transaction id any live snapshot could still
	// treat as in progress at the time of the event, per OldestActive.
	Horizon ID
}
