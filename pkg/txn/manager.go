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

// Package txn is an in-process transaction manager implementing
// txnif.Provider. Hosts with their own transaction machinery supply their
// own provider instead; this one serves embedded use and tests.
package txn

import (
	"sync"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/pkg/errors"

	"github.com/devstore-io/devstore/pkg/txnif"
)

var (
	ErrTxnFinished = errors.New("txn: transaction already finished")
)

type txnState int32

const (
	stateActive txnState = iota
	stateCommitted
	stateAborted
)

// Manager allocates transaction ids, builds snapshots, and fans out
// end-of-transaction events to subscribers.
type Manager struct {
	mu          sync.Mutex
	nextID      txnif.ID
	active      map[txnif.ID]*Txn
	committed   *roaring64.Bitmap
	subscribers []func(txnif.EndEvent)
}

func NewManager() *Manager {
	return &Manager{
		nextID:    txnif.FirstNormalID,
		active:    make(map[txnif.ID]*Txn),
		committed: roaring64.New(),
	}
}

// Subscribe registers fn to run after every commit or abort, outside the
// manager lock.
func (m *Manager) Subscribe(fn func(txnif.EndEvent)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

// Start begins a new transaction.
func (m *Manager) Start() *Txn {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	t := &Txn{mgr: m, id: id, cmd: 1, snapmin: id}
	m.active[id] = t
	return t
}

// DidCommit implements txnif.Provider.
func (m *Manager) DidCommit(id txnif.ID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.committed.Contains(uint64(id))
}

// OldestActive implements txnif.Provider: the oldest id any live snapshot
// may still treat as in progress, not just the oldest running transaction.
// With no transaction running it returns the next id to be allocated, so
// every finished transaction precedes it.
func (m *Manager) OldestActive() txnif.ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.oldestActiveLocked()
}

func (m *Manager) oldestActiveLocked() txnif.ID {
	oldest := m.nextID
	for _, t := range m.active {
		if t.snapmin < oldest {
			oldest = t.snapmin
		}
	}
	return oldest
}

func (m *Manager) finish(t *Txn, committed bool) error {
	m.mu.Lock()
	if t.state != stateActive {
		m.mu.Unlock()
		return errors.Wrapf(ErrTxnFinished, "%s", t.id)
	}
	if committed {
		t.state = stateCommitted
		m.committed.Add(uint64(t.id))
	} else {
		t.state = stateAborted
	}
	delete(m.active, t.id)
	horizon := m.oldestActiveLocked()
	subs := make([]func(txnif.EndEvent), len(m.subscribers))
	copy(subs, m.subscribers)
	m.mu.Unlock()

	ev := txnif.EndEvent{Txn: t.id, Committed: committed, Horizon: horizon}
	for _, fn := range subs {
		fn(ev)
	}
	return nil
}

// Txn is one transaction. It is not safe for concurrent use; each worker
// runs one transaction at a time.
type Txn struct {
	mgr *Manager
	id  txnif.ID
	cmd txnif.CommandID
	// snapmin is the smallest id any snapshot of this transaction treats
	// as in progress; the horizon never passes it while we are active.
	// Guarded by mgr.mu.
	snapmin txnif.ID
	state   txnState
}

var _ txnif.Txn = (*Txn)(nil)

func (t *Txn) ID() txnif.ID               { return t.id }
func (t *Txn) CommandID() txnif.CommandID { return t.cmd }

func (t *Txn) NextCommand() txnif.CommandID {
	t.cmd++
	return t.cmd
}

// Snapshot captures the in-progress set as of now. The snapshot stays
// consistent afterwards no matter what other transactions do; taking one
// pins the transaction's snapmin so the horizon cannot overtake anything
// the snapshot still considers in progress.
func (t *Txn) Snapshot() txnif.Snapshot {
	m := t.mgr
	m.mu.Lock()
	defer m.mu.Unlock()
	inProgress := roaring64.New()
	for id := range m.active {
		if id != t.id {
			inProgress.Add(uint64(id))
		}
	}
	if oldest := m.oldestActiveLocked(); oldest < t.snapmin {
		t.snapmin = oldest
	}
	return &snapshot{xid: t.id, cid: t.cmd, next: m.nextID, inProgress: inProgress}
}

func (t *Txn) Commit() error   { return t.mgr.finish(t, true) }
func (t *Txn) Rollback() error { return t.mgr.finish(t, false) }

type snapshot struct {
	xid txnif.ID
	cid txnif.CommandID
	// next is the id allocation boundary at snapshot time; anything at or
	// past it started after the snapshot and counts as in progress.
	next       txnif.ID
	inProgress *roaring64.Bitmap
}

var _ txnif.Snapshot = (*snapshot)(nil)

func (s *snapshot) TxnID() txnif.ID            { return s.xid }
func (s *snapshot) CommandID() txnif.CommandID { return s.cid }

func (s *snapshot) InProgress(id txnif.ID) bool {
	if !id.Precedes(s.next) {
		return true
	}
	return s.inProgress.Contains(uint64(id))
}
