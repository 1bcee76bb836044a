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

package txn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devstore-io/devstore/pkg/txnif"
)

func TestStartAllocatesIncreasingIDs(t *testing.T) {
	m := NewManager()
	a := m.Start()
	b := m.Start()
	assert.Equal(t, txnif.FirstNormalID, a.ID())
	assert.True(t, a.ID().Precedes(b.ID()))
}

func TestCommandCursor(t *testing.T) {
	m := NewManager()
	a := m.Start()
	assert.Equal(t, txnif.CommandID(1), a.CommandID())
	assert.Equal(t, txnif.CommandID(2), a.NextCommand())
	assert.Equal(t, txnif.CommandID(2), a.CommandID())
}

func TestOldestActive(t *testing.T) {
	m := NewManager()
	a := m.Start()
	b := m.Start()
	assert.Equal(t, a.ID(), m.OldestActive())
	require.NoError(t, a.Commit())
	assert.Equal(t, b.ID(), m.OldestActive())
	require.NoError(t, b.Rollback())

	// With nothing running, every finished transaction precedes the horizon.
	assert.True(t, b.ID().Precedes(m.OldestActive()))
}

func TestSnapshotPinsOldestActive(t *testing.T) {
	m := NewManager()
	a := m.Start()
	b := m.Start()
	snap := b.Snapshot() // a is still running here
	require.NoError(t, a.Commit())

	// b's snapshot treats a as in progress, so the horizon may not pass a
	// even though b is the only transaction left.
	assert.True(t, snap.InProgress(a.ID()))
	assert.Equal(t, a.ID(), m.OldestActive())

	require.NoError(t, b.Commit())
	assert.True(t, a.ID().Precedes(m.OldestActive()))
}

func TestDidCommit(t *testing.T) {
	m := NewManager()
	a := m.Start()
	b := m.Start()
	require.NoError(t, a.Commit())
	require.NoError(t, b.Rollback())
	assert.True(t, m.DidCommit(a.ID()))
	assert.False(t, m.DidCommit(b.ID()))
}

func TestDoubleFinish(t *testing.T) {
	m := NewManager()
	a := m.Start()
	require.NoError(t, a.Commit())
	require.ErrorIs(t, a.Commit(), ErrTxnFinished)
	require.ErrorIs(t, a.Rollback(), ErrTxnFinished)
}

func TestSnapshotInProgress(t *testing.T) {
	m := NewManager()
	a := m.Start()
	b := m.Start()
	snap := a.Snapshot()

	assert.False(t, snap.InProgress(a.ID()), "a snapshot never reports its own transaction")
	assert.True(t, snap.InProgress(b.ID()))

	// Later transactions count as in progress even after they finish.
	c := m.Start()
	require.NoError(t, c.Commit())
	assert.True(t, snap.InProgress(c.ID()))

	// Snapshots are immutable: b finishing does not change the answer.
	require.NoError(t, b.Commit())
	assert.True(t, snap.InProgress(b.ID()))

	require.NoError(t, a.Rollback())
}

func TestEndEventFanout(t *testing.T) {
	m := NewManager()
	var events []txnif.EndEvent
	m.Subscribe(func(ev txnif.EndEvent) {
		events = append(events, ev)
	})

	a := m.Start()
	b := m.Start()
	require.NoError(t, a.Commit())
	require.NoError(t, b.Rollback())

	require.Len(t, events, 2)
	assert.Equal(t, txnif.EndEvent{Txn: a.ID(), Committed: true, Horizon: b.ID()}, events[0])
	assert.Equal(t, b.ID(), events[1].Txn)
	assert.False(t, events[1].Committed)
	assert.True(t, b.ID().Precedes(events[1].Horizon))
}
