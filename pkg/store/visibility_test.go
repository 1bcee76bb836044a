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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devstore-io/devstore/pkg/device"
	"github.com/devstore-io/devstore/pkg/metrics"
	"github.com/devstore-io/devstore/pkg/shm"
	"github.com/devstore-io/devstore/pkg/txnif"
)

type fakeProvider struct {
	committed map[txnif.ID]bool
	oldest    txnif.ID
}

func (p *fakeProvider) DidCommit(id txnif.ID) bool { return p.committed[id] }
func (p *fakeProvider) OldestActive() txnif.ID     { return p.oldest }

type fakeSnapshot struct {
	xid        txnif.ID
	cid        txnif.CommandID
	inProgress map[txnif.ID]bool
}

func (s *fakeSnapshot) TxnID() txnif.ID             { return s.xid }
func (s *fakeSnapshot) CommandID() txnif.CommandID  { return s.cid }
func (s *fakeSnapshot) InProgress(id txnif.ID) bool { return s.inProgress[id] }

func newVisibilityDir(p txnif.Provider) *Directory {
	return newDirectory(4, 7, p, shm.NewMemService(), device.NewHostService(0, 0), metrics.New(nil))
}

func chunkWith(createdBy, deletedBy txnif.ID, cid txnif.CommandID) *ChunkDescriptor {
	c := &ChunkDescriptor{slot: 0, next: nilSlot, prev: nilSlot}
	c.reset()
	c.createdBy = createdBy
	c.deletedBy = deletedBy
	c.commandID = cid
	return c
}

func TestVisibilityFrozenCreation(t *testing.T) {
	d := newVisibilityDir(&fakeProvider{})
	c := chunkWith(txnif.FrozenID, txnif.InvalidID, 0)
	c.createCommitted = true
	snap := &fakeSnapshot{xid: 50, cid: 1}
	assert.True(t, d.satisfiesVisibility(c, snap))
}

func TestVisibilityAbortedCreation(t *testing.T) {
	d := newVisibilityDir(&fakeProvider{})
	c := chunkWith(txnif.InvalidID, txnif.InvalidID, 1)
	snap := &fakeSnapshot{xid: 50, cid: 1}
	assert.False(t, d.satisfiesVisibility(c, snap))
}

func TestVisibilityOwnCreation(t *testing.T) {
	d := newVisibilityDir(&fakeProvider{})

	// Created by command 1: visible to command 2, not to command 1.
	c := chunkWith(10, txnif.InvalidID, 1)
	assert.True(t, d.satisfiesVisibility(c, &fakeSnapshot{xid: 10, cid: 2}))
	assert.False(t, d.satisfiesVisibility(c, &fakeSnapshot{xid: 10, cid: 1}))
}

func TestVisibilityOwnDeletion(t *testing.T) {
	d := newVisibilityDir(&fakeProvider{})

	// Deleted by the creating transaction at command 2.
	c := chunkWith(10, 10, 2)
	assert.False(t, d.satisfiesVisibility(c, &fakeSnapshot{xid: 10, cid: 3}))
}

func TestVisibilityInProgressCreator(t *testing.T) {
	d := newVisibilityDir(&fakeProvider{committed: map[txnif.ID]bool{}})
	c := chunkWith(10, txnif.InvalidID, 1)
	snap := &fakeSnapshot{xid: 20, cid: 1, inProgress: map[txnif.ID]bool{10: true}}
	assert.False(t, d.satisfiesVisibility(c, snap))
	assert.False(t, c.createCommitted, "in-progress creator must not be memoized")
}

func TestVisibilityMemoizesCommittedCreator(t *testing.T) {
	p := &fakeProvider{committed: map[txnif.ID]bool{10: true}}
	d := newVisibilityDir(p)
	c := chunkWith(10, txnif.InvalidID, 1)
	snap := &fakeSnapshot{xid: 20, cid: 1}
	require.True(t, d.satisfiesVisibility(c, snap))
	require.True(t, c.createCommitted)

	// The memoized flag answers without consulting the provider again.
	p.committed = map[txnif.ID]bool{}
	assert.True(t, d.satisfiesVisibility(c, snap))
}

func TestVisibilityDiscardsAbortedCreator(t *testing.T) {
	d := newVisibilityDir(&fakeProvider{committed: map[txnif.ID]bool{}})
	c := chunkWith(10, txnif.InvalidID, 1)
	snap := &fakeSnapshot{xid: 20, cid: 1}
	assert.False(t, d.satisfiesVisibility(c, snap))
	assert.Equal(t, txnif.InvalidID, c.createdBy)
}

func TestVisibilityCommittedCreatorBeforeSnapshot(t *testing.T) {
	d := newVisibilityDir(&fakeProvider{committed: map[txnif.ID]bool{10: true}})
	c := chunkWith(10, txnif.InvalidID, 1)
	c.createCommitted = true

	// Committed process-wide, but this snapshot still saw it running.
	snap := &fakeSnapshot{xid: 20, cid: 1, inProgress: map[txnif.ID]bool{10: true}}
	assert.False(t, d.satisfiesVisibility(c, snap))
	assert.True(t, d.satisfiesVisibility(c, &fakeSnapshot{xid: 20, cid: 1}))
}

func TestVisibilityDeleterAbortRestores(t *testing.T) {
	d := newVisibilityDir(&fakeProvider{committed: map[txnif.ID]bool{}})
	c := chunkWith(txnif.FrozenID, 30, 1)
	c.createCommitted = true
	snap := &fakeSnapshot{xid: 20, cid: 1}
	assert.True(t, d.satisfiesVisibility(c, snap))
	assert.Equal(t, txnif.InvalidID, c.deletedBy)
}

func TestVisibilityCommittedDeleter(t *testing.T) {
	d := newVisibilityDir(&fakeProvider{committed: map[txnif.ID]bool{30: true}})
	c := chunkWith(txnif.FrozenID, 30, 1)
	c.createCommitted = true

	later := &fakeSnapshot{xid: 40, cid: 1}
	assert.False(t, d.satisfiesVisibility(c, later))
	assert.True(t, c.deleteCommitted)

	// A snapshot that predates the deleter's commit keeps reading the chunk.
	before := &fakeSnapshot{xid: 20, cid: 1, inProgress: map[txnif.ID]bool{30: true}}
	assert.True(t, d.satisfiesVisibility(c, before))
}

func TestVisibilityInProgressDeleter(t *testing.T) {
	d := newVisibilityDir(&fakeProvider{committed: map[txnif.ID]bool{}})
	c := chunkWith(txnif.FrozenID, 30, 1)
	c.createCommitted = true
	snap := &fakeSnapshot{xid: 20, cid: 1, inProgress: map[txnif.ID]bool{30: true}}
	assert.True(t, d.satisfiesVisibility(c, snap))
	assert.False(t, c.deleteCommitted)
	assert.Equal(t, txnif.ID(30), c.deletedBy, "pending deletion must survive")
}
