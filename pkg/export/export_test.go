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

package export

import (
	"bytes"
	"testing"

	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devstore-io/devstore/pkg/config"
	"github.com/devstore-io/devstore/pkg/device"
	"github.com/devstore-io/devstore/pkg/shm"
	"github.com/devstore-io/devstore/pkg/store"
	"github.com/devstore-io/devstore/pkg/txn"
	"github.com/devstore-io/devstore/pkg/types"
)

var testKey = store.TableKey{Database: 1, Table: 1}

func testSchema() *types.Schema {
	return types.NewSchema(
		types.ColDef{Name: "id", Width: 8, NotNull: true},
		types.ColDef{Name: "name", Width: types.VarWidth},
	)
}

func newStore(t *testing.T) (*store.Store, *txn.Manager) {
	t.Helper()
	cfg := config.Default()
	cfg.MaxChunks = 32
	cfg.ChunkSize = 1024 // small chunks so a dump spans several
	mgr := txn.NewManager()
	s, err := store.New(cfg, mgr, shm.NewMemService(), device.NewHostService(0, 0), nil)
	require.NoError(t, err)
	mgr.Subscribe(s.OnTxnEnd)
	require.NoError(t, s.CreateTable(testKey, testSchema(), store.DefaultOptions()))
	return s, mgr
}

func scanAll(t *testing.T, s *store.Store, mgr *txn.Manager) []store.Row {
	t.Helper()
	r := mgr.Start()
	defer r.Rollback()
	it, err := s.Scan(testKey, r.Snapshot(), nil)
	require.NoError(t, err)
	var out []store.Row
	for {
		row, err := it.Next()
		require.NoError(t, err)
		if row == nil {
			return out
		}
		cp := make(store.Row, len(row))
		for i, d := range row {
			if d.Null {
				cp[i] = store.NullDatum()
			} else {
				cp[i] = store.BytesDatum(append([]byte(nil), d.Bytes...))
			}
		}
		out = append(out, cp)
	}
}

func TestDumpRestoreRoundTrip(t *testing.T) {
	src, srcMgr := newStore(t)
	names := []string{"ant", "bee", "cricket"}
	w := srcMgr.Start()
	ins, err := src.BeginInsert(w, testKey)
	require.NoError(t, err)
	const n = 200
	for i := 0; i < n; i++ {
		require.NoError(t, ins.Append(store.Row{
			store.Int64Datum(int64(i)),
			store.StringDatum(names[i%len(names)]),
		}))
	}
	require.NoError(t, ins.Close())
	require.NoError(t, w.Commit())

	var buf bytes.Buffer
	snap := srcMgr.Start()
	require.NoError(t, Write(&buf, src, testKey, snap.Snapshot()))
	require.NoError(t, snap.Rollback())

	dst, dstMgr := newStore(t)
	r := dstMgr.Start()
	chunks, err := Read(&buf, dst, testKey, r)
	require.NoError(t, err)
	require.Greater(t, chunks, 1)
	require.NoError(t, r.Commit())

	got := scanAll(t, dst, dstMgr)
	want := scanAll(t, src, srcMgr)
	require.Len(t, got, n)
	require.Equal(t, want, got)
}

func TestDumpEmptyTable(t *testing.T) {
	src, srcMgr := newStore(t)
	var buf bytes.Buffer
	snap := srcMgr.Start()
	defer snap.Rollback()
	require.NoError(t, Write(&buf, src, testKey, snap.Snapshot()))

	dst, dstMgr := newStore(t)
	r := dstMgr.Start()
	chunks, err := Read(&buf, dst, testKey, r)
	require.NoError(t, err)
	assert.Zero(t, chunks)
	require.NoError(t, r.Commit())
	assert.Empty(t, scanAll(t, dst, dstMgr))
}

func TestReadRejectsBadMagic(t *testing.T) {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	_, err := zw.Write([]byte("not a devstore dump"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	dst, dstMgr := newStore(t)
	r := dstMgr.Start()
	defer r.Rollback()
	_, err = Read(&buf, dst, testKey, r)
	require.ErrorIs(t, err, ErrBadStream)
}

func TestReadRejectsWrongSchema(t *testing.T) {
	src, srcMgr := newStore(t)
	w := srcMgr.Start()
	ins, err := src.BeginInsert(w, testKey)
	require.NoError(t, err)
	require.NoError(t, ins.Append(store.Row{
		store.Int64Datum(1),
		store.StringDatum("ant"),
	}))
	require.NoError(t, ins.Close())
	require.NoError(t, w.Commit())

	var buf bytes.Buffer
	snap := srcMgr.Start()
	require.NoError(t, Write(&buf, src, testKey, snap.Snapshot()))
	require.NoError(t, snap.Rollback())

	// The target table has a different shape; the dump is rejected on its
	// column fingerprint before any chunk lands.
	dst, dstMgr := newStore(t)
	otherKey := store.TableKey{Database: 1, Table: 2}
	require.NoError(t, dst.CreateTable(otherKey, types.NewSchema(
		types.ColDef{Name: "id", Width: 4, NotNull: true},
		types.ColDef{Name: "name", Width: types.VarWidth},
	), store.DefaultOptions()))
	r := dstMgr.Start()
	defer r.Rollback()
	chunks, err := Read(bytes.NewReader(buf.Bytes()), dst, otherKey, r)
	require.ErrorIs(t, err, store.ErrSchemaMismatch)
	assert.Zero(t, chunks)
}
