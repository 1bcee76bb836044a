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
)

func TestAlignUp(t *testing.T) {
	assert.Equal(t, int64(0), alignUp(0))
	assert.Equal(t, int64(8), alignUp(1))
	assert.Equal(t, int64(8), alignUp(8))
	assert.Equal(t, int64(16), alignUp(9))
}

func TestBitmapOps(t *testing.T) {
	bm := make([]byte, bitmapLen(20))
	require.Len(t, bm, 3)
	for i := uint32(0); i < 20; i++ {
		assert.False(t, bitmapGet(bm, i))
	}
	bitmapSet(bm, 0)
	bitmapSet(bm, 9)
	bitmapSet(bm, 19)
	assert.True(t, bitmapGet(bm, 0))
	assert.True(t, bitmapGet(bm, 9))
	assert.True(t, bitmapGet(bm, 19))
	assert.False(t, bitmapGet(bm, 10))
	bitmapClear(bm, 9)
	assert.False(t, bitmapGet(bm, 9))
}

func TestNewChunkViewRejectsGarbage(t *testing.T) {
	_, err := newChunkView(nil)
	require.ErrorIs(t, err, errBadChunk)

	_, err = newChunkView(make([]byte, 8))
	require.ErrorIs(t, err, errBadChunk)

	// Right magic, but the declared length overruns the buffer.
	data := make([]byte, headerSize)
	writeChunkHeader(data, 0, 0, 64)
	_, err = newChunkView(data)
	require.ErrorIs(t, err, errBadChunk)

	// Right magic, but the declared length cannot hold the column metadata.
	data = make([]byte, 64)
	writeChunkHeader(data, 3, 0, 32)
	_, err = newChunkView(data)
	require.ErrorIs(t, err, errBadChunk)
}
