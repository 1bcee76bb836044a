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

package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColDefAlignment(t *testing.T) {
	cases := []struct {
		width  int16
		align  int16
		want   int16
		stride int64
	}{
		{width: 1, want: 1, stride: 1},
		{width: 2, want: 2, stride: 2},
		{width: 4, want: 4, stride: 4},
		{width: 8, want: 8, stride: 8},
		{width: 16, want: 8, stride: 16},
		{width: 3, want: 8, stride: 8},
		{width: 3, align: 1, want: 1, stride: 3},
		{width: 6, align: 2, want: 2, stride: 6},
		{width: VarWidth, want: 8, stride: 4},
	}
	for _, c := range cases {
		def := ColDef{Width: c.width, Align: c.align}
		assert.Equal(t, c.want, def.Alignment(), "width=%d align=%d", c.width, c.align)
		assert.Equal(t, c.stride, def.StrideBytes(), "width=%d align=%d", c.width, c.align)
	}
}

func TestSchemaValidate(t *testing.T) {
	ok := NewSchema(
		ColDef{Name: "id", Width: 8, NotNull: true},
		ColDef{Name: "tag", Width: VarWidth},
	)
	require.NoError(t, ok.Validate())

	require.ErrorIs(t, NewSchema().Validate(), ErrBadColumn)
	require.ErrorIs(t, NewSchema(ColDef{Name: "z", Width: 0}).Validate(), ErrBadColumn)
	require.ErrorIs(t, NewSchema(ColDef{Name: "z", Width: -2}).Validate(), ErrBadColumn)
	require.ErrorIs(t, NewSchema(ColDef{Name: "z", Width: 8, Align: 3}).Validate(), ErrBadColumn)
}
