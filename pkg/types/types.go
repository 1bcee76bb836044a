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

// Package types describes table schemas at the level the encoder and the
// scan iterator care about: fixed byte width, alignment, and nullability.
// SQL-level type semantics stay with the host.
package types

import "github.com/pkg/errors"

// VarWidth marks a variable-length column.
const VarWidth int16 = -1

var ErrBadColumn = errors.New("types: invalid column definition")

// ColDef is one column of a table schema.
type ColDef struct {
	Name string
	// Width is the fixed byte width of the column, or VarWidth.
	Width int16
	// Align is the natural alignment of a value. Zero means "derive from
	// Width": 1, 2, 4 or 8 for the matching widths, 8 otherwise.
	Align int16
	// NotNull rejects null values on insert.
	NotNull bool
}

// FixedWidth reports whether the column stores fixed-width values.
func (c *ColDef) FixedWidth() bool { return c.Width > 0 }

// Alignment returns the effective alignment of the column.
func (c *ColDef) Alignment() int16 {
	if c.Align != 0 {
		return c.Align
	}
	switch c.Width {
	case 1, 2, 4, 8:
		return c.Width
	default:
		return 8
	}
}

// StrideBytes returns the per-row storage of the column inside a chunk:
// the aligned width for fixed columns, the offset-slot size for varlen ones.
func (c *ColDef) StrideBytes() int64 {
	if !c.FixedWidth() {
		return 4
	}
	a := int64(c.Alignment())
	return (int64(c.Width) + a - 1) / a * a
}

// Schema is the ordered column list of one table.
type Schema struct {
	Cols []ColDef
}

func NewSchema(cols ...ColDef) *Schema {
	return &Schema{Cols: cols}
}

func (s *Schema) ColCount() int { return len(s.Cols) }

func (s *Schema) Validate() error {
	if len(s.Cols) == 0 {
		return errors.Wrap(ErrBadColumn, "schema has no columns")
	}
	for i := range s.Cols {
		c := &s.Cols[i]
		if c.Width == 0 || c.Width < VarWidth {
			return errors.Wrapf(ErrBadColumn, "column %q width %d", c.Name, c.Width)
		}
		switch c.Alignment() {
		case 1, 2, 4, 8:
		default:
			return errors.Wrapf(ErrBadColumn, "column %q alignment %d", c.Name, c.Align)
		}
	}
	return nil
}
