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
	"encoding/binary"
	"math"
)

// Datum is one column value crossing the store boundary. Fixed-width
// columns carry exactly Width little-endian bytes; variable-length columns
// carry the raw value. A nil-Bytes non-null datum is a zero-length value.
type Datum struct {
	Null  bool
	Bytes []byte
}

// Row is one tuple in schema column order.
type Row []Datum

func NullDatum() Datum {
	return Datum{Null: true}
}

func BytesDatum(b []byte) Datum {
	return Datum{Bytes: b}
}

func StringDatum(s string) Datum {
	return Datum{Bytes: []byte(s)}
}

func Int8Datum(v int8) Datum {
	return Datum{Bytes: []byte{byte(v)}}
}

func Int16Datum(v int16) Datum {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, uint16(v))
	return Datum{Bytes: b}
}

func Int32Datum(v int32) Datum {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(v))
	return Datum{Bytes: b}
}

func Int64Datum(v int64) Datum {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(v))
	return Datum{Bytes: b}
}

func Float64Datum(v float64) Datum {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	return Datum{Bytes: b}
}

func (d Datum) Int8() int8   { return int8(d.Bytes[0]) }
func (d Datum) Int16() int16 { return int16(binary.LittleEndian.Uint16(d.Bytes)) }
func (d Datum) Int32() int32 { return int32(binary.LittleEndian.Uint32(d.Bytes)) }
func (d Datum) Int64() int64 { return int64(binary.LittleEndian.Uint64(d.Bytes)) }
func (d Datum) Float64() float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(d.Bytes))
}
func (d Datum) String() string { return string(d.Bytes) }
