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

import "errors"

var (
	// ErrResourceExhausted means the fixed descriptor pool has no free
	// slot. The operation aborts; capacity is operator-configured.
	ErrResourceExhausted = errors.New("store: too many chunks required")

	ErrTableNotFound  = errors.New("store: table not found")
	ErrTableExists    = errors.New("store: table already exists")
	ErrBadOptions     = errors.New("store: invalid table options")
	ErrNotUpdatable   = errors.New("store: table is not updatable")
	ErrTableNotEmpty  = errors.New("store: table is not empty")
	ErrDeleteConflict = errors.New("store: chunk is already being deleted")

	ErrNullViolation  = errors.New("store: null value in not-null column")
	ErrSchemaMismatch = errors.New("store: data does not match the table schema")
	ErrRowTooLarge    = errors.New("store: row exceeds the chunk byte budget")
	ErrChunkTooLarge  = errors.New("store: encoded chunk exceeds addressable size")

	// ErrPinnedLoadNotSupported marks the device-pinned consolidation
	// path, which is an unimplemented extension point.
	ErrPinnedLoadNotSupported = errors.New("store: pinned mirror load not supported yet")

	ErrInserterClosed = errors.New("store: inserter already closed")
)
