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

// Package export dumps and restores a table's chunk images as an lz4-framed
// stream. The stream carries encoded chunks verbatim; visibility state does
// not travel with the dump, the importing transaction owns every chunk it
// loads.
package export

import (
	"encoding/binary"
	"io"

	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"

	"github.com/devstore-io/devstore/pkg/store"
	"github.com/devstore-io/devstore/pkg/txnif"
)

// Stream layout after lz4 framing, little-endian:
//
//	magic u32 | ncols u32 | ncols x { width i16 | align i16 } |
//	nchunks u32 | nchunks x { size u32 | image }
//
// The column fingerprint lets Read reject a dump aimed at a table of a
// different shape before any chunk is published.
const streamMagic uint32 = 0x32534443 // "CDS2"

var (
	ErrBadStream = errors.New("export: malformed stream")
)

// Write dumps every chunk of the table visible to snap into w.
func Write(w io.Writer, s *store.Store, key store.TableKey, snap txnif.Snapshot) error {
	schema, err := s.Schema(key)
	if err != nil {
		return err
	}
	// Chunk count precedes the images, so the stream is self-delimiting;
	// images are buffered to know it up front.
	var images [][]byte
	err = s.ForEachVisibleChunk(key, snap, func(data []byte, _ store.ChunkInfo) error {
		img := make([]byte, len(data))
		copy(img, data)
		images = append(images, img)
		return nil
	})
	if err != nil {
		return err
	}

	zw := lz4.NewWriter(w)
	hdr := make([]byte, 8+4*schema.ColCount()+4)
	binary.LittleEndian.PutUint32(hdr, streamMagic)
	binary.LittleEndian.PutUint32(hdr[4:], uint32(schema.ColCount()))
	for i := range schema.Cols {
		c := &schema.Cols[i]
		binary.LittleEndian.PutUint16(hdr[8+4*i:], uint16(c.Width))
		binary.LittleEndian.PutUint16(hdr[10+4*i:], uint16(c.Alignment()))
	}
	binary.LittleEndian.PutUint32(hdr[8+4*schema.ColCount():], uint32(len(images)))
	if _, err := zw.Write(hdr); err != nil {
		return errors.Wrap(err, "export: write header")
	}
	var sz [4]byte
	for _, img := range images {
		binary.LittleEndian.PutUint32(sz[:], uint32(len(img)))
		if _, err := zw.Write(sz[:]); err != nil {
			return errors.Wrap(err, "export: write chunk size")
		}
		if _, err := zw.Write(img); err != nil {
			return errors.Wrap(err, "export: write chunk")
		}
	}
	return errors.Wrap(zw.Close(), "export: flush")
}

// Read restores a dump into the table under txn. The table must accept
// inserts; the usual empty-table rule is the caller's concern.
func Read(r io.Reader, s *store.Store, key store.TableKey, txn txnif.Txn) (int, error) {
	schema, err := s.Schema(key)
	if err != nil {
		return 0, err
	}
	zr := lz4.NewReader(r)
	var hdr [8]byte
	if _, err := io.ReadFull(zr, hdr[:]); err != nil {
		return 0, errors.Wrap(err, "export: read header")
	}
	if binary.LittleEndian.Uint32(hdr[:]) != streamMagic {
		return 0, ErrBadStream
	}
	if ncols := int(binary.LittleEndian.Uint32(hdr[4:])); ncols != schema.ColCount() {
		return 0, errors.Wrapf(store.ErrSchemaMismatch,
			"dump has %d columns, table has %d", ncols, schema.ColCount())
	}
	cols := make([]byte, 4*schema.ColCount())
	if _, err := io.ReadFull(zr, cols); err != nil {
		return 0, errors.Wrap(err, "export: read column list")
	}
	for i := range schema.Cols {
		c := &schema.Cols[i]
		width := int16(binary.LittleEndian.Uint16(cols[4*i:]))
		align := int16(binary.LittleEndian.Uint16(cols[4*i+2:]))
		if width != c.Width || align != c.Alignment() {
			return 0, errors.Wrapf(store.ErrSchemaMismatch,
				"dump column %q has width %d align %d", c.Name, width, align)
		}
	}
	var cnt [4]byte
	if _, err := io.ReadFull(zr, cnt[:]); err != nil {
		return 0, errors.Wrap(err, "export: read chunk count")
	}
	n := int(binary.LittleEndian.Uint32(cnt[:]))
	for i := 0; i < n; i++ {
		var sz [4]byte
		if _, err := io.ReadFull(zr, sz[:]); err != nil {
			return i, errors.Wrap(err, "export: read chunk size")
		}
		img := make([]byte, binary.LittleEndian.Uint32(sz[:]))
		if _, err := io.ReadFull(zr, img); err != nil {
			return i, errors.Wrap(err, "export: read chunk")
		}
		if err := s.ImportChunk(txn, key, img); err != nil {
			return i, err
		}
	}
	txn.NextCommand()
	return n, nil
}
