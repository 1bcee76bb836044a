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

package shm

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"
)

// mmapService maps segments onto files under one directory, so several
// processes sharing the directory see the same regions. Files are
// process-lifetime state, removed by Remove; a leftover file from a crashed
// run holds no valid descriptors and is harmless.
type mmapService struct {
	dir  string
	mu   sync.Mutex
	next Handle
}

// NewMmapService returns a Service that maps segments onto files in dir.
func NewMmapService(dir string) (Service, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "shm: create segment dir")
	}
	return &mmapService{dir: dir}, nil
}

func (s *mmapService) path(h Handle) string {
	return filepath.Join(s.dir, fmt.Sprintf("seg-%08x", uint32(h)))
}

type mmapSegment struct {
	handle Handle
	f      *os.File
	m      mmap.MMap
}

func (s *mmapService) Create(size int64) (Segment, error) {
	if size <= 0 {
		return nil, errors.Wrapf(ErrBadSize, "%d bytes", size)
	}
	s.mu.Lock()
	h := s.next
	s.next++
	s.mu.Unlock()

	f, err := os.OpenFile(s.path(h), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "shm: create segment file")
	}
	if err = f.Truncate(size); err != nil {
		f.Close()
		os.Remove(s.path(h))
		return nil, errors.Wrap(err, "shm: size segment file")
	}
	m, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		os.Remove(s.path(h))
		return nil, errors.Wrap(err, "shm: map segment")
	}
	return &mmapSegment{handle: h, f: f, m: m}, nil
}

func (s *mmapService) Attach(h Handle) (Segment, error) {
	f, err := os.OpenFile(s.path(h), os.O_RDWR, 0o644)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrSegmentNotFound, "handle %d", h)
		}
		return nil, errors.Wrap(err, "shm: open segment file")
	}
	m, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "shm: map segment")
	}
	return &mmapSegment{handle: h, f: f, m: m}, nil
}

func (s *mmapService) Remove(h Handle) error {
	if err := os.Remove(s.path(h)); err != nil {
		if os.IsNotExist(err) {
			return errors.Wrapf(ErrSegmentNotFound, "handle %d", h)
		}
		return errors.Wrap(err, "shm: remove segment file")
	}
	return nil
}

func (m *mmapSegment) Handle() Handle { return m.handle }
func (m *mmapSegment) Bytes() []byte  { return m.m }
func (m *mmapSegment) Pin()           {}

func (m *mmapSegment) Detach() error {
	if m.m != nil {
		if err := m.m.Unmap(); err != nil {
			return errors.Wrap(err, "shm: unmap segment")
		}
		m.m = nil
	}
	if m.f != nil {
		if err := m.f.Close(); err != nil {
			return errors.Wrap(err, "shm: close segment file")
		}
		m.f = nil
	}
	return nil
}
