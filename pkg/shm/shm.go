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

// Package shm abstracts the shared-memory segments that back chunks. A
// segment outlives the creating operation once pinned and is destroyed only
// by an explicit Remove. Nothing here is crash-durable.
package shm

import (
	"sync"

	"github.com/pkg/errors"
)

// Handle names a segment across processes.
type Handle uint32

// InvalidHandle marks descriptor slots with no backing segment.
const InvalidHandle Handle = ^Handle(0)

var (
	ErrSegmentNotFound = errors.New("shm: segment not found")
	ErrBadSize         = errors.New("shm: invalid segment size")
)

// Segment is one process-local mapping of a shared region.
type Segment interface {
	Handle() Handle
	Bytes() []byte

	// Pin keeps the underlying region alive after the creating operation
	// ends; only Remove on the service destroys a pinned region.
	Pin()

	// Detach drops this mapping. The region stays alive while pinned.
	Detach() error
}

// Service creates and resolves segments.
type Service interface {
	Create(size int64) (Segment, error)
	Attach(h Handle) (Segment, error)

	// Remove destroys the region behind h. Existing mappings of other
	// processes become invalid; callers detach local mappings first.
	Remove(h Handle) error
}

// memService is the in-process implementation used for embedding and tests.
type memService struct {
	mu   sync.Mutex
	next Handle
	segs map[Handle][]byte
}

// NewMemService returns a Service backed by ordinary heap memory.
func NewMemService() Service {
	return &memService{segs: make(map[Handle][]byte)}
}

type memSegment struct {
	svc    *memService
	handle Handle
	data   []byte
}

func (s *memService) Create(size int64) (Segment, error) {
	if size <= 0 {
		return nil, errors.Wrapf(ErrBadSize, "%d bytes", size)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.next
	s.next++
	data := make([]byte, size)
	s.segs[h] = data
	return &memSegment{svc: s, handle: h, data: data}, nil
}

func (s *memService) Attach(h Handle) (Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.segs[h]
	if !ok {
		return nil, errors.Wrapf(ErrSegmentNotFound, "handle %d", h)
	}
	return &memSegment{svc: s, handle: h, data: data}, nil
}

func (s *memService) Remove(h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.segs[h]; !ok {
		return errors.Wrapf(ErrSegmentNotFound, "handle %d", h)
	}
	delete(s.segs, h)
	return nil
}

func (m *memSegment) Handle() Handle { return m.handle }
func (m *memSegment) Bytes() []byte  { return m.data }
func (m *memSegment) Pin()           {}
func (m *memSegment) Detach() error {
	m.data = nil
	return nil
}
