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

// Package device abstracts the accelerator memory the store stages chunks
// into. The store only allocates, frees, and bulk-copies whole regions;
// everything the device does with them is out of scope.
package device

import (
	"sync"

	"github.com/pkg/errors"
)

// Handle names one device-resident allocation.
type Handle uint64

// InvalidHandle is the zero handle; no allocation ever gets it.
const InvalidHandle Handle = 0

var (
	ErrNoSuchDevice = errors.New("device: no such device")
	ErrBadHandle    = errors.New("device: unknown allocation handle")
	ErrSizeMismatch = errors.New("device: copy size does not match allocation")
	ErrOutOfMemory  = errors.New("device: out of device memory")
	ErrNotSupported = errors.New("device: operation not supported")
)

// Region is a device-accessible allocation the host can write directly,
// used for consolidated mirror buffers.
type Region interface {
	Bytes() []byte
	Free() error
}

// Service is the opaque device memory interface. Any failure is terminal
// for the operation in progress; callers free fresh handles before
// propagating.
type Service interface {
	DeviceCount() int
	Alloc(dindex int, size int64) (Handle, error)
	Free(dindex int, h Handle) error
	CopyIn(dindex int, h Handle, data []byte) error

	// AllocManaged allocates a host-writable, device-visible region.
	AllocManaged(size int64) (Region, error)
}

// hostService emulates devices with host memory. It keeps the allocation
// and copy discipline honest without requiring real hardware.
type hostService struct {
	mu      sync.Mutex
	ndev    int
	next    Handle
	budget  int64
	used    int64
	allocs  map[Handle][]byte
	devices map[Handle]int
}

// NewHostService returns a Service emulating ndev devices in host memory.
// budget caps total allocated bytes; zero means unlimited.
func NewHostService(ndev int, budget int64) Service {
	return &hostService{
		ndev:    ndev,
		next:    1,
		budget:  budget,
		allocs:  make(map[Handle][]byte),
		devices: make(map[Handle]int),
	}
}

func (s *hostService) DeviceCount() int { return s.ndev }

func (s *hostService) Alloc(dindex int, size int64) (Handle, error) {
	if dindex < 0 || dindex >= s.ndev {
		return InvalidHandle, errors.Wrapf(ErrNoSuchDevice, "device %d", dindex)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.budget > 0 && s.used+size > s.budget {
		return InvalidHandle, errors.Wrapf(ErrOutOfMemory, "%d bytes requested", size)
	}
	h := s.next
	s.next++
	s.allocs[h] = make([]byte, size)
	s.devices[h] = dindex
	s.used += size
	return h, nil
}

func (s *hostService) Free(dindex int, h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, ok := s.allocs[h]
	if !ok || s.devices[h] != dindex {
		return errors.Wrapf(ErrBadHandle, "device %d handle %d", dindex, h)
	}
	s.used -= int64(len(buf))
	delete(s.allocs, h)
	delete(s.devices, h)
	return nil
}

func (s *hostService) CopyIn(dindex int, h Handle, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, ok := s.allocs[h]
	if !ok || s.devices[h] != dindex {
		return errors.Wrapf(ErrBadHandle, "device %d handle %d", dindex, h)
	}
	if len(buf) != len(data) {
		return errors.Wrapf(ErrSizeMismatch, "allocation %d, copy %d", len(buf), len(data))
	}
	copy(buf, data)
	return nil
}

type hostRegion struct {
	data []byte
}

func (s *hostService) AllocManaged(size int64) (Region, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.budget > 0 && s.used+size > s.budget {
		return nil, errors.Wrapf(ErrOutOfMemory, "%d bytes requested", size)
	}
	return &hostRegion{data: make([]byte, size)}, nil
}

func (r *hostRegion) Bytes() []byte { return r.data }
func (r *hostRegion) Free() error {
	r.data = nil
	return nil
}
