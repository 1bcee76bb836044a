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

// Package config holds the operator-facing configuration of the chunk store.
package config

import (
	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/devstore-io/devstore/pkg/logutil"
)

const (
	// DefaultChunkSize is the byte budget of one chunk.
	DefaultChunkSize = 1 << 30

	// DefaultMaxChunks bounds the descriptor pool. The pool is fixed at
	// startup; running out is a hard error on the insert path.
	DefaultMaxChunks = 2048

	// DefaultHashBuckets is the number of active-list buckets.
	DefaultHashBuckets = 97
)

var ErrBadConfig = errors.New("config: invalid value")

type Config struct {
	// MaxChunks is the total descriptor pool capacity.
	MaxChunks int `toml:"max-chunks"`

	// ChunkSize is the maximum encoded size of one chunk in bytes.
	ChunkSize int64 `toml:"chunk-size"`

	// HashBuckets is the number of hash buckets of the active list.
	HashBuckets int `toml:"hash-buckets"`

	// DeviceCount is the number of devices the device memory service
	// exposes. Pinning options are validated against it.
	DeviceCount int `toml:"device-count"`

	Log logutil.Config `toml:"log"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		MaxChunks:   DefaultMaxChunks,
		ChunkSize:   DefaultChunkSize,
		HashBuckets: DefaultHashBuckets,
		DeviceCount: 0,
	}
}

// Load reads a TOML file, filling unset fields with defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, errors.Wrapf(err, "config: load %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.MaxChunks < 1 {
		return errors.Wrap(ErrBadConfig, "max-chunks must be positive")
	}
	if c.ChunkSize < 1024 {
		return errors.Wrap(ErrBadConfig, "chunk-size must be at least 1KiB")
	}
	if c.HashBuckets < 1 {
		return errors.Wrap(ErrBadConfig, "hash-buckets must be positive")
	}
	if c.DeviceCount < 0 {
		return errors.Wrap(ErrBadConfig, "device-count must not be negative")
	}
	return nil
}
