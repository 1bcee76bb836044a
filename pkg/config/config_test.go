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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.MaxChunks = 0
	require.ErrorIs(t, cfg.Validate(), ErrBadConfig)

	cfg = Default()
	cfg.ChunkSize = 512
	require.ErrorIs(t, cfg.Validate(), ErrBadConfig)

	cfg = Default()
	cfg.HashBuckets = 0
	require.ErrorIs(t, cfg.Validate(), ErrBadConfig)

	cfg = Default()
	cfg.DeviceCount = -1
	require.ErrorIs(t, cfg.Validate(), ErrBadConfig)
}

func TestLoadFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devstore.toml")
	content := `
max-chunks = 16
device-count = 2

[log]
level = "debug"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.MaxChunks)
	assert.Equal(t, 2, cfg.DeviceCount)
	assert.Equal(t, int64(DefaultChunkSize), cfg.ChunkSize)
	assert.Equal(t, DefaultHashBuckets, cfg.HashBuckets)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadRejectsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devstore.toml")
	require.NoError(t, os.WriteFile(path, []byte("chunk-size = 1\n"), 0o644))
	_, err := Load(path)
	require.ErrorIs(t, err, ErrBadConfig)
}
