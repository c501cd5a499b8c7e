// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fetchload.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
policy:
  connection_limit: 16
  per_host_connection_limit: 8
  pipelining_depth: 4
  throttle_rate: 100
ca_file: /etc/ssl/bundle.pem
proxy: proxy.example:3128
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.EqualValues(t, 16, cfg.Policy.ConnectionLimit)
	assert.EqualValues(t, 8, cfg.Policy.PerHostConnectionLimit)
	assert.EqualValues(t, 4, cfg.Policy.PipeliningDepth)
	assert.EqualValues(t, 100, cfg.Policy.ThrottleRate)
	assert.Equal(t, "/etc/ssl/bundle.pem", cfg.CAFile)
	assert.Equal(t, "proxy.example:3128", cfg.Proxy)
}

func TestLoadConfig_DefaultsApply(t *testing.T) {
	path := writeConfig(t, "proxy: p.example:8080\n")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.EqualValues(t, 8, cfg.Policy.ConnectionLimit)
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := writeConfig(t, "policy:\n  connection_limit: -2\n")
	_, err := LoadConfig(path)
	assert.Error(t, err)

	path = writeConfig(t, "policy: [not, a, map]\n")
	_, err = LoadConfig(path)
	assert.Error(t, err)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestReadURLs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urls.txt")
	require.NoError(t, os.WriteFile(path, []byte(
		"# texture set\nhttp://a.example/1\n\nhttp://a.example/2\n"), 0o644))

	urls, err := readURLs(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://a.example/1", "http://a.example/2"}, urls)
}
