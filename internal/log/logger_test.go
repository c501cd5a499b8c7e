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

package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	logger.Info("transfer complete", HandleKey, 42, StatusKey, "Http_200")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "transfer complete", entry["msg"])
	assert.EqualValues(t, 42, entry["handle"])
	assert.Equal(t, "Http_200", entry["status"])
}

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "debug", Format: FormatText, Output: &buf})

	logger.Debug("staging", PolicyClassKey, 1)
	assert.Contains(t, buf.String(), "policy_class=1")
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "warn", Format: FormatText, Output: &buf})

	logger.Info("quiet")
	assert.Empty(t, buf.String())

	logger.Warn("loud")
	assert.Contains(t, buf.String(), "loud")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelTrace, parseLevel("trace"))
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelInfo, parseLevel("info"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARNING"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}

func TestFromEnv_Debug(t *testing.T) {
	t.Setenv("FETCHCORE_DEBUG", "1")
	cfg := FromEnv()
	assert.Equal(t, "debug", cfg.Level)
	assert.True(t, cfg.AddSource)
}

func TestFromEnv_LevelPrecedence(t *testing.T) {
	t.Setenv("FETCHCORE_DEBUG", "")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("FETCHCORE_LOG_LEVEL", "trace")
	cfg := FromEnv()
	assert.Equal(t, "trace", cfg.Level)
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := WithComponent(New(&Config{Level: "info", Format: FormatText, Output: &buf}), "transport")
	logger.Info("hello")
	assert.True(t, strings.Contains(buf.String(), "component=transport"))
}
