// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(w)
}

func TestReconfigureAttachesServiceAndComponent(t *testing.T) {
	var buf bytes.Buffer
	Reconfigure(Config{Level: "debug", Output: &buf, Service: "pex-test", Version: "v0.0.1"})
	t.Cleanup(func() { Reconfigure(Config{Output: io.Discard}) })

	l := WithComponent("mirror")
	l.Debug().Str(FieldEvent, "mirror.copied").Msg("copied")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "pex-test", entry["service"])
	assert.Equal(t, "v0.0.1", entry["version"])
	assert.Equal(t, "mirror", entry[FieldComponent])
	assert.Equal(t, "mirror.copied", entry[FieldEvent])
}

func TestReconfigureInvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	Reconfigure(Config{Level: "loud", Output: &buf})
	t.Cleanup(func() { Reconfigure(Config{Output: io.Discard}) })

	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
	l := L()
	l.Debug().Msg("hidden")
	assert.Zero(t, buf.Len())
}
