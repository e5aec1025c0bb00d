package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeOptions(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "options.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeOptions(t, `
timeout: 2s
fast: true
workers: 4
keepalive: true
stp_offset: 10ms
trace_file: out.lft
`)
	o, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, o.Timeout)
	assert.True(t, o.Fast)
	assert.Equal(t, 4, o.Workers)
	assert.True(t, o.Keepalive)
	assert.Equal(t, 10*time.Millisecond, o.STPOffset)
	assert.Equal(t, "out.lft", o.TraceFile)
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	path := writeOptions(t, "timeot: 2s\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestNormalize(t *testing.T) {
	o := Options{Workers: -3, Timeout: -time.Second, STPOffset: -time.Millisecond}
	o.Normalize()
	assert.Greater(t, o.Workers, 0)
	assert.Equal(t, time.Duration(0), o.Timeout)
	assert.Equal(t, time.Duration(0), o.STPOffset)

	d := Default()
	assert.Greater(t, d.Workers, 0)
	assert.False(t, d.Fast)
}
