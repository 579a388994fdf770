package config

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := NewLoader(testLogger()).Load("")
	require.NoError(t, err)

	assert.Equal(t, "", cfg.Port)
	assert.False(t, cfg.Mock.Enabled)
	assert.Equal(t, time.Second, cfg.Mock.Interval)
	assert.Equal(t, 60, cfg.Chart.Points)
	assert.Equal(t, 8*1024, cfg.Raw.MaxBytes)
	assert.Equal(t, 10, cfg.Log.MaxSizeMB)
	assert.Equal(t, "grapple-monitor.log", filepath.Base(cfg.Log.File))
	assert.Equal(t, "", cfg.Web.Addr)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
port: /dev/ttyACM3
mock:
  enabled: true
  interval: 250ms
web:
  addr: 127.0.0.1:9000
chart:
  points: 90
`)

	cfg, err := NewLoader(testLogger()).Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyACM3", cfg.Port)
	assert.True(t, cfg.Mock.Enabled)
	assert.Equal(t, 250*time.Millisecond, cfg.Mock.Interval)
	assert.Equal(t, "127.0.0.1:9000", cfg.Web.Addr)
	assert.Equal(t, 90, cfg.Chart.Points)
	// Keys missing from the file keep their defaults
	assert.Equal(t, 8*1024, cfg.Raw.MaxBytes)
}

func TestLoad_DefaultLocation(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir := filepath.Join(home, ".grapple-monitor")
	require.NoError(t, os.MkdirAll(dir, 0755))
	writeConfig(t, dir, "chart:\n  points: 12\n")

	cfg, err := NewLoader(testLogger()).Load("")
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Chart.Points)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := NewLoader(testLogger()).Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "reading config")
}

func TestLoad_Precedence(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "port: /dev/fromfile\nweb:\n  addr: file:1\nchart:\n  points: 30\n")
	t.Setenv("GRAPPLE_WEB_ADDR", "env:2")
	t.Setenv("GRAPPLE_CHART_POINTS", "40")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--chart-points", "50"}))

	loader := NewLoader(testLogger())
	require.NoError(t, loader.BindFlags(fs))
	cfg, err := loader.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/fromfile", cfg.Port)
	assert.Equal(t, "env:2", cfg.Web.Addr)
	assert.Equal(t, 50, cfg.Chart.Points)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{name: "zero chart points", content: "chart:\n  points: 0\n", want: "chart.points"},
		{name: "negative raw size", content: "raw:\n  max_bytes: -1\n", want: "raw.max_bytes"},
		{name: "negative interval", content: "mock:\n  interval: -1s\n", want: "mock.interval"},
		{name: "bad duration", content: "mock:\n  interval: soon\n", want: "decoding config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), tt.content)
			_, err := NewLoader(testLogger()).Load(path)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestWatch_ReloadsChartPoints(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "chart:\n  points: 20\n")

	loader := NewLoader(testLogger())
	_, err := loader.Load(path)
	require.NoError(t, err)

	changes := make(chan Config, 4)
	require.True(t, loader.Watch(func(cfg Config) { changes <- cfg }))

	writeConfig(t, dir, "chart:\n  points: 45\n")

	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-changes:
			if cfg.Chart.Points == 45 {
				return
			}
		case <-deadline:
			t.Fatal("config change was not observed")
		}
	}
}

func TestWatch_WithoutFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	loader := NewLoader(testLogger())
	_, err := loader.Load("")
	require.NoError(t, err)

	assert.False(t, loader.Watch(func(Config) {}))
}
