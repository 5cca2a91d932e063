package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	parser "github.com/ojos-clinic/go-autoref-parser"
)

// chdir moves into a fresh directory so no stray autoref.yaml or .env is picked up.
func chdir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })
	t.Setenv("HOME", dir)
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	chdir(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, cfg.File)
	assert.Equal(t, "127.0.0.1:0", cfg.Server.Addr)
	assert.Equal(t, parser.LayoutAuto, cfg.Layout())
	assert.Equal(t, parser.DefaultRanges, cfg.Instrument.Ranges)
	assert.Equal(t, 9600, cfg.Serial.Baud)
	assert.Equal(t, 1500*time.Millisecond, cfg.Capture().IdleTimeout)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := chdir(t)
	yaml := `
server:
  addr: 127.0.0.1:8089
folders:
  read: /srv/kr8900
instrument:
  layout: legacy
  tail: model
  ranges:
    pd_min: 45
    pd_max: 80
serial:
  port: /dev/ttyUSB0
`
	path := filepath.Join(dir, "autoref.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	t.Setenv("AUTOREF_SERIAL_BAUD", "2400")
	t.Setenv("AUTOREF_FOLDERS_SAVE", "/srv/out")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Base(path), filepath.Base(cfg.File))
	assert.Equal(t, "127.0.0.1:8089", cfg.Server.Addr)
	assert.Equal(t, "/srv/kr8900", cfg.Folders.Read)
	assert.Equal(t, "/srv/out", cfg.Folders.Save)
	assert.Equal(t, parser.LayoutLegacy, cfg.Layout())
	assert.Equal(t, 45.0, cfg.Instrument.Ranges.PDMin)
	assert.Equal(t, 18.0, cfg.Instrument.Ranges.VDMax, "unset keys keep defaults")
	assert.Equal(t, 2400, cfg.Capture().BaudRate)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Capture().PortName)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := chdir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("AUTOREF_SERVER_LOG_LEVEL=debug\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("AUTOREF_SERVER_LOG_LEVEL") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	chdir(t)
	_, err := Load("nope.yaml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := &Config{Instrument: Instrument{
		Ranges:       parser.PlausibleRanges{PDMin: 75, PDMax: 50, VDMin: 8, VDMax: 18},
		Tail:         "guess",
		ModelPattern: "([",
		Encoding:     "ebcdic",
	}}
	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"pd_min", "instrument.tail", "model_pattern", "instrument.encoding"} {
		assert.ErrorContains(t, err, want)
	}
	assert.NotContains(t, err.Error(), "vd_min")
}

func TestParser(t *testing.T) {
	cfg := &Config{Instrument: Instrument{
		Ranges: parser.PlausibleRanges{PDMin: 40, PDMax: 80, VDMin: 5, VDMax: 20},
		Tail:   TailModel,
	}}
	p := cfg.Parser()
	assert.Equal(t, 40.0, p.Ranges.PDMin)

	r := p.Parse("2025_07_01\nAM 01:32\n42\n6\n\n\n\n\n\n\n\n\nnot a device\n0895")
	assert.Equal(t, 42.0, *r.PD)
	assert.Nil(t, r.Device, "model tail rejects a line that is not a model")

	cfg.Instrument.Tail = TailPositional
	r = cfg.Parser().Parse("2025_07_01\nAM 01:32\n42\n6\n\n\n\n\n\n\n\n\nnot a device\n0895")
	require.NotNil(t, r.Device)
	assert.Equal(t, "not", r.Device.Model)
}
