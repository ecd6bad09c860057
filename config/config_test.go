package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConf(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadResolvesDecoderSection(t *testing.T) {
	path := writeConf(t, "crtwo2fits.conf", `
[CONFIG]
external-decoder = libraw

[LIBRAW]
exec = raw-identify
command = "{exec} -v {file}"
`)

	cfg := Load(nil, path)
	assert.Equal(t, "LIBRAW", cfg.DecoderName)
	assert.Equal(t, "raw-identify", cfg.Exec)
	assert.Equal(t, "{exec} -v {file}", cfg.Command)
}

func TestLoadTranslatesShellPlaceholders(t *testing.T) {
	path := writeConf(t, "crtwo2fits.conf", `
[CONFIG]
external-decoder = dcraw

[DCRAW]
exec = dcraw
command = "${exec} -D -c ${file}"
`)

	cfg := Load(nil, path)
	assert.Equal(t, "{exec} -D -c {file}", cfg.Command)
}

func TestLoadUserOverridesSystem(t *testing.T) {
	system := writeConf(t, "system.conf", `
[CONFIG]
external-decoder = dcraw

[DCRAW]
exec = dcraw
command = "{exec} {file}"
`)
	user := writeConf(t, "user.conf", `
[DCRAW]
exec = /opt/dcraw/bin/dcraw
`)

	cfg := Load(nil, system, user)
	assert.Equal(t, "/opt/dcraw/bin/dcraw", cfg.Exec)
	assert.Equal(t, "{exec} {file}", cfg.Command)
}

func TestLoadMissingFileFallsBack(t *testing.T) {
	cfg := Load(nil, filepath.Join(t.TempDir(), "does-not-exist.conf"))
	assert.Equal(t, Default(), cfg)
}

func TestLoadMissingSectionFallsBack(t *testing.T) {
	path := writeConf(t, "crtwo2fits.conf", `
[CONFIG]
external-decoder = missing
`)
	cfg := Load(nil, path)
	assert.Equal(t, Default().Exec, cfg.Exec)
	assert.Equal(t, Default().Command, cfg.Command)
}

func TestLoadIncompleteSectionFallsBack(t *testing.T) {
	path := writeConf(t, "crtwo2fits.conf", `
[CONFIG]
external-decoder = dcraw

[DCRAW]
exec = dcraw
`)
	cfg := Load(nil, path)
	assert.Equal(t, Default().Command, cfg.Command)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "dcraw", cfg.Exec)
	assert.Contains(t, cfg.Command, "{exec}")
	assert.Contains(t, cfg.Command, "{file}")
}
